package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

const defaultSendTimeout = 5 * time.Second

// VisitDispatcher enqueues visit events on detached goroutines.
// Record never blocks and never reports failure to its caller.
type VisitDispatcher struct {
	queue       ports.VisitQueue
	logger      *slog.Logger
	sendTimeout time.Duration
	errLog      rate.Sometimes

	// inflight is raised before closed is checked, so Close never misses a send
	inflight atomic.Int64
	closed   atomic.Bool
	failed   atomic.Int64

	mu   sync.Mutex // only taken to wake waiters
	idle *sync.Cond
}

func NewVisitDispatcher(queue ports.VisitQueue, logger *slog.Logger) *VisitDispatcher {
	d := &VisitDispatcher{
		queue:       queue,
		logger:      logger.With("component", "visit_dispatcher"),
		sendTimeout: defaultSendTimeout,
		errLog:      rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

func (d *VisitDispatcher) Record(ev domain.VisitEvent) {
	d.inflight.Add(1)
	if d.closed.Load() {
		d.done()
		d.fail(ev.Code, domain.E(domain.KindEnqueue, "record visit", errDispatcherClosed))
		return
	}

	go func() {
		defer d.done()
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("panic while enqueuing visit", "code", ev.Code, "panic", p)
			}
		}()

		if err := d.send(ev); err != nil {
			d.fail(ev.Code, err)
		}
	}()
}

func (d *VisitDispatcher) done() {
	if d.inflight.Add(-1) == 0 {
		d.mu.Lock()
		d.idle.Broadcast()
		d.mu.Unlock()
	}
}

func (d *VisitDispatcher) send(ev domain.VisitEvent) error {
	body, err := domain.EncodeVisit(ev)
	if err != nil {
		return domain.E(domain.KindEnqueue, "encode visit", err)
	}

	// Request contexts are gone by now; use a fresh bounded one.
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	if err := d.queue.Send(ctx, body); err != nil {
		return domain.E(domain.KindEnqueue, "send visit", err)
	}
	return nil
}

func (d *VisitDispatcher) fail(code string, err error) {
	total := d.failed.Add(1)
	d.errLog.Do(func() {
		d.logger.Warn("visit enqueue failed", "code", code, "error", err, "failed_total", total)
	})
}

// Failed returns the number of events that could not be enqueued
func (d *VisitDispatcher) Failed() int64 {
	return d.failed.Load()
}

// Wait blocks until in-flight sends finish or ctx is done
func (d *VisitDispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.mu.Lock()
		for d.inflight.Load() != 0 {
			d.idle.Wait()
		}
		d.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for in-flight sends, bounded by ctx
func (d *VisitDispatcher) Close(ctx context.Context) error {
	d.closed.Store(true)
	return d.Wait(ctx)
}

var errDispatcherClosed = errors.New("dispatcher closed")
