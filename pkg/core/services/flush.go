package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

// ErrFlushInProgress is returned when Flush is called while another run is active
var ErrFlushInProgress = errors.New("flush already in progress")

type FlushOptions struct {
	MaxMessages int
	BatchSize   int
	Visibility  time.Duration
	// Conditional guards each write with the version that was read
	Conditional bool
	// WriteAttempts bounds the read-modify-write loop per code
	WriteAttempts int
	// RetryDelay is multiplied by the attempt number between retries
	RetryDelay time.Duration
	// QueueAttempts bounds retries of a single receive or delete call
	QueueAttempts int
}

func DefaultFlushOptions() FlushOptions {
	return FlushOptions{
		MaxMessages:   5000,
		BatchSize:     32,
		Visibility:    2 * time.Minute,
		Conditional:   true,
		WriteAttempts: 5,
		RetryDelay:    200 * time.Millisecond,
		QueueAttempts: 3,
	}
}

// FlushAggregator drains visit events and folds them into per-code counters
type FlushAggregator struct {
	store   ports.LinkStore
	queue   ports.VisitQueue
	opts    FlushOptions
	logger  *slog.Logger
	running atomic.Bool
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewFlushAggregator(store ports.LinkStore, queue ports.VisitQueue, opts FlushOptions, logger *slog.Logger) *FlushAggregator {
	def := DefaultFlushOptions()
	if opts.MaxMessages < 1 {
		opts.MaxMessages = def.MaxMessages
	}
	opts.BatchSize = min(max(opts.BatchSize, 1), 32)
	if opts.Visibility <= 0 {
		opts.Visibility = def.Visibility
	}
	if opts.WriteAttempts < 1 {
		opts.WriteAttempts = def.WriteAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.QueueAttempts < 1 {
		opts.QueueAttempts = def.QueueAttempts
	}
	return &FlushAggregator{
		store:  store,
		queue:  queue,
		opts:   opts,
		logger: logger.With("component", "flush"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

type tally struct {
	count int64
	last  time.Time
}

// Flush runs one cycle. A receive failure stops draining but counts gathered
// so far are still applied; the failure is returned alongside the result.
func (a *FlushAggregator) Flush(ctx context.Context) (domain.FlushResult, error) {
	if !a.running.CompareAndSwap(false, true) {
		return domain.FlushResult{}, ErrFlushInProgress
	}
	defer a.running.Store(false)

	start := a.now()
	var res domain.FlushResult

	tallies, drainErr := a.drain(ctx, &res)
	res.Codes = len(tallies)

	// Drained messages are already deleted. Cancelling ctx stops the drain but
	// every tally gathered so far is still written.
	applyCtx := context.WithoutCancel(ctx)
	for _, code := range slices.Sorted(maps.Keys(tallies)) {
		t := tallies[code]
		if err := a.apply(applyCtx, code, t); err != nil {
			res.Abandoned++
			a.logger.Error("abandoning increment for this cycle", "code", code, "delta", t.count, "error", err)
			continue
		}
		res.Applied++
	}

	res.Duration = a.now().Sub(start)
	if res.Received > 0 || drainErr != nil {
		a.logger.Info("flush complete",
			"received", res.Received,
			"decoded", res.Decoded,
			"dropped", res.Dropped,
			"codes", res.Codes,
			"applied", res.Applied,
			"abandoned", res.Abandoned,
			"duration", res.Duration,
		)
	}
	return res, drainErr
}

// Running reports whether a cycle is active
func (a *FlushAggregator) Running() bool {
	return a.running.Load()
}

func (a *FlushAggregator) drain(ctx context.Context, res *domain.FlushResult) (map[string]*tally, error) {
	tallies := make(map[string]*tally)
	remaining := a.opts.MaxMessages

	for remaining > 0 {
		msgs, err := a.receive(ctx, min(a.opts.BatchSize, remaining))
		if err != nil {
			a.logger.Error("receive failed, stopping drain", "error", err)
			return tallies, err
		}
		if len(msgs) == 0 {
			break
		}
		remaining -= len(msgs)

		for _, m := range msgs {
			res.Received++
			ev, err := domain.DecodeVisit(m.Body)
			if err != nil {
				res.Dropped++
				a.logger.Debug("dropping undecodable message", "id", m.ID, "error", err)
			} else {
				res.Decoded++
				t, ok := tallies[ev.Code]
				if !ok {
					t = &tally{}
					tallies[ev.Code] = t
				}
				t.count++
				if ev.TimestampUTC.After(t.last) {
					t.last = ev.TimestampUTC
				}
			}
			a.delete(ctx, m)
		}
	}
	return tallies, nil
}

func (a *FlushAggregator) receive(ctx context.Context, n int) ([]ports.QueueMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= a.opts.QueueAttempts; attempt++ {
		msgs, err := a.queue.Receive(ctx, n, a.opts.Visibility)
		if err == nil {
			return msgs, nil
		}
		lastErr = err
		if attempt < a.opts.QueueAttempts {
			if err := a.sleep(ctx, time.Duration(attempt)*a.opts.RetryDelay); err != nil {
				break
			}
		}
	}
	return nil, domain.E(domain.KindQueueReceive, "flush receive", lastErr)
}

// delete retries then gives up; the message reappears after its visibility timeout
func (a *FlushAggregator) delete(ctx context.Context, m ports.QueueMessage) {
	var err error
	for attempt := 1; attempt <= a.opts.QueueAttempts; attempt++ {
		if err = a.queue.Delete(ctx, m); err == nil {
			return
		}
		if attempt < a.opts.QueueAttempts {
			if a.sleep(ctx, time.Duration(attempt)*a.opts.RetryDelay) != nil {
				break
			}
		}
	}
	a.logger.Warn("delete failed, message may be redelivered", "id", m.ID, "error", err)
}

func (a *FlushAggregator) apply(ctx context.Context, code string, t *tally) error {
	var lastErr error
	for attempt := 1; attempt <= a.opts.WriteAttempts; attempt++ {
		err := a.applyOnce(ctx, code, t)
		if err == nil {
			return nil
		}
		if domain.IsKind(err, domain.KindOverflow) {
			return err
		}
		lastErr = err
		a.logger.Debug("increment attempt failed", "code", code, "attempt", attempt, "error", err)
		if attempt < a.opts.WriteAttempts {
			if err := a.sleep(ctx, time.Duration(attempt)*a.opts.RetryDelay); err != nil {
				return err
			}
		}
	}
	return domain.E(domain.KindStoreWrite, "flush increment", lastErr)
}

func (a *FlushAggregator) applyOnce(ctx context.Context, code string, t *tally) error {
	rec, err := a.store.Get(ctx, code)
	if err != nil {
		return fmt.Errorf("read %s: %w", code, err)
	}
	var expected int64
	if rec == nil {
		rec = domain.Placeholder(code)
		rec.CreatedAt = a.now().UTC()
	} else {
		expected = rec.Version
	}

	if rec.VisitCount > math.MaxInt64-t.count {
		return domain.E(domain.KindOverflow, "flush increment", fmt.Errorf("count %d + %d overflows", rec.VisitCount, t.count))
	}
	rec.VisitCount += t.count
	if !t.last.IsZero() && (rec.LastVisitUTC == nil || t.last.After(*rec.LastVisitUTC)) {
		last := t.last
		rec.LastVisitUTC = &last
	}
	rec.UpdatedAt = a.now().UTC()

	if a.opts.Conditional {
		return a.store.UpsertIfVersion(ctx, rec, expected)
	}
	return a.store.Upsert(ctx, rec)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FlushScheduler triggers a Flusher on a fixed interval. Runs never overlap.
type FlushScheduler struct {
	flusher  ports.Flusher
	interval time.Duration
	logger   *slog.Logger
}

func NewFlushScheduler(flusher ports.Flusher, interval time.Duration, logger *slog.Logger) *FlushScheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &FlushScheduler{flusher: flusher, interval: interval, logger: logger.With("component", "flush_scheduler")}
}

// Run blocks until ctx is done
func (s *FlushScheduler) Run(ctx context.Context) error {
	s.logger.Info("flush scheduler started", "interval", s.interval)
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("flush scheduler stopped")
			return nil
		case <-t.C:
			s.tick(ctx)
		}
	}
}

func (s *FlushScheduler) tick(ctx context.Context) {
	_, err := s.flusher.Flush(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrFlushInProgress):
		s.logger.Debug("skipping tick, previous flush still running")
	case errors.Is(err, context.Canceled):
	default:
		s.logger.Error("flush failed", "error", err)
	}
}
