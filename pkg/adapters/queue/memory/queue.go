// Package memory is an in-process VisitQueue for local runs and tests
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

var ErrClosed = errors.New("queue closed")

type entry struct {
	id           string
	body         []byte
	visibleAt    time.Time
	dequeueCount int
	receipt      string
}

// Queue keeps messages in arrival order. Received messages stay hidden until
// their visibility deadline passes or they are deleted.
type Queue struct {
	mu      sync.Mutex
	entries []*entry
	closed  bool
	now     func() time.Time
}

var _ ports.VisitQueue = (*Queue)(nil)

func New() *Queue {
	return &Queue{now: time.Now}
}

// NewWithClock is New with an injectable clock
func NewWithClock(now func() time.Time) *Queue {
	return &Queue{now: now}
}

func (q *Queue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.entries = append(q.entries, &entry{
		id:   uuid.New().String(),
		body: append([]byte(nil), body...),
	})
	return nil
}

func (q *Queue) Receive(ctx context.Context, max int, visibility time.Duration) ([]ports.QueueMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}

	now := q.now()
	var out []ports.QueueMessage
	for _, e := range q.entries {
		if len(out) >= max {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		e.visibleAt = now.Add(visibility)
		e.dequeueCount++
		e.receipt = uuid.New().String()
		out = append(out, ports.QueueMessage{
			ID:           e.id,
			Body:         append([]byte(nil), e.body...),
			DequeueCount: e.dequeueCount,
			Handle:       e.receipt,
		})
	}
	return out, nil
}

// Delete removes a message if the receipt is still current. A stale receipt is a no-op.
func (q *Queue) Delete(ctx context.Context, msg ports.QueueMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	receipt, _ := msg.Handle.(string)

	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.id == msg.ID {
			if e.receipt != receipt {
				return nil
			}
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len returns the number of messages not yet deleted, visible or not
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
