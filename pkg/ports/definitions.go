package ports

import (
	"context"
	"time"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
)

// LinkStore defines durable storage for link records
type LinkStore interface {
	// Get returns nil, nil when the code has no record
	Get(ctx context.Context, code string) (*domain.LinkRecord, error)
	// Upsert writes the record unconditionally
	Upsert(ctx context.Context, rec *domain.LinkRecord) error
	// UpsertIfVersion writes only if the stored version equals expected.
	// expected == 0 means insert only if absent. Returns domain.ErrConflict otherwise.
	UpsertIfVersion(ctx context.Context, rec *domain.LinkRecord, expected int64) error
	List(ctx context.Context, limit, offset int) ([]domain.LinkRecord, error)
	Delete(ctx context.Context, code string) error
	Close() error
}

// QueueMessage is an opaque envelope handed out by Receive
type QueueMessage struct {
	ID           string
	Body         []byte
	DequeueCount int
	Handle       any // Adapter-specific receipt used by Delete
}

// VisitQueue is an at-least-once transport for encoded visit events
type VisitQueue interface {
	Send(ctx context.Context, body []byte) error
	// Receive hides returned messages from other receivers for the visibility duration
	Receive(ctx context.Context, max int, visibility time.Duration) ([]QueueMessage, error)
	Delete(ctx context.Context, msg QueueMessage) error
	Close() error
}

// RateLimiter decides whether a client may proceed at the given instant
type RateLimiter interface {
	Allow(clientID string, now time.Time) bool
}

// CodeValidator checks the shape of an incoming code
type CodeValidator interface {
	IsValid(code string) bool
}

// VisitRecorder accepts visit events without blocking the caller
type VisitRecorder interface {
	Record(ev domain.VisitEvent)
}

// LinkService defines the operations behind the redirect and admin surfaces
type LinkService interface {
	Resolve(ctx context.Context, code string) (*domain.LinkRecord, error)
	Register(ctx context.Context, code, targetURL string) (*domain.LinkRecord, error)
	Get(ctx context.Context, code string) (*domain.LinkRecord, error)
	List(ctx context.Context, page, limit int) ([]domain.LinkRecord, error)
	Delete(ctx context.Context, code string) error
}

// Flusher runs one aggregation cycle
type Flusher interface {
	Flush(ctx context.Context) (domain.FlushResult, error)
}
