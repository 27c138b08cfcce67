package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

var errBoom = errors.New("boom")

// fakeStore is an in-memory LinkStore with failure injection
type fakeStore struct {
	mu      sync.Mutex
	recs    map[string]domain.LinkRecord
	gets    int
	writes  int
	getErr  error
	failPut int // number of upcoming writes to fail
	// beforeWrite runs with the lock released, right before a write is applied
	beforeWrite func()
	// onGet runs with the lock released before a read; a non-nil error is returned from Get
	onGet func(ctx context.Context) error
}

var _ ports.LinkStore = (*fakeStore)(nil)

func newFakeStore(recs ...domain.LinkRecord) *fakeStore {
	s := &fakeStore{recs: make(map[string]domain.LinkRecord)}
	for _, r := range recs {
		if r.Version == 0 {
			r.Version = 1
		}
		s.recs[r.Code] = r
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, code string) (*domain.LinkRecord, error) {
	if s.onGet != nil {
		if err := s.onGet(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	r, ok := s.recs[code]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *fakeStore) write(ctx context.Context, rec *domain.LinkRecord, check func(cur domain.LinkRecord, ok bool) bool) error {
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failPut > 0 {
		s.failPut--
		return errBoom
	}
	cur, ok := s.recs[rec.Code]
	if check != nil && !check(cur, ok) {
		return domain.ErrConflict
	}
	rec.Version = cur.Version + 1
	s.recs[rec.Code] = *rec
	return nil
}

func (s *fakeStore) Upsert(ctx context.Context, rec *domain.LinkRecord) error {
	return s.write(ctx, rec, nil)
}

func (s *fakeStore) UpsertIfVersion(ctx context.Context, rec *domain.LinkRecord, expected int64) error {
	return s.write(ctx, rec, func(cur domain.LinkRecord, ok bool) bool {
		if expected == 0 {
			return !ok
		}
		return ok && cur.Version == expected
	})
}

func (s *fakeStore) List(_ context.Context, limit, offset int) ([]domain.LinkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LinkRecord
	for _, r := range s.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[code]; !ok {
		return domain.ErrNotFound
	}
	delete(s.recs, code)
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) count(code string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recs[code].VisitCount
}

func (s *fakeStore) stats() (gets, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.writes
}

// flakyQueue wraps a VisitQueue and fails selected calls
type flakyQueue struct {
	ports.VisitQueue
	mu            sync.Mutex
	failReceiveAt map[int]bool // 1-based receive call numbers
	receives      int
	failSends     bool
	sent          chan []byte
}

func (q *flakyQueue) Receive(ctx context.Context, max int, vis time.Duration) ([]ports.QueueMessage, error) {
	q.mu.Lock()
	q.receives++
	fail := q.failReceiveAt[q.receives]
	q.mu.Unlock()
	if fail {
		return nil, errBoom
	}
	return q.VisitQueue.Receive(ctx, max, vis)
}

func (q *flakyQueue) Send(ctx context.Context, body []byte) error {
	if q.failSends {
		return errBoom
	}
	if q.sent != nil {
		q.sent <- body
	}
	return q.VisitQueue.Send(ctx, body)
}

func noSleep(context.Context, time.Duration) error { return nil }
