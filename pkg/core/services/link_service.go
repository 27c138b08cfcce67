package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

const (
	registerAttempts = 3
	lookupTimeout    = 5 * time.Second
)

type LinkService struct {
	store     ports.LinkStore
	validator ports.CodeValidator
	lookups   singleflight.Group
	now       func() time.Time
}

func NewLinkService(store ports.LinkStore, validator ports.CodeValidator) *LinkService {
	return &LinkService{store: store, validator: validator, now: time.Now}
}

// Resolve returns the record for a redirect. Concurrent lookups of one code share a single
// store read. The shared read is detached from any one caller, so a caller that goes away
// only gives up its own wait.
func (s *LinkService) Resolve(ctx context.Context, code string) (*domain.LinkRecord, error) {
	ch := s.lookups.DoChan(code, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return s.store.Get(lctx, code)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, domain.E(domain.KindStoreLookup, "resolve", ctx.Err())
	}
	if res.Err != nil {
		return nil, domain.E(domain.KindStoreLookup, "resolve", res.Err)
	}
	rec, _ := res.Val.(*domain.LinkRecord)
	if !rec.Resolvable() {
		return nil, domain.E(domain.KindNotFound, "resolve", domain.ErrNotFound)
	}
	return rec, nil
}

// Register creates a link or repoints an existing one. The visit count is preserved.
func (s *LinkService) Register(ctx context.Context, code, targetURL string) (*domain.LinkRecord, error) {
	if !s.validator.IsValid(code) {
		return nil, domain.E(domain.KindValidation, "register", domain.ErrInvalidCode)
	}
	if domain.IsReservedCode(code) {
		return nil, domain.E(domain.KindValidation, "register", domain.ErrReservedCode)
	}
	if err := validateTarget(targetURL); err != nil {
		return nil, domain.E(domain.KindValidation, "register", err)
	}

	var lastErr error
	for attempt := 0; attempt < registerAttempts; attempt++ {
		existing, err := s.store.Get(ctx, code)
		if err != nil {
			return nil, domain.E(domain.KindStoreLookup, "register", err)
		}

		now := s.now().UTC()
		rec := &domain.LinkRecord{Code: code, CreatedAt: now}
		var expected int64
		if existing != nil {
			*rec = *existing
			expected = existing.Version
		}
		rec.TargetURL = targetURL
		rec.UpdatedAt = now

		err = s.store.UpsertIfVersion(ctx, rec, expected)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, domain.E(domain.KindStoreWrite, "register", err)
		}
		lastErr = err
	}
	return nil, domain.E(domain.KindConflict, "register", lastErr)
}

func (s *LinkService) Get(ctx context.Context, code string) (*domain.LinkRecord, error) {
	rec, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, domain.E(domain.KindStoreLookup, "get", err)
	}
	if rec == nil {
		return nil, domain.E(domain.KindNotFound, "get", domain.ErrNotFound)
	}
	return rec, nil
}

func (s *LinkService) List(ctx context.Context, page, limit int) ([]domain.LinkRecord, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}
	recs, err := s.store.List(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, domain.E(domain.KindStoreLookup, "list", err)
	}
	return recs, nil
}

func (s *LinkService) Delete(ctx context.Context, code string) error {
	if err := s.store.Delete(ctx, code); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.E(domain.KindNotFound, "delete", err)
		}
		return domain.E(domain.KindStoreWrite, "delete", err)
	}
	return nil
}

func validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("target url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target url must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("target url has no host")
	}
	return nil
}
