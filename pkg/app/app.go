// Package app wires adapters and services from a Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/handler"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/queue/memory"
	natsqueue "github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/queue/nats"
	redisqueue "github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/queue/redis"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/repository/postgres"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/config"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/services"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      ports.LinkStore
	Queue      ports.VisitQueue
	Links      *services.LinkService
	Limiter    *services.WindowLimiter
	Dispatcher *services.VisitDispatcher
	Flusher    *services.FlushAggregator
	Handler    http.Handler
}

// OpenStore picks postgres for postgres:// URLs and sqlite (or libsql) otherwise
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.LinkStore, error) {
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		return postgres.NewRepository(ctx, cfg.DatabaseURL, logger)
	}
	return sqlite.NewSQLiteRepository(cfg.DatabaseURL)
}

// OpenQueue picks the queue adapter from the QUEUE_URL scheme
func OpenQueue(ctx context.Context, cfg *config.Config) (ports.VisitQueue, error) {
	u, err := url.Parse(cfg.QueueURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue url: %w", err)
	}
	switch u.Scheme {
	case "", "memory":
		return memory.New(), nil
	case "redis", "rediss":
		return redisqueue.NewFromURL(ctx, cfg.QueueURL, cfg.QueueName)
	case "nats":
		return natsqueue.New(natsqueue.DefaultConfig(cfg.QueueURL, cfg.QueueName))
	default:
		return nil, fmt.Errorf("unsupported queue scheme %q", u.Scheme)
	}
}

// FlushOptions maps configuration onto the aggregator's options
func FlushOptions(cfg *config.Config) services.FlushOptions {
	opts := services.DefaultFlushOptions()
	opts.MaxMessages = cfg.FlushMaxMessages
	opts.BatchSize = cfg.FlushBatchSize
	opts.Visibility = cfg.FlushVisibilityTimeout
	opts.Conditional = cfg.FlushWriteMode != config.WriteModeUnconditional
	return opts
}

// New opens the store and queue and builds the services and router on top
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	validator, err := services.NewCodeValidator(cfg.CodeMinLength, cfg.CodeMaxLength, cfg.CodePattern)
	if err != nil {
		return nil, err
	}

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	queue, err := OpenQueue(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Queue:      queue,
		Links:      services.NewLinkService(store, validator),
		Limiter:    services.NewWindowLimiter(cfg.RateLimitPerClientPerMinute),
		Dispatcher: services.NewVisitDispatcher(queue, logger),
		Flusher:    services.NewFlushAggregator(store, queue, FlushOptions(cfg), logger),
	}
	a.Handler = handler.NewRouter(cfg, handler.Dependencies{
		Links:     a.Links,
		Validator: validator,
		Limiter:   a.Limiter,
		Identity:  services.NewIdentityResolver(cfg.ClientIDHeader, cfg.CountryHeader, cfg.ClientIDHashSalt),
		Visits:    a.Dispatcher,
		Flusher:   a.Flusher,
		Logger:    logger,
	})
	return a, nil
}

// Close waits for in-flight enqueues, then releases the queue and store
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain visit dispatcher: %w", err))
	}
	if err := a.Queue.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
