package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/app"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/config"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/services"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Init(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if cfg.SaltDefaulted {
		log.Warn("CLIENT_ID_HASH_SALT is not set, using the built-in salt")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.Handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "queue", cfg.QueueURL, "write_mode", cfg.FlushWriteMode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	if cfg.FlushEnabled {
		g.Go(func() error {
			return services.NewFlushScheduler(a.Flusher, cfg.FlushInterval(), log).Run(gctx)
		})
	}
	a.Limiter.StartJanitor(gctx)

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		log.Error("shutdown incomplete", "error", err, "failed_enqueues", a.Dispatcher.Failed())
	}
	return runErr
}
