package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/app"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/config"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/logger"
)

var mux http.Handler

// Serverless instances only serve requests. Aggregation is triggered
// externally through POST /api/v1/flush, so a remote QUEUE_URL is required.
func init() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Init(cfg.LogLevel, "json", os.Stdout)
	if cfg.SaltDefaulted {
		log.Warn("CLIENT_ID_HASH_SALT is not set, using the built-in salt")
	}

	a, err := app.New(context.Background(), cfg, log)
	if err != nil {
		panic(err)
	}
	mux = a.Handler
}

// Handler is the entrypoint for Vercel
func Handler(w http.ResponseWriter, r *http.Request) {
	mux.ServeHTTP(w, r)
}
