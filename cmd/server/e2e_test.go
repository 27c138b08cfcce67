package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/handler"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/app"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/config"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/logger"
)

func TestIntegration(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	cfg.DatabaseURL = "file:memdb1?mode=memory&cache=shared"
	cfg.QueueURL = "memory://"
	cfg.JWTSecret = "e2e-secret"

	a, err := app.New(ctx, cfg, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	server := httptest.NewServer(a.Handler)
	defer server.Close()

	client := server.Client()
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	token, _, err := handler.IssueToken([]byte(cfg.JWTSecret), "ops@example.com", time.Minute)
	require.NoError(t, err)
	admin := func(method, path, body string) *http.Response {
		req, err := http.NewRequest(method, server.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	// Register a link
	resp := admin(http.MethodPut, "/api/v1/links/go123", `{"target_url":"https://example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Redirect three times from one client
	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, server.URL+"/go123", nil)
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", "203.0.113.9")
		resp, err := client.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "https://example.com", resp.Header.Get("Location"))
	}

	// Unknown and invalid codes do not enqueue
	resp, err = client.Get(server.URL + "/nothere")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, a.Dispatcher.Wait(waitCtx))
	assert.Zero(t, a.Dispatcher.Failed())

	// A poison message is dropped without affecting the run
	require.NoError(t, a.Queue.Send(ctx, []byte("not an event")))

	resp = admin(http.MethodPost, "/api/v1/flush", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res domain.FlushResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 4, res.Received)
	assert.Equal(t, 3, res.Decoded)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Applied)

	resp = admin(http.MethodGet, "/api/v1/links/go123", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec domain.LinkRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, int64(3), rec.VisitCount)
	require.NotNil(t, rec.LastVisitUTC)

	// The queue is empty, a second flush is a no-op
	resp = admin(http.MethodPost, "/api/v1/flush", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second domain.FlushResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	assert.Zero(t, second.Received)

	// Export (Dump)
	repo, ok := a.Store.(*sqlite.SQLiteRepository)
	require.True(t, ok)
	links, err := repo.Dump(ctx)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}
