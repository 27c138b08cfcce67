package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/services"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

// Dependencies are the collaborators the HTTP surface is built from.
// Flusher may be nil when the process does not own the aggregation job.
type Dependencies struct {
	Links     ports.LinkService
	Validator ports.CodeValidator
	Limiter   ports.RateLimiter
	Identity  *services.IdentityResolver
	Visits    ports.VisitRecorder
	Flusher   ports.Flusher
	Logger    *slog.Logger
	Now       func() time.Time
}

type HTTPHandler struct {
	deps Dependencies
}

func NewHTTPHandler(deps Dependencies) *HTTPHandler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &HTTPHandler{deps: deps}
}

// Redirect resolves a code. Invalid and unknown codes get the same 404.
func (h *HTTPHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !h.deps.Validator.IsValid(code) {
		http.NotFound(w, r)
		return
	}

	now := h.deps.Now()
	clientID := h.deps.Identity.ClientID(r.Header)
	if !h.deps.Limiter.Allow(clientID, now) {
		w.Header().Set("Retry-After", strconv.Itoa(60-now.Second()))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	rec, err := h.deps.Links.Resolve(r.Context(), code)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			http.NotFound(w, r)
			return
		}
		h.deps.Logger.ErrorContext(r.Context(), "link lookup failed", "code", code, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.deps.Visits.Record(h.deps.Identity.NewVisitEvent(code, clientID, r.Header, now))

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	http.Redirect(w, r, rec.TargetURL, http.StatusFound)
}

// UpsertLinkRequest payload
type UpsertLinkRequest struct {
	TargetURL string `json:"target_url"`
}

// UpsertLink registers or repoints a code
func (h *HTTPHandler) UpsertLink(w http.ResponseWriter, r *http.Request) {
	var req UpsertLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.deps.Links.Register(r.Context(), r.PathValue("code"), req.TargetURL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) GetLink(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.Links.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	recs, err := h.deps.Links.List(r.Context(), page, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.LinkRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  recs,
		"page":  max(page, 1),
		"limit": limit,
	})
}

func (h *HTTPHandler) DeleteLink(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Links.Delete(r.Context(), r.PathValue("code")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Flush runs one aggregation cycle synchronously
func (h *HTTPHandler) Flush(w http.ResponseWriter, r *http.Request) {
	if h.deps.Flusher == nil {
		http.Error(w, "Flush is not available on this instance", http.StatusServiceUnavailable)
		return
	}

	res, err := h.deps.Flusher.Flush(r.Context())
	if errors.Is(err, services.ErrFlushInProgress) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		h.deps.Logger.ErrorContext(r.Context(), "manual flush failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"result": res, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.deps.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		http.Error(w, "Internal server error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
