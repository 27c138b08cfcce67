package services

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
)

// botMarkers are matched case-insensitively against the User-Agent
var botMarkers = []string{
	"bot",
	"crawler",
	"spider",
	"curl",
	"wget",
	"python-requests",
	"postman",
	"httpclient",
	"go-http-client",
	"headless",
}

// IdentityResolver derives client identity and visit attributes from request headers
type IdentityResolver struct {
	clientHeader  string
	countryHeader string
	salt          string
}

func NewIdentityResolver(clientHeader, countryHeader, salt string) *IdentityResolver {
	if clientHeader == "" {
		clientHeader = "X-Forwarded-For"
	}
	if countryHeader == "" {
		countryHeader = "CF-IPCountry"
	}
	return &IdentityResolver{clientHeader: clientHeader, countryHeader: countryHeader, salt: salt}
}

// ClientID returns the first entry of the forwarded-client header, or "unknown".
// All clients without the header share the "unknown" bucket.
func (r *IdentityResolver) ClientID(h http.Header) string {
	raw := h.Get(r.clientHeader)
	if raw == "" {
		return domain.UnknownValue
	}
	first, _, _ := strings.Cut(raw, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return domain.UnknownValue
}

// HashClientID returns hex(sha256(salt + "|" + clientID)), passing "unknown" through
func (r *IdentityResolver) HashClientID(clientID string) string {
	if clientID == "" || clientID == domain.UnknownValue {
		return domain.UnknownValue
	}
	sum := sha256.Sum256([]byte(r.salt + "|" + clientID))
	return hex.EncodeToString(sum[:])
}

func (r *IdentityResolver) Country(h http.Header) string {
	if c := strings.TrimSpace(h.Get(r.countryHeader)); c != "" {
		return c
	}
	return domain.UnknownValue
}

// NewVisitEvent builds the event for a successful redirect
func (r *IdentityResolver) NewVisitEvent(code, clientID string, h http.Header, now time.Time) domain.VisitEvent {
	return domain.VisitEvent{
		Code:         code,
		TimestampUTC: now.UTC(),
		ClientIDHash: r.HashClientID(clientID),
		Country:      r.Country(h),
		UAClass:      ClassifyUserAgent(h.Get("User-Agent")),
	}
}

// ClassifyUserAgent is bot_like for empty agents or known automation tools
func ClassifyUserAgent(ua string) domain.UAClass {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return domain.UABotLike
	}
	lower := strings.ToLower(ua)
	for _, m := range botMarkers {
		if strings.Contains(lower, m) {
			return domain.UABotLike
		}
	}
	return domain.UAHumanLike
}
