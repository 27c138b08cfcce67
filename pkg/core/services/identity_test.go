package services

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
)

func TestIdentityResolver_ClientID(t *testing.T) {
	r := NewIdentityResolver("", "", "salt")

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"absent", "", domain.UnknownValue},
		{"single", "203.0.113.7", "203.0.113.7"},
		{"chain takes first", " 203.0.113.7 , 10.0.0.1, 10.0.0.2", "203.0.113.7"},
		{"empty first entry", " , 10.0.0.1", domain.UnknownValue},
		{"ipv6", "2001:db8::1", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("X-Forwarded-For", tt.header)
			}
			assert.Equal(t, tt.want, r.ClientID(h))
		})
	}
}

func TestIdentityResolver_CustomHeader(t *testing.T) {
	r := NewIdentityResolver("X-Real-IP", "X-Country", "salt")
	h := http.Header{}
	h.Set("X-Real-IP", "198.51.100.1")
	h.Set("X-Forwarded-For", "10.0.0.1")
	h.Set("X-Country", "JP")

	assert.Equal(t, "198.51.100.1", r.ClientID(h))
	assert.Equal(t, "JP", r.Country(h))
}

func TestIdentityResolver_HashClientID(t *testing.T) {
	r := NewIdentityResolver("", "", "pepper")

	sum := sha256.Sum256([]byte("pepper|203.0.113.7"))
	assert.Equal(t, hex.EncodeToString(sum[:]), r.HashClientID("203.0.113.7"))
	assert.Equal(t, domain.UnknownValue, r.HashClientID(domain.UnknownValue))

	other := NewIdentityResolver("", "", "salt2")
	assert.NotEqual(t, r.HashClientID("203.0.113.7"), other.HashClientID("203.0.113.7"))
}

func TestIdentityResolver_NewVisitEvent(t *testing.T) {
	r := NewIdentityResolver("", "", "pepper")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (Macintosh)")

	ev := r.NewVisitEvent("go123", domain.UnknownValue, h, now)
	assert.Equal(t, "go123", ev.Code)
	assert.Equal(t, time.UTC, ev.TimestampUTC.Location())
	assert.True(t, now.Equal(ev.TimestampUTC))
	assert.Equal(t, domain.UnknownValue, ev.ClientIDHash)
	assert.Equal(t, domain.UnknownValue, ev.Country)
	assert.Equal(t, domain.UAHumanLike, ev.UAClass)
}

func TestClassifyUserAgent(t *testing.T) {
	tests := map[string]domain.UAClass{
		"":                         domain.UABotLike,
		"   ":                      domain.UABotLike,
		"Googlebot/2.1":            domain.UABotLike,
		"curl/8.4.0":               domain.UABotLike,
		"Wget/1.21":                domain.UABotLike,
		"python-requests/2.31":     domain.UABotLike,
		"PostmanRuntime/7.36":      domain.UABotLike,
		"Some SPIDER thing":        domain.UABotLike,
		"Go-http-client/1.1":       domain.UABotLike,
		"Mozilla/5.0 (Windows NT)": domain.UAHumanLike,
		"Safari/605.1.15":          domain.UAHumanLike,
	}
	for ua, want := range tests {
		assert.Equal(t, want, ClassifyUserAgent(ua), ua)
	}
}
