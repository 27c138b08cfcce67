package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_KindSurvivesWrapping(t *testing.T) {
	base := E(KindStoreLookup, "get link", errors.New("connection refused"))
	wrapped := fmt.Errorf("redirect: %w", base)

	assert.Equal(t, KindStoreLookup, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindStoreLookup))
	assert.False(t, IsKind(wrapped, KindNotFound))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindStoreLookup}))
	assert.Contains(t, wrapped.Error(), "connection refused")
}

func TestError_UnwrapsToSentinel(t *testing.T) {
	err := E(KindConflict, "upsert", ErrConflict)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
