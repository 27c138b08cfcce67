package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeValidator(t *testing.T) {
	v, err := NewCodeValidator(4, 12, `^[A-Za-z0-9_-]+$`)
	require.NoError(t, err)

	tests := []struct {
		code string
		want bool
	}{
		{"go123", true},
		{"abcd", true},
		{"A_b-C_d-1234", true},
		{"abc", false},
		{strings.Repeat("a", 13), false},
		{"", false},
		{"!!", false},
		{"abc!", false},
		{"abc def", false},
		{"abc/def", false},
		{"ünïcode", false},
		{"abcd\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsValid(tt.code))
		})
	}
}

func TestNewCodeValidator_BadPattern(t *testing.T) {
	_, err := NewCodeValidator(4, 12, `([`)
	assert.Error(t, err)
}
