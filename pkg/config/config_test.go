package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CLIENT_ID_HASH_SALT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.CodeMinLength)
	assert.Equal(t, 12, cfg.CodeMaxLength)
	assert.Equal(t, DefaultCodePattern, cfg.CodePattern)
	assert.Equal(t, 60, cfg.RateLimitPerClientPerMinute)
	assert.Equal(t, 5000, cfg.FlushMaxMessages)
	assert.Equal(t, 32, cfg.FlushBatchSize)
	assert.Equal(t, 5*time.Minute, cfg.FlushInterval())
	assert.Equal(t, 2*time.Minute, cfg.FlushVisibilityTimeout)
	assert.Equal(t, WriteModeConditional, cfg.FlushWriteMode)
	assert.Equal(t, DefaultClientIDHashSalt, cfg.ClientIDHashSalt)
	assert.True(t, cfg.SaltDefaulted)
}

func TestLoad_EnvOverridesAndClamps(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("FLUSH_BATCH_SIZE", "500")
	t.Setenv("FLUSH_MAX_MESSAGES", "10")
	t.Setenv("RATE_LIMIT_PER_CLIENT_PER_MINUTE", "5")
	t.Setenv("CLIENT_ID_HASH_SALT", "pepper")
	t.Setenv("ALLOWED_EMAILS", "a@example.com, b@example.com,")
	t.Setenv("FLUSH_VISIBILITY_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.FlushBatchSize)
	assert.Equal(t, 10, cfg.FlushMaxMessages)
	assert.Equal(t, 5, cfg.RateLimitPerClientPerMinute)
	assert.Equal(t, "pepper", cfg.ClientIDHashSalt)
	assert.False(t, cfg.SaltDefaulted)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AllowedEmails)
	assert.Equal(t, 90*time.Second, cfg.FlushVisibilityTimeout)

	t.Setenv("FLUSH_BATCH_SIZE", "0")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.FlushBatchSize)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("queue_url: redis://localhost:6379/0\ncode_max_length: 8\nflush_write_mode: unconditional\nflush_visibility_timeout: 3m\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CODE_MAX_LENGTH", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.QueueURL)
	assert.Equal(t, 10, cfg.CodeMaxLength)
	assert.Equal(t, WriteModeUnconditional, cfg.FlushWriteMode)
	assert.Equal(t, 3*time.Minute, cfg.FlushVisibilityTimeout)
}

func TestLoad_InvalidValuesAreReplaced(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("CODE_PATTERN", "([")
	t.Setenv("FLUSH_WRITE_MODE", "sometimes")

	cfg, err := Load()
	require.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultCodePattern, cfg.CodePattern)
	assert.Equal(t, WriteModeConditional, cfg.FlushWriteMode)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
