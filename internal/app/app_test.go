package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstream/account-service/internal/config"
	"github.com/clipstream/account-service/internal/storage/memory"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Expiry values are validated before any pool or producer is created, so a
// bad value must fail fast without leaving connections behind.
func TestNewApp_InvalidAccessExpiry_FailsBeforeConnecting(t *testing.T) {
	cfg := &config.Config{
		AccessTokenExpiry:  "soon",
		RefreshTokenExpiry: "168h",
	}

	application, err := NewApp(cfg, newTestLogger())

	assert.Nil(t, application)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse access token expiry")
}

func TestNewApp_InvalidRefreshExpiry_FailsBeforeConnecting(t *testing.T) {
	cfg := &config.Config{
		AccessTokenExpiry:  "15m",
		RefreshTokenExpiry: "never",
	}

	application, err := NewApp(cfg, newTestLogger())

	assert.Nil(t, application)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse refresh token expiry")
}

func TestNewUploader_MemoryBackend(t *testing.T) {
	cfg := &config.Config{
		StorageBackend: "memory",
		MediaBaseURL:   "https://cdn.test",
	}

	uploader, err := newUploader(context.Background(), cfg)

	require.NoError(t, err)
	assert.IsType(t, &memory.Uploader{}, uploader)
}
