package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/answerd/internal/config"
)

func TestNewDisabled(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Enabled = false

	tel, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.False(t, tel.Enabled())

	// Shutdown with no providers installed is a no-op.
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, tel)
}

func TestTelemetryNilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		_ = tel.Enabled()
		_ = tel.Shutdown(context.Background())
	})
	assert.False(t, tel.Enabled())
}
