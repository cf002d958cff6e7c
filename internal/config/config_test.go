package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", testLogger())
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, uint64(0), cfg.Seed)
	assert.False(t, cfg.Auth.Enabled)

	assert.Equal(t, 60.0, cfg.Engine.TickRate)
	assert.Equal(t, 60.0, cfg.Engine.K)
	assert.Equal(t, 1.0, cfg.Engine.TimeScale)

	assert.Equal(t, 30, cfg.Sim.FrameRate)
	assert.Equal(t, 120, cfg.Sim.TrailLength)
	assert.False(t, cfg.Sim.UseCatalogElements)

	assert.True(t, cfg.Catalog.EnableFetch)
	assert.Equal(t, 20, cfg.Catalog.PageSize)
	assert.Equal(t, 1, cfg.Catalog.Pages)
	assert.Equal(t, 24*time.Hour, cfg.Catalog.RefreshInterval)
	assert.Equal(t, "/tmp/neosim/catalog.db", cfg.Catalog.CachePath)
	assert.Equal(t, 5, cfg.Catalog.MaxSnapshots)
	assert.True(t, cfg.Catalog.IncludeComets)

	assert.Equal(t, 10, cfg.Stream.MaxConcurrentPerIP)
	assert.Equal(t, 1048576, cfg.Stream.BandwidthLimit)
	assert.Equal(t, 30*time.Second, cfg.Stream.KeepaliveInterval)
	assert.Equal(t, 30, cfg.Stream.MaxFPS)

	assert.GreaterOrEqual(t, cfg.Scenario.Workers, 1)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(t.TempDir(), testLogger())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	file := `
log:
  level: debug
http:
  addr: ":9090"
engine:
  time_scale: 4
sim:
  frame_rate: 60
catalog:
  enable_fetch: false
  refresh_interval: 6h
synthetic:
  seed: 42
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(file), 0644))

	cfg, err := Load(dir, testLogger())
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 4.0, cfg.Engine.TimeScale)
	assert.Equal(t, 60, cfg.Sim.FrameRate)
	assert.False(t, cfg.Catalog.EnableFetch)
	assert.Equal(t, 6*time.Hour, cfg.Catalog.RefreshInterval)
	assert.Equal(t, uint64(42), cfg.Seed)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("http: [unclosed"), 0644))

	_, err := Load(dir, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("http:\n  addr: \":9090\"\n"), 0644))
	t.Setenv("NEOSIM_HTTP_ADDR", ":7070")
	t.Setenv("NEOSIM_STREAM_KEEPALIVE_INTERVAL", "15")

	cfg, err := Load(dir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, 15*time.Second, cfg.Stream.KeepaliveInterval)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("NEOSIM_SIM_FRAME_RATE", "fast")
	t.Setenv("NEOSIM_ENGINE_TIME_SCALE", "-2")
	t.Setenv("NEOSIM_CATALOG_REFRESH_INTERVAL", "soon")
	t.Setenv("NEOSIM_CATALOG_INCLUDE_COMETS", "maybe")
	t.Setenv("NEOSIM_LOG_LEVEL", "loud")
	t.Setenv("NEOSIM_SYNTHETIC_SEED", "-1")

	cfg, err := Load("", testLogger())
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Sim.FrameRate)
	assert.Equal(t, 1.0, cfg.Engine.TimeScale)
	assert.Equal(t, 24*time.Hour, cfg.Catalog.RefreshInterval)
	assert.True(t, cfg.Catalog.IncludeComets)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, uint64(0), cfg.Seed)
}

func TestLoad_Auth(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		token   string
		wantErr bool
	}{
		{"disabled", "false", "", false},
		{"enabled with token", "true", "s3cret", false},
		{"enabled without token", "true", "", true},
		{"not a bool", "yes please", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NEOSIM_AUTH_ENABLED", tt.enabled)
			t.Setenv("NEOSIM_AUTH_TOKEN", tt.token)

			cfg, err := Load("", testLogger())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.enabled == "true" {
				assert.True(t, cfg.Auth.Enabled)
				assert.Equal(t, tt.token, cfg.Auth.Token)
			}
		})
	}
}
