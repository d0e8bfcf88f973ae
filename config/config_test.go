package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/vidpipe/internal/domain"
)

var allKeys = []string{
	"DATA_DIR", "DOWNLOAD_DIR", "MAX_RESOLVERS", "MAX_TRANSFERS", "QUALITY",
	"ARIA2C_PATH", "ARIA2C_CONNECTIONS", "YTDLP_PATH", "STATE_BACKEND",
	"RESOLVE_JOIN_TIMEOUT", "PLAYLIST_TIMEOUT", "HTTP_ADDR", "CONTROL_TOKEN_HASH",
	"TICKET_SECRET", "BEHIND_PROXY", "REDIS_ADDR", "REDIS_PREFIX", "REDIS_TTL",
	"KAFKA_BROKER", "KAFKA_TOPIC", "DEBUG",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, filepath.Join("./data", "downloads"), cfg.DownloadDir)
	assert.Equal(t, 2, cfg.MaxResolvers)
	assert.Equal(t, 3, cfg.MaxTransfers)
	assert.Equal(t, domain.Quality480p, cfg.Quality)
	assert.Equal(t, "aria2c", cfg.Aria2Path)
	assert.Equal(t, 16, cfg.Aria2Connections)
	assert.Equal(t, "yt-dlp", cfg.YtdlpPath)
	assert.Equal(t, BackendJSON, cfg.StateBackend)
	assert.Equal(t, 10*time.Minute, cfg.ResolveJoinTimeout)
	assert.Equal(t, time.Minute, cfg.PlaylistTimeout)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "vidpipe:progress:", cfg.RedisPrefix)
	assert.Equal(t, 24*time.Hour, cfg.RedisTTL)
	assert.Equal(t, "vidpipe.events", cfg.KafkaTopic)
	assert.False(t, cfg.BehindProxy)
	assert.False(t, cfg.Debug)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/srv/vidpipe")
	t.Setenv("MAX_TRANSFERS", "5")
	t.Setenv("QUALITY", "128k")
	t.Setenv("STATE_BACKEND", "sqlite")
	t.Setenv("RESOLVE_JOIN_TIMEOUT", "90s")
	t.Setenv("HTTP_ADDR", ":8080")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DEBUG", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/vidpipe/downloads", cfg.DownloadDir)
	assert.Equal(t, 5, cfg.MaxTransfers)
	assert.Equal(t, domain.QualityAudio128k, cfg.Quality)
	assert.Equal(t, BackendSQLite, cfg.StateBackend)
	assert.Equal(t, 90*time.Second, cfg.ResolveJoinTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.True(t, cfg.Debug)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"MAX_RESOLVERS", "two"},
		{"MAX_TRANSFERS", "0"},
		{"ARIA2C_CONNECTIONS", "-1"},
		{"QUALITY", "4k"},
		{"STATE_BACKEND", "postgres"},
		{"RESOLVE_JOIN_TIMEOUT", "soon"},
		{"REDIS_TTL", "forever"},
		{"BEHIND_PROXY", "maybe"},
		{"DEBUG", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := Load()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
			assert.Nil(t, cfg)
		})
	}
}
