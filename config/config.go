package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bnema/vidpipe/internal/domain"
)

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

type Config struct {
	DataDir            string
	DownloadDir        string
	MaxResolvers       int
	MaxTransfers       int
	Quality            domain.Quality
	Aria2Path          string
	Aria2Connections   int
	YtdlpPath          string
	StateBackend       string
	ResolveJoinTimeout time.Duration
	PlaylistTimeout    time.Duration

	HTTPAddr         string
	ControlTokenHash string
	TicketSecret     string
	BehindProxy      bool

	RedisAddr   string
	RedisPrefix string
	RedisTTL    time.Duration

	KafkaBroker string
	KafkaTopic  string

	Debug bool
}

func Load() (*Config, error) {
	dataDir := getEnv("DATA_DIR", "./data")

	maxResolvers, err := positiveInt("MAX_RESOLVERS", "2")
	if err != nil {
		return nil, err
	}

	maxTransfers, err := positiveInt("MAX_TRANSFERS", "3")
	if err != nil {
		return nil, err
	}

	aria2Connections, err := positiveInt("ARIA2C_CONNECTIONS", "16")
	if err != nil {
		return nil, err
	}

	quality, err := domain.ParseQuality(getEnv("QUALITY", string(domain.Quality480p)))
	if err != nil {
		return nil, fmt.Errorf("invalid QUALITY: %w", err)
	}

	backend := getEnv("STATE_BACKEND", BackendJSON)
	if backend != BackendJSON && backend != BackendSQLite {
		return nil, fmt.Errorf("invalid STATE_BACKEND: %q (want %s or %s)", backend, BackendJSON, BackendSQLite)
	}

	joinTimeout, err := time.ParseDuration(getEnv("RESOLVE_JOIN_TIMEOUT", "10m"))
	if err != nil {
		return nil, fmt.Errorf("invalid RESOLVE_JOIN_TIMEOUT: %w", err)
	}

	playlistTimeout, err := time.ParseDuration(getEnv("PLAYLIST_TIMEOUT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PLAYLIST_TIMEOUT: %w", err)
	}

	redisTTL, err := time.ParseDuration(getEnv("REDIS_TTL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_TTL: %w", err)
	}

	behindProxy, err := strconv.ParseBool(getEnv("BEHIND_PROXY", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid BEHIND_PROXY: %w", err)
	}

	debug, err := strconv.ParseBool(getEnv("DEBUG", "false"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEBUG: %w", err)
	}

	return &Config{
		DataDir:            dataDir,
		DownloadDir:        getEnv("DOWNLOAD_DIR", filepath.Join(dataDir, "downloads")),
		MaxResolvers:       maxResolvers,
		MaxTransfers:       maxTransfers,
		Quality:            quality,
		Aria2Path:          getEnv("ARIA2C_PATH", "aria2c"),
		Aria2Connections:   aria2Connections,
		YtdlpPath:          getEnv("YTDLP_PATH", "yt-dlp"),
		StateBackend:       backend,
		ResolveJoinTimeout: joinTimeout,
		PlaylistTimeout:    playlistTimeout,
		HTTPAddr:           os.Getenv("HTTP_ADDR"),
		ControlTokenHash:   os.Getenv("CONTROL_TOKEN_HASH"),
		TicketSecret:       os.Getenv("TICKET_SECRET"),
		BehindProxy:        behindProxy,
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPrefix:        getEnv("REDIS_PREFIX", "vidpipe:progress:"),
		RedisTTL:           redisTTL,
		KafkaBroker:        os.Getenv("KAFKA_BROKER"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "vidpipe.events"),
		Debug:              debug,
	}, nil
}

func positiveInt(key, defaultValue string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s: must be at least 1, got %d", key, n)
	}
	return n, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
