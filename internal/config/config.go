// Package config loads the proxy's environment-variable configuration,
// validating every field up front so a misconfigured deployment fails at
// startup rather than mid-call.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreBackend selects where the dedup cache persists its entries. The
// conversation log is always in memory, and the session coordinator's
// cancellation handles are always process-local — they cannot cross a
// backend boundary.
type StoreBackend string

const (
	StoreBackendMemory StoreBackend = "memory"
	StoreBackendRedis  StoreBackend = "redis"
)

type Config struct {
	Addr string

	UpstreamURL    string
	UpstreamToken  string
	UpstreamAgent  string
	ModelPrefix    string
	VoiceHint      string

	DebounceInterval      time.Duration
	KeepAliveInterval     time.Duration
	KeepAliveStaleAfter   time.Duration
	MinBufferSpeech       time.Duration
	DedupWindow           time.Duration
	DedupEvictAfter       time.Duration
	MaxConversations      int
	MaxTurnDuration       time.Duration // 0 = disabled, see SPEC_FULL open question (i)

	StoreBackend StoreBackend
	RedisAddr    string
	RedisDB      int

	PhraseCatalogPath string

	CORSAllowedOrigins map[string]struct{}

	MetricsEnabled bool

	UpstreamConnectTimeout        time.Duration
	UpstreamResponseHeaderTimeout time.Duration

	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration

	SweepInterval time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                          ":" + envOr("PORT", "8013"),
		UpstreamURL:                   envOr("UPSTREAM_URL", "http://127.0.0.1:18789/v1/chat/completions"),
		UpstreamToken:                 os.Getenv("UPSTREAM_TOKEN"),
		UpstreamAgent:                 envOr("UPSTREAM_AGENT", "main"),
		ModelPrefix:                   envOr("UPSTREAM_MODEL_PREFIX", "agent"),
		VoiceHint:                     envOr("VOICE_HINT", " [Voice call — keep it to 3-4 sentences, no opener filler.]"),
		DebounceInterval:              envDurationMsOr("DEBOUNCE_MS", 1500*time.Millisecond),
		KeepAliveInterval:             envDurationMsOr("KEEPALIVE_INTERVAL_MS", 10000*time.Millisecond),
		KeepAliveStaleAfter:           envDurationMsOr("KEEPALIVE_STALE_AFTER_MS", 9000*time.Millisecond),
		MinBufferSpeech:               envDurationMsOr("MIN_BUFFER_SPEECH_MS", 2500*time.Millisecond),
		DedupWindow:                   envDurationMsOr("DEDUP_WINDOW_MS", 15000*time.Millisecond),
		DedupEvictAfter:               envDurationMsOr("DEDUP_EVICT_MS", 30000*time.Millisecond),
		MaxConversations:              envIntOr("MAX_CONVERSATIONS", 50),
		MaxTurnDuration:               envDurationMsOr("MAX_TURN_DURATION_MS", 0),
		StoreBackend:                  StoreBackend(envOr("STORE_BACKEND", string(StoreBackendMemory))),
		RedisAddr:                     envOr("REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:                       envIntOr("REDIS_DB", 0),
		PhraseCatalogPath:             os.Getenv("PHRASE_CATALOG_PATH"),
		CORSAllowedOrigins:            make(map[string]struct{}),
		MetricsEnabled:                envBoolOr("METRICS_ENABLED", true),
		UpstreamConnectTimeout:        envDurationOr("UPSTREAM_CONNECT_TIMEOUT", 5*time.Second),
		UpstreamResponseHeaderTimeout: envDurationOr("UPSTREAM_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
		ReadHeaderTimeout:             envDurationOr("READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:           envDurationOr("SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		SweepInterval:                 envDurationOr("SWEEP_INTERVAL", 30*time.Second),
	}

	for _, origin := range splitCSV(os.Getenv("CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	switch cfg.StoreBackend {
	case StoreBackendMemory, StoreBackendRedis:
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND must be one of memory|redis")
	}

	if strings.TrimSpace(cfg.UpstreamURL) == "" {
		return Config{}, fmt.Errorf("UPSTREAM_URL must not be empty")
	}
	if cfg.DebounceInterval <= 0 {
		return Config{}, fmt.Errorf("DEBOUNCE_MS must be > 0")
	}
	if cfg.KeepAliveInterval <= 0 {
		return Config{}, fmt.Errorf("KEEPALIVE_INTERVAL_MS must be > 0")
	}
	if cfg.KeepAliveStaleAfter <= 0 || cfg.KeepAliveStaleAfter > cfg.KeepAliveInterval {
		return Config{}, fmt.Errorf("KEEPALIVE_STALE_AFTER_MS must be > 0 and <= KEEPALIVE_INTERVAL_MS")
	}
	if cfg.MinBufferSpeech < 0 {
		return Config{}, fmt.Errorf("MIN_BUFFER_SPEECH_MS must be >= 0")
	}
	if cfg.DedupWindow <= 0 {
		return Config{}, fmt.Errorf("DEDUP_WINDOW_MS must be > 0")
	}
	if cfg.DedupEvictAfter < cfg.DedupWindow {
		return Config{}, fmt.Errorf("DEDUP_EVICT_MS must be >= DEDUP_WINDOW_MS")
	}
	if cfg.MaxConversations <= 0 {
		return Config{}, fmt.Errorf("MAX_CONVERSATIONS must be > 0")
	}
	if cfg.MaxTurnDuration < 0 {
		return Config{}, fmt.Errorf("MAX_TURN_DURATION_MS must be >= 0")
	}
	if cfg.UpstreamConnectTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.UpstreamResponseHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_RESPONSE_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// envDurationMsOr parses a bare integer count of milliseconds, matching the
// *_MS constant names from the external interface.
func envDurationMsOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
