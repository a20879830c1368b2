package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.DebounceInterval != 1500*time.Millisecond {
		t.Errorf("DebounceInterval = %v, want 1500ms", cfg.DebounceInterval)
	}
	if cfg.MaxConversations != 50 {
		t.Errorf("MaxConversations = %v, want 50", cfg.MaxConversations)
	}
	if cfg.StoreBackend != StoreBackendMemory {
		t.Errorf("StoreBackend = %v, want memory", cfg.StoreBackend)
	}
}

func TestLoadFromEnv_InvalidStoreBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "bogus")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for invalid STORE_BACKEND")
	}
}

func TestLoadFromEnv_KeepAliveStaleAfterMustNotExceedInterval(t *testing.T) {
	t.Setenv("KEEPALIVE_INTERVAL_MS", "5000")
	t.Setenv("KEEPALIVE_STALE_AFTER_MS", "9000")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error when stale-after exceeds interval")
	}
}
