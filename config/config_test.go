package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("DEDUP_TTL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.ThumbnailAttempts != 10 {
		t.Errorf("ThumbnailAttempts = %d, want 10", cfg.ThumbnailAttempts)
	}
	if cfg.ThumbnailBackoff != 30*time.Second {
		t.Errorf("ThumbnailBackoff = %v, want 30s", cfg.ThumbnailBackoff)
	}
	if cfg.DedupTTL != 10*time.Minute {
		t.Errorf("DedupTTL = %v, want 10m", cfg.DedupTTL)
	}
}

func TestLoadTrimsPublicBaseURL(t *testing.T) {
	t.Setenv("PUBLIC_BASE_URL", "https://herald.example.com/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PublicBaseURL != "https://herald.example.com" {
		t.Errorf("PublicBaseURL = %q, want trailing slash stripped", cfg.PublicBaseURL)
	}
	if got := cfg.CallbackURL(); got != "https://herald.example.com/eventsub/callback" {
		t.Errorf("CallbackURL() = %q", got)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("THUMBNAIL_BACKOFF", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid THUMBNAIL_BACKOFF")
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("EVENTSUB_SECRET", "0123456789ab")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	t.Setenv("EVENTSUB_SECRET", "short")
	cfg, _ = Load()
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for short EVENTSUB_SECRET")
	}
}
