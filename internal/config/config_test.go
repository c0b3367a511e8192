package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickInterval != 50*time.Millisecond {
		t.Fatalf("expected 50ms tick, got %s", cfg.TickInterval)
	}
	if cfg.MatchPollInterval != time.Second {
		t.Fatalf("expected 1s poll, got %s", cfg.MatchPollInterval)
	}
	if cfg.ResultsStream != "game_results" {
		t.Fatalf("unexpected stream %q", cfg.ResultsStream)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "20ms")
	t.Setenv("TICKET_EXPIRY", "5s")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickInterval != 20*time.Millisecond {
		t.Fatalf("expected 20ms, got %s", cfg.TickInterval)
	}
	if cfg.TicketExpiry != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.TicketExpiry)
	}
	if !cfg.JSONLogs() {
		t.Fatalf("expected json logs")
	}
}

func TestLoadRejectsNonPositiveTick(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "0s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero tick interval")
	}
}
