package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "TIKTOK_BROKER_URL", "GIFT_TIERS", "LIKE_MILESTONES", "COOLDOWN_FANCLUB", "YT_LOOPBACK_PORT", "YT_REDIRECT_URI"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.TikTokBrokerURL != "ws://127.0.0.1:21213/" {
		t.Errorf("TikTokBrokerURL = %q", cfg.TikTokBrokerURL)
	}
	if cfg.QueueCapacity != 200 || cfg.DrainPerTick != 20 {
		t.Errorf("queue = %d/%d, want 200/20", cfg.QueueCapacity, cfg.DrainPerTick)
	}
	if cfg.Reconnect.BaseDelay != 5*time.Second || cfg.Reconnect.MaxDelay != 30*time.Second {
		t.Errorf("reconnect = %+v", cfg.Reconnect)
	}
	if len(cfg.GiftTiers) != 5 || len(cfg.Milestones) != 5 {
		t.Errorf("tiers=%d milestones=%d, want defaults", len(cfg.GiftTiers), len(cfg.Milestones))
	}
	if len(cfg.Cooldown.FanClub) != 3 {
		t.Errorf("fan club tiers = %v", cfg.Cooldown.FanClub)
	}
	if got := cfg.YTRedirectURL(); got != "http://127.0.0.1:8914/auth/youtube/callback" {
		t.Errorf("YTRedirectURL = %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TIKTOK_USERNAME", "@streamer")
	t.Setenv("TIKTOK_BROKER_ARGS", "--port 21213  --verbose")
	t.Setenv("GIFT_WINDOW", "3s")
	t.Setenv("GIFT_TIERS", "1:Tiny,10:Big")
	t.Setenv("LIKE_MILESTONES", "10,20")
	t.Setenv("COOLDOWN_FANCLUB", "25s, 12s")
	t.Setenv("SPAWN_COMMANDS", "!go, !play")
	t.Setenv("YT_REDIRECT_URI", "https://example.com/cb")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TikTokUsername != "streamer" {
		t.Errorf("TikTokUsername = %q, want @ stripped", cfg.TikTokUsername)
	}
	if len(cfg.TikTokBrokerArgs) != 3 {
		t.Errorf("broker args = %q", cfg.TikTokBrokerArgs)
	}
	if cfg.GiftWindow != 3*time.Second {
		t.Errorf("GiftWindow = %v", cfg.GiftWindow)
	}
	if len(cfg.GiftTiers) != 2 || cfg.GiftTiers[1].Name != "Big" {
		t.Errorf("GiftTiers = %+v", cfg.GiftTiers)
	}
	if len(cfg.Milestones) != 2 {
		t.Errorf("Milestones = %v", cfg.Milestones)
	}
	if len(cfg.Cooldown.FanClub) != 2 || cfg.Cooldown.FanClub[1] != 12*time.Second {
		t.Errorf("FanClub = %v", cfg.Cooldown.FanClub)
	}
	if len(cfg.SpawnCommands) != 2 || cfg.SpawnCommands[1] != "!play" {
		t.Errorf("SpawnCommands = %q", cfg.SpawnCommands)
	}
	if cfg.YTRedirectURL() != "https://example.com/cb" {
		t.Errorf("YTRedirectURL = %q", cfg.YTRedirectURL())
	}
}

func TestLoadReportsEveryBadValue(t *testing.T) {
	t.Setenv("QUEUE_CAPACITY", "lots")
	t.Setenv("GIFT_WINDOW", "soon")
	t.Setenv("COOLDOWN_SUBSCRIBER", "1m") // longer than base
	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"QUEUE_CAPACITY", "GIFT_WINDOW", "COOLDOWN_*"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestValidateProviders(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		tiktok  bool
		youtube bool
	}{
		{name: "empty", cfg: Config{}, tiktok: false, youtube: false},
		{name: "broker only", cfg: Config{TikTokBrokerURL: "ws://x"}, tiktok: true, youtube: false},
		{name: "youtube client", cfg: Config{YTClientID: "id", YTClientSecret: "secret"}, tiktok: false, youtube: true},
		{name: "youtube missing secret", cfg: Config{YTClientID: "id"}, tiktok: false, youtube: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ValidateTikTok() == nil; got != tt.tiktok {
				t.Errorf("ValidateTikTok ok = %v, want %v", got, tt.tiktok)
			}
			if got := tt.cfg.ValidateYouTube() == nil; got != tt.youtube {
				t.Errorf("ValidateYouTube ok = %v, want %v", got, tt.youtube)
			}
		})
	}
}
