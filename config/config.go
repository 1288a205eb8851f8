// Package config loads environment variables and provides a typed Config used
// across the service. It applies defaults so the binary runs locally with
// minimal setup; ValidateTikTok and ValidateYouTube report what a provider
// still needs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/live-ingest/connection"
	"github.com/onnwee/live-ingest/cooldown"
	"github.com/onnwee/live-ingest/gift"
	"github.com/onnwee/live-ingest/milestone"
)

type Config struct {
	// Service
	HTTPAddr     string
	LogLevel     string
	LogFormat    string
	SettingsPath string
	DBDsn        string // optional: settings in Postgres instead of the file
	// EncryptionKey seals secret settings when set (base64, 32 bytes).
	EncryptionKey string
	OTLPEndpoint  string

	// TikTok broker
	TikTokUsername     string
	TikTokBrokerURL    string
	TikTokBrokerCmd    string
	TikTokBrokerArgs   []string
	TikTokDialAttempts int
	TikTokDialDelay    time.Duration

	// YouTube
	YTClientID          string
	YTClientSecret      string
	YTRedirectURI       string
	YTScopes            string
	YTVideoID           string
	YTLoopbackPort      int
	YTMinPollInterval   time.Duration
	YTLikesPollInterval time.Duration
	YTCallsPerMinute    int
	YTCoinsPerUSD       float64
	YTAPIEndpoint       string // overrides the Data API base URL

	// Pipeline
	TickInterval  time.Duration
	QueueCapacity int
	DrainPerTick  int
	Reconnect     connection.Policy
	GiftWindow    time.Duration
	GiftTiers     gift.Table
	Cooldown      cooldown.Policy
	SweepInterval time.Duration
	Milestones    []int64
	SpawnCommands []string
	StanceCmds    []string
}

// Load reads environment variables and applies defaults. Malformed values
// are errors; missing provider credentials are not (see ValidateTikTok and
// ValidateYouTube).
func Load() (*Config, error) {
	var p parser
	cfg := &Config{
		HTTPAddr:      str("HTTP_ADDR", ":8080"),
		LogLevel:      str("LOG_LEVEL", "info"),
		LogFormat:     str("LOG_FORMAT", "text"),
		SettingsPath:  str("SETTINGS_PATH", "data/settings.json"),
		DBDsn:         os.Getenv("DB_DSN"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		TikTokUsername:     strings.TrimPrefix(strings.TrimSpace(os.Getenv("TIKTOK_USERNAME")), "@"),
		TikTokBrokerURL:    str("TIKTOK_BROKER_URL", "ws://127.0.0.1:21213/"),
		TikTokBrokerCmd:    os.Getenv("TIKTOK_BROKER_CMD"),
		TikTokBrokerArgs:   strings.Fields(os.Getenv("TIKTOK_BROKER_ARGS")),
		TikTokDialAttempts: p.int("TIKTOK_DIAL_ATTEMPTS", 5),
		TikTokDialDelay:    p.duration("TIKTOK_DIAL_DELAY", time.Second),

		YTClientID:          os.Getenv("YT_CLIENT_ID"),
		YTClientSecret:      os.Getenv("YT_CLIENT_SECRET"),
		YTRedirectURI:       os.Getenv("YT_REDIRECT_URI"),
		YTScopes:            str("YT_SCOPES", "youtube.readonly"),
		YTVideoID:           strings.TrimSpace(os.Getenv("YT_VIDEO_ID")),
		YTLoopbackPort:      p.int("YT_LOOPBACK_PORT", 8914),
		YTMinPollInterval:   p.duration("YT_MIN_POLL_INTERVAL", 2*time.Second),
		YTLikesPollInterval: p.duration("YT_LIKES_POLL_INTERVAL", 30*time.Second),
		YTCallsPerMinute:    p.int("YT_CALLS_PER_MINUTE", 60),
		YTCoinsPerUSD:       p.float("YT_COINS_PER_USD", 100),
		YTAPIEndpoint:       os.Getenv("YT_API_ENDPOINT"),

		TickInterval:  p.duration("TICK_INTERVAL", 100*time.Millisecond),
		QueueCapacity: p.int("QUEUE_CAPACITY", 200),
		DrainPerTick:  p.int("DRAIN_PER_TICK", 20),
		Reconnect: connection.Policy{
			BaseDelay:      p.duration("RECONNECT_BASE_DELAY", 5*time.Second),
			MaxDelay:       p.duration("RECONNECT_MAX_DELAY", 30*time.Second),
			MaxAttempts:    p.int("RECONNECT_MAX_ATTEMPTS", 5),
			ConnectTimeout: p.duration("CONNECT_TIMEOUT", 30*time.Second),
		},
		GiftWindow: p.duration("GIFT_WINDOW", 2*time.Second),
		Cooldown: cooldown.Policy{
			Subscriber: p.duration("COOLDOWN_SUBSCRIBER", 5*time.Second),
			FanClub:    p.durations("COOLDOWN_FANCLUB", []time.Duration{20 * time.Second, 15 * time.Second, 10 * time.Second}),
			Base:       p.duration("COOLDOWN_BASE", 30*time.Second),
		},
		SweepInterval: p.duration("COOLDOWN_SWEEP_INTERVAL", time.Minute),
		SpawnCommands: list("SPAWN_COMMANDS"),
		StanceCmds:    list("STANCE_COMMANDS"),
	}

	cfg.GiftTiers = gift.DefaultTable
	if v := os.Getenv("GIFT_TIERS"); v != "" {
		t, err := gift.ParseTable(v)
		if err != nil {
			p.fail("GIFT_TIERS", err)
		}
		cfg.GiftTiers = t
	}
	cfg.Milestones = milestone.DefaultThresholds
	if v := os.Getenv("LIKE_MILESTONES"); v != "" {
		m, err := milestone.ParseThresholds(v)
		if err != nil {
			p.fail("LIKE_MILESTONES", err)
		}
		cfg.Milestones = m
	}
	if err := cfg.Reconnect.Validate(); err != nil {
		p.fail("RECONNECT_*", err)
	}
	if err := cfg.Cooldown.Validate(); err != nil {
		p.fail("COOLDOWN_*", err)
	}
	if cfg.YTLoopbackPort <= 0 || cfg.YTLoopbackPort > 65535 {
		p.fail("YT_LOOPBACK_PORT", fmt.Errorf("port %d out of range", cfg.YTLoopbackPort))
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// YTRedirectURL is the OAuth redirect: YT_REDIRECT_URI, or the loopback
// callback on YT_LOOPBACK_PORT.
func (c *Config) YTRedirectURL() string {
	if c.YTRedirectURI != "" {
		return c.YTRedirectURI
	}
	return fmt.Sprintf("http://127.0.0.1:%d/auth/youtube/callback", c.YTLoopbackPort)
}

// ValidateTikTok checks what the TikTok pipeline needs to connect.
func (c *Config) ValidateTikTok() error {
	if c.TikTokBrokerURL == "" {
		return errors.New("missing tiktok env: require TIKTOK_BROKER_URL")
	}
	return nil
}

// ValidateYouTube checks the OAuth client credentials.
func (c *Config) ValidateYouTube() error {
	if c.YTClientID == "" || c.YTClientSecret == "" {
		return errors.New("missing youtube env: require YT_CLIENT_ID, YT_CLIENT_SECRET")
	}
	return nil
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func list(key string) []string {
	var out []string
	for _, f := range strings.Split(os.Getenv(key), ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parser collects every malformed variable so one Load reports them all.
type parser struct{ errs []error }

func (p *parser) fail(key string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
}

func (p *parser) err() error { return errors.Join(p.errs...) }

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		p.fail(key, fmt.Errorf("want a positive number, got %q", v))
		return def
	}
	return f
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail(key, fmt.Errorf("want a duration like 5s, got %q", v))
		return def
	}
	return d
}

func (p *parser) durations(key string, def []time.Duration) []time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []time.Duration
	for _, f := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(f))
		if err != nil {
			p.fail(key, err)
			return def
		}
		out = append(out, d)
	}
	return out
}
