// Package config resolves the chase client's settings from defaults, an
// optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Environment variables read by FromEnv.
const (
	EnvBackendURL   = "CHASE_BACKEND_URL"
	EnvPollInterval = "CHASE_POLL_INTERVAL"
	EnvRingMode     = "CHASE_RING_MODE"
	EnvPlayerName   = "CHASE_PLAYER_NAME"
	EnvPlayerID     = "CHASE_PLAYER_ID"
	EnvFeedAddr     = "CHASE_FEED_ADDR"
	EnvMetricsAddr  = "CHASE_METRICS_ADDR"
	EnvTerraDevID   = "TERRA_DEV_ID"
	EnvTerraAPIKey  = "TERRA_API_KEY"
)

const (
	DefaultPollInterval = time.Second
	DefaultStartRadius  = 20.0
	DefaultFeedAddr     = ":8080"
	DefaultMetricsAddr  = ":9090"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the resolved client configuration.
type Config struct {
	BackendURL   string
	PollInterval time.Duration
	RingMode     bool

	PlayerName string
	PlayerID   uuid.UUID
	// StartRadius is sent with start_game; update_game always reports 0.
	StartRadius float64

	// FeedAddr and MetricsAddr disable their server when empty.
	FeedAddr    string
	MetricsAddr string

	TerraDevID  string
	TerraAPIKey string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		RingMode:     true,
		StartRadius:  DefaultStartRadius,
		FeedAddr:     DefaultFeedAddr,
		MetricsAddr:  DefaultMetricsAddr,
	}
}

// LoadDotEnv loads the given .env files (".env" when none are named) into
// the process environment. Variables that are already set win, and a
// missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// FromEnv overlays the process environment on Default.
func FromEnv() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromMap overlays vars on Default. It is handy with godotenv.Read.
func FromMap(vars map[string]string) (Config, error) {
	return FromLookup(func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	})
}

// FromLookup overlays the values returned by lookup on Default.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvBackendURL, &cfg.BackendURL)
	str(EnvPlayerName, &cfg.PlayerName)
	str(EnvFeedAddr, &cfg.FeedAddr)
	str(EnvMetricsAddr, &cfg.MetricsAddr)
	str(EnvTerraDevID, &cfg.TerraDevID)
	str(EnvTerraAPIKey, &cfg.TerraAPIKey)

	if v, ok := lookup(EnvPollInterval); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		cfg.PollInterval = d
	}
	if v, ok := lookup(EnvRingMode); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvRingMode, err)
		}
		cfg.RingMode = b
	}
	if v, ok := lookup(EnvPlayerID); ok && strings.TrimSpace(v) != "" {
		id, err := uuid.Parse(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvPlayerID, err)
		}
		cfg.PlayerID = id
	}
	return cfg, nil
}

// ApplyDefaults fills zero values. A missing player id gets a fresh random
// one, the way a device identifier would be minted on first launch.
func (c *Config) ApplyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StartRadius <= 0 {
		c.StartRadius = DefaultStartRadius
	}
	if c.PlayerID == uuid.Nil {
		c.PlayerID = uuid.New()
	}
	c.BackendURL = strings.TrimSpace(c.BackendURL)
	c.PlayerName = strings.TrimSpace(c.PlayerName)
}

// Validate reports the first problem with c.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("%w: backend url is required", ErrInvalid)
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: backend url %q must be an absolute http(s) url", ErrInvalid, c.BackendURL)
	}
	if c.PlayerName == "" {
		return fmt.Errorf("%w: player name is required", ErrInvalid)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalid)
	}
	if (c.TerraDevID == "") != (c.TerraAPIKey == "") {
		return fmt.Errorf("%w: terra dev id and api key must be set together", ErrInvalid)
	}
	return nil
}

// TerraEnabled reports whether Terra credentials are configured.
func (c Config) TerraEnabled() bool {
	return c.TerraDevID != "" && c.TerraAPIKey != ""
}
