package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultQueueFeedURL = "ws://localhost:8000/ws/active-calls"
	defaultCallFeedURL  = "ws://localhost:8000/ws/calls/{call_id}"
)

type Config struct {
	Port         string
	QueueFeedURL string
	CallFeedURL  string
	ExportDir    string
	Reconnect    Reconnect
}

// Reconnect configures the feed backoff policy. MaxElapsed of zero retries forever.
type Reconnect struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load() // loads .env
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(k, def string) string {
		if v, ok := lookup(k); ok && v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Port:         get("PORT", "8080"),
		QueueFeedURL: get("QUEUE_FEED_URL", defaultQueueFeedURL),
		CallFeedURL:  get("CALL_FEED_URL", defaultCallFeedURL),
		ExportDir:    get("EXPORT_DIR", ""),
	}

	var err error
	if cfg.Reconnect.Initial, err = millis(get("RECONNECT_INITIAL_MS", "500")); err != nil {
		return Config{}, fmt.Errorf("RECONNECT_INITIAL_MS: %w", err)
	}
	if cfg.Reconnect.Max, err = millis(get("RECONNECT_MAX_MS", "30000")); err != nil {
		return Config{}, fmt.Errorf("RECONNECT_MAX_MS: %w", err)
	}
	secs, err := strconv.Atoi(get("RECONNECT_MAX_ELAPSED_S", "0"))
	if err != nil || secs < 0 {
		return Config{}, fmt.Errorf("RECONNECT_MAX_ELAPSED_S: invalid value %q", get("RECONNECT_MAX_ELAPSED_S", "0"))
	}
	cfg.Reconnect.MaxElapsed = time.Duration(secs) * time.Second

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	for name, raw := range map[string]string{"QUEUE_FEED_URL": c.QueueFeedURL, "CALL_FEED_URL": c.CallFeedURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("%s: scheme must be ws or wss, got %q", name, u.Scheme)
		}
	}
	if c.Reconnect.Initial <= 0 || c.Reconnect.Max < c.Reconnect.Initial {
		return fmt.Errorf("reconnect: need 0 < initial <= max, got %s and %s", c.Reconnect.Initial, c.Reconnect.Max)
	}
	return nil
}

func millis(v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", v, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
