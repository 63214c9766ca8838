// Package config assembles the service configuration from environment
// variables with built-in defaults, optionally overlaid by a YAML file.
// Missing settings always fall back to a default; configuration is never
// fatal.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved service configuration.
type Config struct {
	HTTPAddr string
	NATSURL  string // empty disables the event bus

	DataDir       string
	BlocklistPath string
	IncidentDir   string
	EventLogDir   string

	RuleFile   string // empty uses the built-in table
	HotReload  bool
	DebounceMs int

	AutoBlock         bool
	MaxAlerts         int
	MaxEventsPerCat   int
	RateCeilingPerMin int // hard 429 ceiling

	WindowRetention   time.Duration
	PruneInterval     time.Duration
	EventRetention    time.Duration
	LogRetention      time.Duration
	CorrelationWindow time.Duration
	MaxCorrEvents     int

	EscalationInterval time.Duration
	PersistInterval    time.Duration
}

// fileOverlay mirrors Config for YAML decoding, with durations as strings in
// Go duration syntax.
type fileOverlay struct {
	HTTPAddr string `yaml:"http_addr"`
	NATSURL  string `yaml:"nats_url"`

	DataDir  string `yaml:"data_dir"`
	RuleFile string `yaml:"rule_file"`

	MaxAlerts         int `yaml:"max_alerts"`
	MaxEventsPerCat   int `yaml:"max_events_per_category"`
	RateCeilingPerMin int `yaml:"rate_ceiling_per_minute"`
	MaxCorrEvents     int `yaml:"max_correlation_events"`

	WindowRetention   string `yaml:"window_retention"`
	CorrelationWindow string `yaml:"correlation_window"`
}

// FromEnv builds the configuration from environment variables over the
// built-in defaults.
func FromEnv() *Config {
	cfg := &Config{
		HTTPAddr:           getEnv("SENTRY_HTTP_ADDR", ":8080"),
		NATSURL:            getEnv("SENTRY_NATS_URL", ""),
		DataDir:            getEnv("SENTRY_DATA_DIR", "data"),
		RuleFile:           getEnv("SENTRY_RULE_FILE", ""),
		HotReload:          getEnvBool("SENTRY_HOT_RELOAD", false),
		DebounceMs:         getEnvInt("SENTRY_DEBOUNCE_MS", 1000),
		AutoBlock:          getEnvBool("SENTRY_AUTO_BLOCK", true),
		MaxAlerts:          getEnvInt("SENTRY_MAX_ALERTS", 1000),
		MaxEventsPerCat:    getEnvInt("SENTRY_MAX_EVENTS_PER_CATEGORY", 1000),
		RateCeilingPerMin:  getEnvInt("SENTRY_RATE_CEILING_PER_MIN", 300),
		WindowRetention:    getEnvDuration("SENTRY_WINDOW_RETENTION", time.Hour),
		PruneInterval:      getEnvDuration("SENTRY_PRUNE_INTERVAL", 5*time.Minute),
		EventRetention:     getEnvDuration("SENTRY_EVENT_RETENTION", 24*time.Hour),
		LogRetention:       getEnvDuration("SENTRY_LOG_RETENTION", 7*24*time.Hour),
		CorrelationWindow:  getEnvDuration("SENTRY_CORRELATION_WINDOW", time.Hour),
		MaxCorrEvents:      getEnvInt("SENTRY_MAX_CORRELATION_EVENTS", 1000),
		EscalationInterval: getEnvDuration("SENTRY_ESCALATION_INTERVAL", 30*time.Second),
		PersistInterval:    getEnvDuration("SENTRY_PERSIST_INTERVAL", 30*time.Minute),
	}
	cfg.applyDataDir()
	return cfg
}

// LoadFile overlays YAML settings from path onto the config. Zero values in
// the file leave the existing setting untouched.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if overlay.HTTPAddr != "" {
		c.HTTPAddr = overlay.HTTPAddr
	}
	if overlay.NATSURL != "" {
		c.NATSURL = overlay.NATSURL
	}
	if overlay.DataDir != "" {
		c.DataDir = overlay.DataDir
	}
	if overlay.RuleFile != "" {
		c.RuleFile = overlay.RuleFile
	}
	if overlay.MaxAlerts > 0 {
		c.MaxAlerts = overlay.MaxAlerts
	}
	if overlay.MaxEventsPerCat > 0 {
		c.MaxEventsPerCat = overlay.MaxEventsPerCat
	}
	if overlay.RateCeilingPerMin > 0 {
		c.RateCeilingPerMin = overlay.RateCeilingPerMin
	}
	if overlay.MaxCorrEvents > 0 {
		c.MaxCorrEvents = overlay.MaxCorrEvents
	}
	if overlay.WindowRetention != "" {
		d, err := time.ParseDuration(overlay.WindowRetention)
		if err != nil {
			return fmt.Errorf("invalid window_retention: %w", err)
		}
		c.WindowRetention = d
	}
	if overlay.CorrelationWindow != "" {
		d, err := time.ParseDuration(overlay.CorrelationWindow)
		if err != nil {
			return fmt.Errorf("invalid correlation_window: %w", err)
		}
		c.CorrelationWindow = d
	}

	c.applyDataDir()
	return nil
}

// applyDataDir derives the storage paths not set explicitly.
func (c *Config) applyDataDir() {
	if c.BlocklistPath == "" {
		c.BlocklistPath = c.DataDir + "/blocklist.json"
	}
	if c.IncidentDir == "" {
		c.IncidentDir = c.DataDir + "/incidents"
	}
	if c.EventLogDir == "" {
		c.EventLogDir = c.DataDir + "/logs"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
