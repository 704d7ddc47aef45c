package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for roomchat.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Typing     TypingConfig     `yaml:"typing"`
	Identity   IdentityConfig   `yaml:"identity"`
	Logging    LoggingConfig    `yaml:"logging"`
	Status     StatusConfig     `yaml:"status"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// RelayConfig controls the connection to the chat relay.
type RelayConfig struct {
	URL                  string        `yaml:"url"`
	Origin               string        `yaml:"origin"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	MaxMessageSize       int64         `yaml:"max_message_size"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	SendQueueSize        int           `yaml:"send_queue_size"`
	MessagesPerSecond    int           `yaml:"messages_per_second"`
}

// TypingConfig controls the local typing indicator.
type TypingConfig struct {
	QuietWindow time.Duration `yaml:"quiet_window"`
}

// IdentityConfig controls where the username is kept between runs.
// An empty StateDir keeps the identity in memory for the process lifetime.
type IdentityConfig struct {
	Name     string `yaml:"name"`
	StateDir string `yaml:"state_dir"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StatusConfig contains the local status listener settings used by watch mode.
type StatusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
	// AuthToken, when set, is required as a bearer token on /api/v1 routes.
	AuthToken         string `yaml:"auth_token"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			URL:                  "ws://localhost:3001/chat",
			Origin:               "http://localhost",
			DialTimeout:          10 * time.Second,
			WriteTimeout:         10 * time.Second,
			PingInterval:         25 * time.Second,
			PongTimeout:          10 * time.Second,
			MaxMessageSize:       1048576, // 1MB
			ReconnectInterval:    1 * time.Second,
			MaxReconnectDelay:    5 * time.Second,
			MaxReconnectAttempts: 10,
			SendQueueSize:        64,
			MessagesPerSecond:    20,
		},
		Typing: TypingConfig{
			QuietWindow: 1 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Status: StatusConfig{
			Enabled:           true,
			ListenAddress:     "127.0.0.1:8091",
			Detailed:          true,
			RequestsPerMinute: 120,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	u, err := url.Parse(c.Relay.URL)
	if err != nil {
		return fmt.Errorf("relay.url is invalid: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("relay.url must use ws://, wss://, http:// or https:// scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("relay.url must include a host")
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"relay.dial_timeout", c.Relay.DialTimeout},
		{"relay.write_timeout", c.Relay.WriteTimeout},
		{"relay.pong_timeout", c.Relay.PongTimeout},
		{"relay.reconnect_interval", c.Relay.ReconnectInterval},
		{"relay.max_reconnect_delay", c.Relay.MaxReconnectDelay},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
		if d.d > 5*time.Minute {
			return fmt.Errorf("%s must not exceed 5m", d.name)
		}
	}
	if c.Relay.PingInterval < 0 {
		return fmt.Errorf("relay.ping_interval must not be negative (0 disables keepalive)")
	}
	if c.Relay.MaxReconnectDelay < c.Relay.ReconnectInterval {
		return fmt.Errorf("relay.max_reconnect_delay must not be less than relay.reconnect_interval")
	}
	if c.Relay.MaxReconnectAttempts < 0 {
		return fmt.Errorf("relay.max_reconnect_attempts must not be negative (0 means unlimited)")
	}
	if c.Relay.MaxMessageSize <= 0 {
		return fmt.Errorf("relay.max_message_size must be positive")
	}
	if c.Relay.MaxMessageSize > 67108864 {
		return fmt.Errorf("relay.max_message_size must not exceed 67108864 (64MB)")
	}
	if c.Relay.SendQueueSize <= 0 {
		return fmt.Errorf("relay.send_queue_size must be positive")
	}
	if c.Relay.MessagesPerSecond < 0 {
		return fmt.Errorf("relay.messages_per_second must not be negative (0 disables limiting)")
	}

	if c.Typing.QuietWindow < 100*time.Millisecond || c.Typing.QuietWindow > 10*time.Second {
		return fmt.Errorf("typing.quiet_window must be between 100ms and 10s")
	}

	if strings.TrimSpace(c.Identity.Name) != c.Identity.Name {
		return fmt.Errorf("identity.name must not have leading or trailing whitespace")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Status.Enabled {
		if c.Status.ListenAddress == "" {
			return fmt.Errorf("status.listen_address is required when status is enabled")
		}
		host, _, err := net.SplitHostPort(c.Status.ListenAddress)
		if err != nil {
			return fmt.Errorf("status.listen_address is invalid: %w", err)
		}
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("status.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing the transcript")
		}
		if c.Status.RequestsPerMinute < 0 {
			return fmt.Errorf("status.requests_per_minute must not be negative (0 disables limiting)")
		}
	}
	if c.Monitoring.MetricsEnabled && !strings.HasPrefix(c.Monitoring.MetricsEndpoint, "/") {
		return fmt.Errorf("monitoring.metrics_endpoint must start with /")
	}

	return nil
}

// applyEnvOverrides applies ROOMCHAT_ prefixed environment variables.
// Convention: ROOMCHAT_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"ROOMCHAT_RELAY_URL":           func(v string) { cfg.Relay.URL = v },
		"ROOMCHAT_RELAY_ORIGIN":        func(v string) { cfg.Relay.Origin = v },
		"ROOMCHAT_RELAY_DIAL_TIMEOUT":  func(v string) { cfg.Relay.DialTimeout = parseDuration(v, cfg.Relay.DialTimeout) },
		"ROOMCHAT_RELAY_WRITE_TIMEOUT": func(v string) { cfg.Relay.WriteTimeout = parseDuration(v, cfg.Relay.WriteTimeout) },
		"ROOMCHAT_RELAY_PING_INTERVAL": func(v string) { cfg.Relay.PingInterval = parseDuration(v, cfg.Relay.PingInterval) },
		"ROOMCHAT_RELAY_RECONNECT_INTERVAL": func(v string) {
			cfg.Relay.ReconnectInterval = parseDuration(v, cfg.Relay.ReconnectInterval)
		},
		"ROOMCHAT_RELAY_MAX_RECONNECT_DELAY": func(v string) {
			cfg.Relay.MaxReconnectDelay = parseDuration(v, cfg.Relay.MaxReconnectDelay)
		},
		"ROOMCHAT_RELAY_MAX_RECONNECT_ATTEMPTS": func(v string) {
			cfg.Relay.MaxReconnectAttempts = parseInt(v, cfg.Relay.MaxReconnectAttempts)
		},
		"ROOMCHAT_RELAY_MESSAGES_PER_SECOND": func(v string) {
			cfg.Relay.MessagesPerSecond = parseInt(v, cfg.Relay.MessagesPerSecond)
		},
		"ROOMCHAT_TYPING_QUIET_WINDOW":   func(v string) { cfg.Typing.QuietWindow = parseDuration(v, cfg.Typing.QuietWindow) },
		"ROOMCHAT_IDENTITY_NAME":         func(v string) { cfg.Identity.Name = v },
		"ROOMCHAT_IDENTITY_STATE_DIR":    func(v string) { cfg.Identity.StateDir = v },
		"ROOMCHAT_LOGGING_LEVEL":         func(v string) { cfg.Logging.Level = v },
		"ROOMCHAT_LOGGING_FORMAT":        func(v string) { cfg.Logging.Format = v },
		"ROOMCHAT_LOGGING_FILE":          func(v string) { cfg.Logging.File = v },
		"ROOMCHAT_STATUS_ENABLED":        func(v string) { cfg.Status.Enabled = parseBool(v, cfg.Status.Enabled) },
		"ROOMCHAT_STATUS_LISTEN_ADDRESS": func(v string) { cfg.Status.ListenAddress = v },
		"ROOMCHAT_STATUS_AUTH_TOKEN":     func(v string) { cfg.Status.AuthToken = v },
		"ROOMCHAT_MONITORING_METRICS_ENABLED": func(v string) {
			cfg.Monitoring.MetricsEnabled = parseBool(v, cfg.Monitoring.MetricsEnabled)
		},
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from newCfg.
// Non-reloadable: relay connection settings, identity, status.listen_address
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Logging.Level = newCfg.Logging.Level
	updated.Typing.QuietWindow = newCfg.Typing.QuietWindow
	updated.Relay.MessagesPerSecond = newCfg.Relay.MessagesPerSecond
	updated.Status.RequestsPerMinute = newCfg.Status.RequestsPerMinute
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Relay.URL != new.Relay.URL {
		warnings = append(warnings, "relay.url requires restart")
	}
	if old.Relay.Origin != new.Relay.Origin {
		warnings = append(warnings, "relay.origin requires restart")
	}
	if old.Identity != new.Identity {
		warnings = append(warnings, "identity requires restart")
	}
	if old.Status.ListenAddress != new.Status.ListenAddress {
		warnings = append(warnings, "status.listen_address requires restart")
	}
	if old.Status.AuthToken != new.Status.AuthToken {
		warnings = append(warnings, "status.auth_token requires restart")
	}
	return warnings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	s = strings.ToLower(s)
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
