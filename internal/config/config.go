// Package config loads server configuration from the environment,
// optionally seeded from a .env file. Priority: env vars > .env file >
// struct defaults. Validation failures are fatal at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
)

// Config holds all recognized options.
type Config struct {
	// Server basics
	Addr        string `env:"WS_ADDR" envDefault:":3002"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Connection policy
	HeartbeatTimeout    time.Duration `env:"WS_HEARTBEAT_TIMEOUT" envDefault:"30s"`
	MaxConnLifetime     time.Duration `env:"WS_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxConnections      int           `env:"WS_MAX_CONNECTIONS" envDefault:"5000"`
	SendBufferSize      int           `env:"WS_SEND_BUFFER" envDefault:"256"`
	InboundRateBurst    int           `env:"WS_RATE_BURST" envDefault:"100"`
	InboundRatePerSec   int           `env:"WS_RATE_PER_SEC" envDefault:"10"`
	HTTPReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	// Route pumps
	RouteQueueCapacity int `env:"ROUTE_QUEUE_CAPACITY" envDefault:"1024"`

	// Datafeed broadcaster
	BroadcasterEnabled     bool          `env:"BROADCASTER_ENABLED" envDefault:"true"`
	BroadcasterInterval    time.Duration `env:"BROADCASTER_INTERVAL" envDefault:"2s"`
	BroadcasterSymbols     string        `env:"BROADCASTER_SYMBOLS" envDefault:"AAPL,MSFT,GOOG,TSLA"`
	BroadcasterResolutions string        `env:"BROADCASTER_RESOLUTIONS" envDefault:"1,5,15,60,1D"`

	// Broker simulator. ExecutionDelay semantics:
	//   unset          → random delay uniform in [1s,2s]
	//   "0" / "none"   → automatic execution disabled (manual trigger only)
	//   any duration   → fixed delay between simulator iterations
	ExecutionDelay string `env:"BROKER_EXECUTION_DELAY"`

	// Auth: when set, connections must present a bearer token signed
	// with this secret; the JWT subject becomes the principal.
	AuthSecret string `env:"WS_AUTH_SECRET"`

	// Resource guard: reject new connections above this CPU percent.
	// Zero disables the guard.
	CPURejectThreshold float64 `env:"WS_CPU_REJECT_THRESHOLD" envDefault:"0"`

	// Optional NATS fan-out of route updates.
	NATSURL string `env:"NATS_URL"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from .env and the environment.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enums. Any failure here is a ConfigError
// and must abort startup.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: WS_ADDR is required", protocol.ErrConfig)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("%w: WS_HEARTBEAT_TIMEOUT must be > 0, got %s", protocol.ErrConfig, c.HeartbeatTimeout)
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("%w: WS_MAX_CONN_LIFETIME must be > 0, got %s", protocol.ErrConfig, c.MaxConnLifetime)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("%w: WS_MAX_CONNECTIONS must be > 0, got %d", protocol.ErrConfig, c.MaxConnections)
	}
	if c.RouteQueueCapacity < 1 {
		return fmt.Errorf("%w: ROUTE_QUEUE_CAPACITY must be > 0, got %d", protocol.ErrConfig, c.RouteQueueCapacity)
	}
	if c.BroadcasterInterval <= 0 {
		return fmt.Errorf("%w: BROADCASTER_INTERVAL must be > 0, got %s", protocol.ErrConfig, c.BroadcasterInterval)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("%w: WS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", protocol.ErrConfig, c.CPURejectThreshold)
	}
	if _, _, err := c.ExecutionMode(); err != nil {
		return err
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: LOG_LEVEL must be one of debug, info, warn, error (got %q)", protocol.ErrConfig, c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("%w: LOG_FORMAT must be json or pretty (got %q)", protocol.ErrConfig, c.LogFormat)
	}
	return nil
}

// ExecutionMode resolves BROKER_EXECUTION_DELAY. Returns the fixed
// delay and whether automatic execution is enabled; a zero delay with
// enabled=true means random [1s,2s] per iteration.
func (c *Config) ExecutionMode() (delay time.Duration, enabled bool, err error) {
	s := strings.TrimSpace(c.ExecutionDelay)
	switch s {
	case "":
		return 0, true, nil
	case "0", "none", "null":
		return 0, false, nil
	}
	d, perr := time.ParseDuration(s)
	if perr != nil {
		return 0, false, fmt.Errorf("%w: BROKER_EXECUTION_DELAY %q: %v", protocol.ErrConfig, s, perr)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("%w: BROKER_EXECUTION_DELAY must be >= 0, got %s", protocol.ErrConfig, d)
	}
	return d, true, nil
}

// Symbols returns the broadcaster symbol universe.
func (c *Config) Symbols() []string {
	return splitCSV(c.BroadcasterSymbols)
}

// Resolutions returns the broadcaster resolution set.
func (c *Config) Resolutions() []string {
	return splitCSV(c.BroadcasterResolutions)
}

func splitCSV(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LogConfig emits the effective configuration through the structured
// logger at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("addr", c.Addr).
		Dur("heartbeat_timeout", c.HeartbeatTimeout).
		Dur("max_conn_lifetime", c.MaxConnLifetime).
		Int("max_connections", c.MaxConnections).
		Int("route_queue_capacity", c.RouteQueueCapacity).
		Bool("broadcaster_enabled", c.BroadcasterEnabled).
		Dur("broadcaster_interval", c.BroadcasterInterval).
		Strs("broadcaster_symbols", c.Symbols()).
		Strs("broadcaster_resolutions", c.Resolutions()).
		Str("execution_delay", c.ExecutionDelay).
		Bool("nats_fanout", c.NATSURL != "").
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
