package config

import (
	"errors"
	"testing"
	"time"

	"github.com/faroukBakari/trader-pro-sub005/internal/protocol"
)

func validConfig() *Config {
	return &Config{
		Addr:                   ":3002",
		HeartbeatTimeout:       30 * time.Second,
		MaxConnLifetime:        time.Hour,
		MaxConnections:         100,
		RouteQueueCapacity:     1024,
		BroadcasterInterval:    2 * time.Second,
		BroadcasterSymbols:     "AAPL, MSFT ,GOOG",
		BroadcasterResolutions: "1,5",
		LogLevel:               "info",
		LogFormat:              "json",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing addr", func(c *Config) { c.Addr = "" }, true},
		{"zero heartbeat", func(c *Config) { c.HeartbeatTimeout = 0 }, true},
		{"zero lifetime", func(c *Config) { c.MaxConnLifetime = 0 }, true},
		{"zero queue", func(c *Config) { c.RouteQueueCapacity = 0 }, true},
		{"zero interval", func(c *Config) { c.BroadcasterInterval = 0 }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad cpu threshold", func(c *Config) { c.CPURejectThreshold = 150 }, true},
		{"bad execution delay", func(c *Config) { c.ExecutionDelay = "fast" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, protocol.ErrConfig) {
				t.Errorf("Validate() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestExecutionMode(t *testing.T) {
	tests := []struct {
		in          string
		wantDelay   time.Duration
		wantEnabled bool
	}{
		{"", 0, true},
		{"0", 0, false},
		{"none", 0, false},
		{"null", 0, false},
		{"500ms", 500 * time.Millisecond, true},
		{"3s", 3 * time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := validConfig()
			cfg.ExecutionDelay = tt.in
			delay, enabled, err := cfg.ExecutionMode()
			if err != nil {
				t.Fatalf("ExecutionMode() error = %v", err)
			}
			if delay != tt.wantDelay || enabled != tt.wantEnabled {
				t.Errorf("ExecutionMode() = (%s, %v), want (%s, %v)", delay, enabled, tt.wantDelay, tt.wantEnabled)
			}
		})
	}
}

func TestSymbolsCSV(t *testing.T) {
	cfg := validConfig()
	got := cfg.Symbols()
	want := []string{"AAPL", "MSFT", "GOOG"}
	if len(got) != len(want) {
		t.Fatalf("Symbols() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Symbols()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
