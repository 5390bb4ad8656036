// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Env         EnvConfig                `yaml:"env"`
	Gateways    map[string]GatewayConfig `yaml:"gateways"`
	System      SystemConfig             `yaml:"system"`
	Timing      TimingConfig             `yaml:"timing"`
	Concurrency ConcurrencyConfig        `yaml:"concurrency"`
	Telemetry   TelemetryConfig          `yaml:"telemetry"`
	Journal     JournalConfig            `yaml:"journal"`
}

// EnvConfig contains the trading environment parameters
type EnvConfig struct {
	Gateway      string  `yaml:"gateway" validate:"required,oneof=sim binance"`
	Symbol       string  `yaml:"symbol" validate:"required"`
	SecType      string  `yaml:"sec_type"`
	Exchange     string  `yaml:"exchange"`
	Currency     string  `yaml:"currency"`
	Leverage     float64 `yaml:"leverage" validate:"min=0"`
	MaxQuantity  int64   `yaml:"max_quantity" validate:"required,min=1,max=20000"`
	ObsMode      string  `yaml:"obs_mode" validate:"oneof=time tick"`
	ObsInterval  float64 `yaml:"obs_interval" validate:"min=0"` // seconds per bar (time mode) or ticks per bar (tick mode)
	EpisodeSteps int     `yaml:"episode_steps" validate:"min=0"` // 0 means unbounded
	AfterHours   bool    `yaml:"after_hours"`
}

// GatewayConfig contains gateway-specific configuration
type GatewayConfig struct {
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	BaseURL   string `yaml:"base_url"` // Optional override for REST API URL
	WSURL     string `yaml:"ws_url"`   // Optional override for market data stream URL
	Testnet   bool   `yaml:"testnet"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel     string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// TimingConfig contains timing-related settings
type TimingConfig struct {
	SettleWait                 int `yaml:"settle_wait" validate:"min=0,max=10000"` // ms budget for position settle after flatten
	WebsocketReconnectDelay    int `yaml:"websocket_reconnect_delay" validate:"min=1,max=300"`
	WebsocketPingInterval      int `yaml:"websocket_ping_interval" validate:"min=1,max=300"`
	WebsocketPongWait          int `yaml:"websocket_pong_wait" validate:"min=1,max=300"`
	ListenKeyKeepaliveInterval int `yaml:"listen_key_keepalive_interval" validate:"min=1,max=3600"`
}

// ConcurrencyConfig contains event dispatch settings
type ConcurrencyConfig struct {
	EventPoolBuffer int `yaml:"event_pool_buffer" validate:"min=1,max=10000"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// JournalConfig contains fill journal settings. An empty path disables journaling.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateEnvConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateGateways(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateTimingConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateConcurrencyConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateEnvConfig() error {
	validGateways := []string{"sim", "binance"}
	if !contains(validGateways, c.Env.Gateway) {
		return ValidationError{
			Field:   "env.gateway",
			Value:   c.Env.Gateway,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validGateways, ", ")),
		}
	}

	if c.Env.Symbol == "" {
		return ValidationError{
			Field:   "env.symbol",
			Message: "instrument symbol is required",
		}
	}

	if c.Env.MaxQuantity < 1 || c.Env.MaxQuantity > 20000 {
		return ValidationError{
			Field:   "env.max_quantity",
			Value:   c.Env.MaxQuantity,
			Message: "must be between 1 and 20000",
		}
	}

	validModes := []string{"time", "tick"}
	if !contains(validModes, c.Env.ObsMode) {
		return ValidationError{
			Field:   "env.obs_mode",
			Value:   c.Env.ObsMode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}

	if c.Env.ObsInterval <= 0 {
		return ValidationError{
			Field:   "env.obs_interval",
			Value:   c.Env.ObsInterval,
			Message: "observation interval must be positive",
		}
	}

	if c.Env.ObsMode == "tick" && c.Env.ObsInterval != float64(int64(c.Env.ObsInterval)) {
		return ValidationError{
			Field:   "env.obs_interval",
			Value:   c.Env.ObsInterval,
			Message: "must be a whole number of ticks in tick mode",
		}
	}

	if c.Env.EpisodeSteps < 0 {
		return ValidationError{
			Field:   "env.episode_steps",
			Value:   c.Env.EpisodeSteps,
			Message: "episode steps cannot be negative",
		}
	}

	return nil
}

func (c *Config) validateGateways() error {
	// The sim gateway needs no credentials
	if c.Env.Gateway == "sim" {
		return nil
	}

	gw, exists := c.Gateways[c.Env.Gateway]
	if !exists {
		return ValidationError{
			Field:   "gateways",
			Value:   c.Env.Gateway,
			Message: "gateway configuration not found in gateways section",
		}
	}

	if gw.APIKey == "" {
		return ValidationError{
			Field:   fmt.Sprintf("gateways.%s.api_key", c.Env.Gateway),
			Message: "API key is required",
		}
	}
	if gw.SecretKey == "" {
		return ValidationError{
			Field:   fmt.Sprintf("gateways.%s.secret_key", c.Env.Gateway),
			Message: "secret key is required",
		}
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateTimingConfig() error {
	if c.Timing.SettleWait < 0 || c.Timing.SettleWait > 10000 {
		return ValidationError{
			Field:   "timing.settle_wait",
			Value:   c.Timing.SettleWait,
			Message: "must be between 0 and 10000 milliseconds",
		}
	}
	if c.Timing.WebsocketReconnectDelay < 1 || c.Timing.WebsocketReconnectDelay > 300 {
		return ValidationError{
			Field:   "timing.websocket_reconnect_delay",
			Value:   c.Timing.WebsocketReconnectDelay,
			Message: "must be between 1 and 300 seconds",
		}
	}
	if c.Timing.WebsocketPingInterval < 1 || c.Timing.WebsocketPingInterval > 300 {
		return ValidationError{
			Field:   "timing.websocket_ping_interval",
			Value:   c.Timing.WebsocketPingInterval,
			Message: "must be between 1 and 300 seconds",
		}
	}
	if c.Timing.WebsocketPongWait < 1 || c.Timing.WebsocketPongWait > 300 {
		return ValidationError{
			Field:   "timing.websocket_pong_wait",
			Value:   c.Timing.WebsocketPongWait,
			Message: "must be between 1 and 300 seconds",
		}
	}
	if c.Timing.ListenKeyKeepaliveInterval < 1 || c.Timing.ListenKeyKeepaliveInterval > 3600 {
		return ValidationError{
			Field:   "timing.listen_key_keepalive_interval",
			Value:   c.Timing.ListenKeyKeepaliveInterval,
			Message: "must be between 1 and 3600 seconds",
		}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.EventPoolBuffer < 1 || c.Concurrency.EventPoolBuffer > 10000 {
		return ValidationError{
			Field:   "concurrency.event_pool_buffer",
			Value:   c.Concurrency.EventPoolBuffer,
			Message: "must be between 1 and 10000",
		}
	}
	return nil
}

// GetCurrentGatewayConfig returns the configuration for the selected gateway
func (c *Config) GetCurrentGatewayConfig() (*GatewayConfig, error) {
	gw, exists := c.Gateways[c.Env.Gateway]
	if !exists {
		return nil, fmt.Errorf("gateway configuration not found for: %s", c.Env.Gateway)
	}
	return &gw, nil
}

// ObsIntervalDuration returns the bar interval as a duration for time mode
func (c *Config) ObsIntervalDuration() time.Duration {
	return time.Duration(c.Env.ObsInterval * float64(time.Second))
}

// SettleWaitDuration returns the settle wait budget as a duration
func (c *Config) SettleWaitDuration() time.Duration {
	return time.Duration(c.Timing.SettleWait) * time.Millisecond
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	// Create a copy with sensitive data masked
	configCopy := *c
	configCopy.Gateways = make(map[string]GatewayConfig, len(c.Gateways))
	for name, gw := range c.Gateways {
		gw.APIKey = maskString(gw.APIKey)
		gw.SecretKey = maskString(gw.SecretKey)
		configCopy.Gateways[name] = gw
	}

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		Env: EnvConfig{
			Gateway:      "sim",
			Symbol:       "BTCUSDT",
			SecType:      "PERP",
			Exchange:     "SIM",
			Currency:     "USDT",
			Leverage:     1.0,
			MaxQuantity:  1,
			ObsMode:      "time",
			ObsInterval:  1.0,
			EpisodeSteps: 0,
			AfterHours:   true,
		},
		Gateways: map[string]GatewayConfig{
			"binance": {
				APIKey:    "test_api_key",
				SecretKey: "test_secret_key",
				Testnet:   true,
			},
		},
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
		},
		Timing: TimingConfig{
			SettleWait:                 1000,
			WebsocketReconnectDelay:    5,
			WebsocketPingInterval:      30,
			WebsocketPongWait:          60,
			ListenKeyKeepaliveInterval: 1800,
		},
		Concurrency: ConcurrencyConfig{
			EventPoolBuffer: 1024,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
		},
	}
}
