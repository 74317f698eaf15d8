package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SensorFlash Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Compile   CompileConfig   `yaml:"compile"`
	Registry  RegistryConfig  `yaml:"registry"`
	Serial    SerialConfig    `yaml:"serial"`
	Flasher   FlasherConfig   `yaml:"flasher"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// UIDir overrides the embedded web console with a filesystem directory
	// (dev mode). Empty means the embedded assets are served.
	UIDir string `yaml:"ui_dir"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The broker is optional: when Enabled is false the service runs without
// MQTT fan-out and only the WebSocket stream carries events.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for flash history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CompileConfig contains the firmware compile service settings.
type CompileConfig struct {
	// Endpoint is the base URL of the compile service.
	Endpoint string `yaml:"endpoint"`

	// APIKey is an optional bearer token for the compile service.
	APIKey string `yaml:"api_key"`

	// Timeout is the maximum time to wait for a compile response (seconds).
	// Firmware builds are slow; the default is deliberately generous.
	Timeout int `yaml:"timeout"`
}

// RegistryConfig contains the device inventory service settings.
type RegistryConfig struct {
	// Endpoint is the base URL of the inventory service.
	Endpoint string `yaml:"endpoint"`

	// APIKey is an optional bearer token for the inventory service.
	APIKey string `yaml:"api_key"`

	// Timeout is the per-request timeout (seconds).
	Timeout int `yaml:"timeout"`
}

// SerialConfig contains serial port handling settings.
type SerialConfig struct {
	// WatchIntervalMs is how often the hot-plug watcher re-enumerates ports.
	WatchIntervalMs int `yaml:"watch_interval_ms"`

	// ClosePollIntervalMs is the delay between release-wait polls when
	// closing a port whose streams are still held by a consumer.
	ClosePollIntervalMs int `yaml:"close_poll_interval_ms"`

	// ClosePollAttempts bounds the release-wait polling. Exhausting it
	// surfaces a "port busy" error instead of hanging.
	ClosePollAttempts int `yaml:"close_poll_attempts"`
}

// FlasherConfig contains flashing session settings.
type FlasherConfig struct {
	// Platform is the device platform this host can flash over serial.
	// Requests for any other platform are redirected to offline flashing.
	Platform string `yaml:"platform"`

	// DefaultBaud is the baud rate used for initial connect attempts.
	DefaultBaud int `yaml:"default_baud"`

	// FallbackBaud is the slower rate applied after the fallback window.
	FallbackBaud int `yaml:"fallback_baud"`

	// FallbackAfterSec is the elapsed-time window after which the
	// negotiator permanently drops to FallbackBaud. Empirically chosen;
	// kept configurable rather than treated as an invariant.
	FallbackAfterSec int `yaml:"fallback_after_sec"`

	// MaxConnectAttempts bounds the chip connect negotiation loop.
	MaxConnectAttempts int `yaml:"max_connect_attempts"`

	// MonitorBaud is the baud rate for the post-flash live monitor.
	MonitorBaud int `yaml:"monitor_baud"`

	// EsptoolPath is the flasher tool binary invoked for chip primitives.
	EsptoolPath string `yaml:"esptool_path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SENSORFLASH_SECTION_KEY
// For example: SENSORFLASH_DATABASE_PATH, SENSORFLASH_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/sensorflash.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 300, // flash requests stay open for the whole session
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sensorflash-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Compile: CompileConfig{
			Timeout: 120,
		},
		Registry: RegistryConfig{
			Timeout: 15,
		},
		Serial: SerialConfig{
			WatchIntervalMs:     1000,
			ClosePollIntervalMs: 50,
			ClosePollAttempts:   20,
		},
		Flasher: FlasherConfig{
			Platform:           "esp32",
			DefaultBaud:        460800,
			FallbackBaud:       115200,
			FallbackAfterSec:   60,
			MaxConnectAttempts: 5,
			MonitorBaud:        115200,
			EsptoolPath:        "esptool.py",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SENSORFLASH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENSORFLASH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SENSORFLASH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SENSORFLASH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SENSORFLASH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("SENSORFLASH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("SENSORFLASH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("SENSORFLASH_COMPILE_ENDPOINT"); v != "" {
		cfg.Compile.Endpoint = v
	}
	if v := os.Getenv("SENSORFLASH_COMPILE_API_KEY"); v != "" {
		cfg.Compile.APIKey = v
	}
	if v := os.Getenv("SENSORFLASH_REGISTRY_ENDPOINT"); v != "" {
		cfg.Registry.Endpoint = v
	}
	if v := os.Getenv("SENSORFLASH_REGISTRY_API_KEY"); v != "" {
		cfg.Registry.APIKey = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Compile.Endpoint == "" {
		errs = append(errs, "compile.endpoint is required")
	}
	if c.Registry.Endpoint == "" {
		errs = append(errs, "registry.endpoint is required")
	}

	if c.Flasher.Platform == "" {
		errs = append(errs, "flasher.platform is required")
	}
	if c.Flasher.DefaultBaud <= 0 {
		errs = append(errs, "flasher.default_baud must be positive")
	}
	if c.Flasher.FallbackBaud <= 0 {
		errs = append(errs, "flasher.fallback_baud must be positive")
	}
	if c.Flasher.MaxConnectAttempts < 1 {
		errs = append(errs, "flasher.max_connect_attempts must be at least 1")
	}

	if c.Serial.ClosePollAttempts < 1 {
		errs = append(errs, "serial.close_poll_attempts must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetCompileTimeout returns the compile request timeout as a Duration.
func (c *Config) GetCompileTimeout() time.Duration {
	return time.Duration(c.Compile.Timeout) * time.Second
}

// GetRegistryTimeout returns the inventory request timeout as a Duration.
func (c *Config) GetRegistryTimeout() time.Duration {
	return time.Duration(c.Registry.Timeout) * time.Second
}

// GetWatchInterval returns the hot-plug watcher poll interval as a Duration.
func (c *Config) GetWatchInterval() time.Duration {
	return time.Duration(c.Serial.WatchIntervalMs) * time.Millisecond
}

// GetClosePollInterval returns the release-wait poll interval as a Duration.
func (c *Config) GetClosePollInterval() time.Duration {
	return time.Duration(c.Serial.ClosePollIntervalMs) * time.Millisecond
}

// GetFallbackWindow returns the baud fallback window as a Duration.
func (c *Config) GetFallbackWindow() time.Duration {
	return time.Duration(c.Flasher.FallbackAfterSec) * time.Second
}
