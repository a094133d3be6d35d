package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Device config source kinds.
const (
	DeviceSourceJSON   = "json"
	DeviceSourceSQLite = "sqlite"
)

// Config is the root configuration structure for probebench.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Console   ConsoleConfig   `yaml:"console"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Devices   DevicesConfig   `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	Streaming StreamingConfig `yaml:"streaming"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Capture   CaptureConfig   `yaml:"capture"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ConsoleConfig identifies this console instance.
type ConsoleConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// PluginsConfig controls driver plugin discovery.
type PluginsConfig struct {
	// Dir holds driver manifests (*.yaml). Empty means built-in drivers only.
	Dir              string `yaml:"dir"`
	Watch            bool   `yaml:"watch"`
	ReloadDebounceMS int    `yaml:"reload_debounce_ms"`
}

// DevicesConfig selects where statically configured devices are persisted.
type DevicesConfig struct {
	Source     string `yaml:"source"`
	ConfigFile string `yaml:"config_file"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// StreamingConfig contains acquisition and fan-out tuning.
type StreamingConfig struct {
	// StopTimeout is how long StopStreaming waits for a worker (seconds).
	StopTimeout      int `yaml:"stop_timeout"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
	PollIntervalMS   int `yaml:"poll_interval_ms"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// CaptureConfig controls recording of every broadcast envelope to disk.
type CaptureConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig contains the telemetry relay HTTP server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket relay settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PROBEBENCH_SECTION_KEY
// For example: PROBEBENCH_PLUGINS_DIR, PROBEBENCH_MQTT_HOST
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

// Default returns the built-in configuration with environment overrides
// applied. Used by one-shot commands when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Console: ConsoleConfig{
			ID:   "bench-001",
			Name: "probebench",
		},
		Plugins: PluginsConfig{
			Dir:              "./plugins",
			Watch:            true,
			ReloadDebounceMS: 500,
		},
		Devices: DevicesConfig{
			Source:     DeviceSourceJSON,
			ConfigFile: "./configs/devices.json",
		},
		Database: DatabaseConfig{
			Path:        "./data/probebench.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Streaming: StreamingConfig{
			StopTimeout:      5,
			SubscriberBuffer: 256,
			PollIntervalMS:   5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "probebench",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "probebench",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     500,
			FlushInterval: 1,
		},
		Capture: CaptureConfig{
			Path: "./data/capture.cbor",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PROBEBENCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PROBEBENCH_PLUGINS_DIR"); v != "" {
		cfg.Plugins.Dir = v
	}
	if v := os.Getenv("PROBEBENCH_DEVICES_SOURCE"); v != "" {
		cfg.Devices.Source = v
	}
	if v := os.Getenv("PROBEBENCH_DEVICES_CONFIG_FILE"); v != "" {
		cfg.Devices.ConfigFile = v
	}
	if v := os.Getenv("PROBEBENCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PROBEBENCH_MQTT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MQTT.Enabled = b
		}
	}
	if v := os.Getenv("PROBEBENCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PROBEBENCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PROBEBENCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("PROBEBENCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PROBEBENCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PROBEBENCH_API_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = p
		}
	}

	if v := os.Getenv("PROBEBENCH_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Console.ID == "" {
		errs = append(errs, "console.id is required")
	}

	switch c.Devices.Source {
	case DeviceSourceJSON:
		if c.Devices.ConfigFile == "" {
			errs = append(errs, "devices.config_file is required for the json source")
		}
	case DeviceSourceSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite source")
		}
	default:
		errs = append(errs, fmt.Sprintf("devices.source must be %q or %q", DeviceSourceJSON, DeviceSourceSQLite))
	}

	if c.Streaming.StopTimeout < 1 {
		errs = append(errs, "streaming.stop_timeout must be at least 1 second")
	}
	if c.Streaming.SubscriberBuffer < 1 {
		errs = append(errs, "streaming.subscriber_buffer must be positive")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Capture.Enabled && c.Capture.Path == "" {
		errs = append(errs, "capture.path is required when capture is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetStopTimeout returns the acquisition stop timeout as a Duration.
func (c *Config) GetStopTimeout() time.Duration {
	return time.Duration(c.Streaming.StopTimeout) * time.Second
}

// GetPollInterval returns the default acquisition poll interval.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Streaming.PollIntervalMS) * time.Millisecond
}

// GetReloadDebounce returns the plugin directory debounce window.
func (c *Config) GetReloadDebounce() time.Duration {
	return time.Duration(c.Plugins.ReloadDebounceMS) * time.Millisecond
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
