package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the input emulator daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Driver    DriverConfig    `yaml:"driver"`
	IPC       IPCConfig       `yaml:"ipc"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Motion    MotionConfig    `yaml:"motion"`
	Host      HostConfig      `yaml:"host"`
}

// DriverConfig contains the override policy used when the runtime's
// settings store does not set a key.
type DriverConfig struct {
	OverrideManufacturer         string `yaml:"override_manufacturer"`
	OverrideModel                string `yaml:"override_model"`
	OverrideTrackingSystem       string `yaml:"override_tracking_system"`
	GenericTrackerFakeController bool   `yaml:"generic_tracker_fake_controller"`

	// StaleAfterFrames marks a device stale after this many frames without
	// a pose. Negative disables staleness tracking.
	StaleAfterFrames int `yaml:"stale_after_frames"`
}

// IPCConfig contains control channel settings.
type IPCConfig struct {
	// Transport selects the channel carrier: "memory" or "mqtt".
	Transport     string `yaml:"transport"`
	ServerChannel string `yaml:"server_channel"`
	ClientPrefix  string `yaml:"client_prefix"`

	// RequestTimeout bounds a modal client call, in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// APIConfig contains status API server settings.
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

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// MotionConfig contains initial compensation filter parameters. Settings
// saved in the database take precedence.
type MotionConfig struct {
	Window           int     `yaml:"window"`
	ProcessNoise     float64 `yaml:"process_noise"`
	ObservationNoise float64 `yaml:"observation_noise"`

	// TelemetryEvery samples the compensation delta every N active frames.
	TelemetryEvery int `yaml:"telemetry_every"`
}

// HostConfig configures the simulated tracking runtime used when no real
// runtime loads the driver.
type HostConfig struct {
	InstallPath string `yaml:"install_path"`
	FrameRate   int    `yaml:"frame_rate"`

	// Settings is the runtime settings store: section, then key, then a
	// string or boolean value.
	Settings map[string]map[string]any `yaml:"settings"`

	Devices []SimDeviceConfig `yaml:"devices"`
}

// SimDeviceConfig describes one simulated device.
type SimDeviceConfig struct {
	Serial   string     `yaml:"serial"`
	Class    string     `yaml:"class"`
	Position [3]float64 `yaml:"position"`

	// Oscillation moves the device along Axis; zero Amplitude holds it still.
	Axis      [3]float64 `yaml:"axis"`
	Amplitude float64    `yaml:"amplitude"`
	Period    float64    `yaml:"period"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INPUTEMU_SECTION_KEY
// For example: INPUTEMU_DATABASE_PATH, INPUTEMU_IPC_TRANSPORT
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

// Default returns the defaults with environment overrides applied. It is
// used when no configuration file is given.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Driver: DriverConfig{
			StaleAfterFrames: 93,
		},
		IPC: IPCConfig{
			Transport:      "memory",
			ServerChannel:  "inputemu/ipc/server",
			ClientPrefix:   "inputemu/ipc/client",
			RequestTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "inputemu-driver",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/inputemu.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "inputemu",
			BatchSize:     500,
			FlushInterval: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8093,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Motion: MotionConfig{
			Window:           3,
			ProcessNoise:     0.1,
			ObservationNoise: 0.1,
			TelemetryEvery:   90,
		},
		Host: HostConfig{
			InstallPath: "./",
			FrameRate:   90,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INPUTEMU_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// IPC
	if v := os.Getenv("INPUTEMU_IPC_TRANSPORT"); v != "" {
		cfg.IPC.Transport = v
	}

	// Database
	if v := os.Getenv("INPUTEMU_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("INPUTEMU_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INPUTEMU_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("INPUTEMU_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INPUTEMU_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("INPUTEMU_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("INPUTEMU_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("INPUTEMU_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	switch c.IPC.Transport {
	case "memory", "mqtt":
	default:
		errs = append(errs, fmt.Sprintf("ipc.transport must be memory or mqtt, got %q", c.IPC.Transport))
	}
	if c.IPC.ServerChannel == "" {
		errs = append(errs, "ipc.server_channel is required")
	}
	if c.IPC.ClientPrefix == "" {
		errs = append(errs, "ipc.client_prefix is required")
	}
	if c.IPC.ServerChannel != "" && strings.HasPrefix(c.IPC.ServerChannel, c.IPC.ClientPrefix+"/") {
		errs = append(errs, "ipc.server_channel must not live under ipc.client_prefix")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Motion.Window < 1 || c.Motion.Window > 120 {
		errs = append(errs, "motion.window must be between 1 and 120")
	}
	if c.Motion.ProcessNoise <= 0 || c.Motion.ObservationNoise <= 0 {
		errs = append(errs, "motion noise variances must be positive")
	}

	if c.Host.FrameRate < 1 || c.Host.FrameRate > 1000 {
		errs = append(errs, "host.frame_rate must be between 1 and 1000")
	}
	for section, keys := range c.Host.Settings {
		for key, v := range keys {
			switch v.(type) {
			case string, bool:
			default:
				errs = append(errs, fmt.Sprintf("host.settings.%s.%s must be a string or boolean", section, key))
			}
		}
	}
	seen := make(map[string]bool)
	for i, d := range c.Host.Devices {
		if d.Serial == "" {
			errs = append(errs, fmt.Sprintf("host.devices[%d].serial is required", i))
		} else if seen[d.Serial] {
			errs = append(errs, fmt.Sprintf("host.devices[%d].serial %q is duplicated", i, d.Serial))
		}
		seen[d.Serial] = true
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

// GetRequestTimeout returns the IPC modal call timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.IPC.RequestTimeout) * time.Second
}
