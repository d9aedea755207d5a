package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
driver:
  override_manufacturer: "Acme"
  generic_tracker_fake_controller: true
ipc:
  transport: "mqtt"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1884
  qos: 1
host:
  settings:
    driver_inputemulator:
      overrideHmdModel: "Visor X"
      genericTrackerFakeController: true
  devices:
    - serial: "HMD-1"
      class: "hmd"
      position: [0, 1.7, 0]
    - serial: "REF-1"
      class: "generic_tracker"
      axis: [1, 0, 0]
      amplitude: 0.1
      period: 2
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Driver.OverrideManufacturer != "Acme" || !cfg.Driver.GenericTrackerFakeController {
		t.Errorf("Driver = %+v", cfg.Driver)
	}
	if cfg.IPC.Transport != "mqtt" {
		t.Errorf("IPC.Transport = %q, want %q", cfg.IPC.Transport, "mqtt")
	}
	// Defaults survive partial sections.
	if cfg.IPC.ServerChannel != "inputemu/ipc/server" {
		t.Errorf("IPC.ServerChannel = %q", cfg.IPC.ServerChannel)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if got := cfg.Host.Settings["driver_inputemulator"]["overrideHmdModel"]; got != "Visor X" {
		t.Errorf("host setting = %v", got)
	}
	if got := cfg.Host.Settings["driver_inputemulator"]["genericTrackerFakeController"]; got != true {
		t.Errorf("host bool setting = %v", got)
	}
	if len(cfg.Host.Devices) != 2 || cfg.Host.Devices[0].Position[1] != 1.7 {
		t.Errorf("Host.Devices = %+v", cfg.Host.Devices)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, "ipc:\n  transport: \"pipe\"\n"))
	if err == nil {
		t.Fatal("Load() expected validation error for unknown transport, got nil")
	}
	if !strings.Contains(err.Error(), "ipc.transport") {
		t.Errorf("error = %v, want ipc.transport", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"database disabled", func(c *Config) { c.Database.Enabled = false; c.Database.Path = "" }, ""},
		{"influx without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"api port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"api disabled ignores port", func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }, ""},
		{"window", func(c *Config) { c.Motion.Window = 0 }, "motion.window"},
		{"noise", func(c *Config) { c.Motion.ProcessNoise = 0 }, "noise"},
		{"frame rate", func(c *Config) { c.Host.FrameRate = 0 }, "host.frame_rate"},
		{"server channel under client prefix", func(c *Config) { c.IPC.ServerChannel = "inputemu/ipc/client/x" }, "ipc.server_channel"},
		{
			"setting type",
			func(c *Config) { c.Host.Settings = map[string]map[string]any{"s": {"k": 3}} },
			"host.settings.s.k",
		},
		{
			"duplicate serial",
			func(c *Config) { c.Host.Devices = []SimDeviceConfig{{Serial: "A"}, {Serial: "A"}} },
			"duplicated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("INPUTEMU_IPC_TRANSPORT", "mqtt")
	t.Setenv("INPUTEMU_DATABASE_PATH", "/env/test.db")
	t.Setenv("INPUTEMU_MQTT_HOST", "mqtt.example.com")
	t.Setenv("INPUTEMU_MQTT_PORT", "8883")
	t.Setenv("INPUTEMU_MQTT_USERNAME", "envuser")
	t.Setenv("INPUTEMU_MQTT_PASSWORD", "envpass")
	t.Setenv("INPUTEMU_API_HOST", "0.0.0.0")
	t.Setenv("INPUTEMU_INFLUXDB_TOKEN", "token")
	t.Setenv("INPUTEMU_LOG_LEVEL", "debug")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.IPC.Transport != "mqtt" {
		t.Errorf("IPC.Transport = %q", cfg.IPC.Transport)
	}
	if cfg.Database.Path != "/env/test.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" || cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.Auth.Username != "envuser" || cfg.MQTT.Auth.Password != "envpass" {
		t.Errorf("MQTT.Auth = %+v", cfg.MQTT.Auth)
	}
	if cfg.API.Host != "0.0.0.0" {
		t.Errorf("API.Host = %q", cfg.API.Host)
	}
	if cfg.InfluxDB.Token != "token" {
		t.Errorf("InfluxDB.Token = %q", cfg.InfluxDB.Token)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %vs", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 30 {
		t.Errorf("GetWriteTimeout() = %vs", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %vs", got)
	}
	if got := cfg.GetRequestTimeout().Seconds(); got != 5 {
		t.Errorf("GetRequestTimeout() = %vs", got)
	}
}
