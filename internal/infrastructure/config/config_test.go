package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
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
	configPath := writeConfig(t, `
serial:
  device: "/dev/ttyAMA0"
  baud_rate: 115200
discovery:
  round_timeout: 3s
  round_attempts: 3
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 2s
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Serial.Device != "/dev/ttyAMA0" {
		t.Errorf("Serial.Device = %q, want %q", cfg.Serial.Device, "/dev/ttyAMA0")
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("Serial.BaudRate = %d, want 115200", cfg.Serial.BaudRate)
	}
	if cfg.Discovery.RoundTimeout != 3*time.Second {
		t.Errorf("Discovery.RoundTimeout = %v, want 3s", cfg.Discovery.RoundTimeout)
	}
	if cfg.Discovery.RoundAttempts != 3 {
		t.Errorf("Discovery.RoundAttempts = %d, want 3", cfg.Discovery.RoundAttempts)
	}
	if cfg.Database.BusyTimeout != 2*time.Second {
		t.Errorf("Database.BusyTimeout = %v, want 2s", cfg.Database.BusyTimeout)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}

	// Unset values keep their defaults
	if cfg.Discovery.RefreshInterval != 2*time.Minute {
		t.Errorf("Discovery.RefreshInterval = %v, want default 2m", cfg.Discovery.RefreshInterval)
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
	configPath := writeConfig(t, `
serial:
  device: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty serial.device, got nil")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	configPath := writeConfig(t, `
serial:
  device: "/dev/ttyUSB0"
`)
	t.Setenv("NODELINK_SERIAL_DEVICE", "/dev/ttyUSB3")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Serial.Device != "/dev/ttyUSB3" {
		t.Errorf("Serial.Device = %q, want %q", cfg.Serial.Device, "/dev/ttyUSB3")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing serial device", mutate: func(c *Config) { c.Serial.Device = "" }, wantErr: true},
		{name: "zero baud rate", mutate: func(c *Config) { c.Serial.BaudRate = 0 }, wantErr: true},
		{name: "zero round timeout", mutate: func(c *Config) { c.Discovery.RoundTimeout = 0 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Discovery.RoundAttempts = 0 }, wantErr: true},
		{name: "zero refresh interval", mutate: func(c *Config) { c.Discovery.RefreshInterval = 0 }, wantErr: true},
		{name: "negative save interval", mutate: func(c *Config) { c.Discovery.SaveInterval = -time.Second }, wantErr: true},
		{name: "save on shutdown only", mutate: func(c *Config) { c.Discovery.SaveInterval = 0 }},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid broker port", mutate: func(c *Config) { c.MQTT.Broker.Port = 70000 }, wantErr: true},
		{
			name: "broker port ignored when disabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = false
				c.MQTT.Broker.Port = 0
			},
		},
		{name: "influx enabled without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true; c.InfluxDB.Bucket = "b" }, wantErr: true},
		{
			name: "influx enabled",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = "http://localhost:8086"
				c.InfluxDB.Bucket = "nodelink"
			},
		},
		{name: "unknown log output", mutate: func(c *Config) { c.Logging.Output = "syslog" }, wantErr: true},
		{name: "file output without path", mutate: func(c *Config) { c.Logging.Output = "file"; c.Logging.File.Path = "" }, wantErr: true},
		{name: "log sink without address", mutate: func(c *Config) { c.LogSink.Enabled = true; c.LogSink.Address = "" }, wantErr: true},
		{name: "api enabled", mutate: func(c *Config) { c.API.Enabled = true }},
		{name: "api bad port", mutate: func(c *Config) { c.API.Enabled = true; c.API.Port = 0 }, wantErr: true},
		{name: "api short secret", mutate: func(c *Config) { c.API.Enabled = true; c.API.Auth.JWTSecret = "short" }, wantErr: true},
		{
			name: "api long secret",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
			},
		},
		{name: "api zero ping interval", mutate: func(c *Config) { c.API.Enabled = true; c.API.WebSocket.PingInterval = 0 }, wantErr: true},
		{name: "api port ignored when disabled", mutate: func(c *Config) { c.API.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("NODELINK_SERIAL_DEVICE", "/dev/ttyS1")
	t.Setenv("NODELINK_SERIAL_BAUD_RATE", "57600")
	t.Setenv("NODELINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("NODELINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("NODELINK_MQTT_USERNAME", "testuser")
	t.Setenv("NODELINK_MQTT_PASSWORD", "testpass")
	t.Setenv("NODELINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("NODELINK_LOG_LEVEL", "debug")
	t.Setenv("NODELINK_LOG_SINK_ADDRESS", "10.0.0.5:9750")
	t.Setenv("NODELINK_API_PORT", "9090")
	t.Setenv("NODELINK_API_JWT_SECRET", "env-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		name, got, want string
	}{
		{"Serial.Device", cfg.Serial.Device, "/dev/ttyS1"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"LogSink.Address", cfg.LogSink.Address, "10.0.0.5:9750"},
		{"API.Auth.JWTSecret", cfg.API.Auth.JWTSecret, "env-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}

	if cfg.Serial.BaudRate != 57600 {
		t.Errorf("Serial.BaudRate = %d, want 57600", cfg.Serial.BaudRate)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_BadBaudRateIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("NODELINK_SERIAL_BAUD_RATE", "fast")

	applyEnvOverrides(cfg)

	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("Serial.BaudRate = %d, want 9600", cfg.Serial.BaudRate)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("NODELINK_CONFIG", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("PathFromEnv() = %q, want %q", got, DefaultPath)
	}

	t.Setenv("NODELINK_CONFIG", "/etc/nodelink/config.yaml")
	if got := PathFromEnv(); got != "/etc/nodelink/config.yaml" {
		t.Errorf("PathFromEnv() = %q, want /etc/nodelink/config.yaml", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
	if cfg.Serial.BaudRate != 9600 {
		t.Errorf("defaultConfig Serial.BaudRate = %d, want 9600", cfg.Serial.BaudRate)
	}
	if cfg.Discovery.RoundAttempts != 5 {
		t.Errorf("defaultConfig Discovery.RoundAttempts = %d, want 5", cfg.Discovery.RoundAttempts)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.LogSink.Enabled {
		t.Error("defaultConfig should leave the log sink disabled")
	}
	if cfg.API.Enabled {
		t.Error("defaultConfig should leave the API disabled")
	}
	if cfg.API.Timeouts.Idle != 2*time.Minute {
		t.Errorf("defaultConfig API.Timeouts.Idle = %v, want 2m", cfg.API.Timeouts.Idle)
	}
}
