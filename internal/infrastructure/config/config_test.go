package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
site:
  id: "test-site"
  timezone: "Europe/London"
device:
  default_port: 4370
  max_records: 5000
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if cfg.Site.Timezone != "Europe/London" {
		t.Errorf("Site.Timezone = %q, want %q", cfg.Site.Timezone, "Europe/London")
	}

	if cfg.Device.MaxRecords != 5000 {
		t.Errorf("Device.MaxRecords = %d, want 5000", cfg.Device.MaxRecords)
	}

	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}

	// Values not set in the file keep their defaults
	if cfg.Device.ConnectTimeout != 10 {
		t.Errorf("Device.ConnectTimeout = %d, want default 10", cfg.Device.ConnectTimeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
api:
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	// validBase returns a config that passes validation; each case
	// mutates one field to exercise a single rule.
	validBase := func() *Config {
		return &Config{
			Site: SiteConfig{ID: "site-001", Timezone: "UTC"},
			API:  APIConfig{Port: 8080},
			Device: DeviceConfig{
				DefaultPort:    4370,
				MaxRecords:     10000,
				EventQueueSize: 256,
			},
			MQTT: MQTTConfig{QoS: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: true,
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Site.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid API port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid API port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "invalid device port",
			mutate:  func(c *Config) { c.Device.DefaultPort = 0 },
			wantErr: true,
		},
		{
			name:    "zero max records",
			mutate:  func(c *Config) { c.Device.MaxRecords = 0 },
			wantErr: true,
		},
		{
			name:    "zero event queue size",
			mutate:  func(c *Config) { c.Device.EventQueueSize = 0 },
			wantErr: true,
		},
		{
			name:    "recorder enabled without path",
			mutate:  func(c *Config) { c.Recorder.Enabled = true; c.Recorder.Path = "" },
			wantErr: true,
		},
		{
			name:    "api keys enabled without keys",
			mutate:  func(c *Config) { c.Security.APIKeys.Enabled = true },
			wantErr: true,
		},
		{
			name: "api keys enabled with keys",
			mutate: func(c *Config) {
				c.Security.APIKeys.Enabled = true
				c.Security.APIKeys.Keys = []string{"key-1"}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBase()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestDeviceConfig_GetTimeouts(t *testing.T) {
	dc := DeviceConfig{ConnectTimeout: 10, ReadTimeout: 15, WriteTimeout: 5}

	if got := dc.GetConnectTimeout().Seconds(); got != 10 {
		t.Errorf("GetConnectTimeout() = %v, want 10", got)
	}

	if got := dc.GetReadTimeout().Seconds(); got != 15 {
		t.Errorf("GetReadTimeout() = %v, want 15", got)
	}

	if got := dc.GetWriteTimeout().Seconds(); got != 5 {
		t.Errorf("GetWriteTimeout() = %v, want 5", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("ZKGATE_SITE_TIMEZONE", "Asia/Tokyo")
	t.Setenv("ZKGATE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("ZKGATE_MQTT_USERNAME", "testuser")
	t.Setenv("ZKGATE_MQTT_PASSWORD", "testpass")
	t.Setenv("ZKGATE_API_HOST", "192.168.1.1")
	t.Setenv("ZKGATE_API_PORT", "9090")
	t.Setenv("ZKGATE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("ZKGATE_RECORDER_PATH", "/custom/events.db")
	t.Setenv("ZKGATE_API_KEYS", "key-a, key-b,")

	applyEnvOverrides(cfg)

	if cfg.Site.Timezone != "Asia/Tokyo" {
		t.Errorf("Site.Timezone = %q, want %q", cfg.Site.Timezone, "Asia/Tokyo")
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Recorder.Path != "/custom/events.db" {
		t.Errorf("Recorder.Path = %q, want %q", cfg.Recorder.Path, "/custom/events.db")
	}

	if !cfg.Security.APIKeys.Enabled {
		t.Error("Security.APIKeys.Enabled = false, want true")
	}

	wantKeys := []string{"key-a", "key-b"}
	if len(cfg.Security.APIKeys.Keys) != len(wantKeys) {
		t.Fatalf("Security.APIKeys.Keys = %v, want %v", cfg.Security.APIKeys.Keys, wantKeys)
	}
	for i, k := range wantKeys {
		if cfg.Security.APIKeys.Keys[i] != k {
			t.Errorf("Security.APIKeys.Keys[%d] = %q, want %q", i, cfg.Security.APIKeys.Keys[i], k)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}

	if cfg.Device.DefaultPort != 4370 {
		t.Errorf("defaultConfig Device.DefaultPort = %d, want 4370", cfg.Device.DefaultPort)
	}

	if cfg.Device.MaxRecords != 10000 {
		t.Errorf("defaultConfig Device.MaxRecords = %d, want 10000", cfg.Device.MaxRecords)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}

	if err := defaultConfig().Validate(); err != nil {
		t.Errorf("defaultConfig should validate, got %v", err)
	}
}
