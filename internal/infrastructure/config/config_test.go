package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "0.0.0.0"
  port: 8090
compile:
  endpoint: "http://localhost:9000"
registry:
  endpoint: "http://localhost:9001"
flasher:
  platform: "esp32"
  default_baud: 460800
  fallback_baud: 115200
`
	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Flasher.Platform != "esp32" {
		t.Errorf("Flasher.Platform = %q, want %q", cfg.Flasher.Platform, "esp32")
	}
	if cfg.Compile.Endpoint != "http://localhost:9000" {
		t.Errorf("Compile.Endpoint = %q, want %q", cfg.Compile.Endpoint, "http://localhost:9000")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
compile:
  endpoint: "http://localhost:9000"
registry:
  endpoint: "http://localhost:9001"
`
	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Flasher.DefaultBaud != 460800 {
		t.Errorf("Flasher.DefaultBaud = %d, want 460800", cfg.Flasher.DefaultBaud)
	}
	if cfg.Flasher.FallbackBaud != 115200 {
		t.Errorf("Flasher.FallbackBaud = %d, want 115200", cfg.Flasher.FallbackBaud)
	}
	if cfg.Flasher.MaxConnectAttempts != 5 {
		t.Errorf("Flasher.MaxConnectAttempts = %d, want 5", cfg.Flasher.MaxConnectAttempts)
	}
	if cfg.Flasher.FallbackAfterSec != 60 {
		t.Errorf("Flasher.FallbackAfterSec = %d, want 60", cfg.Flasher.FallbackAfterSec)
	}
	if cfg.Serial.ClosePollAttempts != 20 {
		t.Errorf("Serial.ClosePollAttempts = %d, want 20", cfg.Serial.ClosePollAttempts)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want 8090", cfg.API.Port)
	}
}

func TestLoad_MissingEndpoints(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
`
	_, err := Load(writeTestConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "compile.endpoint") {
		t.Errorf("error = %v, want mention of compile.endpoint", err)
	}
	if !strings.Contains(err.Error(), "registry.endpoint") {
		t.Errorf("error = %v, want mention of registry.endpoint", err)
	}
}

func TestValidate_BadBaud(t *testing.T) {
	cfg := defaultConfig()
	cfg.Compile.Endpoint = "http://localhost:9000"
	cfg.Registry.Endpoint = "http://localhost:9001"
	cfg.Flasher.DefaultBaud = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for zero baud, got nil")
	}
	if !strings.Contains(err.Error(), "default_baud") {
		t.Errorf("error = %v, want mention of default_baud", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	content := `
compile:
  endpoint: "http://localhost:9000"
registry:
  endpoint: "http://localhost:9001"
database:
  path: "/tmp/from-file.db"
`
	t.Setenv("SENSORFLASH_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("SENSORFLASH_COMPILE_API_KEY", "secret-key")

	cfg, err := Load(writeTestConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.Compile.APIKey != "secret-key" {
		t.Errorf("Compile.APIKey = %q, want env override", cfg.Compile.APIKey)
	}
}
