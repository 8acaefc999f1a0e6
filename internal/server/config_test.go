package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := LoadConfig(path)

	def := DefaultConfig()
	if cfg.Serial != def.Serial || cfg.Acquisition != def.Acquisition || cfg.Server != def.Server {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if cfg.Path() != path {
		t.Errorf("expected path %s, got %s", path, cfg.Path())
	}
	if cfg.PollInterval() != time.Second || cfg.ReadTimeout() != time.Second {
		t.Errorf("unexpected timings %v %v", cfg.PollInterval(), cfg.ReadTimeout())
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `serial:
  port_path: /dev/ttyACM3
  auto_connect: true
acquisition:
  poll_interval_ms: 500
test_mode:
  enabled: false
`
	if err := os.WriteFile(path, []byte(yml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)

	if cfg.Serial.PortPath != "/dev/ttyACM3" || !cfg.Serial.AutoConnect {
		t.Errorf("serial section not loaded: %+v", cfg.Serial)
	}
	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("missing key should keep default baud, got %d", cfg.Serial.BaudRate)
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("expected 500ms interval, got %v", cfg.PollInterval())
	}
	if cfg.TestMode.Enabled {
		t.Error("test mode should be disabled")
	}
}

func TestLoadConfig_BadYAMLFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("serial: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig(path)

	if cfg.Serial.PortPath != "/dev/ttyUSB0" {
		t.Errorf("expected default port after parse error, got %q", cfg.Serial.PortPath)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SERIAL_PORT", "/dev/ttyS9")
	t.Setenv("SERIAL_BAUD", "57600")
	t.Setenv("SERIAL_AUTO_CONNECT", "yes")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("READ_TIMEOUT_MS", "nope")
	t.Setenv("HISTORY_SIZE", "120")
	t.Setenv("TEST_MODE_ENABLED", "0")
	t.Setenv("LISTEN_ADDR", ":9090")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "config.yaml"))

	if cfg.Serial.PortPath != "/dev/ttyS9" || cfg.Serial.BaudRate != 57600 || !cfg.Serial.AutoConnect {
		t.Errorf("serial overrides not applied: %+v", cfg.Serial)
	}
	if cfg.Acquisition.PollIntervalMs != 250 || cfg.Acquisition.HistorySize != 120 {
		t.Errorf("acquisition overrides not applied: %+v", cfg.Acquisition)
	}
	if cfg.Acquisition.ReadTimeoutMs != 1000 {
		t.Errorf("invalid number should be ignored, got %d", cfg.Acquisition.ReadTimeoutMs)
	}
	if cfg.TestMode.Enabled {
		t.Error("TEST_MODE_ENABLED=0 not applied")
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.Server.ListenAddr)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	env := "# datalogger\nSERIAL_PORT=\"/dev/ttyBIOMET\"\nLISTEN_ADDR=:7000\nbogus line\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0644); err != nil {
		t.Fatal(err)
	}
	// Registers cleanup so the values loaded from .env do not leak.
	t.Setenv("SERIAL_PORT", "")
	t.Setenv("LISTEN_ADDR", ":6000")

	cfg := LoadConfig(filepath.Join(dir, "config.yaml"))

	if cfg.Serial.PortPath != "/dev/ttyBIOMET" {
		t.Errorf("expected port from .env, got %q", cfg.Serial.PortPath)
	}
	if cfg.Server.ListenAddr != ":6000" {
		t.Errorf("real env should win over .env, got %q", cfg.Server.ListenAddr)
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.path = path
	cfg.Serial.PortPath = "/dev/ttyACM0"
	cfg.Display.Thresholds.MinSats = 6

	if err := cfg.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded := LoadConfig(path)
	if loaded.Serial.PortPath != "/dev/ttyACM0" || loaded.Display.Thresholds.MinSats != 6 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestConfig_UpdateFromJSON(t *testing.T) {
	cfg := DefaultConfig()

	err := cfg.UpdateFromJSON([]byte(`{"display":{"thresholds":{"battLow":12}},"testMode":{"enabled":false}}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if cfg.Display.Thresholds.BattLow != 12 || cfg.TestMode.Enabled {
		t.Errorf("patch not applied: %+v", cfg)
	}
	if cfg.Display.Thresholds.AirTempHigh != 35 || cfg.Display.ChartField != "AirTC" {
		t.Errorf("sibling fields lost: %+v", cfg.Display)
	}
	if err := cfg.UpdateFromJSON([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid patch")
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]interface{}{
		"a": map[string]interface{}{"x": 1.0, "y": 2.0},
		"b": "keep",
	}
	deepMerge(dst, map[string]interface{}{
		"a": map[string]interface{}{"y": 3.0},
		"c": true,
	})

	a := dst["a"].(map[string]interface{})
	if a["x"] != 1.0 || a["y"] != 3.0 || dst["b"] != "keep" || dst["c"] != true {
		t.Errorf("unexpected merge result %v", dst)
	}
}
