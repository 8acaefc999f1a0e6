package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "/etc/biometdash/config.yaml"

// Config holds all dashboard configuration.
type Config struct {
	mu sync.RWMutex

	// Datalogger link
	Serial SerialConfig `yaml:"serial" json:"serial"`

	// Poll loop and history
	Acquisition AcquisitionConfig `yaml:"acquisition" json:"acquisition"`

	// Synthetic data
	TestMode TestModeConfig `yaml:"test_mode" json:"testMode"`

	// Display preferences
	Display DisplayConfig `yaml:"display" json:"display"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type SerialConfig struct {
	PortPath    string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyUSB0
	BaudRate    int    `yaml:"baud_rate" json:"baudRate"`
	AutoConnect bool   `yaml:"auto_connect" json:"autoConnect"` // connect on startup
}

type AcquisitionConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms" json:"pollIntervalMs"`
	ReadTimeoutMs  int `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	HistorySize    int `yaml:"history_size" json:"historySize"` // records kept for charts and map
}

type TestModeConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type DisplayConfig struct {
	ChartField string          `yaml:"chart_field" json:"chartField"` // field plotted over time
	Thresholds ThresholdConfig `yaml:"thresholds" json:"thresholds"`
}

// ThresholdConfig drives the warning colours on the dashboard.
type ThresholdConfig struct {
	BattLow     float64 `yaml:"batt_low" json:"battLow"`          // V
	AirTempHigh float64 `yaml:"air_temp_high" json:"airTempHigh"` // °C
	MRTHigh     float64 `yaml:"mrt_high" json:"mrtHigh"`          // °C, black globe Tmrt
	MinSats     int     `yaml:"min_sats" json:"minSats"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			PortPath:    "/dev/ttyUSB0",
			BaudRate:    115200,
			AutoConnect: false,
		},
		Acquisition: AcquisitionConfig{
			PollIntervalMs: 1000,
			ReadTimeoutMs:  1000,
			HistorySize:    3600,
		},
		TestMode: TestModeConfig{
			Enabled: true,
		},
		Display: DisplayConfig{
			ChartField: "AirTC",
			Thresholds: ThresholdConfig{
				BattLow:     11.5,
				AirTempHigh: 35,
				MRTHigh:     50,
				MinSats:     4,
			},
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if YAML not found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: SERIAL_PORT, SERIAL_BAUD, SERIAL_AUTO_CONNECT, POLL_INTERVAL_MS,
// READ_TIMEOUT_MS, HISTORY_SIZE, TEST_MODE_ENABLED, LISTEN_ADDR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SERIAL_PORT"); v != "" {
		c.Serial.PortPath = v
	}
	if v := os.Getenv("SERIAL_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Serial.BaudRate = n
		}
	}
	if v := os.Getenv("SERIAL_AUTO_CONNECT"); v != "" {
		c.Serial.AutoConnect = truthy(v)
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Acquisition.PollIntervalMs = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Acquisition.ReadTimeoutMs = n
		}
	}
	if v := os.Getenv("HISTORY_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Acquisition.HistorySize = n
		}
	}
	if v := os.Getenv("TEST_MODE_ENABLED"); v != "" {
		c.TestMode.Enabled = truthy(v)
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

func truthy(v string) bool {
	return v == "1" || v == "true" || v == "yes"
}

// PollInterval returns the pause between ticks.
func (c *Config) PollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Acquisition.PollIntervalMs) * time.Millisecond
}

// ReadTimeout returns the bound on a single device read.
func (c *Config) ReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Acquisition.ReadTimeoutMs) * time.Millisecond
}

// SerialSettings returns a copy of the serial section.
func (c *Config) SerialSettings() SerialConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Serial
}

// AcquisitionSettings returns a copy of the acquisition section.
func (c *Config) AcquisitionSettings() AcquisitionConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Acquisition
}

// TestModeEnabled reports whether the synthetic generator may run.
func (c *Config) TestModeEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TestMode.Enabled
}

// Path returns the file the config is saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
