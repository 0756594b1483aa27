package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"stripcast/internal/core"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// ServerConfig - HTTP and websocket listener
type ServerConfig struct {
	Port           string   `yaml:"port"`
	WebFilesDir    string   `yaml:"web_files_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	WriteTimeout   string   `yaml:"write_timeout"`
}

// ViewportConfig - canvas size and preview encoding
type ViewportConfig struct {
	Width    int  `yaml:"width"`
	Height   int  `yaml:"height"`
	Compress bool `yaml:"compress"`
}

// RenderConfig - frame pacing. PreviewFPS caps viewport broadcasts; 0
// disables the preview.
type RenderConfig struct {
	TargetFPS      int     `yaml:"target_fps"`
	PreviewFPS     float64 `yaml:"preview_fps"`
	DefaultPattern string  `yaml:"default_pattern"`
}

// MapperConfig - how viewport pixels reach LEDs
type MapperConfig struct {
	Type    string `yaml:"type"` // linear | grid
	Columns int    `yaml:"columns"`
	Rows    int    `yaml:"rows"`
}

// BLEConfig - wireless discovery and transmission
type BLEConfig struct {
	NamePattern        string  `yaml:"name_pattern"`
	ServiceUUID        string  `yaml:"service_uuid"`
	CharacteristicUUID string  `yaml:"characteristic_uuid"`
	StartupScanTimeout string  `yaml:"startup_scan_timeout"`
	ScanTimeout        string  `yaml:"scan_timeout"`
	ScanInterval       string  `yaml:"scan_interval"`
	ConnectTimeout     string  `yaml:"connect_timeout"`
	DisconnectTimeout  string  `yaml:"disconnect_timeout"`
	FrameRateLimit     float64 `yaml:"frame_rate_limit"`
	FrameRateBurst     int     `yaml:"frame_rate_burst"`
}

// DiscoveryConfig - management endpoint
type DiscoveryConfig struct {
	SnapshotInterval string `yaml:"snapshot_interval"`
}

// MQTTConfig - optional broker bridge
type MQTTConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Broker        string `yaml:"broker"` // tcp://IP:PORT
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	ClientID      string `yaml:"client_id"`
	TopicPrefix   string `yaml:"topic_prefix"`
	StatsInterval string `yaml:"stats_interval"`
}

// LogConfig - zerolog output
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// Config is the whole file.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Viewport  ViewportConfig     `yaml:"viewport"`
	Render    RenderConfig       `yaml:"render"`
	Mapper    MapperConfig       `yaml:"mapper"`
	Strips    []core.StripLayout `yaml:"strips"`
	BLE       BLEConfig          `yaml:"ble"`
	Discovery DiscoveryConfig    `yaml:"discovery"`
	MQTT      MQTTConfig         `yaml:"mqtt"`
	Log       LogConfig          `yaml:"log"`

	// File system settings
	PatternsDir   string `yaml:"patterns_dir"`
	SchedulesFile string `yaml:"schedules_file"`
}

// Load reads the file and applies sanitizing, defaults and validation. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML. Empty input yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	}

	cfg.sanitize()
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) sanitize() {
	c.Server.Port = strings.TrimSpace(c.Server.Port)
	c.Server.WebFilesDir = strings.TrimSpace(c.Server.WebFilesDir)
	c.Mapper.Type = strings.ToLower(strings.TrimSpace(c.Mapper.Type))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.MQTT.TopicPrefix = strings.TrimSuffix(strings.TrimSpace(c.MQTT.TopicPrefix), "/")
	c.PatternsDir = strings.TrimSpace(c.PatternsDir)
	c.SchedulesFile = strings.TrimSpace(c.SchedulesFile)
}

func (c *Config) setDefaults() {
	// Server Defaults
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "2s"
	}

	// Canvas Defaults
	if c.Viewport.Width == 0 && c.Viewport.Height == 0 {
		c.Viewport.Width, c.Viewport.Height = 60, 1
	}
	if c.Render.TargetFPS == 0 {
		c.Render.TargetFPS = 60
	}
	if c.Render.DefaultPattern == "" {
		c.Render.DefaultPattern = "rainbow"
	}
	if c.Mapper.Type == "" {
		c.Mapper.Type = "linear"
	}
	if c.Mapper.Columns == 0 {
		c.Mapper.Columns = c.Viewport.Width
	}
	if c.Mapper.Rows == 0 {
		c.Mapper.Rows = c.Viewport.Height
	}

	// BLE Defaults
	if c.BLE.NamePattern == "" {
		c.BLE.NamePattern = `^LED_STRIP_(\d+)$`
	}
	if c.BLE.StartupScanTimeout == "" {
		c.BLE.StartupScanTimeout = "10s"
	}
	if c.BLE.ScanTimeout == "" {
		c.BLE.ScanTimeout = "5s"
	}
	if c.BLE.ScanInterval == "" {
		c.BLE.ScanInterval = "30s"
	}
	if c.BLE.ConnectTimeout == "" {
		c.BLE.ConnectTimeout = "7s"
	}
	if c.BLE.DisconnectTimeout == "" {
		c.BLE.DisconnectTimeout = "2s"
	}
	if c.BLE.FrameRateLimit == 0 {
		c.BLE.FrameRateLimit = 30
	}
	if c.BLE.FrameRateBurst == 0 {
		c.BLE.FrameRateBurst = 2
	}

	if c.Discovery.SnapshotInterval == "" {
		c.Discovery.SnapshotInterval = "15s"
	}

	// MQTT Defaults
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "stripcast"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "stripcast"
	}
	if c.MQTT.StatsInterval == "" {
		c.MQTT.StatsInterval = "10s"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}

	// File Defaults
	if c.PatternsDir == "" {
		c.PatternsDir = "patterns"
	}
	if c.SchedulesFile == "" {
		c.SchedulesFile = "schedules.json"
	}
}

func (c *Config) validate() error {
	if c.Viewport.Width <= 0 || c.Viewport.Height <= 0 {
		return invalid("viewport must be at least 1x1, got %dx%d", c.Viewport.Width, c.Viewport.Height)
	}
	if c.Render.TargetFPS <= 0 {
		return invalid("'target_fps' must be positive")
	}
	if c.Render.PreviewFPS < 0 {
		return invalid("'preview_fps' must not be negative")
	}

	switch c.Mapper.Type {
	case "linear":
	case "grid":
		if c.Mapper.Columns <= 0 || c.Mapper.Rows <= 0 {
			return invalid("grid mapper needs positive columns and rows")
		}
	default:
		return invalid("unknown mapper type %q", c.Mapper.Type)
	}

	seen := make(map[int]bool, len(c.Strips))
	for i, s := range c.Strips {
		if s.ID < 0 {
			return invalid("strip #%d: negative id %d", i, s.ID)
		}
		if s.Length <= 0 {
			return invalid("strip %d: length must be positive", s.ID)
		}
		if seen[s.ID] {
			return invalid("strip %d: duplicate id", s.ID)
		}
		seen[s.ID] = true
	}

	re, err := regexp.Compile(c.BLE.NamePattern)
	if err != nil {
		return invalid("'name_pattern': %v", err)
	}
	if re.NumSubexp() < 1 {
		return invalid("'name_pattern' must capture the strip id")
	}
	if c.BLE.FrameRateLimit < 0 || c.BLE.FrameRateBurst < 0 {
		return invalid("'frame_rate_limit' and 'frame_rate_burst' must not be negative")
	}

	durations := map[string]string{
		"server.write_timeout":        c.Server.WriteTimeout,
		"ble.startup_scan_timeout":    c.BLE.StartupScanTimeout,
		"ble.scan_timeout":            c.BLE.ScanTimeout,
		"ble.scan_interval":           c.BLE.ScanInterval,
		"ble.connect_timeout":         c.BLE.ConnectTimeout,
		"ble.disconnect_timeout":      c.BLE.DisconnectTimeout,
		"discovery.snapshot_interval": c.Discovery.SnapshotInterval,
		"mqtt.stats_interval":         c.MQTT.StatsInterval,
	}
	for name, v := range durations {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid("'%s': %v", name, err)
		}
		if d <= 0 {
			return invalid("'%s' must be positive", name)
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return invalid("'log.level': %v", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return invalid("unknown log format %q", c.Log.Format)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return invalid("mqtt enabled without a broker")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Duration parses a duration field. Fields are checked by validate, so a
// loaded config never yields the zero fallback.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// NamePattern compiles the validated strip name pattern.
func (c *Config) NamePattern() *regexp.Regexp {
	return regexp.MustCompile(c.BLE.NamePattern)
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.Contains(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}
