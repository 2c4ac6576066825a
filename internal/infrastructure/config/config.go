package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for armlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service   ServiceConfig             `yaml:"service"`
	Logging   LoggingConfig             `yaml:"logging"`
	Journal   JournalConfig             `yaml:"journal"`
	MQTT      MQTTConfig                `yaml:"mqtt"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Cameras   map[string]CameraConfig   `yaml:"cameras"`
	Actuators map[string]ActuatorConfig `yaml:"actuators"`
	Sampling  SamplingConfig            `yaml:"sampling"`
}

// ServiceConfig contains rig-level identification.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// JournalConfig contains SQLite device-event journal settings.
type JournalConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MetricsConfig contains InfluxDB metrics sink settings.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// CameraConfig describes one capture pipeline.
type CameraConfig struct {
	// Device is the capture input passed to the external decoder
	// (e.g., "/dev/video0" on Linux).
	Device string `yaml:"device"`

	// Width and Height are the requested frame dimensions in pixels.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FPS is the requested capture frame rate.
	FPS int `yaml:"fps"`

	// PixelFormat is the raw output pixel format ("rgb24", "bgr24", "gray").
	PixelFormat string `yaml:"pixel_format"`

	// InputFormat is the decoder input format ("v4l2" on Linux).
	InputFormat string `yaml:"input_format"`

	// Warmup enables a fixed wall-clock warmup phase on connect that
	// discards early frames while the capture pipeline stabilises.
	Warmup bool `yaml:"warmup"`
}

// ActuatorConfig describes one gripper control endpoint.
type ActuatorConfig struct {
	// Host is the controller IP address (shared with the arm control port).
	Host string `yaml:"host"`

	// Port is the controller command port.
	Port int `yaml:"port"`

	// DeviceID is the sub-bus device id of the gripper.
	DeviceID int `yaml:"device_id"`

	// Force is the default grip force in device units (0-255).
	Force int `yaml:"force"`

	// Speed is the default motion speed in device units (0-255).
	Speed int `yaml:"speed"`

	// Mode selects the session lifecycle: "ephemeral" (one connection per
	// operation, the default) or "persistent" (one long-lived connection).
	Mode string `yaml:"mode"`

	// ReadEncoding selects the position-read response variant:
	// "packed" (16-bit value, high byte = position) or "list"
	// (data array, first element = position). Firmware dependent.
	ReadEncoding string `yaml:"read_encoding"`

	// ConnectTimeout is the transport connect timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// CommandTimeout is the overall per-command deadline in seconds.
	CommandTimeout int `yaml:"command_timeout"`

	// SettleMs is the post-motion settle wait for blocking moves, in
	// milliseconds.
	SettleMs int `yaml:"settle_ms"`
}

// SamplingConfig contains the rig sampling-loop settings.
type SamplingConfig struct {
	// IntervalMs is the sampling tick period in milliseconds.
	IntervalMs int `yaml:"interval_ms"`

	// PositionReadEvery decimates actuator position reads: a fresh read is
	// issued every Nth tick, cached values are returned in between.
	PositionReadEvery int `yaml:"position_read_every"`

	// FrameTimeoutMs is the bounded wait for a fresh camera frame per tick.
	FrameTimeoutMs int `yaml:"frame_timeout_ms"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ARMLINK_SECTION_KEY
// For example: ARMLINK_JOURNAL_PATH, ARMLINK_MQTT_HOST
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
		Service: ServiceConfig{
			ID:   "rig-001",
			Name: "armlink",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Journal: JournalConfig{
			Path:        "./data/armlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "armlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Sampling: SamplingConfig{
			IntervalMs:        50,
			PositionReadEvery: 5,
			FrameTimeoutMs:    200,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ARMLINK_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARMLINK_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	if v := os.Getenv("ARMLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ARMLINK_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("ARMLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ARMLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("ARMLINK_METRICS_TOKEN"); v != "" {
		cfg.Metrics.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Journal.Path == "" {
		errs = append(errs, "journal.path is required")
	}

	if level := strings.ToLower(c.Logging.Level); level != "" {
		switch level {
		case "debug", "info", "warn", "warning", "error":
		default:
			errs = append(errs, fmt.Sprintf("logging.level %q is not a valid level", c.Logging.Level))
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.URL == "" {
			errs = append(errs, "metrics.url is required when metrics are enabled")
		}
		if c.Metrics.Bucket == "" {
			errs = append(errs, "metrics.bucket is required when metrics are enabled")
		}
	}

	for name, cam := range c.Cameras {
		if cam.Device == "" {
			errs = append(errs, fmt.Sprintf("cameras.%s.device is required", name))
		}
		if cam.Width <= 0 || cam.Height <= 0 {
			errs = append(errs, fmt.Sprintf("cameras.%s: width and height must be positive", name))
		}
		if cam.FPS <= 0 {
			errs = append(errs, fmt.Sprintf("cameras.%s.fps must be positive", name))
		}
	}

	for name, act := range c.Actuators {
		if act.Host == "" {
			errs = append(errs, fmt.Sprintf("actuators.%s.host is required", name))
		}
		switch act.Mode {
		case "", "ephemeral", "persistent":
		default:
			errs = append(errs, fmt.Sprintf("actuators.%s.mode must be \"ephemeral\" or \"persistent\"", name))
		}
		switch act.ReadEncoding {
		case "", "packed", "list":
		default:
			errs = append(errs, fmt.Sprintf("actuators.%s.read_encoding must be \"packed\" or \"list\"", name))
		}
		if act.Force < 0 || act.Force > 255 {
			errs = append(errs, fmt.Sprintf("actuators.%s.force must be in [0,255]", name))
		}
		if act.Speed < 0 || act.Speed > 255 {
			errs = append(errs, fmt.Sprintf("actuators.%s.speed must be in [0,255]", name))
		}
	}

	if c.Sampling.IntervalMs <= 0 {
		errs = append(errs, "sampling.interval_ms must be positive")
	}
	if c.Sampling.PositionReadEvery <= 0 {
		errs = append(errs, "sampling.position_read_every must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
