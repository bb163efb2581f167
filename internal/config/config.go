// Package config loads camerad settings from YAML, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/t77yq/camera-agents/internal/messaging"
)

const EnvPrefix = "CAMERAD"

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Cameras    []CameraConfig   `mapstructure:"cameras"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Process    ProcessConfig    `mapstructure:"process"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	LogLevel    string `mapstructure:"log_level"`
	Development bool   `mapstructure:"development"`
}

type NATSConfig struct {
	URL                string        `mapstructure:"url"`
	MaxReconnects      int           `mapstructure:"max_reconnects"`
	ReconnectWait      time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	FrameSubjectPrefix string        `mapstructure:"frame_subject_prefix"`
	// Events enables the JetStream event stream for status, alerts and
	// system snapshots
	Events bool `mapstructure:"events"`
}

type SupervisorConfig struct {
	RestartFailed bool          `mapstructure:"restart_failed"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	Backoff       BackoffConfig `mapstructure:"backoff"`
}

// BackoffConfig is disabled when InitialDelay is zero
type BackoffConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type CameraConfig struct {
	Index      int    `mapstructure:"index"`
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	FPS        int    `mapstructure:"fps"`
	BufferSize int    `mapstructure:"buffer_size"`
	Subject    string `mapstructure:"subject"`
	// DropEvery makes the simulated camera miss every Nth frame
	DropEvery            int `mapstructure:"drop_every"`
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors"`
}

type HistoryConfig struct {
	Path            string        `mapstructure:"path"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule"`
}

type MetricsConfig struct {
	Addr           string        `mapstructure:"addr"`
	Interval       time.Duration `mapstructure:"interval"`
	ReportSchedule string        `mapstructure:"report_schedule"`
}

type ProcessConfig struct {
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
	KillTimeout time.Duration `mapstructure:"kill_timeout"`
	// LogDir keeps the child's output as JSON lines when set
	LogDir     string        `mapstructure:"log_dir"`
	MaxLogSize int64         `mapstructure:"max_log_size"`
	MaxLogAge  time.Duration `mapstructure:"max_log_age"`
}

// Camera defaults applied to every entry of cameras
const (
	DefaultCameraCount = 2
	DefaultWidth       = 640
	DefaultHeight      = 480
	DefaultFPS         = 30
	DefaultBufferSize  = 128
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "camerad")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.development", false)

	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("nats.frame_subject_prefix", messaging.DefaultFramePrefix)
	v.SetDefault("nats.events", true)

	v.SetDefault("supervisor.restart_failed", true)
	v.SetDefault("supervisor.check_interval", 2*time.Second)
	v.SetDefault("supervisor.stop_timeout", 5*time.Second)
	v.SetDefault("supervisor.backoff.initial_delay", 0)
	v.SetDefault("supervisor.backoff.max_delay", 30*time.Second)
	v.SetDefault("supervisor.backoff.multiplier", 2.0)

	v.SetDefault("history.path", "camerad_history.db")
	v.SetDefault("history.retention", 7*24*time.Hour)
	v.SetDefault("history.cleanup_schedule", "0 0 3 * * *")

	v.SetDefault("metrics.addr", ":9102")
	v.SetDefault("metrics.interval", 5*time.Second)
	v.SetDefault("metrics.report_schedule", "*/30 * * * * *")

	v.SetDefault("process.stop_timeout", 10*time.Second)
	v.SetDefault("process.kill_timeout", 2*time.Second)
	v.SetDefault("process.log_dir", "")
	v.SetDefault("process.max_log_size", 10<<20)
	v.SetDefault("process.max_log_age", 7*24*time.Hour)
}

// Load reads configuration. An empty path searches ./config and the working
// directory for config.yaml and falls back to defaults when none is found;
// an explicit path must exist. CAMERAD_* environment variables override file
// values, e.g. CAMERAD_NATS_URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyCameraDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyCameraDefaults() {
	if len(c.Cameras) == 0 {
		for i := 0; i < DefaultCameraCount; i++ {
			c.Cameras = append(c.Cameras, CameraConfig{Index: i})
		}
	}
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Width == 0 {
			cam.Width = DefaultWidth
		}
		if cam.Height == 0 {
			cam.Height = DefaultHeight
		}
		if cam.FPS == 0 {
			cam.FPS = DefaultFPS
		}
		if cam.BufferSize == 0 {
			cam.BufferSize = DefaultBufferSize
		}
		if cam.Subject == "" {
			cam.Subject = messaging.FrameSubject(c.NATS.FrameSubjectPrefix, cam.Index)
		}
	}
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	var errs []error

	if c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required"))
	}
	if c.Supervisor.CheckInterval <= 0 {
		errs = append(errs, errors.New("supervisor.check_interval must be positive"))
	}
	if c.Supervisor.Backoff.InitialDelay > 0 && c.Supervisor.Backoff.Multiplier < 1 {
		errs = append(errs, errors.New("supervisor.backoff.multiplier must be at least 1"))
	}
	if c.Metrics.Interval <= 0 {
		errs = append(errs, errors.New("metrics.interval must be positive"))
	}
	if c.History.Retention < 0 {
		errs = append(errs, errors.New("history.retention must not be negative"))
	}

	seen := make(map[int]bool)
	for _, cam := range c.Cameras {
		if seen[cam.Index] {
			errs = append(errs, fmt.Errorf("camera %d is configured twice", cam.Index))
		}
		seen[cam.Index] = true

		if cam.Index < 0 {
			errs = append(errs, fmt.Errorf("camera %d: index must not be negative", cam.Index))
		}
		if cam.Width <= 0 || cam.Height <= 0 {
			errs = append(errs, fmt.Errorf("camera %d: resolution must be positive", cam.Index))
		}
		if cam.FPS <= 0 {
			errs = append(errs, fmt.Errorf("camera %d: fps must be positive", cam.Index))
		}
		if cam.BufferSize <= 0 {
			errs = append(errs, fmt.Errorf("camera %d: buffer_size must be positive", cam.Index))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
