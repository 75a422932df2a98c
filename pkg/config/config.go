// Package config loads logcapd settings from a YAML file and LOGCAP_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/modoterra/logcap/pkg/core"
)

// EnvPrefix prefixes environment overrides, e.g. LOGCAP_SERVER_LISTEN.
const EnvPrefix = "LOGCAP"

// Config is the daemon configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Data      DataConfig      `mapstructure:"data"`
	Retention RetentionConfig `mapstructure:"retention"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Display   DisplayConfig   `mapstructure:"display"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	// Listen is a TCP address, "unix:/path" or "systemd".
	Listen string `mapstructure:"listen"`
}

type DataConfig struct {
	RawDir        string `mapstructure:"raw_dir"`
	StructuredDir string `mapstructure:"structured_dir"`
	// Index is the session index file. Empty disables persistence.
	Index string `mapstructure:"index"`
}

type RetentionConfig struct {
	Window        time.Duration `mapstructure:"window"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type CaptureConfig struct {
	StopTimeout time.Duration        `mapstructure:"stop_timeout"`
	Android     AndroidCaptureConfig `mapstructure:"android"`
	IOS         IOSCaptureConfig     `mapstructure:"ios"`
}

type AndroidCaptureConfig struct {
	Command []string `mapstructure:"command"`
}

type IOSCaptureConfig struct {
	Command []string `mapstructure:"command"`
	// Window terminates the capture after this long. Zero disables it.
	Window time.Duration `mapstructure:"window"`
}

type DisplayConfig struct {
	AndroidLevels []string `mapstructure:"android_levels"`
	IOSLevels     []string `mapstructure:"ios_levels"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8080"},
		Data: DataConfig{
			RawDir:        "data/raw",
			StructuredDir: "data/structured",
			Index:         "data/sessions.yaml",
		},
		Retention: RetentionConfig{
			Window:        time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Capture: CaptureConfig{
			StopTimeout: 10 * time.Second,
			Android:     AndroidCaptureConfig{Command: []string{"adb", "logcat"}},
			IOS: IOSCaptureConfig{
				Command: []string{"idevicesyslog"},
				Window:  30 * time.Second,
			},
		},
		Display: DisplayConfig{
			AndroidLevels: []string{"F", "E", "W"},
			IOSLevels:     []string{"Fault", "Error", "Warning"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Levels returns the display levels for p.
func (c *Config) Levels(p core.Platform) []string {
	if p == core.PlatformIOS {
		return c.Display.IOSLevels
	}
	return c.Display.AndroidLevels
}

// SetDefaults registers every key with v so environment overrides apply
// even when the file omits them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.listen", d.Server.Listen)

	v.SetDefault("data.raw_dir", d.Data.RawDir)
	v.SetDefault("data.structured_dir", d.Data.StructuredDir)
	v.SetDefault("data.index", d.Data.Index)

	v.SetDefault("retention.window", d.Retention.Window)
	v.SetDefault("retention.sweep_interval", d.Retention.SweepInterval)

	v.SetDefault("capture.stop_timeout", d.Capture.StopTimeout)
	v.SetDefault("capture.android.command", d.Capture.Android.Command)
	v.SetDefault("capture.ios.command", d.Capture.IOS.Command)
	v.SetDefault("capture.ios.window", d.Capture.IOS.Window)

	v.SetDefault("display.android_levels", d.Display.AndroidLevels)
	v.SetDefault("display.ios_levels", d.Display.IOSLevels)

	v.SetDefault("log.level", d.Log.Level)
}

// Dir returns the per-user configuration directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "logcap")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".logcap"
	}
	return filepath.Join(home, ".config", "logcap")
}

// File returns the default configuration file path.
func File() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Loader reads configuration through its own viper instance.
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

// NewLoader creates a loader for path. An empty path searches the user
// config directory and the working directory for config.yaml.
func NewLoader(path string) *Loader {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Load reads the file, if one exists, and returns the validated config.
// An explicitly named file that is missing is an error.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

// File returns the config file in use, or "" when running on defaults.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Watch calls fn with the reloaded config whenever the file changes.
// It does nothing when no config file is in use.
func (l *Loader) Watch(fn func(*Config, error)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		fn(cfg, err)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Load is a shorthand for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}
