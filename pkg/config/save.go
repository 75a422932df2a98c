package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Save writes cfg to path as YAML. Durations are written in
// time.Duration string form so the file round-trips through Load.
func Save(path string, cfg *Config) error {
	doc := map[string]any{
		"server": map[string]any{
			"listen": cfg.Server.Listen,
		},
		"data": map[string]any{
			"raw_dir":        cfg.Data.RawDir,
			"structured_dir": cfg.Data.StructuredDir,
			"index":          cfg.Data.Index,
		},
		"retention": map[string]any{
			"window":         cfg.Retention.Window.String(),
			"sweep_interval": cfg.Retention.SweepInterval.String(),
		},
		"capture": map[string]any{
			"stop_timeout": cfg.Capture.StopTimeout.String(),
			"android": map[string]any{
				"command": cfg.Capture.Android.Command,
			},
			"ios": map[string]any{
				"command": cfg.Capture.IOS.Command,
				"window":  cfg.Capture.IOS.Window.String(),
			},
		},
		"display": map[string]any{
			"android_levels": cfg.Display.AndroidLevels,
			"ios_levels":     cfg.Display.IOSLevels,
		},
		"log": map[string]any{
			"level": cfg.Log.Level,
		},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
