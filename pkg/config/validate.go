package config

import "fmt"

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}
	if c.Data.RawDir == "" {
		errs = append(errs, fmt.Errorf("data.raw_dir is required"))
	}
	if c.Data.StructuredDir == "" {
		errs = append(errs, fmt.Errorf("data.structured_dir is required"))
	}

	if c.Retention.Window <= 0 {
		errs = append(errs, fmt.Errorf("retention.window must be positive, got %s", c.Retention.Window))
	}
	if c.Retention.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("retention.sweep_interval must be positive, got %s", c.Retention.SweepInterval))
	}

	if c.Capture.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("capture.stop_timeout must be positive, got %s", c.Capture.StopTimeout))
	}
	if len(c.Capture.Android.Command) == 0 || c.Capture.Android.Command[0] == "" {
		errs = append(errs, fmt.Errorf("capture.android.command is required"))
	}
	if len(c.Capture.IOS.Command) == 0 || c.Capture.IOS.Command[0] == "" {
		errs = append(errs, fmt.Errorf("capture.ios.command is required"))
	}
	if c.Capture.IOS.Window < 0 {
		errs = append(errs, fmt.Errorf("capture.ios.window must not be negative, got %s", c.Capture.IOS.Window))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
