package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"
)

// DefaultRetention and DefaultSweepInterval match the reference deployment.
const (
	DefaultRetention     = time.Hour
	DefaultSweepInterval = 5 * time.Minute
)

// Sweeper expires saved sessions and their artifacts. It looks only at
// creation times and artifact paths, never at running captures.
type Sweeper struct {
	registry  *Registry
	interval  time.Duration
	retention func() time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. retention is read on every pass.
func NewSweeper(r *Registry, interval time.Duration, retention func() time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if retention == nil {
		retention = func() time.Duration { return DefaultRetention }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{registry: r, interval: interval, retention: retention, logger: logger}
}

// Run sweeps every interval. Blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

// Sweep removes every session created more than the retention window
// before now and returns how many were forgotten.
func (s *Sweeper) Sweep(now time.Time) int {
	retention := s.retention()
	removed := 0
	for _, sess := range s.registry.AllSaved() {
		if sess.Age(now) <= retention {
			continue
		}

		failed := false
		for _, path := range []string{sess.RawPath, sess.StructuredPath} {
			if path == "" {
				continue
			}
			err := os.Remove(path)
			switch {
			case err == nil:
				s.logger.Debug("artifact removed", "session", sess.ID, "path", path)
			case errors.Is(err, os.ErrNotExist):
				s.logger.Info("artifact already gone", "session", sess.ID, "path", path)
			default:
				s.logger.Error("remove artifact", "session", sess.ID, "path", path, "err", err)
				failed = true
			}
		}
		if failed {
			continue
		}

		s.registry.ForgetSaved(sess.ID)
		removed++
		s.logger.Info("session expired", "session", sess.ID, "platform", string(sess.Platform), "age", sess.Age(now).Round(time.Second))
	}
	return removed
}
