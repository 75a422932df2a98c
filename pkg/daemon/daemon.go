package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/sourcegraph/conc"

	"github.com/modoterra/logcap/pkg/config"
	"github.com/modoterra/logcap/pkg/core"
	"github.com/modoterra/logcap/pkg/parser"
	"github.com/modoterra/logcap/pkg/providers/device"
	"github.com/modoterra/logcap/pkg/structured"
	"github.com/modoterra/logcap/pkg/transport/httpapi"
)

// Daemon is the logcapd process: one capture controller per platform,
// the session registry, the sweeper and the HTTP server.
type Daemon struct {
	server      *httpapi.Server
	registry    *Registry
	controllers map[core.Platform]*Controller
	sweeper     *Sweeper

	mu        sync.RWMutex
	cfg       *config.Config
	retention time.Duration
	levels    map[core.Platform][]string

	logger *slog.Logger
}

// New builds a daemon from cfg. Capture processes are bound to ctx.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		controllers: make(map[core.Platform]*Controller),
		cfg:         cfg,
		retention:   cfg.Retention.Window,
		levels: map[core.Platform][]string{
			core.PlatformAndroid: slices.Clone(cfg.Display.AndroidLevels),
			core.PlatformIOS:     slices.Clone(cfg.Display.IOSLevels),
		},
		logger: logger,
	}

	d.registry = NewRegistry(cfg.Data.RawDir, cfg.Data.StructuredDir, cfg.Data.Index, logger.With("component", "registry"))
	if err := d.registry.Load(); err != nil {
		logger.Error("session index unreadable, starting empty", "err", err)
	}

	sources := []device.Source{
		device.Android(cfg.Capture.Android.Command),
		device.IOS(cfg.Capture.IOS.Command, cfg.Capture.IOS.Window),
	}
	for _, src := range sources {
		g, err := parser.ForPlatform(src.Platform)
		if err != nil {
			return nil, err
		}
		if err := src.Available(); err != nil {
			logger.Warn("capture command not found, start will fail until it is installed", "platform", string(src.Platform), "err", err)
		}
		w := structured.NewWriter(g, d.levelsFunc(src.Platform), logger.With("component", "structured"))
		d.controllers[src.Platform] = NewController(ctx, src, NewSlot(), d.registry, w, cfg.Capture.StopTimeout, logger.With("component", "capture"))
	}

	d.sweeper = NewSweeper(d.registry, cfg.Retention.SweepInterval, d.Retention, logger.With("component", "sweeper"))
	d.server = httpapi.NewServer(cfg.Server.Listen, d.Handler(), logger.With("component", "http"))
	return d, nil
}

// Registry returns the session registry.
func (d *Daemon) Registry() *Registry {
	return d.registry
}

// Controller returns the capture controller for p.
func (d *Daemon) Controller(p core.Platform) *Controller {
	return d.controllers[p]
}

// Retention returns the current retention window.
func (d *Daemon) Retention() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.retention
}

func (d *Daemon) levelsFunc(p core.Platform) func() []string {
	return func() []string {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.levels[p]
	}
}

// ApplyConfig applies a reloaded configuration. Retention and display
// levels change immediately; other keys need a restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.mu.Lock()
	prev := d.cfg
	d.cfg = cfg
	d.retention = cfg.Retention.Window
	d.levels = map[core.Platform][]string{
		core.PlatformAndroid: slices.Clone(cfg.Display.AndroidLevels),
		core.PlatformIOS:     slices.Clone(cfg.Display.IOSLevels),
	}
	d.mu.Unlock()

	d.logger.Info("config applied",
		"retention", cfg.Retention.Window,
		"android_levels", cfg.Display.AndroidLevels,
		"ios_levels", cfg.Display.IOSLevels)

	if prev == nil {
		return
	}
	if prev.Server.Listen != cfg.Server.Listen ||
		prev.Data != cfg.Data ||
		prev.Retention.SweepInterval != cfg.Retention.SweepInterval ||
		prev.Capture.StopTimeout != cfg.Capture.StopTimeout ||
		!slices.Equal(prev.Capture.Android.Command, cfg.Capture.Android.Command) ||
		!slices.Equal(prev.Capture.IOS.Command, cfg.Capture.IOS.Command) ||
		prev.Capture.IOS.Window != cfg.Capture.IOS.Window {
		d.logger.Warn("some changed settings take effect after restart")
	}
}

// Run serves HTTP and sweeps until ctx is cancelled, then stops any
// running capture.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := d.server.Listen()
	if err != nil {
		return err
	}

	var wg conc.WaitGroup
	wg.Go(func() { d.sweeper.Run(ctx) })

	if ok, err := sddaemon.SdNotify(false, sddaemon.SdNotifyReady); err != nil {
		d.logger.Warn("sd_notify ready", "err", err)
	} else if ok {
		d.logger.Debug("notified systemd")
	}

	serveErr := d.server.Serve(ctx, ln)

	sddaemon.SdNotify(false, sddaemon.SdNotifyStopping)
	d.Shutdown()
	wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// Shutdown stops running captures and flushes their raw logs.
func (d *Daemon) Shutdown() {
	var wg sync.WaitGroup
	for _, c := range d.controllers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Shutdown()
		}()
	}
	wg.Wait()
}

// Handler returns the HTTP routes.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(httpapi.RouteAndroidStart, d.handleStart(core.PlatformAndroid))
	mux.HandleFunc(httpapi.RouteIOSStart, d.handleStart(core.PlatformIOS))
	mux.HandleFunc(httpapi.RouteAndroidStop, d.handleStop(core.PlatformAndroid))
	mux.HandleFunc(httpapi.RouteIOSStop, d.handleStop(core.PlatformIOS))
	mux.HandleFunc(httpapi.RouteDownload, d.handleDownload)
	mux.HandleFunc(httpapi.RouteHealth, d.handleHealth)
	mux.HandleFunc("/", http.NotFound)
	return mux
}
