package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/logcap/internal/buildinfo"
	"github.com/modoterra/logcap/pkg/config"
	"github.com/modoterra/logcap/pkg/core"
	"github.com/modoterra/logcap/pkg/daemon/service"
	"github.com/modoterra/logcap/pkg/transport/httpapi"
	tuimodel "github.com/modoterra/logcap/pkg/tui/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds the global flags shared by every subcommand.
type cli struct {
	addr       string
	configPath string
	noSpawn    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "logcap",
		Short:        "Capture Android and iOS device logs through logcapd",
		Long:         "logcap starts and stops capture sessions on a logcapd daemon, downloads their structured CSV and browses it in a terminal viewer.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.addr, "addr", "", "daemon address (default is server.listen from the config)")
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/logcap/config.yaml)")
	root.PersistentFlags().BoolVar(&c.noSpawn, "no-spawn", false, "do not start logcapd when it is not running")

	root.AddCommand(
		c.startCmd(),
		c.stopCmd(),
		c.downloadCmd(),
		c.viewCmd(),
		c.statusCmd(),
		c.configCmd(),
		c.serviceCmd(),
		c.daemonCmd(),
		versionCmd(),
	)
	return root
}

// client resolves the daemon address from --addr or the config file.
func (c *cli) client() (*httpapi.Client, error) {
	if c.addr != "" {
		return httpapi.NewClient(c.addr), nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Listen == httpapi.ListenSystemd {
		return nil, errors.New("daemon is socket activated; pass --addr")
	}
	return httpapi.NewClient(cfg.Server.Listen), nil
}

// ensureDaemon starts logcapd in the background when it does not answer.
func (c *cli) ensureDaemon(ctx context.Context, client *httpapi.Client) {
	if _, err := client.Health(ctx); err == nil || c.noSpawn {
		return
	}

	var args []string
	if c.configPath != "" {
		args = append(args, "--config", c.configPath)
	}
	if c.addr != "" {
		args = append(args, "--listen", c.addr)
	}
	cmd := exec.Command("logcapd", args...)
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not start logcapd:", err)
		return
	}
	go cmd.Wait()

	for range 30 {
		if _, err := client.Health(ctx); err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "warning: logcapd did not come up, continuing anyway")
}

// --- Start ---

func (c *cli) startCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "start <android|ios>",
		Short: "Start a capture session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := core.ParsePlatform(args[0])
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			c.ensureDaemon(ctx, client)

			resp, err := client.Start(ctx, p)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, resp)
			}
			fmt.Fprintln(out, resp.Message)
			fmt.Fprintln(out, resp.SessionID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// --- Stop ---

func (c *cli) stopCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stop <android|ios> <session-id>",
		Short: "Stop a capture session and print its display records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := core.ParsePlatform(args[0])
			if err != nil {
				return err
			}
			client, err := c.client()
			if err != nil {
				return err
			}

			records, err := client.Stop(cmd.Context(), p, args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no records at display levels")
				return nil
			}
			fmt.Fprintln(out, renderRecords(p, records))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

// --- Download ---

func (c *cli) downloadCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <session-id>",
		Short: "Download the structured CSV of a session",
		Long:  "Writes to the server-suggested filename unless -o is given. Use -o - for stdout.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}

			if output == "-" {
				_, err := client.Download(cmd.Context(), args[0], cmd.OutOrStdout())
				return err
			}

			dir := "."
			if output != "" {
				dir = filepath.Dir(output)
			}
			tmp, err := os.CreateTemp(dir, ".logcap-download-*")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())

			name, err := client.Download(cmd.Context(), args[0], tmp)
			if cerr := tmp.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			dest := orDefault(output, filepath.Base(name))
			if name == "" && output == "" {
				dest = "logs_structured_" + args[0] + ".csv"
			}
			if err := os.Rename(tmp.Name(), dest); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout")
	return cmd
}

// --- View ---

func (c *cli) viewCmd() *cobra.Command {
	var platform string
	cmd := &cobra.Command{
		Use:   "view <file.csv | session-id>",
		Short: "Browse a structured CSV in a terminal viewer",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			target := args[0]

			var load tuimodel.Loader
			if _, err := os.Stat(target); err == nil {
				load = tuimodel.FileLoader(target)
				if platform == "" && strings.HasPrefix(filepath.Base(target), string(core.PlatformIOS)+"_") {
					platform = string(core.PlatformIOS)
				}
			} else {
				client, err := c.client()
				if err != nil {
					return err
				}
				load = tuimodel.DownloadLoader(client, target)
			}

			p := core.PlatformAndroid
			if platform != "" {
				parsed, err := core.ParsePlatform(platform)
				if err != nil {
					return err
				}
				p = parsed
			}

			levels := config.Default().Levels(p)
			if cfg, err := config.Load(c.configPath); err == nil {
				levels = cfg.Levels(p)
			}

			app := tuimodel.New(filepath.Base(target), load, levels)
			_, err := tea.NewProgram(app, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&platform, "platform", "", "platform of the table, for the severity toggle")
	return cmd
}

// --- Status ---

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and running captures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()

			h, err := client.Health(ctx)
			if err != nil {
				return fmt.Errorf("daemon not reachable: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderHealth(h))
			return nil
		},
	}
}

// --- Config ---

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the logcap config file",
	}

	var (
		output string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := orDefault(output, config.File())
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "", "output file path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath
			if len(args) > 0 {
				path = args[0]
			}
			loader := config.NewLoader(path)
			if _, err := loader.Load(); err != nil {
				return err
			}
			name := loader.File()
			if name == "" {
				name = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", name)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

// --- Service ---

func (c *cli) serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the logcapd systemd user service",
	}

	var opts service.Options
	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install, enable and start the logcapd user units",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.ConfigPath == "" && c.configPath != "" {
				abs, err := filepath.Abs(c.configPath)
				if err != nil {
					return err
				}
				opts.ConfigPath = abs
			}
			return withManager(cmd.Context(), func(m *service.Manager) error {
				if err := m.Install(cmd.Context(), opts); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "logcapd installed and started")
				return nil
			})
		},
	}
	installCmd.Flags().StringVar(&opts.Binary, "binary", "", "logcapd binary (default is logcapd on PATH)")
	installCmd.Flags().StringVar(&opts.SocketListen, "socket", "", `enable socket activation on this ListenStream, e.g. "8080"`)

	uninstallCmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop, disable and remove the logcapd user units",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd.Context(), func(m *service.Manager) error {
				if err := m.Uninstall(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "logcapd uninstalled")
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show unit and daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			err := withManager(cmd.Context(), func(m *service.Manager) error {
				s, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
				return nil
			})
			if err != nil {
				fmt.Fprintln(out, "systemd:", err)
			}

			client, cerr := c.client()
			if cerr != nil {
				fmt.Fprintln(out, "daemon:", cerr)
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			if h, err := client.Health(ctx); err != nil {
				fmt.Fprintln(out, "daemon: not reachable")
			} else {
				fmt.Fprintln(out, renderHealth(h))
			}
			return nil
		},
	}

	var (
		follow bool
		lines  int
	)
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show logcapd output from the user journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return service.Logs(cmd.Context(), cmd.OutOrStdout(), follow, lines)
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new entries")
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of recent entries")

	cmd.AddCommand(installCmd, uninstallCmd, statusCmd, logsCmd)
	return cmd
}

func withManager(ctx context.Context, fn func(*service.Manager) error) error {
	m, err := service.Connect(ctx)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

// --- Daemon ---

func (c *cli) daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run logcapd in the foreground",
		Long:  "Normally logcap starts the daemon on demand or systemd runs it. Use this to run it manually.",
		RunE: func(_ *cobra.Command, _ []string) error {
			var args []string
			if c.configPath != "" {
				args = append(args, "--config", c.configPath)
			}
			if c.addr != "" {
				args = append(args, "--listen", c.addr)
			}
			cmd := exec.Command("logcapd", args...)
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
	}
}

// --- Version ---

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String("logcap"))
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
