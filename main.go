// Package main is the entry point for the jobq command.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/billie-coop/jobq/internal/app"
	"github.com/billie-coop/jobq/internal/config"
	"github.com/billie-coop/jobq/internal/logging"
	"github.com/billie-coop/jobq/internal/message"
	"github.com/billie-coop/jobq/internal/tracing"
	"github.com/billie-coop/jobq/internal/tui"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jobq",
		Short: "Priority job dispatcher with in-band cancellation",
		Long: "jobq reads JSON-lines messages, orders work items by priority and " +
			"voids items whose context was cancelled after they were stamped.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (default .jobq/config.json)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: text|json")

	rootCmd.AddCommand(newRunCmd(), newMonitorCmd(), newConfigCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch a message stream and exit when the queue drains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if host, _ := cmd.Flags().GetString("host"); host != "" {
				cfg.Host = host
			}
			if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
				cfg.MetricsAddr = addr
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			opts := []app.Option{app.WithLogger(logger), app.WithOutput(cmd.OutOrStdout())}
			if cfg.Trace {
				provider := tracing.NewLogProvider(logging.Component(logger, "trace"))
				defer func() { _ = provider.Shutdown(context.Background()) }()
				opts = append(opts, app.WithTracer(provider.Tracer("jobq")))
			}

			a, err := app.New(cfg, opts...)
			if err != nil {
				return err
			}

			input, _ := cmd.Flags().GetString("input")
			r, source, closeInput, err := openInput(cmd, input)
			if err != nil {
				return err
			}
			defer closeInput()

			summary, err := a.Run(cmd.Context(), r, source)
			if err != nil {
				return err
			}

			if report, _ := cmd.Flags().GetBool("report"); report {
				out, err := tui.RenderReport(summary, 80)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}
	runCmd.Flags().StringP("input", "i", "-", "JSON-lines input file, - for stdin")
	runCmd.Flags().String("host", "", "drain host: loop|immediate")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus /metrics on this address during the run")
	runCmd.Flags().Bool("report", false, "print a markdown summary when the run ends")
	return runCmd
}

func newMonitorCmd() *cobra.Command {
	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Feed a message stream at an interval and watch the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			input, _ := cmd.Flags().GetString("input")
			r, source, closeInput, err := openInput(cmd, input)
			if err != nil {
				return err
			}
			defer closeInput()

			messages, malformed, err := readAll(r)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", source, err)
			}

			host := tui.NewHost()
			// No logger: records would corrupt the alternate screen.
			a, err := app.New(cfg, app.WithYield(host.Yield))
			if err != nil {
				return err
			}

			interval, _ := cmd.Flags().GetDuration("interval")
			p := tea.NewProgram(tui.NewMonitor(a, host, messages, interval), tea.WithAltScreen())
			host.Attach(p)
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("monitor: %w", err)
			}

			summary := a.Summary()
			summary.Source = source
			summary.Read = len(messages)
			summary.Malformed = malformed
			out, err := tui.RenderReport(summary, 80)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	monitorCmd.Flags().StringP("input", "i", "-", "JSON-lines input file, - for stdin")
	monitorCmd.Flags().Duration("interval", 250*time.Millisecond, "delay between submitted messages")
	return monitorCmd
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{Use: "config", Short: "Manage .jobq/config.json"}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := configManager(cmd)
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			if err := m.Init(force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", m.Path())
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}

	setCmd := &cobra.Command{
		Use:       "set KEY VALUE",
		Short:     "Update one setting and save",
		Args:      cobra.ExactArgs(2),
		ValidArgs: config.Keys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := configManager(cmd)
			if err != nil {
				return err
			}
			if err := m.Load(); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(m.Path()), 0o755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}
			return m.Set(args[0], args[1])
		},
	}

	configCmd.AddCommand(initCmd, showCmd, setCmd)
	return configCmd
}

// configManager returns the manager for --config, or for .jobq/ in the
// working directory.
func configManager(cmd *cobra.Command) (*config.Manager, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.NewManagerAt(path), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return config.NewManager(wd), nil
}

// loadConfig loads the config file, then applies JOBQ_* variables, then the
// logging flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	m, err := configManager(cmd)
	if err != nil {
		return nil, err
	}
	if err := m.Load(); err != nil {
		return nil, err
	}

	cfg := m.Get()
	config.FromEnv(cfg)
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, w)
	if err != nil {
		return nil, err
	}
	return logger.With(slog.String("scheduler", cfg.Name)), nil
}

func openInput(cmd *cobra.Command, path string) (io.Reader, string, func(), error) {
	if path == "" || path == "-" {
		return cmd.InOrStdin(), "stdin", func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to open input: %w", err)
	}
	return f, path, func() { _ = f.Close() }, nil
}

func readAll(r io.Reader) ([]message.Message, int, error) {
	dec := message.NewDecoder(r)
	var messages []message.Message
	malformed := 0
	for {
		m, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return messages, malformed, nil
		}
		var lineErr *message.LineError
		if errors.As(err, &lineErr) {
			malformed++
			continue
		}
		if err != nil {
			return nil, malformed, err
		}
		messages = append(messages, m)
	}
}
