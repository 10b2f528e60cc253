package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/onchange/onchange/internal/config"
	"github.com/onchange/onchange/internal/runner"
	"github.com/onchange/onchange/internal/watch"
)

// Build metadata, overridden at link time:
//
//	go build -ldflags "-X main.version=0.3.0 -X main.build=142"
var (
	version = "0.2.0"
	build   = "dev"
)

// NewRootCmd builds the onchange command line interface.
func NewRootCmd() *cobra.Command {
	var (
		cfgPath  string
		target   string
		command  string
		once     bool
		verbose  bool
		useStdin bool
		showPath bool
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "onchange",
		Short: "Run a command when a file or directory changes",
		Long: `onchange watches a file or directory for modifications and runs a command
once each burst of changes settles. Bursts are coalesced: however many writes
arrive while the debounce window is open, the command runs once. Watching
continues until interrupted (SIGINT/SIGTERM) unless --once is given.`,
		Version:       fmt.Sprintf("%s (build %s)", version, build),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Invoked bare, behave like --help.
			if cmd.Flags().NFlag() == 0 {
				return cmd.Help()
			}

			if showPath {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("cannot determine working directory: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "File/Directory Watcher: %s\n", wd)
				return nil
			}

			if useStdin {
				return errors.New("watching stdin is not supported; supply a path with --file")
			}

			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.LoadConfig(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			// Explicitly set flags override the file.
			flags := cmd.Flags()
			if flags.Changed("file") {
				cfg.Target = target
			}
			if flags.Changed("exec") {
				cfg.Command = command
			}
			if flags.Changed("once") {
				cfg.Once = once
			}
			if flags.Changed("verbose") {
				cfg.Verbose = verbose
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			if cfg.Target == "" {
				return errors.New("supply a path to watch for changes")
			}
			if cfg.Command == "" {
				return errors.New("supply a command to execute on change")
			}
			if !config.ValidLogLevel(cfg.LogLevel) {
				return fmt.Errorf("log level %q must be one of: debug, info, warn, error", cfg.LogLevel)
			}

			logger := newLogger(cfg.LogLevel)
			slog.SetDefault(logger)

			return watchAndRun(cmd, cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&target, "file", "f", "", "file or directory to watch")
	cmd.Flags().StringVarP(&command, "exec", "e", "", "command to execute when the target changes")
	cmd.Flags().BoolVarP(&once, "once", "1", false, "stop after the first completed execution")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print a progress line for every event")
	cmd.Flags().BoolVarP(&useStdin, "stdin", "s", false, "watch standard input (not supported)")
	cmd.Flags().BoolVar(&showPath, "path", false, "print the working directory and exit")
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a YAML configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "minimum log severity: debug, info, warn, or error")

	return cmd
}

// watchAndRun wires the configuration into a runner and blocks until the
// watch ends. Single-shot mode wraps the continuous loop: an after-exec hook
// stops the runner once the first execution completes.
func watchAndRun(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) error {
	out := cmd.OutOrStdout()

	var rep *watch.Reporter
	if cfg.Verbose {
		rep = watch.NewReporter(out)
		mode := "Continuous"
		if cfg.Once {
			mode = "Single"
		}
		fmt.Fprintf(out, "%s watch for change on '%s'\n", mode, cfg.Target)
		fmt.Fprintf(out, "Execute '%s' on event.\n", cfg.Command)
	}

	opts := []runner.Option{
		runner.WithShell(cfg.Shell),
		runner.WithDebounce(cfg.Debounce.Duration()),
		runner.WithIdleWait(cfg.IdleWait.Duration()),
		runner.WithReporter(rep),
	}

	var r *runner.Runner
	if cfg.Once {
		opts = append(opts, runner.WithAfterExec(func(runner.ExecResult) {
			r.Stop()
		}))
	}
	r = runner.New(cfg.Target, cfg.Command, logger, opts...)

	return r.Run(cmd.Context())
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
