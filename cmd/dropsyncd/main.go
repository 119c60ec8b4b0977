package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/dropsyncd/internal/config"
	"github.com/schaermu/dropsyncd/internal/diskspace"
	"github.com/schaermu/dropsyncd/internal/drain"
	"github.com/schaermu/dropsyncd/internal/lock"
	"github.com/schaermu/dropsyncd/internal/scheduler"
	"github.com/schaermu/dropsyncd/internal/server"
	"github.com/schaermu/dropsyncd/internal/status"
	"github.com/schaermu/dropsyncd/internal/watch"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	envFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dropsyncd",
	Short: "Drain a drop folder into a destination tree",
	Long: `dropsyncd periodically moves everything that lands in a watched folder
into a destination folder, keeping the directory structure, reporting copy
progress and removing subfolders that were emptied by the move.

It can run a single pass (for example from a systemd timer) or stay resident
and drain the folder at a fixed interval.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drain the source folder continuously",
	Long: `Run drains the source folder once at start and then once per poll interval.

With watch enabled, new files also trigger an early pass. With serve enabled,
an HTTP endpoint reports the current status and accepts authenticated requests
for an early pass.`,
	RunE: runDaemon,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Perform a single drain pass and exit",
	Long: `Once performs one drain pass and prints a summary. It exits non-zero when the
source folder is unavailable or any entry could not be moved.`,
	RunE: runOnce,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and exit",
	RunE:  runValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "dropsyncd %s\n", version)
		_, _ = fmt.Fprintf(out, "  commit: %s\n", commit)
		_, _ = fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, .yaml or .properties (default is $HOME/.config/dropsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file before reading the config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	onceCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be moved without changing anything")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	srcLock := lock.New(cfg.StateDir, cfg.Source)
	if err := srcLock.Acquire(); err != nil {
		return err
	}
	defer func() {
		if err := srcLock.Release(); err != nil {
			logger.Warn("failed to release lock", "error", err)
		}
	}()

	board := status.NewBoard(0)
	sink := status.NewAsync(status.Multi{status.NewLogSink(logger), board}, logger)
	defer sink.Close()

	engine := drain.NewEngine(cfg, afero.NewOsFs(), sink, logger, false)
	engine.SetSpaceChecker(diskspace.NewChecker())

	sched := scheduler.New(cfg.PollInterval(), cycleFunc(engine), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Start(gctx)
	})

	if cfg.Watch {
		ignore := drain.NewIgnoreList(cfg.Source, cfg.Ignore)
		watcher := watch.New(cfg.Source, watch.DefaultDebounce, sched.Trigger, logger)
		watcher.SetFilter(func(path string) bool {
			return ignore.Match(path, false)
		})
		g.Go(func() error {
			watcher.RunWithRetry(gctx, cfg.PollInterval())
			return nil
		})
	}

	if cfg.Serve.Enabled {
		srv, err := server.NewServer(cfg, board, sched.Trigger, logger)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to create status server: %w", err)
		}
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	return g.Wait()
}

// cycleFunc adapts the engine to the scheduler. A missing source is an
// expected state between drops and has already been reported.
func cycleFunc(engine *drain.Engine) scheduler.CycleFunc {
	return func(ctx context.Context) error {
		_, err := engine.RunCycle(ctx)
		if errors.Is(err, drain.ErrSourceUnavailable) {
			return nil
		}
		return err
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if !dryRun {
		srcLock := lock.New(cfg.StateDir, cfg.Source)
		if err := srcLock.Acquire(); err != nil {
			return err
		}
		defer func() { _ = srcLock.Release() }()
	}

	engine := drain.NewEngine(cfg, afero.NewOsFs(), status.NewLogSink(logger), logger, dryRun)
	engine.SetSpaceChecker(diskspace.NewChecker())

	res, err := engine.RunCycle(ctx)
	if err != nil {
		logger.Error("drain failed", "error", err)
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d entries could not be moved", len(res.Failures))
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "configuration is valid\n")
	_, _ = fmt.Fprintf(out, "  source:          %s\n", cfg.Source)
	_, _ = fmt.Fprintf(out, "  destination:     %s\n", cfg.Destination)
	_, _ = fmt.Fprintf(out, "  poll interval:   %s\n", cfg.PollInterval())
	_, _ = fmt.Fprintf(out, "  conflict policy: %s\n", cfg.ConflictPolicy)
	_, _ = fmt.Fprintf(out, "  baseline:        %s\n", cfg.Baseline)
	_, _ = fmt.Fprintf(out, "  workers:         %d\n", cfg.Workers)
	if cfg.MinFreeBytes > 0 {
		_, _ = fmt.Fprintf(out, "  min free space:  %s\n", humanize.IBytes(cfg.MinFreeBytes))
	}
	return nil
}

func setupLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
		})
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "dropsyncd", "config.yaml")
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"source", cfg.Source,
		"destination", cfg.Destination,
		"poll_interval", cfg.PollInterval(),
		"conflict_policy", cfg.ConflictPolicy,
		"state_dir", cfg.StateDir)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
