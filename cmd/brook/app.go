package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"brook/internal/build"
	"brook/internal/config"
	"brook/internal/config/tomlkeys"
	"brook/internal/logging"
	"brook/internal/metrics"
	"brook/internal/report"
	"brook/internal/task"
	"brook/internal/version"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	cwd        string
	verbose    bool
	quiet      bool
	overrides  []string
	series     bool
}

type app struct {
	stdout  io.Writer
	stderr  io.Writer
	options globalOptions
	// notifySignals subscribes ch to the shutdown signals.
	notifySignals func(ch chan<- os.Signal)
	metrics       *metrics.Registry
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		notifySignals: func(ch chan<- os.Signal) {
			signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		},
		metrics: metrics.Default,
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "brook [task...]",
		Short: "Run front-end asset build tasks",
		Long: `brook compiles styles, scripts and pages from a source tree into a
distributable tree, and serves the project with live reload while you work.

Without arguments the default task runs. Several tasks run in parallel unless
--series is given.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTasks(args)
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.options.configPath, "config", "c", "", "Path to the project configuration (default <cwd>/brook.toml)")
	flags.StringVar(&a.options.cwd, "cwd", "", "Project directory (default current directory)")
	flags.BoolVarP(&a.options.verbose, "verbose", "v", false, "Log debug output")
	flags.BoolVarP(&a.options.quiet, "quiet", "q", false, "Only print errors")
	flags.StringArrayVar(&a.options.overrides, "set", nil, "Override a config value (key=value, repeatable)")
	root.Flags().BoolVar(&a.options.series, "series", false, "Run the requested tasks one after another")

	root.AddCommand(a.listCommand(), a.configCommand(), a.initCommand(), a.versionCommand())
	return root
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the brook version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetVersionInfo().String())
		},
	}
}

// projectRoot resolves --cwd to an absolute directory.
func (a *app) projectRoot() (string, error) {
	root := a.options.cwd
	if root == "" {
		root = "."
	}
	absolute, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project directory: %w", err)
	}
	return absolute, nil
}

func (a *app) parseOverrides() (map[string]any, error) {
	if len(a.options.overrides) == 0 {
		return nil, nil
	}
	overrides := make(map[string]any, len(a.options.overrides))
	for _, entry := range a.options.overrides {
		key, value, err := tomlkeys.ParseAssignment(entry)
		if err != nil {
			return nil, fmt.Errorf("--set: %w", err)
		}
		overrides[key] = value
	}
	return overrides, nil
}

func (a *app) loadConfig() (config.Config, error) {
	root, err := a.projectRoot()
	if err != nil {
		return config.Config{}, err
	}
	overrides, err := a.parseOverrides()
	if err != nil {
		return config.Config{}, err
	}
	return config.LoadProject(root, a.options.configPath, overrides)
}

func (a *app) logger(cfg config.Config) *logging.Logger {
	level, ok := logging.ParseLevel(cfg.Log.Level)
	if !ok {
		level = logging.LevelInfo
	}
	switch {
	case a.options.verbose:
		level = logging.LevelDebug
	case a.options.quiet:
		level = logging.LevelError
	}
	return logging.New(logging.Options{
		Level:  level,
		Format: logging.Format(cfg.Log.Format),
		Output: a.stderr,
	})
}

// runTasks composes the requested tasks and runs them to completion, or until
// a shutdown signal arrives.
func (a *app) runTasks(names []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	logger := a.logger(cfg)
	project, err := build.New(build.Options{Config: cfg, Logger: logger, Metrics: a.metrics})
	if err != nil {
		return err
	}
	registry, err := project.Registry()
	if err != nil {
		return err
	}
	unit, err := registry.Compose(names, a.options.series)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 2)
	if a.notifySignals != nil {
		a.notifySignals(signals)
	}
	stopSignals := interruptOn(logger, cancel, signals)

	reporter := report.New(a.stdout, logger)
	consumers := []task.Observer{a.metrics.Observe}
	if !a.options.quiet {
		consumers = append(consumers, reporter.Observe)
	}
	feed := report.NewFeed(context.Background(), logger, a.metrics, consumers...)

	cleanup := newTeardown(logger)
	cleanup.Add("signals", func(context.Context) error {
		signal.Stop(signals)
		stopSignals()
		return nil
	})
	cleanup.Add("task events", func(context.Context) error {
		feed.Close()
		return nil
	})

	a.metrics.IncRunStarted()
	runErr := unit.Run(task.WithRunID(task.WithObserver(ctx, feed.Observe)))
	if runErr != nil {
		a.metrics.IncRunFailed()
	} else {
		a.metrics.IncRunSucceeded()
	}
	if err := cleanup.Run(context.Background()); err != nil {
		logger.Warn("shutdown incomplete", map[string]string{"error": err.Error()})
	}
	if runErr != nil {
		report.New(a.stderr, nil).Failure(runErr)
		return errReported
	}
	return nil
}
