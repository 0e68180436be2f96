package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/mccutchen/hrefresolver"
	"github.com/mccutchen/hrefresolver/config"
	"github.com/mccutchen/hrefresolver/svg"
	"github.com/mccutchen/hrefresolver/telemetry"
)

const appName = "hrefresolve"

// app holds the state shared by every subcommand. It is populated by the
// root command's PersistentPreRunE, once flags have been parsed.
type app struct {
	stdout io.Writer
	stderr io.Writer
	fs     afero.Fs

	// flags
	configPath string
	envFiles   []string
	logLevel   string
	timeout    time.Duration

	cfg      *config.Config
	logger   zerolog.Logger
	tp       trace.TracerProvider
	resolver hrefresolver.Interface
	closers  []func(context.Context) error
}

func newApp(stdout, stderr io.Writer, fs afero.Fs) *app {
	return &app{
		stdout: stdout,
		stderr: stderr,
		fs:     fs,
		logger: zerolog.Nop(),
	}
}

// execute runs the command line given by args and releases every resource
// acquired along the way.
func (a *app) execute(ctx context.Context, args []string) error {
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root.ExecuteContext(ctx)
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Resolve the resources behind SVG image hrefs",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	flags.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files to load, missing files are ignored")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-resource fetch timeout (default from config, 10s)")

	root.AddCommand(
		a.fetchCmd(),
		a.inspectCmd(),
		a.serveCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.fs, a.configPath, a.envFiles...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("timeout") {
		cfg.Resolver.Timeout = a.timeout
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	a.cfg = cfg

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	a.logger = zerolog.New(a.stderr).With().Timestamp().Logger().Level(level)

	ctx := cmd.Context()
	tp, shutdown, err := telemetry.Init(ctx, cfg.Telemetry, a.logger)
	if err != nil {
		return err
	}
	a.tp = tp
	a.closers = append(a.closers, shutdown)

	resolver, closeResolver, err := initResolver(cfg, tp, a.logger)
	if err != nil {
		return err
	}
	a.resolver = resolver
	a.closers = append(a.closers, closeResolver)
	return nil
}

// close releases resources in the reverse order they were acquired.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Error().Err(err).Msg("shutdown error")
	}
}

// svgOptions builds the options used to parse documents, with the app's
// resolver installed.
func (a *app) svgOptions(resolver hrefresolver.Interface) *svg.Options {
	opts := svg.DefaultOptions()
	opts.Concurrency = a.cfg.Resolver.Concurrency
	opts.MaxDepth = a.cfg.Resolver.MaxDepth
	opts.MaxResolves = a.cfg.Resolver.MaxResolves
	hrefresolver.SetIntoOptions(resolver, opts)
	return opts
}
