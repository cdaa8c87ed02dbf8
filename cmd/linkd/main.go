package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"incubator-link/internal/config"
	"incubator-link/internal/core/link"
	"incubator-link/internal/device"
	"incubator-link/internal/engine"
	"incubator-link/internal/logging"
	"incubator-link/internal/metrics"
	"incubator-link/internal/settings"
	"incubator-link/internal/version"
)

type rootFlags struct {
	configPath string
	dataDir    string
	logLevel   string
	httpAddr   string
	dev        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:          "linkd",
		Short:        "Finds the incubator on the local network and keeps the connection alive",
		Version:      version.String(),
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	pf.StringVar(&f.dataDir, "data", "", "data directory (overrides config)")
	pf.StringVar(&f.logLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	pf.BoolVar(&f.dev, "dev", false, "human readable console logs")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the engine with the HTTP API and optional NATS bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(f)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return runDaemon(cmd.Context(), cfg, log)
		},
	}
	run.Flags().StringVar(&f.httpAddr, "http", "", "HTTP listen address (overrides config)")

	discover := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery cycle and print the verified endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(f)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			e, err := newEngine(cfg, log)
			if err != nil {
				return err
			}
			ep, ok, err := e.Discover(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no incubator found within %s", cfg.Discovery.Deadline)
			}
			return printJSON(cmd, ep)
		},
	}

	verify := &cobra.Command{
		Use:   "verify <host[:port]>",
		Short: "Check whether an address answers as the incubator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(f)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			e, err := newEngine(cfg, log)
			if err != nil {
				return err
			}
			ep, err := e.ParseTarget(args[0], device.ModeUnknown)
			if err != nil {
				return err
			}
			if err := e.Verify(cmd.Context(), ep); err != nil {
				return fmt.Errorf("%s: %s: %w", ep.Key(), device.KindOf(err), err)
			}
			return printJSON(cmd, e.State().Current)
		},
	}

	root.AddCommand(run, discover, verify)
	return root
}

func setup(f *rootFlags) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.httpAddr != "" {
		cfg.HTTPAddr = f.httpAddr
	}
	if f.dev {
		cfg.Log.Development = true
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, log, nil
}

// newEngine opens the settings store under the data dir so every command shares the
// persisted last-known endpoint.
func newEngine(cfg config.Config, log *zap.Logger, obs ...link.Observer) (*engine.Engine, error) {
	store, err := settings.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("settings open: %w", err)
	}
	return engine.New(engine.Options{
		Config:    cfg,
		Log:       log,
		Metrics:   metrics.New(),
		Store:     store,
		Observers: obs,
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
