package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xchannel/config"
	"github.com/trickstertwo/xchannel/rules"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

type runOptions struct {
	root     *rootOptions
	channels string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{root: root}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deploy the channels file and process messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&opts.channels, "channels", "", "channels file (overrides XCHANNEL_CHANNELS_FILE)")
	return cmd
}

func newLogger(cfg *config.EngineConfig) *xlog.Logger {
	zc := zerolog.Config{
		Console:           cfg.Log.Console,
		ConsoleTimeFormat: time.RFC3339Nano,
		Caller:            cfg.Log.Caller,
		CallerSkip:        5,
	}
	if cfg.Log.Debug {
		zc.MinLevel = xlog.LevelDebug
	}
	return zerolog.Use(zc).With(xlog.Str("app", "xchannel"), xlog.Str("server_id", cfg.ServerID))
}

func run(ctx context.Context, opts *runOptions) error {
	cfg, err := config.Load(opts.root.envFiles...)
	if err != nil {
		return err
	}
	if opts.channels != "" {
		cfg.ChannelsFile = opts.channels
	}
	logger := newLogger(cfg)

	defs, err := config.LoadChannels(cfg.ChannelsFile)
	if err != nil {
		return err
	}

	deps, closeStorage, err := newDependencies(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStorage(); err != nil {
			logger.Warn().Err(err).Msg("xchannel: closing storage")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Logger = logger
	deps.Runtime = rules.New()
	deps.Registerer = registry
	deps.Observers = append(deps.Observers, xchannel.LoggingObserver{Logger: logger})

	engine := xchannel.NewEngine(deps)
	xchannel.SetDefault(engine)

	var srv *http.Server
	if cfg.Metrics.Enabled {
		srv = newMetricsServer(cfg.Metrics, registry, engine)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.Metrics.Addr).Msg("xchannel: metrics server failed")
			}
		}()
	}

	deployErr := deployAll(ctx, engine, defs, logger)

	if deployErr == nil {
		logger.Info().
			Str("storage", cfg.Storage).
			Str("channels_file", cfg.ChannelsFile).
			Msg("xchannel: engine running")
		<-ctx.Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("xchannel: shutting down")
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("xchannel: undeploy failed")
	}
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	return deployErr
}

// deployAll deploys every definition, stopping at the first failure.
func deployAll(ctx context.Context, engine *xchannel.Engine, defs []xchannel.ChannelDefinition, logger *xlog.Logger) error {
	for _, def := range defs {
		ch, err := engine.DeployDefinition(ctx, def)
		if err != nil {
			logger.Error().Err(err).Str("channel_id", def.ID).Msg("xchannel: deploy failed")
			return err
		}
		logger.Info().
			Str("channel_id", ch.ID()).
			Str("state", string(ch.State())).
			Msg("xchannel: channel ready")
	}
	return nil
}

func newMetricsServer(opts config.MetricsOptions, reg *prometheus.Registry, engine *xchannel.Engine) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(opts.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(engine.Health(r.Context()))
	})
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
