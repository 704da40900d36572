package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-live/live-relay/internal/config"
	"github.com/weiawesome/wes-io-live/live-relay/internal/handler"
	"github.com/weiawesome/wes-io-live/live-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/live-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/live-relay/internal/ownership"
	"github.com/weiawesome/wes-io-live/live-relay/internal/relay"
	"github.com/weiawesome/wes-io-live/live-relay/internal/service"
	"github.com/weiawesome/wes-io-live/live-relay/internal/source"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/live-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/middleware"
	"github.com/weiawesome/wes-io-live/live-relay/pkg/pubsub"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config", "config directory or yaml file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port, overrides server.port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	m := metrics.MustNew(prometheus.DefaultRegisterer)

	factory, err := source.NewFactory(cfg.Source)
	if err != nil {
		return err
	}

	var (
		owners ownership.Registry
		bus    pubsub.PubSub
	)
	if cfg.Cluster.Enabled {
		reg, err := ownership.NewRedisRegistry(cfg.Redis, cfg.Server.InstanceID)
		if err != nil {
			return err
		}
		owners = reg
		logger.Info().Str("address", cfg.Redis.Address).Msg("ownership registry connected")

		bus, err = pubsub.NewPubSub(cfg.PubSub)
		if err != nil {
			reg.Close()
			return fmt.Errorf("failed to create pubsub: %w", err)
		}
		logger.Info().Str("driver", cfg.PubSub.Driver).Msg("event bus connected")

		factory = source.NewClusterFactory(factory, owners, bus, m, cfg.Cluster.OwnerCheckInterval)
	}

	rooms := relay.NewRegistry(cfg.RelayConfig(), factory, m)

	wsHub := hub.NewHub(cfg.WebSocket, m)
	go wsHub.Run()

	relaySvc := service.NewRelayService(wsHub, rooms, owners, bus)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := relaySvc.Start(ctx); err != nil {
		return err
	}

	// Admin routes stay closed without a secret.
	var validator middleware.TokenValidator
	if cfg.Admin.JWTSecret != "" {
		mgr, err := jwt.NewManager(cfg.Admin.JWTSecret, cfg.Admin.Issuer)
		if err != nil {
			return err
		}
		validator = mgr
	}

	r := newRouter(cfg, logger, prometheus.DefaultGatherer,
		handler.NewWSHandler(wsHub, relaySvc),
		handler.NewHandler(rooms, middleware.NewAuthMiddleware(validator)),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("source", cfg.Source.Driver).
			Bool("cluster", cfg.Cluster.Enabled).
			Msg("live-relay starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down live-relay")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop the relay first so viewers receive RELAY_SHUTDOWN before the
	// listener goes away.
	if err := relaySvc.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("relay stopped with errors")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("live-relay stopped")
	return serveErr
}
