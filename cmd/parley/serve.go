package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dcrodman/parley/internal/chat"
	"github.com/dcrodman/parley/internal/core"
	"github.com/dcrodman/parley/internal/network"
)

func serveCmd() *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "", "Address to listen on (overrides server.address)")
	return cmd
}

func serve(ctx context.Context, cfg *core.Config) error {
	logger, err := core.NewLogger(cfg)
	if err != nil {
		return err
	}

	var metrics *network.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = network.NewMetrics(reg, network.DefaultNamespace)

		stopMetrics := serveMetrics(cfg.Metrics.Address, reg, logger)
		defer stopMetrics()
	}

	store, err := chat.OpenStore(cfg.Chat.Database, logger.IsLevelEnabled(logrus.DebugLevel))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn(err)
		}
	}()

	opts := append(cfg.ServerOptions(logger, metrics), network.WithPackets(chat.Packets()...))
	server, err := network.NewServer(cfg.Server.Address, opts...)
	if err != nil {
		return err
	}
	room, err := chat.NewService(server, store, cfg.Chat.HistorySize, logger)
	if err != nil {
		return err
	}
	defer room.Detach()

	if err := server.Start(); err != nil {
		return err
	}
	logger.Infof("chat server listening on %s", server.Addr())

	<-ctx.Done()
	logger.Info("shutting down")
	server.Stop()
	return nil
}

// serveMetrics exposes reg on /metrics until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger logrus.FieldLogger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Infof("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn(fmt.Errorf("stopping metrics server: %w", err))
		}
	}
}
