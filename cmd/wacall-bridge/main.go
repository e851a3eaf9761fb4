/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Command wacall-bridge answers WhatsApp business calls in a browser.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/tejzpr/wacall-bridge/bridge"
	"github.com/tejzpr/wacall-bridge/config"
	"github.com/tejzpr/wacall-bridge/graph"
	"github.com/tejzpr/wacall-bridge/history"
	"github.com/tejzpr/wacall-bridge/media"
	"github.com/tejzpr/wacall-bridge/metrics"
	"github.com/tejzpr/wacall-bridge/server"
	"github.com/tejzpr/wacall-bridge/session"
	"github.com/tejzpr/wacall-bridge/signaling"
	"github.com/tejzpr/wacall-bridge/webhook"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR loading config: %v\n", err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR creating logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("bridge stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	graphConfig := graph.DefaultConfig()
	graphConfig.BaseURL = cfg.GraphBaseURL
	graphConfig.APIVersion = cfg.GraphAPIVersion
	graphConfig.PhoneNumberID = cfg.PhoneNumberID
	graphConfig.Logger = logger
	graphClient, err := graph.NewClient(cfg.AccessToken, graphConfig)
	if err != nil {
		return fmt.Errorf("failed to create graph client: %w", err)
	}

	mediaConfig := media.DefaultConfig()
	mediaConfig.ICEServers = media.RelayICEServers(cfg.TURNUsername, cfg.TURNCredential)
	mediaConfig.GatherTimeout = cfg.GatherTimeout
	mediaConfig.Logger = logger
	peers, err := media.NewFactory(mediaConfig)
	if err != nil {
		return fmt.Errorf("failed to create media factory: %w", err)
	}

	var calls history.Store = history.NewMemoryStore(0)
	if cfg.DatabaseURL != "" {
		pg, err := history.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open call history: %w", err)
		}
		defer pg.Close()
		calls = pg
		logger.Info("call history stored in postgres")
	}

	hubConfig := signaling.DefaultHubConfig()
	hubConfig.Logger = logger
	hub := signaling.NewHub(hubConfig)

	sessions := session.NewRegistry()

	bridgeConfig := bridge.DefaultConfig()
	bridgeConfig.AcceptDelay = cfg.AcceptDelay
	bridgeConfig.Logger = logger
	orch, err := bridge.New(bridgeConfig, bridge.Deps{
		Sessions: sessions,
		Peers:    peers,
		Actions:  graphClient,
		Notifier: hub,
		History:  calls,
		Metrics:  m,
	})
	if err != nil {
		return fmt.Errorf("failed to create bridge: %w", err)
	}
	hub.SetHandler(orch)

	hookConfig := webhook.DefaultConfig()
	hookConfig.VerifyToken = cfg.VerifyToken
	hookConfig.AppSecret = cfg.AppSecret
	hookConfig.Logger = logger
	hookConfig.Metrics = m
	if cfg.AppSecret == "" {
		logger.Warn("APP_SECRET not set, webhook signatures are not verified")
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = cfg.Addr()
	serverConfig.PublicDir = cfg.PublicDir
	serverConfig.Logger = logger
	srv, err := server.New(serverConfig, server.Deps{
		Webhook:  webhook.NewReceiver(hookConfig, orch),
		Hub:      hub,
		Sessions: sessions,
		History:  calls,
		Gatherer: reg,
		Bridge:   orch,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("starting bridge",
		zap.String("addr", cfg.Addr()),
		zap.String("webhook", server.WebhookPath),
		zap.String("graph_endpoint", graphClient.Endpoint()),
		zap.Int("ice_servers", len(mediaConfig.ICEServers)),
	)
	return srv.Run(ctx)
}
