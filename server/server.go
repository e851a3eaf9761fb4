/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package server exposes the bridge over HTTP: the webhook endpoint, the
// browser signaling socket and operational endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tejzpr/wacall-bridge/history"
	"github.com/tejzpr/wacall-bridge/session"
	"github.com/tejzpr/wacall-bridge/signaling"
	"github.com/tejzpr/wacall-bridge/webhook"
)

// WebhookPath is where the calling service delivers call events.
const WebhookPath = "/call-events"

// Closer is stopped before the listener during shutdown.
type Closer interface {
	Close(ctx context.Context) error
}

// Config holds configuration for the Server.
type Config struct {
	Addr string

	// PublicDir serves the browser client when set.
	PublicDir string

	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration

	Logger *zap.Logger
}

// DefaultConfig returns a Config listening on :10000.
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":10000",
		ShutdownTimeout:   10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Deps are the components the server routes to. History, Gatherer and
// Bridge are optional.
type Deps struct {
	Webhook  *webhook.Receiver
	Hub      *signaling.Hub
	Sessions session.Store
	History  history.Store
	Gatherer prometheus.Gatherer
	Bridge   Closer
}

// Server is the bridge HTTP server.
type Server struct {
	config     *Config
	deps       Deps
	router     *mux.Router
	httpServer *http.Server
	logger     *zap.Logger
	startTime  time.Time
}

// New creates a Server and registers its routes.
func New(config *Config, deps Deps) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Webhook == nil || deps.Hub == nil || deps.Sessions == nil {
		return nil, errors.New("webhook receiver, hub and sessions are required")
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    config,
		deps:      deps,
		router:    mux.NewRouter(),
		logger:    logger.Named("server"),
		startTime: time.Now(),
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	return s, nil
}

func (s *Server) routes() {
	s.router.HandleFunc(WebhookPath, s.deps.Webhook.Verify).Methods(http.MethodGet)
	s.router.HandleFunc(WebhookPath, s.deps.Webhook.Receive).Methods(http.MethodPost)
	s.router.Handle("/ws", s.deps.Hub).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/calls", s.handleCalls).Methods(http.MethodGet)
	s.router.HandleFunc("/calls/history", s.handleHistory).Methods(http.MethodGet)
	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	if s.config.PublicDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.config.PublicDir))).Methods(http.MethodGet)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then stops the bridge, disconnects browsers
// and drains the listener.
func (s *Server) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		s.logger.Info("shutting down")
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	var err error
	if s.deps.Bridge != nil {
		err = multierr.Append(err, s.deps.Bridge.Close(ctx))
	}
	s.deps.Hub.Close()
	err = multierr.Append(err, s.httpServer.Shutdown(ctx))
	return err
}

type healthResponse struct {
	Status   string `json:"status"`
	Uptime   int64  `json:"uptime"`
	Calls    int    `json:"calls"`
	Browsers int    `json:"browsers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Uptime:   int64(time.Since(s.startTime).Seconds()),
		Calls:    s.deps.Sessions.Len(),
		Browsers: s.deps.Hub.Len(),
	})
}

func (s *Server) handleCalls(w http.ResponseWriter, _ *http.Request) {
	sessions := s.deps.Sessions.List()
	snapshots := make([]session.Snapshot, 0, len(sessions))
	for _, sess := range sessions {
		snapshots = append(snapshots, sess.Snapshot())
	}
	s.writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.writeJSON(w, http.StatusOK, []history.Record{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.deps.History.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list call history", zap.Error(err))
		http.Error(w, "failed to list call history", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
