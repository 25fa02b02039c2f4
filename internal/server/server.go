package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftsync/driftsync/internal/common"
	"github.com/driftsync/driftsync/internal/database"
	"github.com/driftsync/driftsync/internal/telemetry"
)

// Server is the driftsync daemon: the negotiation control plane plus an
// admin listener for health, metrics, the handshake audit log, and the
// websocket entry point.
type Server struct {
	config       *common.ServerConfig
	auth         Authenticator
	controlPlane *ControlPlane
	admin        *http.Server
	db           *database.DB
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new daemon from its configuration.
func NewServer(cfg *common.ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var db *database.DB
	if cfg.DatabasePath != "" {
		var err error
		db, err = database.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	var auth Authenticator = &NoOpAuthenticator{}
	if cfg.Auth.Require {
		secretAuth := NewSecretAuthenticator()
		if err := secretAuth.LoadFromFile(cfg.Auth.SecretsFile); err != nil {
			if db != nil {
				db.Close()
			}
			return nil, fmt.Errorf("failed to load secrets: %w", err)
		}
		auth = secretAuth
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:       cfg,
		auth:         auth,
		controlPlane: NewControlPlane(cfg, auth, db, logger),
		db:           db,
		logger:       logger.With(slog.String("component", "server")),
		ctx:          ctx,
		cancel:       cancel,
	}
	s.admin = &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      s.adminMux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) adminMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.HandleFunc("/connect", s.controlPlane.HandleWebSocket)
	mux.HandleFunc("/handshakes", s.handleHandshakes)
	return mux
}

// handleHandshakes serves the most recent audit records as JSON.
func (s *Server) handleHandshakes(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, "audit store disabled", http.StatusNotFound)
		return
	}
	records, err := s.db.RecentHandshakes(100)
	if err != nil {
		s.logger.Error("failed to list handshakes", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		s.logger.Error("failed to encode handshakes", slog.Any("error", err))
	}
}

// Run starts the daemon and blocks until a shutdown signal arrives.
func (s *Server) Run() error {
	if err := s.controlPlane.Start(); err != nil {
		return err
	}

	if s.config.AdminAddr != "" {
		go func() {
			s.logger.Info("admin listener starting", slog.String("addr", s.config.AdminAddr))
			if err := s.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("admin listener failed", slog.Any("error", err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.logger.Info("shutting down", slog.String("signal", sig.String()))
	case <-s.ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown stops the daemon and waits for in-flight handshakes.
func (s *Server) Shutdown() error {
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.admin.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("admin shutdown failed", slog.Any("error", err))
	}

	s.controlPlane.Stop()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}
