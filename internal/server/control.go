package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/driftsync/driftsync/internal/common"
	"github.com/driftsync/driftsync/internal/database"
	"github.com/driftsync/driftsync/internal/filter"
	"github.com/driftsync/driftsync/internal/protocol"
	"github.com/driftsync/driftsync/internal/telemetry"
	"github.com/hashicorp/yamux"
)

// ControlPlane accepts peer connections and runs the protocol negotiation on
// each one.
type ControlPlane struct {
	config   *common.ServerConfig
	listener net.Listener
	auth     Authenticator
	db       *database.DB
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewControlPlane creates a new control plane. db may be nil when auditing
// is disabled.
func NewControlPlane(cfg *common.ServerConfig, auth Authenticator, db *database.DB, logger *slog.Logger) *ControlPlane {
	ctx, cancel := context.WithCancel(context.Background())

	return &ControlPlane{
		config: cfg,
		auth:   auth,
		db:     db,
		logger: logger.With(slog.String("component", "control_plane")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins listening for peer connections.
func (cp *ControlPlane) Start() error {
	listener, err := net.Listen("tcp", cp.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cp.config.ListenAddr, err)
	}
	cp.listener = listener

	cp.logger.Info("control plane listening", slog.String("addr", cp.config.ListenAddr))

	cp.wg.Add(1)
	go cp.acceptLoop()
	return nil
}

// Addr returns the bound listener address.
func (cp *ControlPlane) Addr() net.Addr {
	if cp.listener == nil {
		return nil
	}
	return cp.listener.Addr()
}

// Stop shuts the control plane down and waits for in-flight handshakes.
func (cp *ControlPlane) Stop() {
	cp.cancel()
	if cp.listener != nil {
		cp.listener.Close()
	}
	cp.wg.Wait()
}

// acceptLoop accepts incoming peer connections.
func (cp *ControlPlane) acceptLoop() {
	defer cp.wg.Done()

	for {
		conn, err := cp.listener.Accept()
		if err != nil {
			select {
			case <-cp.ctx.Done():
				return
			default:
				if !errors.Is(err, net.ErrClosed) {
					cp.logger.Error("failed to accept connection", slog.Any("error", err))
				}
				continue
			}
		}

		cp.wg.Add(1)
		go func() {
			defer cp.wg.Done()
			cp.HandleConn(conn, "tcp")
		}()
	}
}

// HandleConn negotiates with one peer over an established connection. The
// websocket entry point funnels into here as well, with its own transport
// label.
func (cp *ControlPlane) HandleConn(conn net.Conn, transportName string) {
	defer conn.Close()

	remoteAddr := conn.RemoteAddr().String()
	logger := cp.logger.With(
		slog.String("remote_addr", remoteAddr),
		slog.String("transport", transportName))
	logger.Debug("new connection")

	if err := conn.SetDeadline(time.Now().Add(cp.config.HandshakeTimeout)); err != nil {
		logger.Error("failed to set deadline", slog.Any("error", err))
		return
	}

	// The peer opens one multiplexed stream and the whole handshake runs
	// on it. Later transfer phases open their own streams on the same
	// session.
	muxSession, err := yamux.Server(conn, DefaultYamuxConfig())
	if err != nil {
		logger.Error("failed to create yamux session", slog.Any("error", err))
		return
	}
	defer muxSession.Close()

	stream, err := muxSession.AcceptStream()
	if err != nil {
		logger.Error("failed to accept negotiation stream", slog.Any("error", err))
		return
	}
	defer stream.Close()

	transport := protocol.NewTransport(stream, stream)

	if cp.config.Auth.Require {
		secret, err := transport.ReadLine()
		if err != nil {
			logger.Warn("failed to read auth line", slog.Any("error", err))
			return
		}
		ok, err := cp.auth.Verify(secret)
		if err != nil {
			logger.Error("authentication error", slog.Any("error", err))
			return
		}
		if !ok {
			logger.Warn("authentication rejected")
			return
		}
	}

	handshakeID := common.GenerateHandshakeID()
	opts := cp.config.Sync.ToOptions()
	opts.DesiredProtocol = cp.config.ProtocolVersion
	opts.ChecksumSeed = cp.config.ChecksumSeed
	role := protocol.Role{Server: true, Sender: cp.config.Sender}

	rules := filter.NewList()
	start := time.Now()
	neg, err := protocol.Setup(transport, opts, role, protocol.DefaultBounds(), rules, logger)

	telemetry.HandshakesTotal.WithLabelValues(outcomeLabel(err), transportName).Inc()

	if err != nil {
		logger.Error("negotiation failed",
			slog.String("handshake_id", handshakeID),
			slog.Any("error", err))
		cp.record(database.HandshakeRecord{
			HandshakeID: handshakeID,
			RemoteAddr:  remoteAddr,
			Transport:   transportName,
			Error:       err.Error(),
		}, logger)
		return
	}

	telemetry.NegotiatedVersions.WithLabelValues(strconv.Itoa(neg.Protocol)).Inc()
	telemetry.HandshakeDuration.Observe(time.Since(start).Seconds())

	logger.Info("negotiation complete",
		slog.String("handshake_id", handshakeID),
		slog.Int("remote_protocol", neg.RemoteProtocol),
		slog.Int("negotiated", neg.Protocol),
		slog.Bool("inc_recurse", neg.Features.IncRecurse),
		slog.Int("filter_rules", rules.Len()))

	cp.record(database.HandshakeRecord{
		HandshakeID:    handshakeID,
		RemoteAddr:     remoteAddr,
		Transport:      transportName,
		RemoteProtocol: neg.RemoteProtocol,
		Negotiated:     neg.Protocol,
		ChecksumSeed:   neg.Seed,
		IncRecurse:     neg.Features.IncRecurse,
	}, logger)

	// The transfer phases that would consume the contract are out of
	// scope here; the session ends once the contract is recorded.
}

func (cp *ControlPlane) record(rec database.HandshakeRecord, logger *slog.Logger) {
	if cp.db == nil {
		return
	}
	if err := cp.db.RecordHandshake(rec); err != nil {
		logger.Error("failed to record handshake", slog.Any("error", err))
	}
}

// outcomeLabel maps a negotiation result to a metrics label.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, protocol.ErrVersionOutOfRange):
		return "version_out_of_range"
	case errors.Is(err, protocol.ErrLocalVersionTooLow):
		return "local_version_too_low"
	case errors.Is(err, protocol.ErrLocalVersionTooHigh):
		return "local_version_too_high"
	case errors.Is(err, protocol.ErrBatchTooNew):
		return "batch_too_new"
	case errors.Is(err, protocol.ErrFeatureRequiresNewerProtocol):
		return "feature_requires_newer_protocol"
	default:
		return "transport_error"
	}
}

// DefaultYamuxConfig returns the multiplexer settings used on both ends.
func DefaultYamuxConfig() *yamux.Config {
	config := yamux.DefaultConfig()
	config.AcceptBacklog = 256
	config.EnableKeepAlive = true
	config.KeepAliveInterval = 30 * time.Second
	config.ConnectionWriteTimeout = 10 * time.Second
	config.StreamOpenTimeout = 30 * time.Second
	config.MaxStreamWindowSize = 256 * 1024 // 256KB
	return config
}
