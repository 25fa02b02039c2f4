// Package client connects to a driftsync daemon and negotiates the protocol
// contract for one session.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/driftsync/driftsync/internal/common"
	"github.com/driftsync/driftsync/internal/filter"
	"github.com/driftsync/driftsync/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
)

// defaultYamuxConfig returns the multiplexer settings used by clients,
// matching the daemon side.
func defaultYamuxConfig() *yamux.Config {
	config := yamux.DefaultConfig()
	config.AcceptBacklog = 256
	config.EnableKeepAlive = true
	config.KeepAliveInterval = 30 * time.Second
	config.ConnectionWriteTimeout = 10 * time.Second
	config.StreamOpenTimeout = 30 * time.Second
	config.MaxStreamWindowSize = 256 * 1024 // 256KB
	return config
}

// Result is the outcome of one negotiation run: the agreed contract and any
// filter rules negotiation installed locally.
type Result struct {
	Negotiation *protocol.Negotiation
	Rules       []filter.Rule
}

// Client performs a single handshake against a daemon.
type Client struct {
	config *common.ClientConfig
	logger *slog.Logger
}

// New creates a client from its configuration.
func New(cfg *common.ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config: cfg,
		logger: logger.With(slog.String("component", "client")),
	}
}

// Run dials the daemon and negotiates. The context bounds the dial and the
// handshake; a failed handshake is fatal for the connection and is never
// retried here.
func (c *Client) Run(ctx context.Context) (*Result, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
	}

	muxSession, err := yamux.Client(conn, defaultYamuxConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create yamux session: %w", err)
	}
	defer muxSession.Close()

	stream, err := muxSession.OpenStream()
	if err != nil {
		return nil, fmt.Errorf("failed to open negotiation stream: %w", err)
	}
	defer stream.Close()

	transport := protocol.NewTransport(stream, stream)

	if c.config.Secret != "" {
		if err := transport.WriteLine(c.config.Secret); err != nil {
			return nil, fmt.Errorf("failed to send secret: %w", err)
		}
	}

	role := protocol.Role{Sender: c.config.Sender}
	return c.negotiate(transport, role)
}

func (c *Client) negotiate(transport *protocol.Transport, role protocol.Role) (*Result, error) {
	opts := c.config.Sync.ToOptions()
	opts.DesiredProtocol = c.config.ProtocolVersion
	opts.PreReleaseMarker = c.config.PreReleaseMarker
	if c.config.BatchProtocol != 0 {
		opts.ReadBatch = true
		opts.BatchProtocol = c.config.BatchProtocol
	}

	rules := filter.NewList()
	neg, err := protocol.Setup(transport, opts, role, protocol.DefaultBounds(), rules, c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Info("negotiation complete",
		slog.Int("remote_protocol", neg.RemoteProtocol),
		slog.Int("negotiated", neg.Protocol),
		slog.Bool("inc_recurse", neg.Features.IncRecurse))

	return &Result{Negotiation: neg, Rules: rules.Rules()}, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.config.UseWebSocket() {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.ServerAddr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", c.config.ServerAddr, err)
		}
		return common.NewWSConn(ws), nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.config.ServerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", c.config.ServerAddr, err)
	}
	return conn, nil
}

// RunLocal negotiates both roles inside this process over an in-memory pipe,
// the local-transfer case where no network peer exists. The serving side uses
// the same option set; both roles see a local pipe, which relaxes the
// network-only feature gates.
func (c *Client) RunLocal(ctx context.Context) (*Result, error) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- c.serveLocal(serverConn)
	}()

	muxSession, err := yamux.Client(clientConn, defaultYamuxConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create yamux session: %w", err)
	}
	defer muxSession.Close()

	stream, err := muxSession.OpenStream()
	if err != nil {
		return nil, fmt.Errorf("failed to open negotiation stream: %w", err)
	}
	defer stream.Close()

	role := protocol.Role{Sender: c.config.Sender, LocalPipe: true}
	result, err := c.negotiate(protocol.NewTransport(stream, stream), role)
	if err != nil {
		return nil, err
	}

	select {
	case err := <-serveErr:
		if err != nil {
			return nil, fmt.Errorf("serving side: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("serving side did not finish")
	}
	return result, nil
}

// serveLocal plays the serving role of a local transfer.
func (c *Client) serveLocal(conn net.Conn) error {
	muxSession, err := yamux.Server(conn, defaultYamuxConfig())
	if err != nil {
		return fmt.Errorf("failed to create yamux session: %w", err)
	}
	defer muxSession.Close()

	stream, err := muxSession.AcceptStream()
	if err != nil {
		return fmt.Errorf("failed to accept negotiation stream: %w", err)
	}
	defer stream.Close()

	opts := c.config.Sync.ToOptions()
	opts.DesiredProtocol = c.config.ProtocolVersion
	role := protocol.Role{Server: true, Sender: !c.config.Sender, LocalPipe: true}

	_, err = protocol.Setup(protocol.NewTransport(stream, stream), opts, role,
		protocol.DefaultBounds(), filter.NewList(), c.logger)
	return err
}
