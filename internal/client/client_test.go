package client

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/driftsync/driftsync/internal/common"
	"github.com/driftsync/driftsync/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunLocal(t *testing.T) {
	cfg := common.DefaultClientConfig()
	cfg.Sync.PreserveOwner = true
	cfg.Sync.PreserveGroup = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := New(cfg, testLogger()).RunLocal(ctx)
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}

	neg := result.Negotiation
	if neg.Protocol != protocol.ProtocolVersion {
		t.Errorf("negotiated %d, want %d", neg.Protocol, protocol.ProtocolVersion)
	}
	if neg.Slots.UID == 0 || neg.Slots.GID == 0 {
		t.Errorf("owner/group slots not allocated: %+v", neg.Slots)
	}
}

func TestRunLocal_ACLsUnderOldProtocol(t *testing.T) {
	// ACL preservation below protocol 30 is only legal over a local pipe;
	// the in-process run is exactly that case.
	cfg := common.DefaultClientConfig()
	cfg.ProtocolVersion = 29
	cfg.Sync.PreserveACLs = true

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := New(cfg, testLogger()).RunLocal(ctx)
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
	if result.Negotiation.Protocol != 29 {
		t.Errorf("negotiated %d, want 29", result.Negotiation.Protocol)
	}
}

func TestRunLocal_PartialRuleInstalled(t *testing.T) {
	cfg := common.DefaultClientConfig()
	cfg.Sync.PartialDir = ".drift-partial"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := New(cfg, testLogger()).RunLocal(ctx)
	if err != nil {
		t.Fatalf("RunLocal failed: %v", err)
	}
	if len(result.Rules) != 1 {
		t.Fatalf("got %d filter rules, want 1", len(result.Rules))
	}
	if result.Rules[0].Pattern != ".drift-partial" {
		t.Errorf("rule pattern = %q", result.Rules[0].Pattern)
	}
}
