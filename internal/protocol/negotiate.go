package protocol

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/driftsync/driftsync/internal/filter"
)

// Role identifies this peer's side of the connection. It determines
// handshake initiative order and which feature checks apply only to
// networked peers.
type Role struct {
	// Server is true for the peer that was invoked to serve the transfer.
	Server bool

	// Sender is true for the peer that sends file data.
	Sender bool

	// LocalPipe is true when the peer is reached through an in-process
	// pipe rather than a network socket.
	LocalPipe bool
}

// Side names the role for user-visible messages.
func (r Role) Side() string {
	if r.Server {
		return "Server"
	}
	return "Client"
}

// FilterRules is the negotiation layer's only hook into the rule-matching
// engine: at most one rule is installed per handshake.
type FilterRules interface {
	Add(pattern string, flags filter.RuleFlag)
}

// Negotiation is the agreed contract for one connection. It is constructed
// by Setup and immutable afterward; every later layer reads it, none mutate
// it.
type Negotiation struct {
	// RemoteProtocol is the version the peer advertised.
	RemoteProtocol int

	// Protocol is the negotiated version both sides will speak.
	Protocol int

	// Features is the request set after version-dependent resolution.
	Features EffectiveFeatures

	// Slots is the shared per-entry attribute layout.
	Slots SlotLayout

	// Seed is the shared checksum randomization seed.
	Seed int32
}

// Setup runs the whole handshake: version exchange with pre-release
// reconciliation, bounds checks, feature gating, slot allocation, partial-dir
// rule installation, and the checksum seed exchange. It either returns the
// complete contract or a fatal error; there is no partial state to retry.
func Setup(t *Transport, opts Options, role Role, b Bounds, rules FilterRules, logger *slog.Logger) (*Negotiation, error) {
	if logger == nil {
		logger = slog.Default()
	}

	version := opts.DesiredProtocol
	if version == 0 {
		version = b.Current
	}

	remote := 0
	if opts.ReadBatch {
		remote = opts.BatchProtocol
	}

	if remote == 0 {
		if role.Server && !role.LocalPipe {
			version = resolveSubProtocol(opts.PreReleaseMarker, version, b)
		}
		if !opts.ReadBatch {
			if err := t.WriteInt(int32(version)); err != nil {
				return nil, fmt.Errorf("send protocol version: %w", err)
			}
		}
		v, err := t.ReadInt()
		if err != nil {
			return nil, fmt.Errorf("receive protocol version: %w", err)
		}
		remote = int(v)
		if version > remote {
			version = remote
		}
	}
	if opts.ReadBatch && remote > version {
		return nil, failf(ErrBatchTooNew,
			"the protocol version in the batch file is too new (%d > %d)", remote, version)
	}

	logger.Debug("protocol versions",
		slog.String("side", role.Side()),
		slog.Int("remote", remote),
		slog.Int("negotiated", version))

	if !b.Supported(remote) {
		return nil, failf(ErrVersionOutOfRange,
			"protocol version mismatch: peer speaks %d, supported range is %d-%d (is your shell clean?)",
			remote, b.Min, b.Max)
	}
	if remote < b.Old {
		logger.Info("peer runs a very old protocol version, upgrade recommended",
			slog.Int("remote", remote))
	}
	if version < b.Min {
		return nil, failf(ErrLocalVersionTooLow,
			"the protocol override must be at least %d on the %s", b.Min, role.Side())
	}
	if version > b.Current {
		return nil, failf(ErrLocalVersionTooHigh,
			"the protocol override must be no more than %d on the %s", b.Current, role.Side())
	}

	eff, err := applyGates(version, opts, role)
	if err != nil {
		return nil, err
	}

	slots := allocateSlots(eff, role)
	installPartialRule(eff, role, version, rules)

	seed, err := exchangeSeed(t, opts.ChecksumSeed, role)
	if err != nil {
		return nil, err
	}

	return &Negotiation{
		RemoteProtocol: remote,
		Protocol:       version,
		Features:       eff,
		Slots:          slots,
		Seed:           seed,
	}, nil
}

// installPartialRule excludes a relative partial directory from normal
// matching on the side that owns it. Network-facing servers skip it; their
// partial dir is not subject to the client's rules.
func installPartialRule(eff EffectiveFeatures, role Role, version int, rules FilterRules) {
	if rules == nil || eff.PartialDir == "" {
		return
	}
	if strings.HasPrefix(eff.PartialDir, "/") {
		return
	}
	if role.Server && !role.LocalPipe {
		return
	}
	flags := filter.NoPrefixes | filter.Directory
	if !role.Sender || version >= 30 {
		flags |= filter.Perishable
	}
	rules.Add(eff.PartialDir, flags)
}

// exchangeSeed establishes the shared checksum seed: the server generates or
// forwards one, the client reads it.
func exchangeSeed(t *Transport, fixed int32, role Role) (int32, error) {
	if role.Server {
		seed := fixed
		if seed == 0 {
			seed = int32(time.Now().Unix())
		}
		if err := t.WriteInt(seed); err != nil {
			return 0, fmt.Errorf("send checksum seed: %w", err)
		}
		return seed, nil
	}
	seed, err := t.ReadInt()
	if err != nil {
		return 0, fmt.Errorf("receive checksum seed: %w", err)
	}
	return seed, nil
}
