// Package protocol implements the version and capability negotiation layer
// of the driftsync wire protocol. Before any file data moves, the two peers
// must agree on a protocol version, reconcile pre-release builds, validate
// which requested features are legal under the agreed version, and derive
// identical per-entry attribute slot layouts without ever transmitting them.
package protocol

// Version policy constants for the current protocol family. They are carried
// as data (see Bounds) so the negotiation engine can be reused across
// protocol revisions.
const (
	// ProtocolVersion is the newest protocol revision this build speaks.
	ProtocolVersion = 31

	// SubProtocolVersion tags a pre-release build of ProtocolVersion.
	// Zero means this build speaks the final, released revision.
	SubProtocolVersion = 0

	// MinProtocolVersion is the oldest peer revision still accepted.
	MinProtocolVersion = 20

	// MaxProtocolVersion is the newest peer revision this build will even
	// attempt to talk down from.
	MaxProtocolVersion = 40

	// OldProtocolVersion is the advisory threshold: peers below it still
	// work but earn an upgrade recommendation.
	OldProtocolVersion = 25
)

// Bounds is the version range policy applied during negotiation.
type Bounds struct {
	// Current is the revision this build advertises.
	Current int

	// Sub is the pre-release tag of Current; 0 means final.
	Sub int

	// Min and Max bound the revisions accepted from a peer.
	Min int
	Max int

	// Old is the advisory warning threshold.
	Old int
}

// DefaultBounds returns the bounds for the current protocol family.
func DefaultBounds() Bounds {
	return Bounds{
		Current: ProtocolVersion,
		Sub:     SubProtocolVersion,
		Min:     MinProtocolVersion,
		Max:     MaxProtocolVersion,
		Old:     OldProtocolVersion,
	}
}

// Supported reports whether a peer-advertised version falls inside the
// accepted range.
func (b Bounds) Supported(version int) bool {
	return version >= b.Min && version <= b.Max
}
