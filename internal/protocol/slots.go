package protocol

// ptrExtraLen is how many extra units a sender reserves at the base of each
// file-list entry to carry a pointer-sized reference; every other role
// reserves a single unit. Units are 32-bit extras, so a 64-bit reference
// takes two.
const ptrExtraLen = 2

// SlotLayout assigns ordinal positions for optional per-entry metadata
// inside the shared extensible file-list record. A zero index means the
// attribute is not carried. Both peers derive the same layout independently:
// the assignment is a pure function of the effective features and role
// class, and is never transmitted.
type SlotLayout struct {
	UID    int
	GID    int
	ACLs   int
	Xattrs int

	// ExtraCount is the total number of extra units every entry carries,
	// including the role-dependent base.
	ExtraCount int
}

// allocateSlots claims slot indices in fixed order: owner, group, ACLs,
// extended attributes. The order is load-bearing wire state; changing it
// desyncs the file list against any existing peer.
func allocateSlots(eff EffectiveFeatures, role Role) SlotLayout {
	var l SlotLayout
	if role.Sender {
		l.ExtraCount = ptrExtraLen
	} else {
		l.ExtraCount = 1
	}
	if eff.PreserveOwner {
		l.ExtraCount++
		l.UID = l.ExtraCount
	}
	if eff.PreserveGroup {
		l.ExtraCount++
		l.GID = l.ExtraCount
	}
	if eff.PreserveACLs && !role.Sender {
		l.ExtraCount++
		l.ACLs = l.ExtraCount
	}
	if eff.PreserveXattrs {
		l.ExtraCount++
		l.Xattrs = l.ExtraCount
	}
	return l
}
