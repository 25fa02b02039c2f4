package protocol

// DeleteTiming selects when deletions happen relative to the transfer.
type DeleteTiming int

const (
	// DeleteUnspecified defers the choice to negotiation: deletions run
	// "before" under old protocols and "during" from version 30 on.
	DeleteUnspecified DeleteTiming = iota
	DeleteBefore
	DeleteDuring
	DeleteAfter
)

func (d DeleteTiming) String() string {
	switch d {
	case DeleteBefore:
		return "before"
	case DeleteDuring:
		return "during"
	case DeleteAfter:
		return "after"
	default:
		return "unspecified"
	}
}

// Options is the locally-configured feature request set, built once from
// parsed configuration and consumed read-only by negotiation.
type Options struct {
	// DesiredProtocol overrides the advertised version; 0 means the
	// build's current version.
	DesiredProtocol int

	// PreReleaseMarker is the peer-supplied "VER.SUB" string from the
	// shell invocation when the peer runs a pre-release build.
	PreReleaseMarker string

	// ReadBatch replays a previously recorded transfer instead of talking
	// to a live peer. BatchProtocol is the version recorded in the batch.
	ReadBatch     bool
	BatchProtocol int

	// ChecksumSeed fixes the checksum randomization seed; 0 lets the
	// server generate one.
	ChecksumSeed int32

	// MaxDelete caps deletions; -1 means no cap was configured.
	MaxDelete int

	DeleteMode   bool
	DeleteTiming DeleteTiming
	DelayUpdates bool

	PreserveOwner     bool
	PreserveGroup     bool
	PreserveACLs      bool
	PreserveXattrs    bool
	PreserveHardLinks bool

	FuzzyBasis bool
	Inplace    bool

	// BasisDirCount is how many comparison directories were configured;
	// BasisDirOption names the flag that configured them, for messages.
	BasisDirCount  int
	BasisDirOption string

	Recurse         bool
	AllowIncRecurse bool
	RelativePaths   bool
	ImpliedDirs     bool
	ForcedSort      bool
	PruneEmptyDirs  bool

	// PartialDir is where interrupted transfers are kept, when configured.
	PartialDir string
}

// EffectiveFeatures is Options after version-dependent defaulting, plus the
// negotiation-derived flags. It is immutable once the handshake completes.
type EffectiveFeatures struct {
	Options

	// IncRecurse reports whether incremental directory recursion is on.
	IncRecurse bool

	// NeedGeneratorMessages reports whether the receiving side must accept
	// out-of-band messages from the generator role.
	NeedGeneratorMessages bool
}

// versionGate is one row of the compatibility matrix: a feature, the minimum
// protocol version that carries it, and the predicate selecting when the
// gate applies. Every violated gate is fatal.
type versionGate struct {
	min      int
	applies  func(o Options, r Role) bool
	describe func(o Options) string
}

// gateTable is the version-gated option matrix. Adding a future gated
// feature is a data change here, not a new branch.
var gateTable = []versionGate{
	{
		min:      30,
		applies:  func(o Options, r Role) bool { return o.MaxDelete == 0 && r.Sender },
		describe: func(o Options) string { return "--max-delete=0" },
	},
	{
		min:      30,
		applies:  func(o Options, r Role) bool { return o.PreserveACLs && !r.LocalPipe },
		describe: func(o Options) string { return "--acls" },
	},
	{
		min:      30,
		applies:  func(o Options, r Role) bool { return o.PreserveXattrs && !r.LocalPipe },
		describe: func(o Options) string { return "--xattrs" },
	},
	{
		min:      29,
		applies:  func(o Options, r Role) bool { return o.FuzzyBasis },
		describe: func(o Options) string { return "--fuzzy" },
	},
	{
		min:      29,
		applies:  func(o Options, r Role) bool { return o.BasisDirCount > 0 && o.Inplace },
		describe: func(o Options) string { return o.BasisDirOption + " with --inplace" },
	},
	{
		min:      29,
		applies:  func(o Options, r Role) bool { return o.BasisDirCount > 1 },
		describe: func(o Options) string { return "using more than one " + o.BasisDirOption + " option" },
	},
	{
		min:      29,
		applies:  func(o Options, r Role) bool { return o.PruneEmptyDirs },
		describe: func(o Options) string { return "--prune-empty-dirs" },
	},
}

// applyGates validates the requested options against the negotiated version
// and resolves the version-dependent defaults.
func applyGates(negotiated int, opts Options, role Role) (EffectiveFeatures, error) {
	for _, g := range gateTable {
		if negotiated < g.min && g.applies(opts, role) {
			return EffectiveFeatures{}, failf(ErrFeatureRequiresNewerProtocol,
				"%s requires protocol %d or higher (negotiated %d)",
				g.describe(opts), g.min, negotiated)
		}
	}

	eff := EffectiveFeatures{Options: opts}

	if eff.DeleteMode && eff.DeleteTiming == DeleteUnspecified {
		if negotiated < 30 {
			eff.DeleteTiming = DeleteBefore
		} else {
			eff.DeleteTiming = DeleteDuring
		}
	}

	if negotiated >= 30 {
		eff.IncRecurse = incRecurseUsable(eff)
		eff.NeedGeneratorMessages = true
	}

	return eff, nil
}

// incRecurseUsable reports whether incremental recursion is compatible with
// every other active option. Any single conflict silently disables it; the
// transfer still runs, just with up-front enumeration.
func incRecurseUsable(eff EffectiveFeatures) bool {
	return eff.Recurse &&
		eff.AllowIncRecurse &&
		!eff.PreserveHardLinks &&
		eff.DeleteTiming != DeleteBefore &&
		eff.DeleteTiming != DeleteAfter &&
		!eff.DelayUpdates &&
		(!eff.RelativePaths || eff.ImpliedDirs) &&
		!eff.ForcedSort &&
		!eff.PruneEmptyDirs
}
