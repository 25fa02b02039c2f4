package protocol

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/driftsync/driftsync/internal/filter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func wideBounds() Bounds {
	return Bounds{Current: 40, Sub: 0, Min: 20, Max: 40, Old: 25}
}

// scriptedPeer builds a transport whose read side is pre-loaded with the
// peer's version (and seed, for the client role), capturing our writes.
func scriptedPeer(t *testing.T, ints ...int32) (*Transport, *bytes.Buffer) {
	t.Helper()
	var peer bytes.Buffer
	script := NewTransport(&bytes.Buffer{}, &peer)
	for _, v := range ints {
		if err := script.WriteInt(v); err != nil {
			t.Fatalf("scripting peer failed: %v", err)
		}
	}
	var sent bytes.Buffer
	return NewTransport(&peer, &sent), &sent
}

func TestSetup_NegotiatesMinimum(t *testing.T) {
	// For every pair of supported versions, the agreed version is the
	// smaller of the two.
	b := wideBounds()
	for local := b.Min; local <= b.Max; local++ {
		for remote := b.Min; remote <= b.Max; remote++ {
			tr, _ := scriptedPeer(t, int32(remote), 12345)

			opts := baseOptions()
			opts.DesiredProtocol = local
			neg, err := Setup(tr, opts, Role{}, b, nil, testLogger())
			if err != nil {
				t.Fatalf("Setup(%d, %d) failed: %v", local, remote, err)
			}

			want := local
			if remote < want {
				want = remote
			}
			if neg.Protocol != want {
				t.Fatalf("Setup(%d, %d) negotiated %d, want %d", local, remote, neg.Protocol, want)
			}
			if neg.RemoteProtocol != remote {
				t.Fatalf("RemoteProtocol = %d, want %d", neg.RemoteProtocol, remote)
			}
			if neg.Seed != 12345 {
				t.Fatalf("Seed = %d, want 12345", neg.Seed)
			}
		}
	}
}

func TestSetup_RemoteOutOfRange(t *testing.T) {
	for _, remote := range []int32{19, 41, 0, -1} {
		tr, _ := scriptedPeer(t, remote)

		opts := baseOptions()
		opts.DesiredProtocol = 31
		_, err := Setup(tr, opts, Role{}, wideBounds(), nil, testLogger())
		if !errors.Is(err, ErrVersionOutOfRange) {
			t.Errorf("Setup with remote %d = %v, want ErrVersionOutOfRange", remote, err)
		}
	}
}

func TestSetup_LocalOverrideBounds(t *testing.T) {
	b := DefaultBounds()

	// Peer advertises something huge so the local override survives the
	// min() step and is checked on its own.
	tr, _ := scriptedPeer(t, 40, 1)
	opts := baseOptions()
	opts.DesiredProtocol = b.Current + 1
	_, err := Setup(tr, opts, Role{}, b, nil, testLogger())
	if !errors.Is(err, ErrLocalVersionTooHigh) {
		t.Errorf("Setup above current = %v, want ErrLocalVersionTooHigh", err)
	}

	tr, _ = scriptedPeer(t, 40, 1)
	opts = baseOptions()
	opts.DesiredProtocol = b.Min - 1
	_, err = Setup(tr, opts, Role{}, b, nil, testLogger())
	if !errors.Is(err, ErrLocalVersionTooLow) {
		t.Errorf("Setup below minimum = %v, want ErrLocalVersionTooLow", err)
	}
}

func TestSetup_BatchReplay(t *testing.T) {
	t.Run("too new", func(t *testing.T) {
		var sent bytes.Buffer
		tr := NewTransport(&bytes.Buffer{}, &sent)

		opts := baseOptions()
		opts.DesiredProtocol = 31
		opts.ReadBatch = true
		opts.BatchProtocol = 35
		opts.ChecksumSeed = 7

		_, err := Setup(tr, opts, Role{Server: true}, wideBounds(), nil, testLogger())
		if !errors.Is(err, ErrBatchTooNew) {
			t.Fatalf("Setup = %v, want ErrBatchTooNew", err)
		}
		if sent.Len() != 0 {
			t.Error("replay wrote to the transport before failing")
		}
	})

	t.Run("compatible batch skips the version exchange", func(t *testing.T) {
		var sent bytes.Buffer
		tr := NewTransport(&bytes.Buffer{}, &sent)

		opts := baseOptions()
		opts.DesiredProtocol = 31
		opts.ReadBatch = true
		opts.BatchProtocol = 29
		opts.ChecksumSeed = 7

		neg, err := Setup(tr, opts, Role{Server: true}, wideBounds(), nil, testLogger())
		if err != nil {
			t.Fatalf("Setup failed: %v", err)
		}
		if neg.RemoteProtocol != 29 {
			t.Errorf("RemoteProtocol = %d, want 29", neg.RemoteProtocol)
		}
		// Only the seed goes out; the version write is skipped.
		if sent.Len() != 4 {
			t.Errorf("wrote %d bytes, want 4 (seed only)", sent.Len())
		}
	})
}

func TestSetup_PartialRule(t *testing.T) {
	tests := []struct {
		name      string
		dir       string
		role      Role
		version   int32
		wantRules int
		wantFlags filter.RuleFlag
	}{
		{
			name:      "receiver installs a perishable rule",
			dir:       ".drift-partial",
			role:      Role{},
			version:   31,
			wantRules: 1,
			wantFlags: filter.NoPrefixes | filter.Directory | filter.Perishable,
		},
		{
			name:      "old-protocol sender keeps the rule durable",
			dir:       ".drift-partial",
			role:      Role{Sender: true},
			version:   29,
			wantRules: 1,
			wantFlags: filter.NoPrefixes | filter.Directory,
		},
		{
			name:      "new-protocol sender marks it perishable",
			dir:       ".drift-partial",
			role:      Role{Sender: true},
			version:   31,
			wantRules: 1,
			wantFlags: filter.NoPrefixes | filter.Directory | filter.Perishable,
		},
		{
			name:      "absolute partial dir installs nothing",
			dir:       "/var/tmp/partial",
			role:      Role{},
			version:   31,
			wantRules: 0,
		},
		{
			name:      "no partial dir installs nothing",
			dir:       "",
			role:      Role{},
			version:   31,
			wantRules: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := scriptedPeer(t, tt.version, 99)

			opts := baseOptions()
			opts.DesiredProtocol = int(tt.version)
			opts.PartialDir = tt.dir

			rules := filter.NewList()
			if _, err := Setup(tr, opts, tt.role, wideBounds(), rules, testLogger()); err != nil {
				t.Fatalf("Setup failed: %v", err)
			}

			got := rules.Rules()
			if len(got) != tt.wantRules {
				t.Fatalf("installed %d rules, want %d", len(got), tt.wantRules)
			}
			if tt.wantRules == 1 {
				if got[0].Pattern != tt.dir {
					t.Errorf("rule pattern = %q, want %q", got[0].Pattern, tt.dir)
				}
				if got[0].Flags != tt.wantFlags {
					t.Errorf("rule flags = %b, want %b", got[0].Flags, tt.wantFlags)
				}
			}
		})
	}
}

func TestSetup_NetworkedServerSkipsPartialRule(t *testing.T) {
	tr, _ := scriptedPeer(t, 31)

	opts := baseOptions()
	opts.DesiredProtocol = 31
	opts.PartialDir = ".drift-partial"

	rules := filter.NewList()
	if _, err := Setup(tr, opts, Role{Server: true}, wideBounds(), rules, testLogger()); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if rules.Len() != 0 {
		t.Error("networked server installed a partial-dir rule")
	}
}

// pipeBuf is one direction of an in-memory duplex connection with real
// buffering, so both peers can write their version before either reads.
type pipeBuf struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    bytes.Buffer
	closed bool
}

func newPipeBuf() *pipeBuf {
	p := &pipeBuf{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pipeBuf) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := p.buf.Write(b)
	p.cond.Broadcast()
	return n, err
}

func (p *pipeBuf) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.buf.Len() == 0 && !p.closed {
		p.cond.Wait()
	}
	if p.buf.Len() == 0 {
		return 0, io.EOF
	}
	return p.buf.Read(b)
}

func (p *pipeBuf) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// duplex returns connected transports for a client and a server peer.
func duplex() (client, server *Transport) {
	c2s := newPipeBuf()
	s2c := newPipeBuf()
	return NewTransport(s2c, c2s), NewTransport(c2s, s2c)
}

func TestSetup_EndToEnd_OlderPeer(t *testing.T) {
	// Local side wants 31, the peer only speaks 29: both settle on 29 and
	// the client's ACL request dies with a protocol error.
	clientTr, serverTr := duplex()

	serverDone := make(chan error, 1)
	var serverNeg *Negotiation
	go func() {
		opts := baseOptions()
		opts.DesiredProtocol = 29
		opts.ChecksumSeed = 4242
		var err error
		serverNeg, err = Setup(serverTr, opts, Role{Server: true}, wideBounds(), nil, testLogger())
		serverDone <- err
	}()

	opts := baseOptions()
	opts.DesiredProtocol = 31
	opts.PreserveACLs = true
	_, err := Setup(clientTr, opts, Role{}, wideBounds(), nil, testLogger())
	if !errors.Is(err, ErrFeatureRequiresNewerProtocol) {
		t.Fatalf("client Setup = %v, want ErrFeatureRequiresNewerProtocol", err)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server Setup failed: %v", err)
	}
	if serverNeg.Protocol != 29 {
		t.Errorf("server negotiated %d, want 29", serverNeg.Protocol)
	}
}

func TestSetup_EndToEnd_ModernPeers(t *testing.T) {
	// Both peers final at 32 with the full attribute set requested.
	b := Bounds{Current: 32, Sub: 0, Min: 20, Max: 40, Old: 25}

	fullOptions := func() Options {
		o := baseOptions()
		o.PreserveOwner = true
		o.PreserveGroup = true
		o.PreserveACLs = true
		o.PreserveXattrs = true
		o.Recurse = true
		o.AllowIncRecurse = true
		return o
	}

	clientTr, serverTr := duplex()

	serverDone := make(chan error, 1)
	var serverNeg *Negotiation
	go func() {
		opts := fullOptions()
		opts.ChecksumSeed = 777
		var err error
		serverNeg, err = Setup(serverTr, opts, Role{Server: true, Sender: true}, b, nil, testLogger())
		serverDone <- err
	}()

	clientNeg, err := Setup(clientTr, fullOptions(), Role{}, b, nil, testLogger())
	if err != nil {
		t.Fatalf("client Setup failed: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("server Setup failed: %v", err)
	}

	for _, neg := range []*Negotiation{clientNeg, serverNeg} {
		if neg.Protocol != 32 {
			t.Errorf("negotiated %d, want 32", neg.Protocol)
		}
		if !neg.Features.IncRecurse {
			t.Error("incremental recursion not enabled")
		}
		if !neg.Features.NeedGeneratorMessages {
			t.Error("generator messages flag not forced on")
		}
		if neg.Seed != 777 {
			t.Errorf("seed = %d, want 777", neg.Seed)
		}
	}

	// Receiver claims owner, group, acl, xattr in order after its base.
	if clientNeg.Slots != (SlotLayout{UID: 2, GID: 3, ACLs: 4, Xattrs: 5, ExtraCount: 5}) {
		t.Errorf("client slots = %+v", clientNeg.Slots)
	}
	// The sending server skips the acl slot but keeps the same order.
	if serverNeg.Slots != (SlotLayout{UID: 3, GID: 4, Xattrs: 5, ExtraCount: 5}) {
		t.Errorf("server slots = %+v", serverNeg.Slots)
	}
}
