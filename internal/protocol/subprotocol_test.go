package protocol

import "testing"

func TestResolveSubProtocol(t *testing.T) {
	final := Bounds{Current: 31, Sub: 0, Min: 20, Max: 40, Old: 25}
	prerelease := Bounds{Current: 31, Sub: 1, Min: 20, Max: 40, Old: 25}

	tests := []struct {
		name    string
		marker  string
		version int
		bounds  Bounds
		want    int
	}{
		{
			name:    "both final, no marker",
			marker:  "",
			version: 31,
			bounds:  final,
			want:    31,
		},
		{
			name:    "we are pre-release, peer sends no marker",
			marker:  "",
			version: 31,
			bounds:  prerelease,
			want:    30,
		},
		{
			name:    "matching pre-release sub-revisions stay put",
			marker:  "31.1",
			version: 31,
			bounds:  prerelease,
			want:    31,
		},
		{
			name:    "differing pre-release sub-revisions back off",
			marker:  "31.2",
			version: 31,
			bounds:  prerelease,
			want:    30,
		},
		{
			name:    "older pre-release peer forces below their version",
			marker:  "29.5",
			version: 31,
			bounds:  final,
			want:    28,
		},
		{
			name:    "newer peer counts as final",
			marker:  "33.2",
			version: 31,
			bounds:  final,
			want:    31,
		},
		{
			name:    "newer peer against our pre-release backs off",
			marker:  "33.2",
			version: 31,
			bounds:  prerelease,
			want:    30,
		},
		{
			name:    "override below current ignores our sub tag",
			marker:  "",
			version: 29,
			bounds:  prerelease,
			want:    29,
		},
		{
			name:    "garbage marker is ignored",
			marker:  "banana",
			version: 31,
			bounds:  final,
			want:    31,
		},
		{
			name:    "marker without dot is ignored",
			marker:  "31",
			version: 31,
			bounds:  final,
			want:    31,
		},
		{
			name:    "zero sub-revision is not a pre-release marker",
			marker:  "31.0",
			version: 31,
			bounds:  final,
			want:    31,
		},
		{
			name:    "zero protocol is not a pre-release marker",
			marker:  "0.3",
			version: 31,
			bounds:  final,
			want:    31,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveSubProtocol(tt.marker, tt.version, tt.bounds)
			if got != tt.want {
				t.Errorf("resolveSubProtocol(%q, %d) = %d, want %d",
					tt.marker, tt.version, got, tt.want)
			}
		})
	}
}

func TestResolveSubProtocol_FinalIdempotent(t *testing.T) {
	// Two released builds at the same version never get decremented,
	// however often the resolution runs.
	b := Bounds{Current: 31, Sub: 0, Min: 20, Max: 40, Old: 25}
	v := 31
	for i := 0; i < 3; i++ {
		v = resolveSubProtocol("", v, b)
	}
	if v != 31 {
		t.Errorf("repeated resolution moved a final version to %d", v)
	}
}

func TestParsePreRelease(t *testing.T) {
	tests := []struct {
		marker       string
		wantProtocol int
		wantSub      int
		wantOK       bool
	}{
		{"31.2", 31, 2, true},
		{"31.2 extra", 31, 2, true},
		{"31.2.9", 31, 2, true},
		{"", 0, 0, false},
		{"31", 0, 0, false},
		{".2", 0, 0, false},
		{"31.", 0, 0, false},
		{"x.2", 0, 0, false},
		{"31.x", 0, 0, false},
	}

	for _, tt := range tests {
		protocol, sub, ok := parsePreRelease(tt.marker)
		if protocol != tt.wantProtocol || sub != tt.wantSub || ok != tt.wantOK {
			t.Errorf("parsePreRelease(%q) = (%d, %d, %v), want (%d, %d, %v)",
				tt.marker, protocol, sub, ok, tt.wantProtocol, tt.wantSub, tt.wantOK)
		}
	}
}
