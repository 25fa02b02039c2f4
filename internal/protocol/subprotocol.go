package protocol

import "strings"

// resolveSubProtocol reconciles pre-release builds before the version
// exchange. The server makes sure that if either side only speaks a
// pre-release revision, both sides must speak a compatible sub-revision of it
// for that revision to be advertised at all; any mismatch negotiates down to
// the last fully-released revision.
//
// marker is the peer-supplied "VER.SUB" string from the shell invocation, or
// empty. version is the locally-desired protocol version; the possibly
// decremented value is returned.
func resolveSubProtocol(marker string, version int, b Bounds) int {
	ourSub := 0
	if version >= b.Current {
		ourSub = b.Sub
	}

	theirProtocol, theirSub, ok := parsePreRelease(marker)
	if !ok {
		// No usable marker: if we ourselves are pre-release, claim one
		// version less since nobody can verify our sub-revision.
		if ourSub != 0 {
			version--
		}
		return version
	}

	if theirProtocol < version {
		if theirSub != 0 {
			version = theirProtocol - 1
		}
		return version
	}

	if theirProtocol > version {
		theirSub = 0 // anything newer than our target counts as final
	}
	if theirSub != ourSub {
		version--
	}
	return version
}

// parsePreRelease splits a "VER.SUB" marker on its first dot. Both halves
// must begin with a positive integer, otherwise the marker is unusable.
func parsePreRelease(marker string) (protocol, sub int, ok bool) {
	dot := strings.IndexByte(marker, '.')
	if dot < 0 {
		return 0, 0, false
	}
	protocol = leadingInt(marker)
	sub = leadingInt(marker[dot+1:])
	if protocol <= 0 || sub <= 0 {
		return 0, 0, false
	}
	return protocol, sub, true
}

// leadingInt parses the decimal digits at the start of s, returning 0 when
// there are none.
func leadingInt(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
