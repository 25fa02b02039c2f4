package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// idCounter disambiguates identifiers generated within the same nanosecond.
var idCounter uint64

// GenerateHandshakeID returns a unique identifier for one negotiation
// attempt, used in logs and the audit store.
func GenerateHandshakeID() string {
	timestamp := time.Now().UnixNano()
	counter := atomic.AddUint64(&idCounter, 1)

	randomBytes := make([]byte, 4)
	_, _ = rand.Read(randomBytes)

	return fmt.Sprintf("hs_%x-%s-%x", timestamp, hex.EncodeToString(randomBytes), counter)
}

// GenerateSecret returns a random secret suitable for the daemon's
// authentication list (32 bytes, hex encoded).
func GenerateSecret() string {
	bytes := make([]byte, 32)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
