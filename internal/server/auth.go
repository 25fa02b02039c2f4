package server

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator validates the secret line a client sends before the version
// exchange.
type Authenticator interface {
	// Verify checks whether a client-supplied secret is acceptable.
	Verify(secret string) (bool, error)
}

// NoOpAuthenticator accepts every client. Used when the daemon does not
// require authentication.
type NoOpAuthenticator struct{}

// Verify always returns true.
func (a *NoOpAuthenticator) Verify(secret string) (bool, error) {
	return true, nil
}

// SecretAuthenticator validates secrets against a list of bcrypt hashes.
// Plaintext never touches disk on the daemon side.
type SecretAuthenticator struct {
	mu     sync.RWMutex
	hashes map[string][]byte // name -> bcrypt hash
}

// NewSecretAuthenticator creates an empty secret authenticator.
func NewSecretAuthenticator() *SecretAuthenticator {
	return &SecretAuthenticator{
		hashes: make(map[string][]byte),
	}
}

// AddSecret hashes and stores a secret under the given name.
func (a *SecretAuthenticator) AddSecret(name, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hashes[name] = hash
	return nil
}

// Verify checks the secret against every stored hash.
func (a *SecretAuthenticator) Verify(secret string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, hash := range a.hashes {
		if bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil {
			return true, nil
		}
	}
	return false, nil
}

// LoadFromFile loads hashed secrets from a file. Each line is
// "name:bcrypt-hash"; blank lines and # comments are skipped.
func (a *SecretAuthenticator) LoadFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open secrets file: %w", err)
	}
	defer file.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	scanner := bufio.NewScanner(file)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid secret entry on line %d", lineNum)
		}
		a.hashes[strings.TrimSpace(parts[0])] = []byte(strings.TrimSpace(parts[1]))
	}
	return scanner.Err()
}
