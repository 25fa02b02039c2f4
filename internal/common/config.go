// Package common holds configuration and small helpers shared by the
// driftsync daemon and client.
package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/driftsync/driftsync/internal/protocol"
	"gopkg.in/yaml.v3"
)

// SyncOptions is the feature request set as it appears in configuration.
// Both the daemon and the client carry one; ToOptions converts it into the
// read-only form negotiation consumes.
type SyncOptions struct {
	// Recurse enables directory recursion.
	Recurse bool `yaml:"recurse"`

	// AllowIncRecurse permits incremental recursion when every other
	// active option is compatible with it.
	AllowIncRecurse bool `yaml:"allow_inc_recurse"`

	// Delete removes extraneous files on the receiving side.
	Delete bool `yaml:"delete"`

	// DeleteTiming is "before", "during", "after", or empty to let the
	// negotiated protocol version pick.
	DeleteTiming string `yaml:"delete_timing"`

	// MaxDelete caps deletions; nil means no cap.
	MaxDelete *int `yaml:"max_delete"`

	// DelayUpdates holds renames back until the end of the transfer.
	DelayUpdates bool `yaml:"delay_updates"`

	PreserveOwner     bool `yaml:"preserve_owner"`
	PreserveGroup     bool `yaml:"preserve_group"`
	PreserveACLs      bool `yaml:"preserve_acls"`
	PreserveXattrs    bool `yaml:"preserve_xattrs"`
	PreserveHardLinks bool `yaml:"preserve_hard_links"`

	// Fuzzy looks for a similar basis file when the destination is absent.
	Fuzzy bool `yaml:"fuzzy"`

	// Inplace updates destination files in place.
	Inplace bool `yaml:"inplace"`

	// BasisDirs are additional comparison directories.
	BasisDirs []string `yaml:"basis_dirs"`

	// RelativePaths transfers full source paths; ImpliedDirs sends the
	// directories those paths imply.
	RelativePaths bool `yaml:"relative_paths"`
	ImpliedDirs   bool `yaml:"implied_dirs"`

	// ForcedSort forces a full sort of the file list.
	ForcedSort bool `yaml:"forced_sort"`

	// PruneEmptyDirs drops empty directory chains from the transfer.
	PruneEmptyDirs bool `yaml:"prune_empty_dirs"`

	// PartialDir keeps interrupted transfers under this directory.
	PartialDir string `yaml:"partial_dir"`
}

// DefaultSyncOptions returns the option set of a plain recursive transfer.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		Recurse:         true,
		AllowIncRecurse: true,
		ImpliedDirs:     true,
	}
}

// Validate checks the option set for values negotiation cannot interpret.
func (s SyncOptions) Validate() error {
	switch s.DeleteTiming {
	case "", "before", "during", "after":
	default:
		return fmt.Errorf("delete_timing must be before, during, or after")
	}
	if s.MaxDelete != nil && *s.MaxDelete < 0 {
		return fmt.Errorf("max_delete must not be negative")
	}
	return nil
}

// ToOptions converts the configured options into the negotiation request set.
func (s SyncOptions) ToOptions() protocol.Options {
	opts := protocol.Options{
		MaxDelete:         -1,
		DeleteMode:        s.Delete,
		DelayUpdates:      s.DelayUpdates,
		PreserveOwner:     s.PreserveOwner,
		PreserveGroup:     s.PreserveGroup,
		PreserveACLs:      s.PreserveACLs,
		PreserveXattrs:    s.PreserveXattrs,
		PreserveHardLinks: s.PreserveHardLinks,
		FuzzyBasis:        s.Fuzzy,
		Inplace:           s.Inplace,
		BasisDirCount:     len(s.BasisDirs),
		BasisDirOption:    "--compare-dest",
		Recurse:           s.Recurse,
		AllowIncRecurse:   s.AllowIncRecurse,
		RelativePaths:     s.RelativePaths,
		ImpliedDirs:       s.ImpliedDirs,
		ForcedSort:        s.ForcedSort,
		PruneEmptyDirs:    s.PruneEmptyDirs,
		PartialDir:        s.PartialDir,
	}
	if s.MaxDelete != nil {
		opts.MaxDelete = *s.MaxDelete
	}
	switch s.DeleteTiming {
	case "before":
		opts.DeleteTiming = protocol.DeleteBefore
	case "during":
		opts.DeleteTiming = protocol.DeleteDuring
	case "after":
		opts.DeleteTiming = protocol.DeleteAfter
	}
	return opts
}

// AuthConfig configures the daemon-side secret check that runs before the
// version exchange.
type AuthConfig struct {
	// Require makes the daemon demand a secret line from every client.
	Require bool `yaml:"require"`

	// SecretsFile is the path to the bcrypt-hashed secrets list.
	SecretsFile string `yaml:"secrets_file"`
}

// ServerConfig holds configuration for the driftsync daemon.
type ServerConfig struct {
	// ListenAddr is the address for client connections (e.g., ":9030").
	ListenAddr string `yaml:"listen_addr"`

	// AdminAddr serves health and metrics endpoints plus the websocket
	// entry point (e.g., ":9031").
	AdminAddr string `yaml:"admin_addr"`

	// DatabasePath is the sqlite file recording handshake outcomes.
	// Empty disables the audit store.
	DatabasePath string `yaml:"database_path"`

	// ProtocolVersion overrides the advertised protocol version;
	// 0 advertises the build's current version.
	ProtocolVersion int `yaml:"protocol_version"`

	// ChecksumSeed fixes the checksum seed; 0 generates one per
	// connection.
	ChecksumSeed int32 `yaml:"checksum_seed"`

	// Sender serves transfers with this daemon as the sending side.
	Sender bool `yaml:"sender"`

	// HandshakeTimeout bounds the whole negotiation exchange.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	Auth AuthConfig  `yaml:"auth"`
	Sync SyncOptions `yaml:"sync"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddr:       ":9030",
		AdminAddr:        ":9031",
		HandshakeTimeout: 10 * time.Second,
		Sync:             DefaultSyncOptions(),
		LogLevel:         "info",
	}
}

// LoadServerConfig loads daemon configuration from a YAML file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultServerConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// Validate checks if the daemon configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.Auth.Require && c.Auth.SecretsFile == "" {
		return fmt.Errorf("auth.secrets_file is required when auth.require is set")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}
	return c.Sync.Validate()
}

// ClientConfig holds configuration for the driftsync client.
type ClientConfig struct {
	// ServerAddr is the daemon address, either host:port for TCP or a
	// ws:// / wss:// URL for the websocket entry point.
	ServerAddr string `yaml:"server_addr"`

	// Secret is sent to daemons that require authentication.
	Secret string `yaml:"secret"`

	// ProtocolVersion overrides the advertised protocol version.
	ProtocolVersion int `yaml:"protocol_version"`

	// Sender runs this client as the sending side.
	Sender bool `yaml:"sender"`

	// PreReleaseMarker is the VER.SUB string forwarded from the remote
	// shell invocation when the peer is a pre-release build.
	PreReleaseMarker string `yaml:"pre_release_marker"`

	// BatchProtocol, when non-zero, replays a recorded batch written at
	// that protocol version instead of exchanging versions with a peer.
	BatchProtocol int `yaml:"batch_protocol"`

	Sync SyncOptions `yaml:"sync"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		ServerAddr: "localhost:9030",
		Sync:       DefaultSyncOptions(),
		LogLevel:   "info",
	}
}

// LoadClientConfig loads client configuration from a YAML file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultClientConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// UseWebSocket reports whether the server address selects the websocket
// entry point.
func (c *ClientConfig) UseWebSocket() bool {
	return strings.HasPrefix(c.ServerAddr, "ws://") || strings.HasPrefix(c.ServerAddr, "wss://")
}

// Validate checks if the client configuration is valid.
func (c *ClientConfig) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server_addr is required")
	}
	return c.Sync.Validate()
}
