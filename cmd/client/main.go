package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/driftsync/driftsync/internal/client"
	"github.com/driftsync/driftsync/internal/common"
	"github.com/driftsync/driftsync/internal/protocol"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	logLevel    string
	serverAddr  string
	secret      string
	protocolVer int
	asSender    bool
	localRun    bool
	marker      string
	batchVer    int
	timeout     time.Duration

	withOwner  bool
	withGroup  bool
	withACLs   bool
	withXattrs bool
	withDelete bool
	withFuzzy  bool
	partialDir string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var negErr *protocol.NegotiationError
		if errors.As(err, &negErr) {
			os.Exit(negErr.ExitCode())
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "driftsync",
	Short: "Negotiate a sync session with a driftsync daemon",
	Long: `driftsync connects to a daemon, agrees on a protocol version and
feature set, and prints the resulting contract. With --local it plays both
roles in-process, the way a local transfer would.`,
	RunE: runClient,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&serverAddr, "server", "localhost:9030", "Daemon address (host:port or ws:// URL)")
	rootCmd.Flags().StringVar(&secret, "secret", "", "Authentication secret")
	rootCmd.Flags().IntVar(&protocolVer, "protocol", 0, "Advertise this protocol version instead of the default")
	rootCmd.Flags().BoolVar(&asSender, "sender", false, "Act as the sending side")
	rootCmd.Flags().BoolVar(&localRun, "local", false, "Negotiate both roles in-process over a pipe")
	rootCmd.Flags().StringVar(&marker, "pre-release-marker", "", "Peer VER.SUB marker from the shell invocation")
	rootCmd.Flags().IntVar(&batchVer, "batch-protocol", 0, "Replay a recorded batch written at this protocol version")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Handshake timeout")

	rootCmd.Flags().BoolVar(&withOwner, "owner", false, "Preserve file ownership")
	rootCmd.Flags().BoolVar(&withGroup, "group", false, "Preserve file group")
	rootCmd.Flags().BoolVar(&withACLs, "acls", false, "Preserve ACLs")
	rootCmd.Flags().BoolVar(&withXattrs, "xattrs", false, "Preserve extended attributes")
	rootCmd.Flags().BoolVar(&withDelete, "delete", false, "Delete extraneous destination files")
	rootCmd.Flags().BoolVar(&withFuzzy, "fuzzy", false, "Use fuzzy basis matching")
	rootCmd.Flags().StringVar(&partialDir, "partial-dir", "", "Keep interrupted transfers in this directory")
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel)

	var cfg *common.ClientConfig
	var err error

	if configFile != "" {
		cfg, err = common.LoadClientConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Info("loaded configuration", slog.String("file", configFile))
	} else {
		cfg = common.DefaultClientConfig()
		cfg.ServerAddr = serverAddr
		cfg.Secret = secret
		cfg.ProtocolVersion = protocolVer
		cfg.Sender = asSender
		cfg.PreReleaseMarker = marker
		cfg.BatchProtocol = batchVer
		cfg.LogLevel = logLevel

		cfg.Sync.PreserveOwner = withOwner
		cfg.Sync.PreserveGroup = withGroup
		cfg.Sync.PreserveACLs = withACLs
		cfg.Sync.PreserveXattrs = withXattrs
		cfg.Sync.Delete = withDelete
		cfg.Sync.Fuzzy = withFuzzy
		cfg.Sync.PartialDir = partialDir
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cl := client.New(cfg, logger)

	var result *client.Result
	if localRun {
		result, err = cl.RunLocal(ctx)
	} else {
		result, err = cl.Run(ctx)
	}
	if err != nil {
		return err
	}

	printContract(result)
	return nil
}

func printContract(result *client.Result) {
	neg := result.Negotiation
	fmt.Println()
	fmt.Println("  Negotiated session contract")
	fmt.Println()
	fmt.Printf("    Protocol version:   %d (peer advertised %d)\n", neg.Protocol, neg.RemoteProtocol)
	fmt.Printf("    Checksum seed:      %d\n", neg.Seed)
	fmt.Printf("    Incremental recursion: %v\n", neg.Features.IncRecurse)
	if neg.Features.DeleteMode {
		fmt.Printf("    Delete timing:      %s\n", neg.Features.DeleteTiming)
	}
	fmt.Printf("    Attribute slots:    uid=%d gid=%d acls=%d xattrs=%d (extras %d)\n",
		neg.Slots.UID, neg.Slots.GID, neg.Slots.ACLs, neg.Slots.Xattrs, neg.Slots.ExtraCount)
	for _, rule := range result.Rules {
		fmt.Printf("    Filter rule:        %q (flags %b)\n", rule.Pattern, rule.Flags)
	}
	fmt.Println()
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
