package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/driftsync/driftsync/internal/common"
	"github.com/driftsync/driftsync/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var (
	configFile   string
	logLevel     string
	listenAddr   string
	adminAddr    string
	databasePath string
	protocolVer  int
	asSender     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "driftsyncd",
	Short: "driftsync daemon - negotiate sync sessions with remote peers",
	Long: `driftsyncd is the server side of the driftsync file-synchronization
protocol. It accepts peer connections over TCP or WebSocket, negotiates a
protocol version and feature set with each one, and records the agreed
contract.`,
	RunE: runServer,
}

var secretCmd = &cobra.Command{
	Use:   "secret [name]",
	Short: "Generate a secret and the matching secrets-file entry",
	Long: `Generates a random client secret, prints it once, and prints the
"name:bcrypt-hash" line to append to the daemon's secrets file. The plaintext
is never stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runSecret,
}

func runSecret(cmd *cobra.Command, args []string) error {
	secret := common.GenerateSecret()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}

	fmt.Printf("client secret (give to the peer, shown only once):\n  %s\n\n", secret)
	fmt.Printf("secrets-file entry:\n  %s:%s\n", args[0], hash)
	return nil
}

func init() {
	rootCmd.AddCommand(secretCmd)

	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", ":9030", "Address for peer connections")
	rootCmd.Flags().StringVar(&adminAddr, "admin-addr", ":9031", "Address for health, metrics and websocket peers")
	rootCmd.Flags().StringVar(&databasePath, "database", "", "Path to the handshake audit database (empty disables)")
	rootCmd.Flags().IntVar(&protocolVer, "protocol", 0, "Advertise this protocol version instead of the default")
	rootCmd.Flags().BoolVar(&asSender, "sender", false, "Serve transfers as the sending side")
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel)

	var cfg *common.ServerConfig
	var err error

	if configFile != "" {
		cfg, err = common.LoadServerConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logger.Info("loaded configuration", slog.String("file", configFile))
	} else {
		cfg = common.DefaultServerConfig()
		cfg.ListenAddr = listenAddr
		cfg.AdminAddr = adminAddr
		cfg.DatabasePath = databasePath
		cfg.ProtocolVersion = protocolVer
		cfg.Sender = asSender
		cfg.LogLevel = logLevel
	}

	srv, err := server.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Run()
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

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}
