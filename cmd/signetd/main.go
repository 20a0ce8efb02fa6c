package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/signetai/signet/internal/daemon"
)

const version = "1.0.0"

var (
	// Global flags
	verbose   bool
	agentsDir string
	host      string
	port      int

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "signetd",
	Short: "signetd - agent memory daemon",
	Long: `signetd is the Signet memory core daemon.

It keeps a local SQLite store of agent memories, answers hybrid
keyword+vector recall queries over HTTP, ingests markdown notes from the
memory directory, and runs policy-gated autonomous maintenance.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			config.Encoding = "console"
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory daemon until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dir, err := resolveAgentsDir()
		if err != nil {
			return err
		}
		return daemon.Run(ctx, daemon.Options{
			AgentsDir: dir,
			Host:      resolveHost(),
			Port:      resolvePort(),
			Log:       logger,
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("signetd %s\n", version)
	},
}

// resolveAgentsDir prefers the flag, then SIGNET_PATH, then ~/.signet.
func resolveAgentsDir() (string, error) {
	if agentsDir != "" {
		return agentsDir, nil
	}
	if env := os.Getenv("SIGNET_PATH"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve agents directory: %w", err)
	}
	return filepath.Join(home, ".signet"), nil
}

func resolveHost() string {
	if host != "" {
		return host
	}
	if env := os.Getenv("SIGNET_HOST"); env != "" {
		return env
	}
	return "localhost"
}

func resolvePort() int {
	if port != 0 {
		return port
	}
	if env := os.Getenv("SIGNET_PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil && p > 0 && p < 65536 {
			return p
		}
	}
	return 3850
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&agentsDir, "path", "p", "", "Agents directory (default: $SIGNET_PATH or ~/.signet)")

	serveCmd.Flags().StringVar(&host, "host", "", "Listen host (default: $SIGNET_HOST or localhost)")
	serveCmd.Flags().IntVar(&port, "port", 0, "Listen port (default: $SIGNET_PORT or 3850)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
