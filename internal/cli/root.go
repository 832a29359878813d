// Package cli provides the command-line interface for chatsync.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/chatsync/internal/config"
	"github.com/raphaelgruber/chatsync/internal/store"
	"github.com/raphaelgruber/chatsync/internal/store/sqlite"
	"github.com/raphaelgruber/chatsync/internal/store/surreal"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	storeFlag string

	// Global config, logger, and local store
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func() error
	localStore *store.Store
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Terminal client for a streaming chat gateway",
	Long: `Chatsync is a terminal client for a WebSocket chat gateway.

It reconciles streamed responses into a local transcript, keeps per-session
history cached across restarts, loads only the missing tail of a conversation
from the backend, and keeps a daily token usage ledger.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip setup for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if storeFlag != "" {
			cfg.Store = storeFlag
		}
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		// The interactive session owns the terminal, so it only logs to file.
		if cmd.Name() == "chat" {
			logger, closeLog = config.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
		} else {
			logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		}
		slog.SetDefault(logger)

		kv, err := openKV(cmd.Context(), cfg, logger)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.Store, err)
		}
		localStore = store.New(kv)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if localStore != nil {
			if err := localStore.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// openKV opens the storage backend selected by c.Store.
func openKV(ctx context.Context, c config.Config, log *slog.Logger) (store.KV, error) {
	switch c.Store {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreSQLite, "":
		kv, err := sqlite.Open(ctx, c.SQLitePath)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case config.StoreSurreal:
		kv, err := surreal.NewKV(ctx, surreal.Config{
			URL:       c.SurrealDBURL,
			Namespace: c.SurrealDBNamespace,
			Database:  c.SurrealDBDatabase,
			Username:  c.SurrealDBUser,
			Password:  c.SurrealDBPass,
			AuthLevel: c.SurrealDBAuthLevel,
		}, log)
		if err != nil {
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want sqlite, surreal, or memory)", c.Store)
	}
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "storage backend: sqlite, surreal, or memory (overrides CHATSYNC_STORE)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sessionsCmd)
}
