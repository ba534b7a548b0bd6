// Package cli implements the memtier CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/memtier/internal/archive"
	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/memory"
	"github.com/rcliao/memtier/internal/store"
)

var (
	dataFlag    string
	configFlag  string
	verboseFlag bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memtier",
	Short: "Tiered record storage for long-running agents",
	Long:  "Two-tier record storage: a bounded SQLite active tier, append-only monthly archives, and a crash-resistant state snapshot engine. Text in, JSON out.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dataFlag, "data", "d", "", "Data directory (default: $MEMTIER_DATA or ~/.memtier)")
	RootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default: <data>/memtier.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging to stderr")
}

func dataDir() string {
	if dataFlag != "" {
		return dataFlag
	}
	if env := os.Getenv("MEMTIER_DATA"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memtier")
}

func newLogger() *zap.Logger {
	if !verboseFlag {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func loadConfig() (config.Config, error) {
	path := configFlag
	if path == "" {
		path = filepath.Join(dataDir(), "memtier.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir()
	}
	return cfg, nil
}

// openManager wires both tiers under the configured data directory. The
// returned cleanup closes them in reverse order.
func openManager() (*memory.Manager, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log := newLogger()

	active, err := store.Open(filepath.Join(cfg.DataDir, "active_memory.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open active store: %w", err)
	}

	arch, err := archive.OpenStore(
		filepath.Join(cfg.DataDir, "memory_archive"),
		filepath.Join(cfg.DataDir, "archive_index.db"),
		archive.WithLogger(log),
	)
	if err != nil {
		active.Close()
		return nil, nil, fmt.Errorf("open archive store: %w", err)
	}

	m := memory.New(active, arch, cfg.Memory, memory.WithLogger(log))
	cleanup := func() {
		arch.Close()
		active.Close()
		log.Sync()
	}
	return m, cleanup, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
