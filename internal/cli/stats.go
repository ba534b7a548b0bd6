package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show record counts across both tiers",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type statsOutput struct {
	DataDir string `json:"data_dir"`
	*memory.Stats
	ActiveDBBytes int64 `json:"active_db_bytes"`
	IndexDBBytes  int64 `json:"index_db_bytes"`
}

func runStats(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("config", err)
	}

	m, cleanup, err := openManager()
	if err != nil {
		exitErr("open", err)
	}
	defer cleanup()

	st, err := m.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	out := statsOutput{DataDir: cfg.DataDir, Stats: st}
	out.ActiveDBBytes = fileSize(filepath.Join(cfg.DataDir, "active_memory.db"))
	out.IndexDBBytes = fileSize(filepath.Join(cfg.DataDir, "archive_index.db"))

	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Println(string(b))
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
