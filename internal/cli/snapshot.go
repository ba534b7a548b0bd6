package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/persist"
)

func init() {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Persist the cognitive state to all locations",
		Long:  "Recover the current cognitive state (or start fresh), bump its version, and write it to the primary, backup, and dated archive files. With --watch, keep snapshotting on the configured interval until interrupted.",
		Run:   runSnapshot,
	}

	cmd.Flags().Bool("watch", false, "Keep snapshotting on the configured interval")

	RootCmd.AddCommand(cmd)
}

func openEngine() (*persist.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return persist.NewEngine(filepath.Join(cfg.DataDir, "state"),
		persist.WithKeep(cfg.Snapshot.Keep),
		persist.WithEngineLogger(newLogger()))
}

func runSnapshot(cmd *cobra.Command, args []string) {
	watch, _ := cmd.Flags().GetBool("watch")

	eng, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}

	st, err := eng.Recover()
	if errors.Is(err, persist.ErrNoState) {
		st = persist.NewState()
	} else if err != nil {
		exitErr("recover", err)
	}
	st.Touch()

	if err := eng.Persist(st); err != nil {
		exitErr("persist", err)
	}

	if watch {
		cfg, err := loadConfig()
		if err != nil {
			exitErr("config", err)
		}
		interval, err := cfg.SnapshotInterval()
		if err != nil {
			exitErr("interval", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		eng.Run(ctx, persist.NewLive(st), interval)
		return
	}

	b, _ := json.Marshal(map[string]uint64{"version": st.Version})
	fmt.Println(string(b))
}
