package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load records from a JSON array on stdin",
		Long:  "Load records from a JSON array on stdin, oldest first, through the normal insertion pipeline. Ids, timestamps, and provenance are preserved; eviction applies as usual.",
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var records []model.Record
	if err := json.Unmarshal(b, &records); err != nil {
		exitErr("parse", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	m, cleanup, err := openManager()
	if err != nil {
		exitErr("open", err)
	}
	defer cleanup()

	imported := 0
	for _, rec := range records {
		if _, err := m.AddWithSource(cmd.Context(), rec); err != nil {
			exitErr(fmt.Sprintf("import record %s", rec.ID), err)
		}
		imported++
	}

	out, _ := json.Marshal(map[string]int{"imported": imported})
	fmt.Println(string(out))
}
