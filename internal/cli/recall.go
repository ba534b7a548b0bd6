package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [entities...]",
		Short: "Retrieve records across both tiers",
		Long:  "Retrieve records by entity, falling back to recent records and then to archived files. Ranked by recency weighted with emotional magnitude.",
		Run:   runRecall,
	}

	cmd.Flags().IntP("limit", "l", 10, "Max results")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	m, cleanup, err := openManager()
	if err != nil {
		exitErr("open", err)
	}
	defer cleanup()

	records, err := m.Recall(cmd.Context(), args, limit)
	if err != nil {
		exitErr("recall", err)
	}

	b, _ := json.MarshalIndent(records, "", "  ")
	fmt.Println(string(b))
}
