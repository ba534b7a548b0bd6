package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover the cognitive state from disk",
		Long:  "Read the newest valid cognitive state, trying the primary file, then the backup, then the dated archives newest first.",
		Run:   runRecover,
	}

	RootCmd.AddCommand(cmd)
}

func runRecover(cmd *cobra.Command, args []string) {
	eng, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}

	st, err := eng.Recover()
	if err != nil {
		exitErr("recover", err)
	}

	b, _ := json.MarshalIndent(st, "", "  ")
	fmt.Println(string(b))
}
