package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/memtier/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Store a record",
		Long:  "Store a record. Content can be a positional arg or piped via stdin. Entities and connections are derived automatically.",
		Run:   runAdd,
	}

	cmd.Flags().StringP("type", "t", string(model.TypeInteraction), "Record type: interaction, reflection, curiosity, emotional_state, wisdom_transformation, existential_reflection")
	cmd.Flags().Float64P("valence", "V", 0, "Emotional valence in [-1, 1]")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	valence, _ := cmd.Flags().GetFloat64("valence")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("add", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	m, cleanup, err := openManager()
	if err != nil {
		exitErr("open", err)
	}
	defer cleanup()

	rec, err := m.Add(cmd.Context(), strings.TrimSpace(content), model.RecordType(typ), valence)
	if err != nil {
		exitErr("add", err)
	}

	b, _ := json.Marshal(rec)
	fmt.Println(string(b))
}
