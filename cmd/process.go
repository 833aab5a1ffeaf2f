package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadsense/internal/model"
)

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Process one turn from a JSON file or stdin",
	Long:  "Reads a TurnEnvelope JSON document and runs it through the detection pipeline. Useful for replaying captured turns and for smoke-testing rule changes.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
			if err != nil {
				return eris.Wrapf(err, "read turn file %s", args[0])
			}
		} else {
			data, err = io.ReadAll(os.Stdin)
			if err != nil {
				return eris.Wrap(err, "read stdin")
			}
		}

		var turn model.TurnEnvelope
		if err := json.Unmarshal(data, &turn); err != nil {
			return eris.Wrap(err, "parse turn")
		}
		if turn.ConversationID == "" {
			return eris.New("conversation_id is required")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		outcome := env.Pipeline.ProcessTurn(ctx, turn)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(outcome)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
