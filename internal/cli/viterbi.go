package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/hmmkit"
)

type viterbiOutput struct {
	Path     []int   `json:"path"`
	LogScore float64 `json:"log_score"`
}

func (c *CLI) newViterbiCommand() *cobra.Command {
	var modelPath string

	cmd := &cobra.Command{
		Use:   "viterbi [loglik-file]",
		Short: "Decode the most likely state path of one sequence",
		Args:  cobra.MaximumNArgs(1),
		Example: `  hmmkit viterbi data/seq/a.txt --model data/model.json
  cat a.txt | hmmkit viterbi --model model.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else if isStdinTerminal() {
				return cmd.Help()
			}

			model, err := loadModel(nil, modelPath)
			if err != nil {
				return err
			}
			ll, err := readMatrix(path)
			if err != nil {
				return err
			}

			start := time.Now()
			states, score, err := hmmkit.Viterbi(ll, model)
			if err != nil {
				return err
			}
			slog.Debug("Viterbi completed", "steps", len(states), "duration", time.Since(start))

			output, _ := json.MarshalIndent(viterbiOutput{Path: states, LogScore: score}, "", "  ")
			fmt.Println(string(output))
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: auto-detect model.json)")
	return cmd
}
