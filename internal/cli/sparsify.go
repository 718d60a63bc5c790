package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/hmmkit"
	"github.com/happyhackingspace/hmmkit/internal/matrixio"
	"github.com/happyhackingspace/hmmkit/sparse"
)

func (c *CLI) newSparsifyCommand() *cobra.Command {
	var maxK int
	var threshold float64
	var logInput bool

	cmd := &cobra.Command{
		Use:   "sparsify [resp-file]",
		Short: "Keep the largest responsibilities of every row",
		Long: `Reads a dense row-stochastic matrix and prints one line per row of
index:weight pairs, keeping at most --max-k entries renormalized to sum to one.`,
		Args: cobra.MaximumNArgs(1),
		Example: `  # Keep the top 3 components per row
  hmmkit sparsify out/a.resp.txt --max-k 3

  # Drop entries below 0.01 (the largest is always kept)
  hmmkit sparsify out/a.resp.txt --max-k 5 --threshold 0.01

  # Input holds unnormalized log-responsibilities
  hmmkit sparsify logresp.txt --max-k 3 --log`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else if isStdinTerminal() {
				return cmd.Help()
			}

			resp, err := readMatrix(path)
			if err != nil {
				return err
			}

			opts := sparse.DefaultOptions(maxK)
			opts.Threshold = threshold

			start := time.Now()
			var rows []sparse.Row
			if logInput {
				rows, err = sparse.SparsifyLog(resp, opts)
			} else {
				rows, err = hmmkit.SparsifyBatch(cmd.Context(), resp, opts, c.workers)
			}
			if err != nil {
				return err
			}
			slog.Debug("Sparsify completed", "rows", len(rows), "max-k", maxK, "duration", time.Since(start))

			return matrixio.WriteSparse(os.Stdout, rows)
		},
	}

	cmd.Flags().IntVarP(&maxK, "max-k", "k", 3, "Maximum number of entries kept per row")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Drop entries below this weight (the largest is always kept)")
	cmd.Flags().BoolVar(&logInput, "log", false, "Input holds unnormalized log-responsibilities")
	return cmd
}
