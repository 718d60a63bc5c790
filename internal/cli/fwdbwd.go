package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/happyhackingspace/hmmkit"
	"github.com/happyhackingspace/hmmkit/internal/matrixio"
	"github.com/happyhackingspace/hmmkit/internal/storage"
)

func (c *CLI) newFwdBwdCommand() *cobra.Command {
	var dataFolder string
	var modelPath string
	var outputDir string
	var parallelPasses bool
	var noCrossCheck bool
	var strict bool

	cmd := &cobra.Command{
		Use:   "fwdbwd",
		Short: "Run forward-backward over every sequence in a data folder",
		Example: `  # Summed statistics for all sequences in data/
  hmmkit fwdbwd --data-folder data

  # Also write per-sequence responsibilities
  hmmkit fwdbwd --data-folder data --output out

  # Use a different transition model and 4 workers
  hmmkit fwdbwd --model sticky.json -w 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := storage.NewStorage(dataFolder)

			start := time.Now()
			model, err := loadModel(store, modelPath)
			if err != nil {
				return err
			}
			opts := storage.DefaultIterOptions()
			opts.SkipUnreadable = !strict
			stored, err := store.IterSequences(opts)
			if err != nil {
				return err
			}
			slog.Debug("Data loaded", "sequences", len(stored), "states", model.NumStates(), "duration", time.Since(start))

			seqs := make([]hmmkit.Sequence, len(stored))
			for i, s := range stored {
				seqs[i] = hmmkit.Sequence{ID: s.ID, LogLik: s.LogLik}
			}

			cfg := hmmkit.DefaultBatchConfig()
			cfg.Workers = c.workers
			cfg.FwdBwd.ParallelPasses = parallelPasses
			cfg.FwdBwd.CrossCheck = !noCrossCheck

			start = time.Now()
			res, batchErr := hmmkit.RunBatch(cmd.Context(), model, seqs, cfg)
			if res == nil {
				return batchErr
			}
			slog.Info("Forward-backward completed", "sequences", len(seqs), "failed", res.Failed,
				"unstable", res.Unstable, "duration", time.Since(start))
			for _, r := range res.Results {
				if r.Err != nil {
					slog.Warn("Sequence failed", "id", r.ID, "error", r.Err)
				}
			}

			if outputDir != "" {
				if err := writeResponsibilities(outputDir, res); err != nil {
					return err
				}
			}

			output, _ := json.MarshalIndent(res.Summary, "", "  ")
			fmt.Println(string(output))
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d sequences failed", res.Failed, len(seqs))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to sequence data folder")
	cmd.Flags().StringVar(&modelPath, "model", "", "Path to model file (default: <data-folder>/model.json)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Write per-sequence responsibilities to this directory")
	cmd.Flags().BoolVar(&parallelPasses, "parallel-passes", false, "Run the forward and backward passes concurrently")
	cmd.Flags().BoolVar(&noCrossCheck, "no-cross-check", false, "Skip the backward log-marginal cross-check")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on unreadable sequence files instead of skipping them")
	return cmd
}

func writeResponsibilities(dir string, res *hmmkit.BatchResult) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	written := 0
	for _, r := range res.Results {
		if r.Posterior == nil {
			continue
		}
		path := filepath.Join(dir, r.ID+".resp.txt")
		if err := matrixio.WriteFile(path, r.Posterior.Resp); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written++
	}
	slog.Info("Responsibilities written", "files", written, "dir", dir)
	return nil
}
