package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"exportstudio/internal/jobs"
	"exportstudio/internal/store"
)

func newWorkerCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Execute a single job to completion",
		Hidden: true, // spawned by the coordinator; invocable by hand for debugging
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, _ := cmd.Flags().GetString("job-id")
			if jobID == "" {
				return exitf(exitUsage, "--job-id is required")
			}
			patternCmd, _ := cmd.Flags().GetStringSlice("pattern-cmd")
			renderCmd, _ := cmd.Flags().GetStringSlice("render-cmd")

			s, hd, err := openStore(cmd, store.ModeReadWrite)
			if err != nil {
				return err
			}
			defer s.Close()

			w := jobs.NewWorker(jobs.WorkerConfig{
				Store:          s,
				Home:           hd,
				PatternCommand: patternCmd,
				RenderCommand:  renderCmd,
				Logger:         logger,
			})
			if err := w.Run(context.Background(), jobID); err != nil {
				return exitf(exitSubprocess, "%w", err)
			}
			return nil
		},
	}

	cmd.Flags().String("job-id", "", "job id to execute")
	cmd.Flags().StringSlice("pattern-cmd", nil, "pattern tool argv template ({pattern} expands)")
	cmd.Flags().StringSlice("render-cmd", nil, "artifact renderer argv template ({in}/{out} expand)")
	return cmd
}
