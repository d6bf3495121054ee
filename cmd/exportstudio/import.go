package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"exportstudio/internal/archive"
	"exportstudio/internal/chunker"
	"exportstudio/internal/ingest"
	"exportstudio/internal/store"
)

func newImportCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <archive>",
		Short: "Ingest a ChatGPT export archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			chunk, _ := cmd.Flags().GetBool("chunk")
			targetSize, _ := cmd.Flags().GetInt("target-size")
			overlap, _ := cmd.Flags().GetInt("overlap")

			s, _, err := openStore(cmd, store.ModeReadWrite)
			if err != nil {
				return err
			}
			defer s.Close()

			ing := ingest.New(s, logger)
			res, err := ing.Ingest(context.Background(), args[0], ingest.Options{
				Force: force,
				Chunk: chunk,
				ChunkConfig: chunker.Config{
					TargetSize: targetSize,
					Overlap:    overlap,
				},
			})
			if err != nil {
				switch {
				case errors.Is(err, archive.ErrNoConversations),
					errors.Is(err, archive.ErrUnsupportedFormat):
					return exitf(exitParse, "%w", err)
				default:
					return exitf(exitIO, "%w", err)
				}
			}

			fmt.Printf("added %d conversations (%d messages), skipped %d, failed records %d\n",
				res.ConversationsAdded, res.MessagesAdded, res.Skipped, res.FailedRecords)
			return nil
		},
	}

	cmd.Flags().Bool("force", false, "replace conversations that were already ingested")
	cmd.Flags().Bool("chunk", false, "build chunks for ingested conversations")
	cmd.Flags().Int("target-size", chunker.DefaultTargetSize, "chunk target size in runes")
	cmd.Flags().Int("overlap", chunker.DefaultOverlap, "chunk overlap in runes")
	return cmd
}
