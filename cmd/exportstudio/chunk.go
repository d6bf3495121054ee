package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"exportstudio/internal/chunker"
	"exportstudio/internal/store"
)

func newChunkCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "(Re)build overlapping text chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			targetSize, _ := cmd.Flags().GetInt("target-size")
			overlap, _ := cmd.Flags().GetInt("overlap")
			conversationID, _ := cmd.Flags().GetString("conversation")

			cfg := chunker.Config{TargetSize: targetSize, Overlap: overlap}
			if err := cfg.Validate(); err != nil {
				return exitf(exitUsage, "%w", err)
			}

			s, _, err := openStore(cmd, store.ModeReadWrite)
			if err != nil {
				return err
			}
			defer s.Close()

			c := chunker.New(s, logger)
			ctx := context.Background()

			var n int
			if conversationID != "" {
				n, err = c.Rechunk(ctx, conversationID, cfg)
			} else {
				n, err = c.RechunkAll(ctx, cfg)
			}
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return exitf(exitUsage, "%w", err)
				}
				return exitf(exitIO, "chunk: %w", err)
			}

			fmt.Printf("wrote %d chunks\n", n)
			return nil
		},
	}

	cmd.Flags().Int("target-size", chunker.DefaultTargetSize, "chunk target size in runes")
	cmd.Flags().Int("overlap", chunker.DefaultOverlap, "chunk overlap in runes")
	cmd.Flags().String("conversation", "", "chunk a single conversation id")
	return cmd
}
