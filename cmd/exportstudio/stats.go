package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"exportstudio/internal/store"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Corpus counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd, store.ModeReadOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.Stats(context.Background())
			if err != nil {
				return exitf(exitIO, "stats: %w", err)
			}
			fmt.Printf("conversations: %d\nmessages: %d\nchunks: %d\nprojects: %d\n",
				st.Conversations, st.Messages, st.Chunks, st.Projects)
			return nil
		},
	}
}
