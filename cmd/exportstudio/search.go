package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"exportstudio/internal/store"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Ranked full-text search over messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			s, _, err := openStore(cmd, store.ModeReadOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			hits, err := s.Search(context.Background(), args[0], limit)
			if err != nil {
				return exitf(exitIO, "search: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONVERSATION\tROLE\tSNIPPET")
			for _, h := range hits {
				fmt.Fprintf(w, "%s\t%s\t%s\n", h.ConversationID, h.Role, h.Snippet)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int("limit", 20, "maximum hits")
	return cmd
}
