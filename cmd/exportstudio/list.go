package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"exportstudio/internal/store"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			search, _ := cmd.Flags().GetString("search")
			gizmo, _ := cmd.Flags().GetString("gizmo")

			s, _, err := openStore(cmd, store.ModeReadOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			convs, err := s.ListConversations(context.Background(), store.ListOptions{
				Limit:       limit,
				Offset:      offset,
				TitleSearch: search,
				GizmoID:     gizmo,
			})
			if err != nil {
				return exitf(exitIO, "list conversations: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tCREATED\tMODEL")
			for _, c := range convs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					c.ID, c.Title, c.MessageCount, fmtEpoch(c.CreatedAt), c.DefaultModelSlug)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int("limit", 50, "maximum conversations to list")
	cmd.Flags().Int("offset", 0, "pagination offset")
	cmd.Flags().String("search", "", "filter by title substring")
	cmd.Flags().String("gizmo", "", "filter by gizmo (project) id")
	return cmd
}

func fmtEpoch(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04")
}
