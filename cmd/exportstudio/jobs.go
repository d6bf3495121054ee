package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"exportstudio/internal/jobs"
	"exportstudio/internal/store"
)

func newJobsCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Manage AI-pattern jobs",
	}
	cmd.AddCommand(
		newJobsSubmitCmd(logger),
		newJobsGetCmd(logger),
		newJobsListCmd(logger),
		newJobsDeleteCmd(logger),
	)
	return cmd
}

func coordinatorFromCmd(cmd *cobra.Command, logger *slog.Logger) (*jobs.Coordinator, *store.Store, error) {
	s, hd, err := openStore(cmd, store.ModeReadWrite)
	if err != nil {
		return nil, nil, err
	}
	return jobs.NewCoordinator(s, hd, logger), s, nil
}

func newJobsSubmitCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a pattern job against a conversation or project",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType, _ := cmd.Flags().GetString("type")
			targetID, _ := cmd.Flags().GetString("target")
			pattern, _ := cmd.Flags().GetString("pattern")
			if targetID == "" || pattern == "" {
				return exitf(exitUsage, "--target and --pattern are required")
			}

			coord, s, err := coordinatorFromCmd(cmd, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			job, err := coord.Submit(context.Background(), jobs.SubmitRequest{
				Type:     store.JobType(jobType),
				TargetID: targetID,
				Pattern:  pattern,
			})
			if err != nil {
				if errors.Is(err, jobs.ErrUnknownPattern) || errors.Is(err, store.ErrNotFound) {
					return exitf(exitUsage, "%w", err)
				}
				return exitf(exitIO, "submit: %w", err)
			}

			fmt.Printf("job %s %s\n", job.ID, job.Status)
			return nil
		},
	}

	cmd.Flags().String("type", string(store.JobTypeConversation), "job type: conversation or project")
	cmd.Flags().String("target", "", "conversation id or project gizmo id")
	cmd.Flags().String("pattern", "", "pattern name")
	return cmd
}

func newJobsGetCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, s, err := coordinatorFromCmd(cmd, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			job, err := coord.Get(context.Background(), args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return exitf(exitUsage, "%w", err)
				}
				return exitf(exitIO, "get job: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}
}

func newJobsListCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			coord, s, err := coordinatorFromCmd(cmd, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := coord.List(context.Background(), limit)
			if err != nil {
				return exitf(exitIO, "list jobs: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTARGET\tPATTERN\tSTATUS\tCREATED")
			for _, j := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Type, j.TargetID, j.Pattern, j.Status, fmtEpoch(j.CreatedAt))
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int("limit", 50, "maximum jobs to list")
	return cmd
}

func newJobsDeleteCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a job and its artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, s, err := coordinatorFromCmd(cmd, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := coord.Delete(context.Background(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return exitf(exitUsage, "%w", err)
				}
				return exitf(exitIO, "delete job: %w", err)
			}
			fmt.Println("deleted")
			return nil
		},
	}
}
