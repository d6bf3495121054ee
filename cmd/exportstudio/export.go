package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"exportstudio/internal/exporter"
	"exportstudio/internal/store"
)

func newExportCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export md|jsonl|pairs|obsidian|corpus",
		Short: "Deterministic exports of the corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			redact, _ := cmd.Flags().GetBool("redact")
			out, _ := cmd.Flags().GetString("out")
			id, _ := cmd.Flags().GetString("id")

			s, hd, err := openStore(cmd, store.ModeReadOnly)
			if err != nil {
				return err
			}
			defer s.Close()

			exp := exporter.New(s, logger)
			ctx := context.Background()

			switch args[0] {
			case "md":
				if id == "" {
					return exitf(exitUsage, "export md requires --id")
				}
				doc, err := exp.Markdown(ctx, id, redact)
				if err != nil {
					return exportErr(err)
				}
				return writeOut(out, func(w io.Writer) error {
					_, err := io.WriteString(w, doc)
					return err
				})

			case "jsonl":
				return writeOut(out, func(w io.Writer) error {
					n, err := exp.WriteJSONL(ctx, w, redact)
					if err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "wrote %d messages\n", n)
					return nil
				})

			case "pairs":
				return writeOut(out, func(w io.Writer) error {
					n, err := exp.WritePairs(ctx, w, redact)
					if err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "wrote %d pairs\n", n)
					return nil
				})

			case "obsidian":
				dir := out
				if dir == "" {
					dir = filepath.Join(hd.GeneratedDir(), "vault")
				}
				n, err := exp.WriteVault(ctx, dir, redact)
				if err != nil {
					return exportErr(err)
				}
				fmt.Printf("wrote %d notes to %s\n", n, dir)
				return nil

			case "corpus":
				return writeOut(out, func(w io.Writer) error {
					n, err := exp.WriteCorpus(ctx, w, redact)
					if err != nil {
						return err
					}
					fmt.Fprintf(os.Stderr, "wrote %d conversations\n", n)
					return nil
				})

			default:
				return exitf(exitUsage, "unknown export format %q", args[0])
			}
		},
	}

	cmd.Flags().Bool("redact", false, "redact emails, phone numbers, and SSNs")
	cmd.Flags().String("out", "", "output file or directory (default: stdout)")
	cmd.Flags().String("id", "", "conversation id (md format)")
	return cmd
}

// writeOut runs the export against --out or stdout.
func writeOut(path string, f func(io.Writer) error) error {
	if path == "" {
		if err := f(os.Stdout); err != nil {
			return exportErr(err)
		}
		return nil
	}

	file, err := os.Create(path) //nolint:gosec // G304: operator-provided output path
	if err != nil {
		return exitf(exitIO, "create %q: %w", path, err)
	}
	if err := f(file); err != nil {
		file.Close()
		return exportErr(err)
	}
	if err := file.Close(); err != nil {
		return exitf(exitIO, "close %q: %w", path, err)
	}
	return nil
}

func exportErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return exitf(exitUsage, "%w", err)
	}
	return exitf(exitIO, "export: %w", err)
}
