// Command exportstudio manages a local archive of ChatGPT export data:
// ingest, search, deterministic exports, and AI-pattern jobs.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"exportstudio/internal/home"
	"exportstudio/internal/logging"
	"exportstudio/internal/store"
)

// Exit codes.
const (
	exitOK         = 0
	exitUsage      = 1 // argument error
	exitParse      = 2 // archive parse failure
	exitIO         = 3 // I/O or store failure
	exitSubprocess = 4 // worker or pattern tool failure
)

// exitError carries a process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitf(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

func main() {
	// Base handler allows all levels; filtering is done per component.
	baseHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	filterHandler := logging.NewComponentFilterHandler(baseHandler, slog.LevelInfo)
	logger := slog.New(filterHandler)

	rootCmd := &cobra.Command{
		Use:           "exportstudio",
		Short:         "ChatGPT export archive tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("home", "", "home directory (default: platform config dir, or EXPORTSTUDIO_HOME)")
	rootCmd.PersistentFlags().String("db", "", "database file (default: <home>/exportstudio.db)")

	rootCmd.AddCommand(
		newServeCmd(logger),
		newImportCmd(logger),
		newListCmd(),
		newSearchCmd(),
		newChunkCmd(logger),
		newExportCmd(logger),
		newStatsCmd(),
		newJobsCmd(logger),
		newWorkerCmd(logger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(exitUsage)
	}
}

// resolveHome returns a Dir from the --home flag, or the platform default.
func resolveHome(cmd *cobra.Command) (home.Dir, error) {
	flagValue, _ := cmd.Flags().GetString("home")
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default()
}

// openStore resolves the home directory and opens the database in the given
// mode. ModeReadWrite creates the home directory when missing.
func openStore(cmd *cobra.Command, mode store.Mode) (*store.Store, home.Dir, error) {
	hd, err := resolveHome(cmd)
	if err != nil {
		return nil, home.Dir{}, exitf(exitIO, "resolve home directory: %w", err)
	}

	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = hd.DatabasePath()
	}

	if mode == store.ModeReadWrite {
		if err := hd.EnsureExists(); err != nil {
			return nil, home.Dir{}, exitf(exitIO, "%w", err)
		}
	}

	s, err := store.Open(dbPath, mode)
	if err != nil {
		return nil, home.Dir{}, exitf(exitIO, "open database %q: %w", dbPath, err)
	}
	return s, hd, nil
}
