package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"exportstudio/internal/ingest"
	"exportstudio/internal/jobs"
	"exportstudio/internal/server"
	"exportstudio/internal/store"
	"exportstudio/internal/watcher"
)

func newServeCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			watchDir, _ := cmd.Flags().GetString("watch-dir")

			s, hd, err := openStore(cmd, store.ModeReadWrite)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			coord := jobs.NewCoordinator(s, hd, logger)

			maint, err := jobs.NewMaintenance(s, hd, logger)
			if err != nil {
				return exitf(exitIO, "%w", err)
			}
			if err := maint.Start(); err != nil {
				return exitf(exitIO, "%w", err)
			}
			defer func() {
				if err := maint.Stop(); err != nil {
					logger.Error("maintenance stop error", "error", err)
				}
			}()

			var wg sync.WaitGroup
			if watchDir != "" {
				w := watcher.New(ingest.New(s, logger), watcher.Config{
					Dir:    watchDir,
					Ingest: ingest.Options{Chunk: true},
					Logger: logger,
				})
				wg.Go(func() {
					if err := w.Run(ctx); err != nil {
						logger.Error("watcher error", "error", err)
					}
				})
			}

			srv := server.New(s, hd, coord, server.Config{Logger: logger})
			wg.Go(func() {
				if err := srv.ServeTCP(addr); err != nil {
					logger.Error("server error", "error", err)
					cancel()
				}
			})

			<-ctx.Done()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := srv.Stop(stopCtx); err != nil {
				logger.Error("server stop error", "error", err)
			}
			wg.Wait()
			logger.Info("shutdown complete")
			return nil
		},
	}

	cmd.Flags().String("addr", ":8484", "listen address (host:port)")
	cmd.Flags().String("watch-dir", "", "auto-ingest archives dropped into this directory")
	return cmd
}
