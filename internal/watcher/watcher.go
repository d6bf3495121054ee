// Package watcher auto-ingests export archives dropped into a directory.
//
// A dropped file is ingested once its size has been stable for a settle
// interval, so half-copied archives are never read. Files are remembered by
// path, size, and mtime for the lifetime of the watcher; re-dropping an
// updated archive triggers a fresh ingest.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"exportstudio/internal/ingest"
	"exportstudio/internal/logging"
)

const (
	defaultSettle = 2 * time.Second
	defaultPoll   = 30 * time.Second
)

// Ingestor runs one archive ingest. Satisfied by *ingest.Ingestor.
type Ingestor interface {
	Ingest(ctx context.Context, path string, opts ingest.Options) (ingest.Result, error)
}

// Config configures a Watcher.
type Config struct {
	// Dir is the watched drop directory. It is created if missing.
	Dir string

	// Settle is how long a file's size must stay unchanged before ingest.
	Settle time.Duration

	// Poll is the fallback rescan interval for events fsnotify missed.
	Poll time.Duration

	// Ingest options applied to every auto-ingested archive.
	Ingest ingest.Options

	Logger *slog.Logger
}

// fileState tracks a candidate file between observations.
type fileState struct {
	size      int64
	unchanged time.Time // when this size was first observed
}

// seenKey identifies an already-ingested file version.
type seenKey struct {
	size    int64
	modTime int64
}

// Watcher ingests archives dropped into a directory.
type Watcher struct {
	cfg      Config
	ingestor Ingestor
	logger   *slog.Logger
	now      func() time.Time

	pending map[string]fileState
	seen    map[string]seenKey
}

// New creates a Watcher. logger may be nil.
func New(ing Ingestor, cfg Config) *Watcher {
	if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.Poll == 0 {
		cfg.Poll = defaultPoll
	}
	return &Watcher{
		cfg:      cfg,
		ingestor: ing,
		logger:   logging.Default(cfg.Logger).With("component", "watcher"),
		now:      time.Now,
		pending:  make(map[string]fileState),
		seen:     make(map[string]seenKey),
	}
}

// isArchive reports whether the filename looks like an export archive.
func isArchive(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".zip"),
		strings.HasSuffix(name, ".json"),
		strings.HasSuffix(name, ".json.gz"),
		strings.HasSuffix(name, ".json.zst"):
		return true
	}
	return false
}

// Run watches the drop directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o750); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.cfg.Dir); err != nil {
		return err
	}

	w.logger.Info("watching drop directory", "dir", w.cfg.Dir)

	// Pick up files already present at startup.
	w.scan()

	settle := time.NewTicker(w.cfg.Settle)
	defer settle.Stop()
	rescan := time.NewTicker(w.cfg.Poll)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isArchive(event.Name) {
				w.observe(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)

		case <-settle.C:
			w.ingestSettled(ctx)

		case <-rescan.C:
			w.scan()
		}
	}
}

// scan registers every archive currently in the drop directory.
func (w *Watcher) scan() {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.logger.Warn("scan failed", "dir", w.cfg.Dir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Dir, e.Name())
		if isArchive(path) {
			w.observe(path)
		}
	}
}

// observe records the file's current size, restarting its settle clock when
// the size changed since the last observation.
func (w *Watcher) observe(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	if key, ok := w.seen[path]; ok && key.size == info.Size() && key.modTime == info.ModTime().UnixNano() {
		return
	}
	st, ok := w.pending[path]
	if !ok || st.size != info.Size() {
		w.pending[path] = fileState{size: info.Size(), unchanged: w.now()}
	}
}

// ingestSettled ingests every pending file whose size has been stable for the
// settle interval.
func (w *Watcher) ingestSettled(ctx context.Context) {
	for path, st := range w.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != st.size {
			w.pending[path] = fileState{size: info.Size(), unchanged: w.now()}
			continue
		}
		if w.now().Sub(st.unchanged) < w.cfg.Settle {
			continue
		}

		delete(w.pending, path)
		w.seen[path] = seenKey{size: info.Size(), modTime: info.ModTime().UnixNano()}

		res, err := w.ingestor.Ingest(ctx, path, w.cfg.Ingest)
		if err != nil {
			w.logger.Error("auto-ingest failed", "path", path, "error", err)
			continue
		}
		w.logger.Info("auto-ingest complete", "path", path,
			"added", res.ConversationsAdded, "skipped", res.Skipped,
			"failed_records", res.FailedRecords)
	}
}
