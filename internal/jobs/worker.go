package jobs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"exportstudio/internal/exporter"
	"exportstudio/internal/home"
	"exportstudio/internal/logging"
	"exportstudio/internal/store"
)

// heartbeatInterval is how often a live worker refreshes its job row.
const heartbeatInterval = 15 * time.Second

// WorkerConfig configures one worker run.
type WorkerConfig struct {
	Store *store.Store
	Home  home.Dir

	// PatternCommand is the argv template for the external pattern tool.
	// "{pattern}" expands to the job's pattern name. Empty means the
	// default fabric invocation.
	PatternCommand []string

	// RenderCommand is the argv template for the markdown-to-binary
	// renderer; "{in}" and "{out}" expand to file paths. Empty means the
	// artifact stays markdown.
	RenderCommand []string

	Logger *slog.Logger
}

// Worker executes a single job row to completion.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker creates a Worker for one run.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := logging.Default(cfg.Logger)
	return &Worker{
		cfg:    cfg,
		logger: logger.With("component", "worker"),
		now:    time.Now,
	}
}

// Run loads the job, transitions it to running, renders the prompt, invokes
// the pattern tool, writes the artifact, and transitions the job to done.
// Any error lands on the job row as a failed status with a one-line message;
// the returned error mirrors it for the process exit code.
func (w *Worker) Run(ctx context.Context, jobID string) error {
	s := w.cfg.Store
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		w.logger.Info("job already terminal", "job", jobID, "status", job.Status)
		return nil
	}

	if err := s.SetJobRunning(ctx, jobID, w.now().Unix()); err != nil {
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx, jobID)

	resultPath, err := w.execute(ctx, *job)
	if err != nil {
		ferr := s.SetJobFailed(ctx, jobID, oneLine(err.Error()), w.now().Unix())
		if ferr != nil {
			w.logger.Error("failed to record job failure", "job", jobID, "error", ferr)
		}
		return err
	}

	if err := s.SetJobDone(ctx, jobID, resultPath, w.now().Unix()); err != nil {
		return err
	}
	w.logger.Info("job done", "job", jobID, "result", resultPath)
	return nil
}

func (w *Worker) heartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.cfg.Store.TouchJobHeartbeat(ctx, jobID, w.now().Unix()); err != nil {
				w.logger.Warn("heartbeat failed", "job", jobID, "error", err)
			}
		}
	}
}

// execute runs the three worker stages and returns the relative result path.
func (w *Worker) execute(ctx context.Context, job store.Job) (string, error) {
	s := w.cfg.Store
	progress := func(current int, msg string) {
		p := store.Progress{Current: current, Total: 3, Message: msg}
		if err := s.SetJobProgress(ctx, job.ID, p); err != nil {
			w.logger.Warn("progress update failed", "job", job.ID, "error", err)
		}
	}

	progress(1, "rendering prompt")
	prompt, err := w.renderPrompt(ctx, job)
	if err != nil {
		return "", err
	}

	progress(2, "running pattern "+job.Pattern)
	output, err := w.runPattern(ctx, job.Pattern, prompt)
	if err != nil {
		return "", err
	}

	progress(3, "writing artifact")
	return w.writeArtifact(ctx, job, output)
}

// renderPrompt produces the pattern input: the conversation document, or all
// project conversations joined by horizontal rules.
func (w *Worker) renderPrompt(ctx context.Context, job store.Job) (string, error) {
	exp := exporter.New(w.cfg.Store, w.logger)
	switch job.Type {
	case store.JobTypeConversation:
		return exp.Markdown(ctx, job.TargetID, false)
	case store.JobTypeProject:
		return exp.ProjectMarkdown(ctx, job.TargetID, false)
	default:
		return "", fmt.Errorf("unknown job type %q", job.Type)
	}
}

// runPattern pipes the prompt through the external pattern tool.
func (w *Worker) runPattern(ctx context.Context, pattern, prompt string) ([]byte, error) {
	argv := w.cfg.PatternCommand
	if len(argv) == 0 {
		argv = []string{"fabric", "-p", "{pattern}"}
	}
	argv = expand(argv, map[string]string{"{pattern}": pattern})

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // G204: argv comes from operator config
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := oneLine(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("pattern tool %q: %s", argv[0], msg)
	}
	return stdout.Bytes(), nil
}

// writeArtifact persists the pattern output under the home's generated
// directory and returns its home-relative path. With a renderer configured
// the artifact is its binary output; otherwise the markdown itself.
func (w *Worker) writeArtifact(ctx context.Context, job store.Job, output []byte) (string, error) {
	dir := w.cfg.Home.ArtifactDir(string(job.Type), job.TargetID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create artifact directory: %w", err)
	}

	mdPath := filepath.Join(dir, job.Pattern+".md")
	if err := os.WriteFile(mdPath, output, 0o640); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	finalPath := mdPath
	if len(w.cfg.RenderCommand) > 0 {
		finalPath = filepath.Join(dir, job.Pattern+".pdf")
		argv := expand(w.cfg.RenderCommand, map[string]string{
			"{in}":  mdPath,
			"{out}": finalPath,
		})
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // G204: argv comes from operator config
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			msg := oneLine(stderr.String())
			if msg == "" {
				msg = err.Error()
			}
			return "", fmt.Errorf("renderer %q: %s", argv[0], msg)
		}
	}

	rel, err := filepath.Rel(w.cfg.Home.Root(), finalPath)
	if err != nil {
		return "", fmt.Errorf("relativize artifact path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// expand substitutes placeholders in an argv template.
func expand(argv []string, vars map[string]string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		for k, v := range vars {
			a = strings.ReplaceAll(a, k, v)
		}
		out[i] = a
	}
	return out
}
