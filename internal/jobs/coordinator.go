// Package jobs runs AI-pattern jobs against conversations and projects.
//
// The coordinator holds no in-memory references to running work: every job is
// a row in the store, transitioned by an out-of-process worker. Submission
// deduplicates on (target id, pattern), streaming polls the row, and the
// result cache is the artifact file on disk.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"exportstudio/internal/home"
	"exportstudio/internal/logging"
	"exportstudio/internal/store"
)

// streamInterval is the poll cadence for job streams.
const streamInterval = time.Second

// SubmitRequest describes one job submission.
type SubmitRequest struct {
	Type       store.JobType `json:"type"`
	TargetID   string        `json:"target_id"`
	TargetName string        `json:"target_name"`
	Pattern    string        `json:"pattern"`
}

// EventType classifies stream events.
type EventType string

const (
	EventProgress EventType = "progress"
	EventDone     EventType = "done"
	EventFailed   EventType = "failed"
)

// Event is one streamed job update. The terminal event carries the final row.
type Event struct {
	Type EventType `json:"type"`
	Job  store.Job `json:"job"`
}

// Coordinator submits, deduplicates, streams, and deletes jobs.
type Coordinator struct {
	store  *store.Store
	home   home.Dir
	logger *slog.Logger
	now    func() time.Time
	poll   time.Duration

	// spawn launches the detached worker process; replaceable in tests.
	spawn func(jobID string) error
}

// NewCoordinator creates a Coordinator. logger may be nil.
func NewCoordinator(s *store.Store, h home.Dir, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		store:  s,
		home:   h,
		logger: logging.Default(logger).With("component", "jobs"),
		now:    time.Now,
		poll:   streamInterval,
	}
	c.spawn = c.spawnWorker
	return c
}

// Submit validates the request and returns a job: a cached done job whose
// artifact still exists, an in-flight job for the same (target, pattern), or
// a freshly inserted pending job with a worker spawned for it.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	if err := ValidatePattern(req.Type, req.Pattern); err != nil {
		return nil, err
	}
	if req.TargetID == "" {
		return nil, errors.New("target_id required")
	}
	if err := c.checkTarget(ctx, req); err != nil {
		return nil, err
	}

	if done, err := c.cachedJob(ctx, req.TargetID, req.Pattern); err != nil {
		return nil, err
	} else if done != nil {
		return done, nil
	}

	if active, err := c.store.ActiveJob(ctx, req.TargetID, req.Pattern); err != nil {
		return nil, err
	} else if active != nil {
		return active, nil
	}

	job := store.Job{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Type:       req.Type,
		TargetID:   req.TargetID,
		TargetName: req.TargetName,
		Pattern:    req.Pattern,
		Status:     store.JobPending,
		CreatedAt:  c.now().Unix(),
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrActiveJobExists) {
			// Lost an insert race with a concurrent submit; return the winner.
			active, aerr := c.store.ActiveJob(ctx, req.TargetID, req.Pattern)
			if aerr != nil {
				return nil, aerr
			}
			if active != nil {
				return active, nil
			}
			// The winner already went terminal; serve its result if any.
			if done, derr := c.cachedJob(ctx, req.TargetID, req.Pattern); derr == nil && done != nil {
				return done, nil
			}
		}
		return nil, err
	}

	if err := c.spawn(job.ID); err != nil {
		// The row stays pending; the abandoned sweep will fail it if no
		// worker ever picks it up.
		c.logger.Error("worker spawn failed", "job", job.ID, "error", err)
		return nil, fmt.Errorf("spawn worker for job %q: %w", job.ID, err)
	}

	c.logger.Info("job submitted", "job", job.ID, "type", req.Type,
		"target", req.TargetID, "pattern", req.Pattern)
	return &job, nil
}

// checkTarget verifies the job target exists.
func (c *Coordinator) checkTarget(ctx context.Context, req SubmitRequest) error {
	switch req.Type {
	case store.JobTypeConversation:
		_, err := c.store.GetConversation(ctx, req.TargetID)
		return err
	case store.JobTypeProject:
		_, err := c.store.GetProject(ctx, req.TargetID)
		return err
	default:
		return fmt.Errorf("unknown job type %q", req.Type)
	}
}

// cachedJob returns the latest done job for (targetID, pattern) whose
// artifact file still exists. A missing file degrades the row to a cache
// miss.
func (c *Coordinator) cachedJob(ctx context.Context, targetID, pattern string) (*store.Job, error) {
	done, err := c.store.LatestDoneJob(ctx, targetID, pattern)
	if err != nil || done == nil {
		return nil, err
	}
	if _, err := os.Stat(c.ArtifactPath(done.ResultPath)); err != nil {
		if err := c.store.ClearJobResult(ctx, done.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return done, nil
}

// Check is the cache/deduplication probe: it returns the job a Submit for
// (targetID, pattern) would return without spawning anything, or nil.
func (c *Coordinator) Check(ctx context.Context, targetID, pattern string) (*store.Job, error) {
	if active, err := c.store.ActiveJob(ctx, targetID, pattern); err != nil {
		return nil, err
	} else if active != nil {
		return active, nil
	}
	return c.cachedJob(ctx, targetID, pattern)
}

// Get fetches one job.
func (c *Coordinator) Get(ctx context.Context, id string) (*store.Job, error) {
	return c.store.GetJob(ctx, id)
}

// List returns recent jobs.
func (c *Coordinator) List(ctx context.Context, limit int) ([]store.Job, error) {
	return c.store.ListJobs(ctx, limit)
}

// Delete removes a job row and its artifact file. Allowed from any state;
// a running worker is not signalled and completes on its own schedule.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	job, err := c.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.ResultPath != "" {
		// Rows for the same (target, pattern) share one artifact file; only
		// the last referencing row takes it along.
		refs, err := c.store.ResultPathRefs(ctx, job.ResultPath, id)
		if err != nil {
			return err
		}
		if refs == 0 {
			if err := os.Remove(c.ArtifactPath(job.ResultPath)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove artifact of job %q: %w", id, err)
			}
		}
	}
	return c.store.DeleteJob(ctx, id)
}

// Stream polls the job at 1 Hz and sends an event for every observed change.
// Exactly one terminal event (done or failed) is sent, then the channel
// closes. Cancelling ctx abandons the stream without affecting the job.
func (c *Coordinator) Stream(ctx context.Context, id string) (<-chan Event, error) {
	if _, err := c.store.GetJob(ctx, id); err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)

		var lastHash uint64
		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()

		for {
			job, err := c.store.GetJob(ctx, id)
			if err != nil {
				// Deleted mid-stream; nothing more to report.
				return
			}

			h := jobHash(*job)
			if h != lastHash {
				ev := Event{Type: EventProgress, Job: *job}
				switch job.Status {
				case store.JobDone:
					ev.Type = EventDone
				case store.JobFailed:
					ev.Type = EventFailed
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
				if job.Status.Terminal() {
					return
				}
				lastHash = h
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return events, nil
}

// ArtifactPath resolves a job's relative result path against the home root.
func (c *Coordinator) ArtifactPath(resultPath string) string {
	return filepath.Join(c.home.Root(), resultPath)
}

// jobHash fingerprints the stream-visible job state.
func jobHash(j store.Job) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", j.Status, j.ResultPath, j.Error)
	if j.Progress != nil {
		fmt.Fprintf(h, "|%d/%d/%s", j.Progress.Current, j.Progress.Total, j.Progress.Message)
	}
	return h.Sum64()
}

// workerArgs builds the argv for a spawned worker. The database path is
// passed explicitly so a --db override on this process carries over.
func (c *Coordinator) workerArgs(jobID string) []string {
	return []string{
		"worker",
		"--job-id", jobID,
		"--home", c.home.Root(),
		"--db", c.store.Path(),
	}
}

// spawnWorker launches this binary's worker subcommand, detached.
func (c *Coordinator) spawnWorker(jobID string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, c.workerArgs(jobID)...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	// Fire and forget: the worker owns its lifecycle from here.
	go func() {
		if err := cmd.Wait(); err != nil {
			c.logger.Warn("worker exited with error",
				"job", jobID, "error", oneLine(err.Error()))
		}
	}()
	return nil
}

// oneLine flattens an error message for logs and job rows.
func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
