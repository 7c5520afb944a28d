package cron

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hermesworks/hermes/internal/agent"
	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/delivery"
)

// Service runs due jobs: each gets a fresh agent conversation and its
// output goes through the delivery router.
type Service struct {
	store   *Store
	invoker agent.Invoker
	router  *delivery.Router
}

// NewService wires the scheduler's collaborators.
func NewService(store *Store, invoker agent.Invoker, router *delivery.Router) *Service {
	return &Service{store: store, invoker: invoker, router: router}
}

// Store exposes the job store for the CLI.
func (s *Service) Store() *Store { return s.store }

// Tick evaluates all jobs once and runs the due ones. A job's failure
// is recorded and delivered but never stops the others. Returns the
// number of jobs executed.
func (s *Service) Tick(ctx context.Context) (int, error) {
	jobs, err := s.store.Load()
	if err != nil {
		return 0, err
	}

	now := time.Now()
	ran := 0
	for _, job := range jobs {
		if !job.Due(now) {
			continue
		}
		s.runJob(ctx, job, now)
		ran++

		if err := s.persistJob(job); err != nil {
			slog.Error("job state not persisted", "job", job.ID, "error", err)
		}
	}
	return ran, nil
}

// RunDaemon loops Tick until the context is cancelled. Edits to the
// jobs file trigger an immediate extra tick.
func (s *Service) RunDaemon(ctx context.Context, interval time.Duration) error {
	slog.Info("cron daemon started", "interval", interval, "jobs_file", s.store.Path())

	kick := make(chan struct{}, 1)
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(filepath.Dir(s.store.Path())); err == nil {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						if strings.HasSuffix(ev.Name, ".json") && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
							select {
							case kick <- struct{}{}:
							default:
							}
						}
					case err, ok := <-watcher.Errors:
						if !ok {
							return
						}
						slog.Warn("jobs watcher error", "error", err)
					}
				}
			}()
		}
	} else {
		slog.Warn("jobs watcher unavailable", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := s.Tick(ctx); err != nil {
			slog.Error("cron tick failed", "error", err)
		} else if n > 0 {
			slog.Info("cron tick ran jobs", "count", n)
		}

		select {
		case <-ctx.Done():
			slog.Info("cron daemon stopping")
			return ctx.Err()
		case <-ticker.C:
		case <-kick:
			slog.Info("jobs file changed, ticking early")
		}
	}
}

// runJob executes one job end to end and marks the run.
func (s *Service) runJob(ctx context.Context, job *Job, now time.Time) {
	sessionID := fmt.Sprintf("cron_%s_%d", job.ID, now.Unix())
	slog.Info("running cron job", "job", job.ID, "name", job.Name, "session", sessionID)

	var envelope string
	result, err := s.invoker.RunConversation(ctx, agent.Request{
		Prompt:    job.Prompt,
		SessionID: sessionID,
	})
	if err != nil {
		slog.Error("cron job failed", "job", job.ID, "error", err)
		envelope = s.renderEnvelope(job, now, "", err)
	} else {
		envelope = s.renderEnvelope(job, now, result.FinalResponse, nil)
	}

	targets, errs := s.router.Resolve(ctx, job.Deliver, nil)
	for _, rerr := range errs {
		slog.Warn("cron delivery target dropped", "job", job.ID, "error", rerr)
	}
	if len(targets) == 0 {
		if delivery.Unresolved(errs) {
			// Every target was dropped; keep the output on disk
			// rather than lose the run entirely.
			slog.Warn("cron job targets all unresolved, falling back to local", "job", job.ID)
			targets = []delivery.Target{{Platform: bus.PlatformLocal}}
		} else {
			slog.Warn("cron job has no deliverable targets", "job", job.ID)
		}
	}

	results := s.router.Deliver(ctx, envelope, targets, delivery.Meta{
		JobID:   job.ID,
		JobName: job.Name,
		Metadata: map[string]string{
			"Schedule": job.Schedule,
		},
	})
	for target, res := range results {
		if !res.Success {
			slog.Warn("cron delivery failed", "job", job.ID, "target", target, "error", res.Error)
		}
	}

	job.MarkRun(now)
}

// renderEnvelope wraps a job outcome in the markdown shape the local
// sink and chat targets both receive.
func (s *Service) renderEnvelope(job *Job, now time.Time, response string, runErr error) string {
	var b strings.Builder

	if runErr != nil {
		fmt.Fprintf(&b, "# Cron Job FAILED: %s\n\n", job.Name)
	} else {
		fmt.Fprintf(&b, "# Cron Job: %s\n\n", job.Name)
	}
	fmt.Fprintf(&b, "**Job ID:** %s\n", job.ID)
	fmt.Fprintf(&b, "**Run Time:** %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Schedule:** %s\n\n", job.Schedule)
	fmt.Fprintf(&b, "## Prompt\n\n%s\n\n", job.Prompt)
	if runErr != nil {
		fmt.Fprintf(&b, "## Error\n\n%v\n", runErr)
	} else {
		fmt.Fprintf(&b, "## Response\n\n%s\n", response)
	}
	return b.String()
}

// persistJob writes back one job's post-run state.
func (s *Service) persistJob(job *Job) error {
	return s.store.Update(func(jobs []*Job) ([]*Job, bool) {
		for i, j := range jobs {
			if j.ID == job.ID {
				jobs[i] = job
				return jobs, true
			}
		}
		return jobs, false
	})
}

