// Package cron evaluates job schedules and pipes due jobs through the
// agent and the delivery router.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
)

// ErrSchedule marks an expression that is neither a five-field cron
// spec nor an RFC 3339 instant.
var ErrSchedule = errors.New("invalid schedule")

// Job is one scheduled agent task.
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Prompt   string   `json:"prompt"`
	Schedule string   `json:"schedule"` // cron expression or one-shot RFC 3339 instant
	Deliver  []string `json:"deliver,omitempty"`

	RepeatCount *int `json:"repeat_count,omitempty"`
	Remaining   *int `json:"remaining,omitempty"`

	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	Enabled   bool       `json:"enabled"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewJob builds an enabled job with its first run computed from now.
func NewJob(name, prompt, schedule string, deliver []string, repeat *int) (*Job, error) {
	next, err := NextAfter(schedule, time.Now())
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:        uuid.NewString()[:8],
		Name:      name,
		Prompt:    prompt,
		Schedule:  schedule,
		Deliver:   deliver,
		NextRunAt: next,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if repeat != nil {
		n := *repeat
		job.RepeatCount = &n
		r := n
		job.Remaining = &r
	}
	return job, nil
}

// Due reports whether the job should run at now.
func (j *Job) Due(now time.Time) bool {
	return j.Enabled && !j.NextRunAt.IsZero() && !j.NextRunAt.After(now)
}

// OneShot reports whether the schedule is a single instant.
func (j *Job) OneShot() bool {
	_, err := time.Parse(time.RFC3339, strings.TrimSpace(j.Schedule))
	return err == nil
}

// MarkRun records an execution at now: last_run_at moves, remaining
// decrements (disabling at zero), and next_run_at advances strictly
// past its previous value. One-shot jobs disable without moving
// next_run_at backwards.
func (j *Job) MarkRun(now time.Time) {
	ts := now
	j.LastRunAt = &ts

	if j.Remaining != nil {
		*j.Remaining--
		if *j.Remaining <= 0 {
			*j.Remaining = 0
			j.Enabled = false
		}
	}

	if j.OneShot() {
		j.Enabled = false
		return
	}

	next, err := NextAfter(j.Schedule, now)
	if err != nil || !next.After(j.NextRunAt) {
		// A schedule that stopped producing future instants cannot
		// keep firing.
		j.Enabled = false
		return
	}
	j.NextRunAt = next
}

// NextAfter computes the first instant strictly after ref when the
// schedule fires. Cron evaluation is wall-clock time in ref's location;
// an instant skipped by a DST jump rolls forward to the next valid
// occurrence, and a repeated hour fires once because the result must
// lie strictly after ref.
func NextAfter(schedule string, ref time.Time) (time.Time, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrSchedule)
	}

	if at, err := time.Parse(time.RFC3339, schedule); err == nil {
		if at.After(ref) {
			return at, nil
		}
		return time.Time{}, fmt.Errorf("%w: one-shot instant %s already passed", ErrSchedule, schedule)
	}

	if !gronx.New().IsValid(schedule) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrSchedule, schedule)
	}
	next, err := gronx.NextTickAfter(schedule, ref, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrSchedule, schedule, err)
	}
	return next, nil
}

// Validate checks a schedule expression without building a job.
func Validate(schedule string) error {
	schedule = strings.TrimSpace(schedule)
	if _, err := time.Parse(time.RFC3339, schedule); err == nil {
		return nil
	}
	if !gronx.New().IsValid(schedule) {
		return fmt.Errorf("%w: %q", ErrSchedule, schedule)
	}
	return nil
}
