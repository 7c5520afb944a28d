package cron

import (
	"errors"
	"testing"
	"time"
)

func TestNextAfterCronExpression(t *testing.T) {
	ref := time.Date(2026, 5, 1, 6, 30, 0, 0, time.Local)
	next, err := NextAfter("0 7 * * *", ref)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 5, 1, 7, 0, 0, 0, time.Local)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// From exactly 07:00 the next tick is tomorrow, strictly after ref.
	next2, err := NextAfter("0 7 * * *", want)
	if err != nil {
		t.Fatal(err)
	}
	if !next2.After(want) {
		t.Errorf("next from boundary = %v, not strictly after %v", next2, want)
	}
}

func TestNextAfterDSTTransitions(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	t.Run("spring forward rolls past the missing half hour", func(t *testing.T) {
		// 2026-03-08: clocks jump from 02:00 EST to 03:00 EDT, so the
		// 02:30 wall time does not exist that day.
		ref := time.Date(2026, 3, 8, 1, 0, 0, 0, loc)
		next, err := NextAfter("30 2 * * *", ref)
		if err != nil {
			t.Fatal(err)
		}
		if !next.After(ref) {
			t.Errorf("next = %v, not strictly after %v", next, ref)
		}
		if next.Sub(ref) > 36*time.Hour {
			t.Errorf("next = %v, rolled past the following day", next)
		}
		got := next.In(loc)
		if got.Minute() != 30 {
			t.Errorf("next = %v, want a :30 tick", got)
		}
		// Evaluation must honor ref's zone, not the host's.
		if next.Location() != loc {
			t.Errorf("next = %v evaluated outside %v", next, loc)
		}
	})

	t.Run("fall back repeated hour fires once", func(t *testing.T) {
		// 2026-11-01: clocks fall back from 02:00 EDT to 01:00 EST, so
		// the 01:30 wall time occurs twice. Build the first (EDT)
		// occurrence unambiguously.
		first := time.Date(2026, 11, 1, 0, 30, 0, 0, loc).Add(time.Hour)
		job := &Job{ID: "dst", Schedule: "30 1 * * *", NextRunAt: first, Enabled: true}

		job.MarkRun(first)
		if !job.Enabled {
			t.Fatal("recurring job disabled across the fall-back hour")
		}
		if !job.NextRunAt.After(first) {
			t.Errorf("next_run_at = %v, not strictly after %v", job.NextRunAt, first)
		}
		got := job.NextRunAt.In(loc)
		if got.Hour() != 1 || got.Minute() != 30 {
			t.Errorf("next_run_at = %v, want a 01:30 tick", got)
		}
	})
}

func TestNextAfterOneShot(t *testing.T) {
	future := time.Now().Add(time.Hour).Truncate(time.Second)
	next, err := NextAfter(future.Format(time.RFC3339), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if !next.Equal(future) {
		t.Errorf("next = %v, want %v", next, future)
	}

	past := time.Now().Add(-time.Hour).Format(time.RFC3339)
	if _, err := NextAfter(past, time.Now()); !errors.Is(err, ErrSchedule) {
		t.Errorf("past one-shot err = %v, want ErrSchedule", err)
	}
}

func TestNextAfterInvalid(t *testing.T) {
	for _, expr := range []string{"", "not a schedule", "99 99 * * *"} {
		if _, err := NextAfter(expr, time.Now()); !errors.Is(err, ErrSchedule) {
			t.Errorf("NextAfter(%q) err = %v, want ErrSchedule", expr, err)
		}
	}
}

func TestMarkRunAdvancesNextRun(t *testing.T) {
	repeat := 3
	job, err := NewJob("news", "fetch news", "0 7 * * *", []string{"local"}, &repeat)
	if err != nil {
		t.Fatal(err)
	}
	prev := job.NextRunAt

	now := prev.Add(time.Second)
	job.MarkRun(now)

	if !job.NextRunAt.After(prev) {
		t.Errorf("next_run_at %v not advanced past %v", job.NextRunAt, prev)
	}
	if job.LastRunAt == nil || !job.LastRunAt.Equal(now) {
		t.Errorf("last_run_at = %v", job.LastRunAt)
	}
	if *job.Remaining != 2 || !job.Enabled {
		t.Errorf("remaining = %d, enabled = %v", *job.Remaining, job.Enabled)
	}
}

func TestMarkRunDisablesAtZeroRemaining(t *testing.T) {
	repeat := 1
	job, err := NewJob("once", "run once", "* * * * *", nil, &repeat)
	if err != nil {
		t.Fatal(err)
	}
	job.MarkRun(time.Now())

	if job.Enabled {
		t.Error("job with remaining=0 still enabled")
	}
	if *job.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", *job.Remaining)
	}
}

func TestMarkRunOneShot(t *testing.T) {
	at := time.Now().Add(time.Hour)
	job, err := NewJob("ping", "say hi", at.Format(time.RFC3339), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	job.MarkRun(at.Add(time.Second))
	if job.Enabled {
		t.Error("one-shot job still enabled after its run")
	}
	// next_run_at keeps the original instant rather than moving into
	// the past.
	if !job.NextRunAt.Equal(at.Truncate(time.Second)) {
		t.Errorf("next_run_at = %v, want original %v", job.NextRunAt, at)
	}
}

func TestDue(t *testing.T) {
	now := time.Now()
	job := &Job{Enabled: true, NextRunAt: now.Add(-time.Second)}
	if !job.Due(now) {
		t.Error("past next_run_at not due")
	}
	job.NextRunAt = now.Add(time.Minute)
	if job.Due(now) {
		t.Error("future next_run_at reported due")
	}
	job.NextRunAt = now.Add(-time.Second)
	job.Enabled = false
	if job.Due(now) {
		t.Error("disabled job reported due")
	}
}
