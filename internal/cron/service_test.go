package cron

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hermesworks/hermes/internal/agent"
	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/delivery"
	"github.com/hermesworks/hermes/internal/directory"
	"github.com/hermesworks/hermes/internal/safety"
)

type scriptedInvoker struct {
	calls []agent.Request
	fail  map[string]bool // prompt → should fail
}

func (s *scriptedInvoker) RunConversation(_ context.Context, req agent.Request) (*agent.Result, error) {
	s.calls = append(s.calls, req)
	if s.fail[req.Prompt] {
		return nil, errors.New("engine unavailable")
	}
	return &agent.Result{FinalResponse: "answer to: " + req.Prompt, Completed: true}, nil
}

func newTestService(t *testing.T) (*Service, *scriptedInvoker, string) {
	t.Helper()
	sinkRoot := t.TempDir()
	router := delivery.NewRouter(
		directory.New(time.Minute),
		delivery.NewLocalSink(sinkRoot),
		safety.NewTrustedRoots(nil),
		func(bus.Platform) string { return "" },
		false,
	)
	inv := &scriptedInvoker{fail: map[string]bool{}}
	store := NewStore(filepath.Join(t.TempDir(), "jobs.json"))
	return NewService(store, inv, router), inv, sinkRoot
}

func seedJob(t *testing.T, s *Service, job *Job) {
	t.Helper()
	jobs, _ := s.Store().Load()
	if err := s.Store().Save(append(jobs, job)); err != nil {
		t.Fatal(err)
	}
}

func TestTickRunsDueOneShotOnce(t *testing.T) {
	svc, inv, sinkRoot := newTestService(t)

	remaining := 1
	job := &Job{
		ID:        "j1",
		Name:      "Ping",
		Prompt:    "say hi",
		Schedule:  time.Now().Add(-time.Second).Format(time.RFC3339),
		Deliver:   []string{"local"},
		Remaining: &remaining,
		NextRunAt: time.Now().Add(-time.Second),
		Enabled:   true,
	}
	seedJob(t, svc, job)

	n, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("tick ran %d jobs, want 1", n)
	}

	jobs, _ := svc.Store().Load()
	got := jobs[0]
	if got.Enabled {
		t.Error("one-shot job still enabled")
	}
	if *got.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", *got.Remaining)
	}
	if got.NextRunAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("next_run_at unexpectedly advanced: %v", got.NextRunAt)
	}

	// Output file written under the job's directory.
	entries, err := os.ReadDir(filepath.Join(sinkRoot, "j1"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("sink dir: %v, %d entries", err, len(entries))
	}

	// A second tick must not run it again.
	n, _ = svc.Tick(context.Background())
	if n != 0 {
		t.Errorf("second tick ran %d jobs, want 0", n)
	}
	if len(inv.calls) != 1 {
		t.Errorf("agent called %d times, want 1", len(inv.calls))
	}
}

func TestTickIsolatesJobFailures(t *testing.T) {
	svc, inv, sinkRoot := newTestService(t)
	inv.fail["bad prompt"] = true

	past := time.Now().Add(-time.Minute)
	seedJob(t, svc, &Job{
		ID: "bad", Name: "Bad", Prompt: "bad prompt", Schedule: "* * * * *",
		Deliver: []string{"local"}, NextRunAt: past, Enabled: true,
	})
	seedJob(t, svc, &Job{
		ID: "good", Name: "Good", Prompt: "good prompt", Schedule: "* * * * *",
		Deliver: []string{"local"}, NextRunAt: past, Enabled: true,
	})

	n, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("tick ran %d jobs, want 2", n)
	}

	// The failing job delivered a FAILED envelope; the good one its
	// response.
	badFiles, _ := os.ReadDir(filepath.Join(sinkRoot, "bad"))
	if len(badFiles) != 1 {
		t.Fatal("failed job wrote no envelope")
	}
	data, _ := os.ReadFile(filepath.Join(sinkRoot, "bad", badFiles[0].Name()))
	if !strings.Contains(string(data), "# Cron Job FAILED: Bad") {
		t.Errorf("failure envelope missing header:\n%s", data)
	}
	if !strings.Contains(string(data), "## Error") {
		t.Error("failure envelope missing error section")
	}

	goodFiles, _ := os.ReadDir(filepath.Join(sinkRoot, "good"))
	data, _ = os.ReadFile(filepath.Join(sinkRoot, "good", goodFiles[0].Name()))
	for _, want := range []string{
		"# Cron Job: Good",
		"**Job ID:** good",
		"**Schedule:** * * * * *",
		"## Prompt",
		"good prompt",
		"## Response",
		"answer to: good prompt",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("envelope missing %q", want)
		}
	}

	// Both recurring jobs advanced into the future.
	jobs, _ := svc.Store().Load()
	for _, j := range jobs {
		if !j.NextRunAt.After(time.Now().Add(-time.Second)) {
			t.Errorf("job %s next_run_at still in the past: %v", j.ID, j.NextRunAt)
		}
		if !j.Enabled {
			t.Errorf("recurring job %s disabled", j.ID)
		}
	}
}

func TestTickUnresolvedTargetsFallBackToLocal(t *testing.T) {
	svc, inv, sinkRoot := newTestService(t)

	// No home channel and no adapters registered, so the spec cannot
	// resolve; the run's output must still land on disk.
	seedJob(t, svc, &Job{
		ID: "orphan", Name: "Orphan", Prompt: "report", Schedule: "* * * * *",
		Deliver: []string{"telegram"}, NextRunAt: time.Now().Add(-time.Second), Enabled: true,
	})

	n, err := svc.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(inv.calls) != 1 {
		t.Fatalf("tick ran %d jobs, agent called %d times", n, len(inv.calls))
	}

	entries, err := os.ReadDir(filepath.Join(sinkRoot, "orphan"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("local fallback wrote nothing: %v, %d entries", err, len(entries))
	}
	data, _ := os.ReadFile(filepath.Join(sinkRoot, "orphan", entries[0].Name()))
	if !strings.Contains(string(data), "answer to: report") {
		t.Errorf("fallback envelope missing response:\n%s", data)
	}
}

func TestCronSessionIDShape(t *testing.T) {
	svc, inv, _ := newTestService(t)
	seedJob(t, svc, &Job{
		ID: "abc123", Name: "X", Prompt: "p", Schedule: "* * * * *",
		NextRunAt: time.Now().Add(-time.Second), Enabled: true,
	})

	svc.Tick(context.Background())
	if len(inv.calls) != 1 {
		t.Fatal("job did not run")
	}
	if !strings.HasPrefix(inv.calls[0].SessionID, "cron_abc123_") {
		t.Errorf("session id = %q, want cron_<job>_<ts>", inv.calls[0].SessionID)
	}
	// Cron conversations start fresh.
	if inv.calls[0].History != nil {
		t.Error("cron run carried history")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "jobs.json"))

	if jobs, err := store.Load(); err != nil || len(jobs) != 0 {
		t.Fatalf("fresh store: %v, %d jobs", err, len(jobs))
	}

	repeat := 2
	job, err := NewJob("n", "p", "0 9 * * 1", []string{"telegram"}, &repeat)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Save([]*Job{job}); err != nil {
		t.Fatal(err)
	}

	jobs, err := store.Load()
	if err != nil || len(jobs) != 1 {
		t.Fatalf("reload: %v, %d jobs", err, len(jobs))
	}
	got := jobs[0]
	if got.ID != job.ID || got.Schedule != "0 9 * * 1" || *got.Remaining != 2 {
		t.Errorf("reloaded job = %+v", got)
	}
	if !got.NextRunAt.Equal(job.NextRunAt) {
		t.Errorf("next_run_at drifted: %v vs %v", got.NextRunAt, job.NextRunAt)
	}
}
