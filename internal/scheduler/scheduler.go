// Package scheduler serializes agent turns per session. Each session
// key has at most one running worker; a message arriving mid-turn lands
// in a one-slot pending queue (latest wins) and raises the turn's
// interrupt so the worker can drain and pick it up.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hermesworks/hermes/internal/agent"
	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/config"
	"github.com/hermesworks/hermes/internal/sessions"
)

// typingRefresh is how often the typing indicator is re-sent while a
// turn runs; platform typing status expires after roughly five seconds.
const typingRefresh = 2 * time.Second

// resetAck is sent after an explicit reset command.
const resetAck = "Session reset. Starting fresh."

// Deliverer sends a turn's response back to where it came from.
type Deliverer interface {
	DeliverToOrigin(ctx context.Context, origin bus.SessionSource, content string) error
}

// TypingFunc fires one typing indicator for the source. Best effort.
type TypingFunc func(ctx context.Context, source bus.SessionSource)

// Options wires the scheduler's collaborators.
type Options struct {
	Store         *sessions.Store
	Invoker       agent.Invoker
	Deliverer     Deliverer
	Typing        TypingFunc
	PolicyFor     func(bus.SessionSource) config.ResetPolicy
	ResetTriggers []string
}

type entry struct {
	interrupt *agent.InterruptHandle
	pending   *bus.MessageEvent
}

// Scheduler owns the per-session worker table.
type Scheduler struct {
	opts Options

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	entries map[sessions.Key]*entry
	wg      sync.WaitGroup
}

// New creates a scheduler; workers run until Shutdown.
func New(opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:    opts,
		baseCtx: ctx,
		cancel:  cancel,
		entries: make(map[sessions.Key]*entry),
	}
}

// Submit hands an event to the session's worker and returns
// immediately. If a turn is running, the event replaces any earlier
// pending one and the running turn is asked to stop.
func (s *Scheduler) Submit(event bus.MessageEvent) {
	key := sessions.KeyFor(event.Source)

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		if e.pending != nil {
			slog.Debug("pending slot overwritten", "session", key.String())
		}
		ev := event
		e.pending = &ev
		e.interrupt.Set()
		return
	}

	e := &entry{interrupt: agent.NewInterruptHandle()}
	s.entries[key] = e
	s.wg.Add(1)
	go s.worker(key, e, event)
}

// Interrupt raises the interrupt for a session without queueing a new
// turn (the /stop command). No-op when the session is idle.
func (s *Scheduler) Interrupt(key sessions.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.interrupt.Set()
		return true
	}
	return false
}

// Active reports whether a worker is running for the key.
func (s *Scheduler) Active(key sessions.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Shutdown stops accepting progress and waits up to grace for in-flight
// workers to drain.
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("shutdown grace expired with workers still in flight")
	}
}

// worker runs turns for one session until the pending slot is empty.
func (s *Scheduler) worker(key sessions.Key, e *entry, event bus.MessageEvent) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("turn worker panicked", "session", key.String(), "panic", r)
			// Release the entry, then replay whatever was pending so
			// the crash consumes only the turn that caused it.
			s.mu.Lock()
			pending := e.pending
			delete(s.entries, key)
			s.mu.Unlock()
			if pending != nil {
				s.Submit(*pending)
			}
		}
	}()

	for {
		s.runTurn(e, event)

		s.mu.Lock()
		if e.pending != nil {
			event = *e.pending
			e.pending = nil
			e.interrupt.Clear()
			s.mu.Unlock()
			continue
		}
		delete(s.entries, key)
		s.mu.Unlock()
		return
	}
}

// runTurn executes one user-event-to-response cycle.
func (s *Scheduler) runTurn(e *entry, event bus.MessageEvent) {
	ctx := s.baseCtx
	key := sessions.KeyFor(event.Source)
	now := time.Now()

	snap, err := s.opts.Store.LoadOrCreate(key, event.Source)
	if err != nil {
		slog.Error("session load failed", "session", key.String(), "error", err)
		return
	}
	s.opts.Store.UpdateSource(key, event.Source)

	if sessions.ShouldReset(s.opts.PolicyFor(event.Source), snap.LastActivityAt, now) {
		slog.Info("session reset by policy", "session", key.String())
		if err := s.opts.Store.Reset(key); err != nil {
			slog.Error("policy reset failed", "session", key.String(), "error", err)
		}
		snap, _ = s.opts.Store.LoadOrCreate(key, event.Source)
	}

	if s.isResetTrigger(event) {
		if err := s.opts.Store.Reset(key); err != nil {
			slog.Error("explicit reset failed", "session", key.String(), "error", err)
			return
		}
		if err := s.opts.Deliverer.DeliverToOrigin(ctx, event.Source, resetAck); err != nil {
			slog.Warn("reset ack delivery failed", "session", key.String(), "error", err)
		}
		return
	}

	stopTyping := s.startTyping(ctx, event.Source)
	defer stopTyping()

	result, err := s.opts.Invoker.RunConversation(ctx, agent.Request{
		Prompt:    event.Text,
		SessionID: key.String(),
		History:   snap.History,
		Interrupt: e.interrupt,
	})
	stopTyping()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("agent turn failed", "session", key.String(), "error", err)
		s.recordFailedTurn(key, event)
		notice := fmt.Sprintf("Something went wrong handling that message (%s).", briefError(err))
		if derr := s.opts.Deliverer.DeliverToOrigin(ctx, event.Source, notice); derr != nil {
			slog.Warn("error notice delivery failed", "session", key.String(), "error", derr)
		}
		return
	}

	entries := result.Messages
	if len(entries) == 0 {
		entries = []sessions.HistoryEntry{
			{Role: "user", Content: event.Text},
			{Role: "assistant", Content: result.FinalResponse},
		}
	}
	if err := s.opts.Store.Append(key, entries...); err != nil {
		slog.Error("history append failed", "session", key.String(), "error", err)
	}

	if result.FinalResponse != "" {
		if err := s.opts.Deliverer.DeliverToOrigin(ctx, event.Source, result.FinalResponse); err != nil {
			slog.Error("response delivery failed", "session", key.String(), "error", err)
		}
	}
	if !result.Completed {
		slog.Info("turn interrupted, partial output delivered", "session", key.String())
	}
}

// startTyping pings the adapter's typing indicator every couple of
// seconds until the returned stop func runs. The stop func is safe to
// call more than once and must run on every exit path.
func (s *Scheduler) startTyping(ctx context.Context, source bus.SessionSource) func() {
	if s.opts.Typing == nil {
		return func() {}
	}
	tctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.opts.Typing(tctx, source)
		ticker := time.NewTicker(typingRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
				s.opts.Typing(tctx, source)
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func (s *Scheduler) isResetTrigger(event bus.MessageEvent) bool {
	if !event.IsCommand() {
		return false
	}
	name := "/" + event.CommandName()
	for _, trigger := range s.opts.ResetTriggers {
		if strings.EqualFold(trigger, name) {
			return true
		}
	}
	return false
}

// recordFailedTurn keeps the user message in history with the turn
// marked failed.
func (s *Scheduler) recordFailedTurn(key sessions.Key, event bus.MessageEvent) {
	err := s.opts.Store.Append(key, sessions.HistoryEntry{
		Role:     "user",
		Content:  event.Text,
		Metadata: map[string]string{"turn_failed": "true"},
	})
	if err != nil {
		slog.Error("failed-turn append failed", "session", key.String(), "error", err)
	}
}

func briefError(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, ':'); i > 0 {
		msg = msg[:i]
	}
	if len(msg) > 120 {
		msg = msg[:120]
	}
	return msg
}
