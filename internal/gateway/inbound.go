package gateway

import (
	"fmt"
	"log/slog"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/sessions"
)

// handleInbound is the single entry point for every adapter event.
// Adapters call it from their read loops, so it must not block.
func (s *Supervisor) handleInbound(event bus.MessageEvent) {
	if s.dedupe.Seen(event.Source.Platform, event.MessageID) {
		slog.Debug("duplicate message dropped",
			"platform", event.Source.Platform, "message_id", event.MessageID,
		)
		return
	}

	key := sessions.KeyFor(event.Source)

	// Suppressed group chatter is context, not a prompt.
	if event.Gated {
		if err := s.store.RecordContext(key, contextEntry(event)); err != nil {
			slog.Warn("failed to record group context", "session", key.String(), "error", err)
		}
		return
	}

	if event.IsCommand() && event.CommandName() == "stop" {
		if s.sched.Interrupt(key) {
			slog.Info("turn interrupted by /stop", "session", key.String())
		} else {
			slog.Debug("/stop with no active turn", "session", key.String())
		}
		return
	}

	slog.Debug("message accepted",
		"session", key.String(),
		"kind", event.Kind,
		"user", event.Source.UserName,
	)
	s.sched.Submit(event)
}

// contextEntry labels recorded chatter with its sender so later turns
// know who said what.
func contextEntry(event bus.MessageEvent) sessions.HistoryEntry {
	sender := event.Source.UserName
	if sender == "" {
		sender = event.Source.UserID
	}
	return sessions.HistoryEntry{
		Role:    "user",
		Content: fmt.Sprintf("[%s] %s", sender, event.Text),
		Metadata: map[string]string{
			"context_only": "true",
			"message_id":   event.MessageID,
		},
	}
}
