// Package agent defines the contract between the gateway and the agent
// engine. The engine itself lives out of process (or at least out of
// this module): the gateway hands it a prompt, a session identity and
// an interrupt handle, and gets back the final response.
package agent

import (
	"context"
	"errors"

	"github.com/hermesworks/hermes/internal/sessions"
)

// ErrAgent marks failures propagated from the engine. The turn ends,
// the user gets a short notice, detailed causes go to logs.
var ErrAgent = errors.New("agent error")

// Request carries one turn into the engine.
type Request struct {
	Prompt    string
	SessionID string
	// History is an immutable snapshot of prior turns; nil for fresh
	// conversations (cron jobs always run fresh).
	History []sessions.HistoryEntry
	// Interrupt, when non-nil, must be consulted at yield points.
	Interrupt *InterruptHandle
}

// Result is what the engine produced for one turn.
type Result struct {
	// FinalResponse is the text to deliver, possibly partial when the
	// turn was interrupted.
	FinalResponse string
	// Messages are the history entries this turn appends.
	Messages []sessions.HistoryEntry
	// Completed is false when the engine stopped at an interrupt.
	Completed bool
}

// Invoker bridges a turn request to the agent engine.
type Invoker interface {
	RunConversation(ctx context.Context, req Request) (*Result, error)
}
