package agent

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/hermesworks/hermes/internal/sessions"
)

const interruptPollInterval = 200 * time.Millisecond

// CommandInvoker runs each conversation turn as one invocation of an
// external agent binary. The rendered conversation goes in on stdin;
// stdout is the final response.
type CommandInvoker struct {
	Command string
	Args    []string
	Timeout time.Duration
}

// NewCommandInvoker builds an invoker for the given agent command.
func NewCommandInvoker(command string, args []string, timeout time.Duration) *CommandInvoker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CommandInvoker{Command: command, Args: args, Timeout: timeout}
}

// RunConversation renders the history plus prompt, feeds it to the
// agent command and waits. The interrupt handle cancels the run early.
func (c *CommandInvoker) RunConversation(ctx context.Context, req Request) (*Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	if req.Interrupt != nil {
		go func() {
			ticker := time.NewTicker(interruptPollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					if req.Interrupt.IsSet() {
						cancel()
						return
					}
				}
			}
		}()
	}

	cmd := exec.CommandContext(runCtx, c.Command, c.Args...)
	cmd.Stdin = strings.NewReader(renderConversation(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() != nil && req.Interrupt != nil && req.Interrupt.IsSet() {
		slog.Info("agent run interrupted", "session", req.SessionID, "elapsed", elapsed)
		return nil, context.Canceled
	}
	if err != nil {
		slog.Error("agent command failed",
			"session", req.SessionID,
			"command", c.Command,
			"elapsed", elapsed,
			"stderr", strings.TrimSpace(stderr.String()),
		)
		return nil, fmt.Errorf("%w: %s: %v", ErrAgent, c.Command, err)
	}

	response := strings.TrimSpace(stdout.String())
	if response == "" {
		return nil, fmt.Errorf("%w: %s produced no output", ErrAgent, c.Command)
	}

	slog.Debug("agent run completed", "session", req.SessionID, "elapsed", elapsed)
	return &Result{
		FinalResponse: response,
		Messages: []sessions.HistoryEntry{
			{Role: "user", Content: req.Prompt},
			{Role: "assistant", Content: response},
		},
		Completed: true,
	}, nil
}

// renderConversation flattens the history snapshot and the new prompt
// into the plain-text transcript the agent command reads.
func renderConversation(req Request) string {
	var b strings.Builder
	for _, entry := range req.History {
		fmt.Fprintf(&b, "%s: %s\n\n", entry.Role, entry.Content)
	}
	fmt.Fprintf(&b, "user: %s\n", req.Prompt)
	return b.String()
}
