package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Backoff schedule for transport retries. Vars so tests can shrink the
// delays.
var (
	retryBase     = time.Second
	retryCap      = 60 * time.Second
	retryAttempts = 6
)

// RetryTransport runs fn with exponential backoff on ErrTransport.
// Other errors return immediately; after the attempt budget the last
// transport error is surfaced.
func RetryTransport(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := retryBase
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrTransport) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		slog.Warn("transport error, backing off",
			"op", op, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryCap {
			delay = retryCap
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, err)
}

// ChatLimiter throttles sends per chat so a chunked message does not
// trip platform flood control.
type ChatLimiter struct {
	every time.Duration
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewChatLimiter allows one send per "every" with the given burst.
func NewChatLimiter(every time.Duration, burst int) *ChatLimiter {
	return &ChatLimiter{
		every:    every,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the chat may send again or ctx is done.
func (l *ChatLimiter) Wait(ctx context.Context, chatID string) error {
	l.mu.Lock()
	lim, ok := l.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.every), l.burst)
		l.limiters[chatID] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}
