// Package channels defines the platform adapter contract and the
// helpers every adapter shares: message chunking, attachment
// extraction, the group response gate, and transport retry.
package channels

import (
	"context"
	"errors"

	"github.com/hermesworks/hermes/internal/bus"
)

var (
	// ErrTransport marks connection failures, 5xx responses and
	// timeouts. Sends wrapped in RetryTransport back off and retry.
	ErrTransport = errors.New("adapter transport error")
	// ErrFormat marks a message the platform rejected for markdown
	// parsing. The caller falls back to plain text.
	ErrFormat = errors.New("adapter format error")
)

// SendResult reports a successful platform send.
type SendResult struct {
	MessageID string
}

// SendOptions carries optional send parameters.
type SendOptions struct {
	ReplyTo  string
	Metadata map[string]string
}

// ChatInfo describes a chat as the platform reports it.
type ChatInfo struct {
	ID   string
	Name string
	Type bus.ChatType
}

// Adapter is the fixed capability set every platform connector
// implements. The message handler is injected before Connect; adapters
// never call into the supervisor directly.
type Adapter interface {
	Platform() bus.Platform

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	OnMessage(handler bus.MessageHandler)

	// SendText chunks content at the platform limit before sending.
	// The returned message id is the last chunk's.
	SendText(ctx context.Context, chatID, content string, opts *SendOptions) (SendResult, error)
	// SendImage uploads natively where the platform allows, otherwise
	// posts the URL as text.
	SendImage(ctx context.Context, chatID, url, caption string, opts *SendOptions) (SendResult, error)
	// SendDocument attaches a local file. Callers validate the path
	// against the trusted roots first.
	SendDocument(ctx context.Context, chatID, path, caption string) (SendResult, error)
	// SendTyping is fire-and-forget and may be a no-op.
	SendTyping(ctx context.Context, chatID string)

	GetChatInfo(ctx context.Context, chatID string) (ChatInfo, error)
	// ListChats returns a best-effort name→ID snapshot for the channel
	// directory.
	ListChats(ctx context.Context) (map[string]string, error)
}

// Platform character limits for a single text message.
const (
	TelegramMessageLimit = 4096
	DiscordMessageLimit  = 2000
	SlackMessageLimit    = 4000
	WhatsAppMessageLimit = 4096
)

// MessageLimit returns the chunking limit for a platform.
func MessageLimit(p bus.Platform) int {
	switch p {
	case bus.PlatformDiscord:
		return DiscordMessageLimit
	case bus.PlatformSlack:
		return SlackMessageLimit
	default:
		return TelegramMessageLimit
	}
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
