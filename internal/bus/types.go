package bus

import (
	"strings"
	"time"
)

// Platform identifies a messaging backend.
type Platform string

const (
	PlatformLocal    Platform = "local"
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
	PlatformSlack    Platform = "slack"
	PlatformWhatsApp Platform = "whatsapp"
)

// ParsePlatform maps a string to a known Platform, case-insensitively.
func ParsePlatform(s string) (Platform, bool) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformLocal:
		return PlatformLocal, true
	case PlatformTelegram:
		return PlatformTelegram, true
	case PlatformDiscord:
		return PlatformDiscord, true
	case PlatformSlack:
		return PlatformSlack, true
	case PlatformWhatsApp:
		return PlatformWhatsApp, true
	}
	return "", false
}

// ChatType classifies the conversation container an event came from.
type ChatType string

const (
	ChatDM      ChatType = "dm"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
	ChatThread  ChatType = "thread"
	ChatForum   ChatType = "forum"
)

// MessageKind tags the payload type of an inbound event.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindPhoto    MessageKind = "photo"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindVoice    MessageKind = "voice"
	KindDocument MessageKind = "document"
	KindSticker  MessageKind = "sticker"
	KindCommand  MessageKind = "command"
)

// SessionSource identifies the endpoint a conversation is attached to.
type SessionSource struct {
	Platform Platform `json:"platform"`
	ChatID   string   `json:"chat_id"`
	ChatName string   `json:"chat_name,omitempty"`
	ChatType ChatType `json:"chat_type"`
	UserID   string   `json:"user_id,omitempty"`
	UserName string   `json:"user_name,omitempty"`
	ThreadID string   `json:"thread_id,omitempty"` // forum topic / thread subchannel
}

// MediaRef points at a media item attached to an inbound event.
type MediaRef struct {
	URL  string `json:"url"`
	MIME string `json:"mime,omitempty"`
}

// MessageEvent is a normalized inbound message from any adapter.
type MessageEvent struct {
	Text      string        `json:"text"`
	Kind      MessageKind   `json:"kind"`
	Source    SessionSource `json:"source"`
	MessageID string        `json:"message_id,omitempty"`
	ReplyTo   string        `json:"reply_to,omitempty"`
	Media     []MediaRef    `json:"media,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	// Gated marks a group message the response gate suppressed: it is
	// recorded as conversation context but never answered.
	Gated bool `json:"gated,omitempty"`
}

// IsCommand reports whether the event text is a slash command.
func (e MessageEvent) IsCommand() bool {
	return strings.HasPrefix(strings.TrimSpace(e.Text), "/")
}

// CommandName returns the command verb without the leading slash,
// lowered, with any bot-name suffix ("/new@mybot") stripped.
func (e MessageEvent) CommandName() string {
	if !e.IsCommand() {
		return ""
	}
	word := strings.TrimSpace(e.Text)
	if i := strings.IndexAny(word, " \t\n"); i >= 0 {
		word = word[:i]
	}
	word = strings.TrimPrefix(word, "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	return strings.ToLower(word)
}

// CommandArgs returns everything after the command verb, trimmed.
func (e MessageEvent) CommandArgs() string {
	if !e.IsCommand() {
		return ""
	}
	text := strings.TrimSpace(e.Text)
	if i := strings.IndexAny(text, " \t\n"); i >= 0 {
		return strings.TrimSpace(text[i+1:])
	}
	return ""
}

// MessageHandler consumes one normalized inbound event. Adapters hold a
// single handler injected at construction and never call back into the
// supervisor directly.
type MessageHandler func(MessageEvent)
