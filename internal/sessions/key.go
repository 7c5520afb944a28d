package sessions

import (
	"strings"

	"github.com/hermesworks/hermes/internal/bus"
)

// Key identifies a conversation: (platform, chat, optional thread).
type Key struct {
	Platform bus.Platform `json:"platform"`
	ChatID   string       `json:"chat_id"`
	ThreadID string       `json:"thread_id,omitempty"`
}

// KeyFor derives the session key from a message source.
func KeyFor(src bus.SessionSource) Key {
	return Key{Platform: src.Platform, ChatID: src.ChatID, ThreadID: src.ThreadID}
}

// String renders a stable human-readable form, e.g. "telegram:123:45".
func (k Key) String() string {
	s := string(k.Platform) + ":" + k.ChatID
	if k.ThreadID != "" {
		s += ":" + k.ThreadID
	}
	return s
}

// fileStem is the session file name without the .json suffix:
// <chat_id> or <chat_id>_<thread_id>, with filesystem-hostile runes
// replaced.
func (k Key) fileStem() string {
	stem := sanitizeFilename(k.ChatID)
	if k.ThreadID != "" {
		stem += "_" + sanitizeFilename(k.ThreadID)
	}
	return stem
}

func sanitizeFilename(s string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(s)
}
