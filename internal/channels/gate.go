package channels

import (
	"strings"

	"github.com/hermesworks/hermes/internal/bus"
)

// GatePolicy configures the group response gate for one adapter.
type GatePolicy struct {
	// RequireMention gates replies in non-DM chats. nil means true.
	RequireMention *bool
	// FreeResponse lists channel IDs or names that reply without a
	// mention. It wins over RequireMention.
	FreeResponse []string
}

// ShouldRespond decides whether a non-DM event gets a reply. DMs always
// respond. mentioned reports whether the bot was @-mentioned.
func (g GatePolicy) ShouldRespond(chatType bus.ChatType, chatID, chatName string, mentioned bool) bool {
	if chatType == bus.ChatDM {
		return true
	}
	for _, free := range g.FreeResponse {
		free = strings.TrimPrefix(strings.TrimSpace(free), "#")
		if free == "" {
			continue
		}
		if strings.EqualFold(free, chatID) || strings.EqualFold(free, chatName) {
			return true
		}
	}
	if g.RequireMention != nil && !*g.RequireMention {
		return true
	}
	return mentioned
}

// IsAllowed implements per-adapter sender allowlists. Entries match a
// sender id, a username, or a compound "id|username" form. An empty
// list allows everyone.
func IsAllowed(allowFrom []string, senderID, userName string) bool {
	if len(allowFrom) == 0 {
		return true
	}
	for _, allowed := range allowFrom {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		for _, part := range strings.Split(allowed, "|") {
			if part != "" && (strings.EqualFold(part, senderID) || strings.EqualFold(part, userName)) {
				return true
			}
		}
	}
	return false
}
