package discord

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
)

// handleMessageCreate normalizes one gateway event and hands it to
// the injected handler.
func (a *Adapter) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	senderName := resolveDisplayName(m)

	if !channels.IsAllowed(a.cfg.AllowFrom, senderID, m.Author.Username) {
		slog.Debug("discord message rejected by allowlist",
			"user_id", senderID, "username", senderName,
		)
		return
	}

	isDM := m.GuildID == ""
	chatType := bus.ChatDM
	chatName := ""
	if !isDM {
		chatType = bus.ChatChannel
		if ch, err := a.channel(m.ChannelID); err == nil {
			chatType = mapChannelType(ch.Type)
			chatName = ch.Name
		}
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == a.botUserID {
			mentioned = true
			break
		}
	}
	// A reply to the bot's own message counts as an implicit mention.
	if !mentioned && m.ReferencedMessage != nil && m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == a.botUserID {
		mentioned = true
	}

	text := stripBotMention(m.Content, a.botUserID)
	media, kind := resolveMedia(m)
	if text == "" && len(media) == 0 {
		return
	}

	event := bus.MessageEvent{
		Text: text,
		Kind: kind,
		Source: bus.SessionSource{
			Platform: bus.PlatformDiscord,
			ChatID:   m.ChannelID,
			ChatName: chatName,
			ChatType: chatType,
			UserID:   senderID,
			UserName: senderName,
		},
		MessageID: m.ID,
		Media:     media,
		Timestamp: m.Timestamp,
	}
	// Threads are channels of their own on Discord: the channel id
	// already addresses the thread, so ThreadID stays empty.
	if m.ReferencedMessage != nil {
		event.ReplyTo = m.ReferencedMessage.ID
	}
	if event.IsCommand() {
		event.Kind = bus.KindCommand
	}

	if !a.gate.ShouldRespond(chatType, m.ChannelID, chatName, mentioned) {
		// Suppressed channel chatter still reaches the handler so it can
		// be recorded as conversation context.
		event.Gated = true
		slog.Debug("discord message recorded without response",
			"channel_id", m.ChannelID, "user", senderName,
		)
	}

	if a.handler == nil {
		slog.Warn("discord message dropped: no handler registered")
		return
	}
	a.handler(event)
}

// resolveMedia maps attachments to media refs. The first attachment
// decides the event kind.
func resolveMedia(m *discordgo.MessageCreate) ([]bus.MediaRef, bus.MessageKind) {
	if len(m.Attachments) == 0 {
		return nil, bus.KindText
	}
	kind := bus.KindDocument
	media := make([]bus.MediaRef, 0, len(m.Attachments))
	for i, att := range m.Attachments {
		if i == 0 {
			kind = kindFromMIME(att.ContentType)
		}
		media = append(media, bus.MediaRef{URL: att.URL, MIME: att.ContentType})
	}
	return media, kind
}

func kindFromMIME(mime string) bus.MessageKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return bus.KindPhoto
	case strings.HasPrefix(mime, "video/"):
		return bus.KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return bus.KindAudio
	default:
		return bus.KindDocument
	}
}

// stripBotMention removes <@id> and <@!id> mention markup for the bot
// itself, leaving other mentions intact.
func stripBotMention(content, botUserID string) string {
	if botUserID == "" {
		return strings.TrimSpace(content)
	}
	content = strings.ReplaceAll(content, fmt.Sprintf("<@%s>", botUserID), "")
	content = strings.ReplaceAll(content, fmt.Sprintf("<@!%s>", botUserID), "")
	return strings.TrimSpace(content)
}

// resolveDisplayName prefers the server nickname, then the global
// display name, then the account name.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
