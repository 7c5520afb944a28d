package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
)

// handleUpdate normalizes one Telegram update and hands it to the
// injected handler.
func (a *Adapter) handleUpdate(ctx context.Context, update telego.Update) {
	message := update.Message
	if message == nil {
		return
	}

	// Skip service messages (member added/removed, title changed, etc.).
	// They have no text or media worth processing.
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped", "chat_id", message.Chat.ID)
		return
	}

	user := message.From
	if user == nil {
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	if !channels.IsAllowed(a.cfg.AllowFrom, userID, user.Username) {
		slog.Debug("telegram message rejected by allowlist",
			"user_id", userID, "username", user.Username,
		)
		return
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"

	// Non-forum groups carry message_thread_id as reply context, not a
	// topic. Forum groups without one are in the General topic.
	isForum := isGroup && message.Chat.IsForum
	threadID := 0
	if isForum {
		threadID = message.MessageThreadID
		if threadID == 0 {
			threadID = generalTopicID
		}
	}

	text := message.Text
	if message.Caption != "" {
		if text != "" {
			text += "\n"
		}
		text += message.Caption
	}

	botUsername := a.botUsername()
	mentioned := detectMention(message, botUsername)
	// A reply to the bot's own message counts as an implicit mention.
	if !mentioned && message.ReplyToMessage != nil && message.ReplyToMessage.From != nil &&
		message.ReplyToMessage.From.Username == botUsername && botUsername != "" {
		mentioned = true
	}
	text = stripMention(text, botUsername)

	media, kind := a.resolveMedia(ctx, message)
	if text == "" && len(media) == 0 {
		return
	}

	chatType := mapChatType(message.Chat.Type, message.Chat.IsForum)
	if isForum && message.MessageThreadID > 0 {
		chatType = bus.ChatThread
	}

	source := bus.SessionSource{
		Platform: bus.PlatformTelegram,
		ChatID:   fmt.Sprintf("%d", message.Chat.ID),
		ChatName: chatDisplayName(chatInfoFromMessage(message)),
		ChatType: chatType,
		UserID:   userID,
		UserName: user.Username,
	}
	if isForum && threadID != generalTopicID {
		source.ThreadID = fmt.Sprintf("%d", threadID)
	}

	event := bus.MessageEvent{
		Text:      text,
		Kind:      kind,
		Source:    source,
		MessageID: fmt.Sprintf("%d", message.MessageID),
		Media:     media,
		Timestamp: time.Unix(int64(message.Date), 0),
	}
	if message.ReplyToMessage != nil {
		event.ReplyTo = fmt.Sprintf("%d", message.ReplyToMessage.MessageID)
	}
	if event.IsCommand() {
		event.Kind = bus.KindCommand
	}

	gate := channels.GatePolicy{}
	if !gate.ShouldRespond(chatType, source.ChatID, source.ChatName, mentioned) {
		// Suppressed group chatter still reaches the handler so it can
		// be recorded as conversation context.
		event.Gated = true
		slog.Debug("telegram group message recorded without response",
			"chat_id", message.Chat.ID, "user", user.Username,
		)
	}

	if a.handler == nil {
		slog.Warn("telegram message dropped: no handler registered")
		return
	}
	a.handler(event)
}

// resolveMedia maps attachments to media refs with Bot API download
// URLs. Photos use the highest resolution size.
func (a *Adapter) resolveMedia(ctx context.Context, msg *telego.Message) ([]bus.MediaRef, bus.MessageKind) {
	kind := bus.KindText

	var fileID, mime string
	switch {
	case len(msg.Photo) > 0:
		kind = bus.KindPhoto
		fileID = msg.Photo[len(msg.Photo)-1].FileID
		mime = "image/jpeg"
	case msg.Voice != nil:
		kind = bus.KindVoice
		fileID = msg.Voice.FileID
		mime = msg.Voice.MimeType
	case msg.Audio != nil:
		kind = bus.KindAudio
		fileID = msg.Audio.FileID
		mime = msg.Audio.MimeType
	case msg.Video != nil:
		kind = bus.KindVideo
		fileID = msg.Video.FileID
		mime = msg.Video.MimeType
	case msg.Document != nil:
		kind = bus.KindDocument
		fileID = msg.Document.FileID
		mime = msg.Document.MimeType
	case msg.Sticker != nil:
		kind = bus.KindSticker
		fileID = msg.Sticker.FileID
		mime = "image/webp"
	default:
		return nil, kind
	}

	file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		slog.Warn("telegram file lookup failed", "file_id", fileID, "error", err)
		return nil, kind
	}
	return []bus.MediaRef{{
		URL:  a.bot.FileDownloadURL(file.FilePath),
		MIME: mime,
	}}, kind
}

// detectMention checks text and caption entities for an explicit
// @mention of the bot, or a command addressed to it.
func detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	lowerBot := strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, entity := range pair.entities {
			if entity.Offset+entity.Length > len(pair.text) {
				continue
			}
			span := pair.text[entity.Offset : entity.Offset+entity.Length]
			switch entity.Type {
			case "mention":
				if strings.EqualFold(span, "@"+botUsername) {
					return true
				}
			case "bot_command":
				if strings.Contains(strings.ToLower(span), "@"+lowerBot) {
					return true
				}
			}
		}
	}
	return false
}

func stripMention(text, botUsername string) string {
	if botUsername == "" {
		return strings.TrimSpace(text)
	}
	cleaned := strings.ReplaceAll(text, "@"+botUsername, "")
	return strings.TrimSpace(cleaned)
}

func isServiceMessage(msg *telego.Message) bool {
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.NewChatTitle != "" ||
		len(msg.NewChatPhoto) > 0 ||
		msg.DeleteChatPhoto ||
		msg.GroupChatCreated ||
		msg.SupergroupChatCreated ||
		msg.ChannelChatCreated ||
		msg.PinnedMessage != nil ||
		msg.MigrateToChatID != 0 ||
		msg.MigrateFromChatID != 0
}

// chatInfoFromMessage adapts the inline chat struct to the lookup
// shape GetChatInfo uses.
func chatInfoFromMessage(msg *telego.Message) *telego.ChatFullInfo {
	return &telego.ChatFullInfo{
		ID:        msg.Chat.ID,
		Type:      msg.Chat.Type,
		Title:     msg.Chat.Title,
		Username:  msg.Chat.Username,
		FirstName: msg.Chat.FirstName,
		LastName:  msg.Chat.LastName,
		IsForum:   msg.Chat.IsForum,
	}
}
