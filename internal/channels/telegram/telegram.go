// Package telegram connects to the Telegram Bot API via long polling
// using telego.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
	"github.com/hermesworks/hermes/internal/config"
)

// In a forum supergroup, messages without a thread id belong to the
// General topic. Telegram rejects sends that name it explicitly.
const generalTopicID = 1

// Adapter is the Telegram platform connector.
type Adapter struct {
	cfg     config.TelegramConfig
	bot     *telego.Bot
	handler bus.MessageHandler
	limiter *channels.ChatLimiter

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram adapter from config. The bot token is
// validated on Connect, not here.
func New(cfg config.TelegramConfig) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	return &Adapter{
		cfg:     cfg,
		limiter: channels.NewChatLimiter(time.Second, 1),
	}, nil
}

func (a *Adapter) Platform() bus.Platform { return bus.PlatformTelegram }

// OnMessage registers the inbound handler. Must be called before
// Connect.
func (a *Adapter) OnMessage(handler bus.MessageHandler) {
	a.handler = handler
}

// Connect authenticates the bot and starts the long-polling loop.
func (a *Adapter) Connect(ctx context.Context) error {
	bot, err := telego.NewBot(a.cfg.Token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = bot

	pollCtx, pollCancel := context.WithCancel(context.Background())
	a.pollCancel = pollCancel
	a.pollDone = make(chan struct{})

	updates, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		pollCancel()
		return fmt.Errorf("%w: telegram long polling: %v", channels.ErrTransport, err)
	}

	go func() {
		defer close(a.pollDone)
		for update := range updates {
			a.handleUpdate(pollCtx, update)
		}
	}()

	slog.Info("telegram connected", "bot_username", bot.Username())
	return nil
}

// Disconnect stops long polling and waits briefly for the update loop
// to drain.
func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.pollCancel != nil {
		a.pollCancel()
	}
	if a.pollDone != nil {
		select {
		case <-a.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling loop did not stop in time")
		case <-ctx.Done():
		}
	}
	slog.Info("telegram disconnected")
	return nil
}

func (a *Adapter) botUsername() string {
	if a.bot == nil {
		return ""
	}
	return a.bot.Username()
}

// SendText chunks the content at the Telegram limit and sends each
// chunk as Markdown, retrying transport failures. If Telegram rejects
// the markup, the chunk is resent as plain text.
func (a *Adapter) SendText(ctx context.Context, chatID, content string, opts *channels.SendOptions) (channels.SendResult, error) {
	id, threadID, err := parseChatID(chatID)
	if err != nil {
		return channels.SendResult{}, err
	}

	var last *telego.Message
	for _, chunk := range channels.SplitMessage(content, channels.TelegramMessageLimit) {
		if err := a.limiter.Wait(ctx, chatID); err != nil {
			return channels.SendResult{}, err
		}
		msg := tu.Message(tu.ID(id), chunk).WithParseMode(telego.ModeMarkdown)
		applyThread(msg, threadID)
		if opts != nil && opts.ReplyTo != "" {
			if replyID, err := parseMessageID(opts.ReplyTo); err == nil {
				msg.ReplyParameters = &telego.ReplyParameters{MessageID: replyID}
			}
		}

		sent, err := a.sendChunk(ctx, msg, chunk, id, threadID)
		if err != nil {
			return channels.SendResult{}, err
		}
		last = sent
	}

	res := channels.SendResult{}
	if last != nil {
		res.MessageID = fmt.Sprintf("%d", last.MessageID)
	}
	return res, nil
}

// sendChunk sends one chunk, classifying errors and falling back to
// plain text when the markup is rejected.
func (a *Adapter) sendChunk(ctx context.Context, msg *telego.SendMessageParams, chunk string, id int64, threadID int) (*telego.Message, error) {
	var sent *telego.Message
	err := channels.RetryTransport(ctx, "telegram send", func() error {
		m, err := a.bot.SendMessage(ctx, msg)
		if err != nil {
			return classifySendError(err)
		}
		sent = m
		return nil
	})
	if err == nil {
		return sent, nil
	}
	if !isFormatErr(err) {
		return nil, err
	}

	slog.Warn("telegram markdown rejected, retrying as plain text",
		"chat_id", id,
		"preview", channels.Truncate(chunk, 60),
	)
	plain := tu.Message(tu.ID(id), channels.PlainFallback(chunk))
	applyThread(plain, threadID)
	err = channels.RetryTransport(ctx, "telegram send plain", func() error {
		m, err := a.bot.SendMessage(ctx, plain)
		if err != nil {
			return classifySendError(err)
		}
		sent = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sent, nil
}

// SendImage posts an image by URL; Telegram fetches it server side.
func (a *Adapter) SendImage(ctx context.Context, chatID, url, caption string, opts *channels.SendOptions) (channels.SendResult, error) {
	id, threadID, err := parseChatID(chatID)
	if err != nil {
		return channels.SendResult{}, err
	}
	if err := a.limiter.Wait(ctx, chatID); err != nil {
		return channels.SendResult{}, err
	}

	params := tu.Photo(tu.ID(id), tu.FileFromURL(url))
	if caption != "" {
		params = params.WithCaption(caption)
	}
	if threadID > 0 && threadID != generalTopicID {
		params = params.WithMessageThreadID(threadID)
	}

	var sent *telego.Message
	err = channels.RetryTransport(ctx, "telegram send photo", func() error {
		m, err := a.bot.SendPhoto(ctx, params)
		if err != nil {
			return classifySendError(err)
		}
		sent = m
		return nil
	})
	if err != nil {
		return channels.SendResult{}, err
	}
	return channels.SendResult{MessageID: fmt.Sprintf("%d", sent.MessageID)}, nil
}

// SendDocument uploads a local file. The caller has already checked
// the path against the trusted roots.
func (a *Adapter) SendDocument(ctx context.Context, chatID, path, caption string) (channels.SendResult, error) {
	id, threadID, err := parseChatID(chatID)
	if err != nil {
		return channels.SendResult{}, err
	}
	if err := a.limiter.Wait(ctx, chatID); err != nil {
		return channels.SendResult{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("telegram document: %w", err)
	}
	defer f.Close()

	params := tu.Document(tu.ID(id), tu.File(f))
	if caption != "" {
		params = params.WithCaption(caption)
	}
	if threadID > 0 && threadID != generalTopicID {
		params = params.WithMessageThreadID(threadID)
	}

	var sent *telego.Message
	err = channels.RetryTransport(ctx, "telegram send document", func() error {
		m, err := a.bot.SendDocument(ctx, params)
		if err != nil {
			return classifySendError(err)
		}
		sent = m
		return nil
	})
	if err != nil {
		return channels.SendResult{}, err
	}
	return channels.SendResult{MessageID: fmt.Sprintf("%d", sent.MessageID)}, nil
}

// SendTyping shows the "typing..." indicator. Telegram clears it after
// about five seconds, so callers refresh it while work is running.
func (a *Adapter) SendTyping(ctx context.Context, chatID string) {
	id, threadID, err := parseChatID(chatID)
	if err != nil {
		return
	}
	action := tu.ChatAction(tu.ID(id), telego.ChatActionTyping)
	if threadID > 0 && threadID != generalTopicID {
		action = action.WithMessageThreadID(threadID)
	}
	if err := a.bot.SendChatAction(ctx, action); err != nil {
		slog.Debug("telegram typing indicator failed", "chat_id", id, "error", err)
	}
}

// GetChatInfo resolves a chat id to its current title and type.
func (a *Adapter) GetChatInfo(ctx context.Context, chatID string) (channels.ChatInfo, error) {
	id, _, err := parseChatID(chatID)
	if err != nil {
		return channels.ChatInfo{}, err
	}
	chat, err := a.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(id)})
	if err != nil {
		return channels.ChatInfo{}, fmt.Errorf("%w: telegram getChat: %v", channels.ErrTransport, err)
	}
	return channels.ChatInfo{
		ID:   fmt.Sprintf("%d", chat.ID),
		Name: chatDisplayName(chat),
		Type: mapChatType(chat.Type, chat.IsForum),
	}, nil
}

// ListChats is best effort: the Bot API has no chat enumeration, so
// only the configured home channel is reported.
func (a *Adapter) ListChats(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	if a.cfg.HomeChannel == "" {
		return out, nil
	}
	info, err := a.GetChatInfo(ctx, a.cfg.HomeChannel)
	if err != nil {
		slog.Debug("telegram home channel lookup failed", "error", err)
		return out, nil
	}
	if info.Name != "" {
		out[strings.ToLower(info.Name)] = info.ID
	}
	return out, nil
}

func applyThread(msg *telego.SendMessageParams, threadID int) {
	if threadID > 0 && threadID != generalTopicID {
		msg.MessageThreadID = threadID
	}
}

func chatDisplayName(chat *telego.ChatFullInfo) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.Username != "" {
		return chat.Username
	}
	return strings.TrimSpace(chat.FirstName + " " + chat.LastName)
}

func mapChatType(t string, isForum bool) bus.ChatType {
	switch t {
	case "private":
		return bus.ChatDM
	case "channel":
		return bus.ChatChannel
	case "supergroup":
		if isForum {
			return bus.ChatForum
		}
		return bus.ChatGroup
	default:
		return bus.ChatGroup
	}
}

// parseChatID accepts "12345" or "12345:678" (forum topic).
func parseChatID(s string) (int64, int, error) {
	chat, topic, hasTopic := strings.Cut(s, ":")
	var id int64
	if _, err := fmt.Sscanf(chat, "%d", &id); err != nil {
		return 0, 0, fmt.Errorf("telegram: invalid chat id %q", s)
	}
	threadID := 0
	if hasTopic {
		if _, err := fmt.Sscanf(topic, "%d", &threadID); err != nil {
			return 0, 0, fmt.Errorf("telegram: invalid topic in chat id %q", s)
		}
	}
	return id, threadID, nil
}

func parseMessageID(s string) (int, error) {
	var id int
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		return 0, err
	}
	return id, nil
}

// classifySendError splits Bot API failures into format errors (bad
// markup, retrying is pointless) and transport errors (worth a retry).
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "can't parse entities") || strings.Contains(msg, "parse") && strings.Contains(msg, "entit") {
		return fmt.Errorf("%w: %v", channels.ErrFormat, err)
	}
	if strings.Contains(msg, "bad request") || strings.Contains(msg, "forbidden") || strings.Contains(msg, "chat not found") {
		return fmt.Errorf("telegram send: %w", err)
	}
	return fmt.Errorf("%w: %v", channels.ErrTransport, err)
}

func isFormatErr(err error) bool {
	return errors.Is(err, channels.ErrFormat)
}
