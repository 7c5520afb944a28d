// Package discord connects to the Discord gateway using discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
	"github.com/hermesworks/hermes/internal/config"
)

// Adapter is the Discord platform connector.
type Adapter struct {
	cfg       config.DiscordConfig
	session   *discordgo.Session
	handler   bus.MessageHandler
	limiter   *channels.ChatLimiter
	botUserID string
	gate      channels.GatePolicy
}

// New creates a Discord adapter from config.
func New(cfg config.DiscordConfig) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Adapter{
		cfg:     cfg,
		session: session,
		limiter: channels.NewChatLimiter(time.Second, 1),
		gate: channels.GatePolicy{
			RequireMention: cfg.RequireMention,
			FreeResponse:   cfg.FreeResponseChannels,
		},
	}, nil
}

func (a *Adapter) Platform() bus.Platform { return bus.PlatformDiscord }

// OnMessage registers the inbound handler. Must be called before
// Connect.
func (a *Adapter) OnMessage(handler bus.MessageHandler) {
	a.handler = handler
}

// Connect opens the gateway websocket and resolves the bot identity.
func (a *Adapter) Connect(ctx context.Context) error {
	a.session.AddHandler(a.handleMessageCreate)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("%w: discord gateway open: %v", channels.ErrTransport, err)
	}

	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("%w: discord identity lookup: %v", channels.ErrTransport, err)
	}
	a.botUserID = user.ID

	slog.Info("discord connected", "bot_user", user.Username)
	return nil
}

// Disconnect closes the gateway session.
func (a *Adapter) Disconnect(ctx context.Context) error {
	err := a.session.Close()
	slog.Info("discord disconnected")
	return err
}

// SendText chunks content at the Discord limit and sends each chunk.
func (a *Adapter) SendText(ctx context.Context, chatID, content string, opts *channels.SendOptions) (channels.SendResult, error) {
	var lastID string
	for i, chunk := range channels.SplitMessage(content, channels.DiscordMessageLimit) {
		if err := a.limiter.Wait(ctx, chatID); err != nil {
			return channels.SendResult{}, err
		}

		send := &discordgo.MessageSend{Content: chunk}
		// Only the first chunk replies to the triggering message.
		if i == 0 && opts != nil && opts.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{
				MessageID: opts.ReplyTo,
				ChannelID: chatID,
			}
		}

		var sent *discordgo.Message
		err := channels.RetryTransport(ctx, "discord send", func() error {
			m, err := a.session.ChannelMessageSendComplex(chatID, send)
			if err != nil {
				return classifySendError(err)
			}
			sent = m
			return nil
		})
		if err != nil {
			return channels.SendResult{}, err
		}
		lastID = sent.ID
	}
	return channels.SendResult{MessageID: lastID}, nil
}

// SendImage posts the image URL as message content; Discord renders
// the embed client side.
func (a *Adapter) SendImage(ctx context.Context, chatID, url, caption string, opts *channels.SendOptions) (channels.SendResult, error) {
	content := url
	if caption != "" {
		content = caption + "\n" + url
	}
	return a.SendText(ctx, chatID, content, opts)
}

// SendDocument uploads a local file as an attachment. The caller has
// already checked the path against the trusted roots.
func (a *Adapter) SendDocument(ctx context.Context, chatID, path, caption string) (channels.SendResult, error) {
	if err := a.limiter.Wait(ctx, chatID); err != nil {
		return channels.SendResult{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		return channels.SendResult{}, fmt.Errorf("discord document: %w", err)
	}
	defer f.Close()

	send := &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{
			{Name: filepath.Base(path), Reader: f},
		},
	}

	var sent *discordgo.Message
	err = channels.RetryTransport(ctx, "discord send document", func() error {
		m, err := a.session.ChannelMessageSendComplex(chatID, send)
		if err != nil {
			return classifySendError(err)
		}
		sent = m
		return nil
	})
	if err != nil {
		return channels.SendResult{}, err
	}
	return channels.SendResult{MessageID: sent.ID}, nil
}

// SendTyping shows the typing indicator. Discord clears it after
// roughly ten seconds.
func (a *Adapter) SendTyping(ctx context.Context, chatID string) {
	if err := a.session.ChannelTyping(chatID); err != nil {
		slog.Debug("discord typing indicator failed", "channel_id", chatID, "error", err)
	}
}

// GetChatInfo resolves a channel id to its name and type.
func (a *Adapter) GetChatInfo(ctx context.Context, chatID string) (channels.ChatInfo, error) {
	ch, err := a.channel(chatID)
	if err != nil {
		return channels.ChatInfo{}, fmt.Errorf("%w: discord channel lookup: %v", channels.ErrTransport, err)
	}
	return channels.ChatInfo{
		ID:   ch.ID,
		Name: ch.Name,
		Type: mapChannelType(ch.Type),
	}, nil
}

// ListChats snapshots the text channels of every guild the bot is in,
// name to id.
func (a *Adapter) ListChats(ctx context.Context) (map[string]string, error) {
	out := map[string]string{}
	for _, guild := range a.session.State.Guilds {
		chs, err := a.session.GuildChannels(guild.ID)
		if err != nil {
			slog.Debug("discord guild channel listing failed", "guild_id", guild.ID, "error", err)
			continue
		}
		for _, ch := range chs {
			if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildNews {
				continue
			}
			out[strings.ToLower(ch.Name)] = ch.ID
		}
	}
	return out, nil
}

// channel prefers the state cache, falling back to the REST API.
func (a *Adapter) channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := a.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return a.session.Channel(channelID)
}

func mapChannelType(t discordgo.ChannelType) bus.ChatType {
	switch t {
	case discordgo.ChannelTypeDM, discordgo.ChannelTypeGroupDM:
		return bus.ChatDM
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return bus.ChatThread
	default:
		return bus.ChatChannel
	}
}

// classifySendError splits REST failures into transport errors (worth
// a retry) and permanent rejections.
func classifySendError(err error) error {
	if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil {
		code := restErr.Response.StatusCode
		if code == 429 || code >= 500 {
			return fmt.Errorf("%w: %v", channels.ErrTransport, err)
		}
		return fmt.Errorf("discord send: %w", err)
	}
	return fmt.Errorf("%w: %v", channels.ErrTransport, err)
}
