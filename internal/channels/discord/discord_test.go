package discord

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
)

func TestStripBotMention(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<@123> summarize this", "summarize this"},
		{"<@!123> summarize this", "summarize this"},
		{"hey <@123>", "hey"},
		{"<@456> not the bot", "<@456> not the bot"},
		{"no mention", "no mention"},
	}
	for _, tt := range tests {
		if got := stripBotMention(tt.in, "123"); got != tt.want {
			t.Errorf("stripBotMention(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestKindFromMIME(t *testing.T) {
	tests := []struct {
		mime string
		want bus.MessageKind
	}{
		{"image/png", bus.KindPhoto},
		{"video/mp4", bus.KindVideo},
		{"audio/ogg", bus.KindAudio},
		{"application/pdf", bus.KindDocument},
		{"", bus.KindDocument},
	}
	for _, tt := range tests {
		if got := kindFromMIME(tt.mime); got != tt.want {
			t.Errorf("kindFromMIME(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestMapChannelType(t *testing.T) {
	tests := []struct {
		in   discordgo.ChannelType
		want bus.ChatType
	}{
		{discordgo.ChannelTypeDM, bus.ChatDM},
		{discordgo.ChannelTypeGuildText, bus.ChatChannel},
		{discordgo.ChannelTypeGuildPublicThread, bus.ChatThread},
	}
	for _, tt := range tests {
		if got := mapChannelType(tt.in); got != tt.want {
			t.Errorf("mapChannelType(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveDisplayName(t *testing.T) {
	m := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "acct", GlobalName: "Display"},
		Member: &discordgo.Member{Nick: "Nick"},
	}}
	if got := resolveDisplayName(m); got != "Nick" {
		t.Errorf("nickname not preferred: %q", got)
	}
	m.Member = nil
	if got := resolveDisplayName(m); got != "Display" {
		t.Errorf("global name not preferred: %q", got)
	}
	m.Author.GlobalName = ""
	if got := resolveDisplayName(m); got != "acct" {
		t.Errorf("account name fallback failed: %q", got)
	}
}

func TestThreadMessageKeepsThreadIDEmpty(t *testing.T) {
	session, err := discordgo.New("Bot test")
	if err != nil {
		t.Fatal(err)
	}
	if err := session.State.GuildAdd(&discordgo.Guild{ID: "guild1"}); err != nil {
		t.Fatal(err)
	}
	if err := session.State.ChannelAdd(&discordgo.Channel{
		ID:      "thread1",
		GuildID: "guild1",
		Name:    "planning",
		Type:    discordgo.ChannelTypeGuildPublicThread,
	}); err != nil {
		t.Fatal(err)
	}

	var got *bus.MessageEvent
	a := &Adapter{
		session:   session,
		botUserID: "bot1",
		handler:   func(ev bus.MessageEvent) { got = &ev },
	}

	a.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		GuildID:   "guild1",
		ChannelID: "thread1",
		Content:   "status update",
		Author:    &discordgo.User{ID: "user1", Username: "alice"},
	}})

	if got == nil {
		t.Fatal("handler not invoked")
	}
	if got.Source.ChatType != bus.ChatThread {
		t.Errorf("chat type = %q, want %q", got.Source.ChatType, bus.ChatThread)
	}
	// A thread is its own channel, so the chat id addresses it and
	// ThreadID must stay empty to avoid a doubled session key.
	if got.Source.ChatID != "thread1" {
		t.Errorf("chat id = %q, want %q", got.Source.ChatID, "thread1")
	}
	if got.Source.ThreadID != "" {
		t.Errorf("thread id = %q, want empty", got.Source.ThreadID)
	}
}

func TestClassifySendError(t *testing.T) {
	rateLimited := &discordgo.RESTError{Response: &http.Response{StatusCode: 429}}
	if !errors.Is(classifySendError(rateLimited), channels.ErrTransport) {
		t.Error("429 should classify as transport error")
	}

	serverErr := &discordgo.RESTError{Response: &http.Response{StatusCode: 502}}
	if !errors.Is(classifySendError(serverErr), channels.ErrTransport) {
		t.Error("502 should classify as transport error")
	}

	forbidden := &discordgo.RESTError{Response: &http.Response{StatusCode: 403}}
	if errors.Is(classifySendError(forbidden), channels.ErrTransport) {
		t.Error("403 should not be retried")
	}
}
