package telegram

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
)

func TestParseChatID(t *testing.T) {
	tests := []struct {
		in         string
		wantChat   int64
		wantThread int
		wantErr    bool
	}{
		{"12345", 12345, 0, false},
		{"-1001234567890", -1001234567890, 0, false},
		{"12345:42", 12345, 42, false},
		{"abc", 0, 0, true},
		{"12345:topic", 0, 0, true},
	}
	for _, tt := range tests {
		chat, thread, err := parseChatID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseChatID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if chat != tt.wantChat || thread != tt.wantThread {
			t.Errorf("parseChatID(%q) = (%d, %d), want (%d, %d)",
				tt.in, chat, thread, tt.wantChat, tt.wantThread)
		}
	}
}

func TestMapChatType(t *testing.T) {
	tests := []struct {
		platform string
		isForum  bool
		want     bus.ChatType
	}{
		{"private", false, bus.ChatDM},
		{"group", false, bus.ChatGroup},
		{"supergroup", false, bus.ChatGroup},
		{"supergroup", true, bus.ChatForum},
		{"channel", false, bus.ChatChannel},
	}
	for _, tt := range tests {
		if got := mapChatType(tt.platform, tt.isForum); got != tt.want {
			t.Errorf("mapChatType(%q, %v) = %q, want %q", tt.platform, tt.isForum, got, tt.want)
		}
	}
}

func TestDetectMention(t *testing.T) {
	msg := &telego.Message{
		Text: "hey @hermes_bot look at this",
		Entities: []telego.MessageEntity{
			{Type: "mention", Offset: 4, Length: 11},
		},
	}
	if !detectMention(msg, "hermes_bot") {
		t.Error("explicit @mention not detected")
	}
	if detectMention(msg, "other_bot") {
		t.Error("mention of a different bot should not match")
	}
	if detectMention(msg, "") {
		t.Error("empty bot username should never match")
	}
}

func TestDetectMentionInCommand(t *testing.T) {
	msg := &telego.Message{
		Text: "/status@hermes_bot",
		Entities: []telego.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: 18},
		},
	}
	if !detectMention(msg, "hermes_bot") {
		t.Error("addressed command not detected as mention")
	}
}

func TestDetectMentionInCaption(t *testing.T) {
	msg := &telego.Message{
		Caption: "@hermes_bot what is this",
		CaptionEntities: []telego.MessageEntity{
			{Type: "mention", Offset: 0, Length: 11},
		},
	}
	if !detectMention(msg, "hermes_bot") {
		t.Error("caption mention not detected")
	}
}

func TestStripMention(t *testing.T) {
	got := stripMention("@hermes_bot summarize the thread", "hermes_bot")
	if got != "summarize the thread" {
		t.Errorf("stripMention = %q", got)
	}
	if got := stripMention("no mention here", "hermes_bot"); got != "no mention here" {
		t.Errorf("stripMention without mention = %q", got)
	}
}

func TestIsServiceMessage(t *testing.T) {
	if !isServiceMessage(&telego.Message{NewChatTitle: "renamed"}) {
		t.Error("title change not treated as service message")
	}
	if isServiceMessage(&telego.Message{Text: "hello"}) {
		t.Error("plain text treated as service message")
	}
}

func TestClassifySendError(t *testing.T) {
	formatErr := classifySendError(fmt.Errorf("telegram: Bad Request: can't parse entities: unclosed entity"))
	if !errors.Is(formatErr, channels.ErrFormat) {
		t.Errorf("parse failure classified as %v, want format error", formatErr)
	}

	transportErr := classifySendError(fmt.Errorf("telegram: Internal Server Error"))
	if !errors.Is(transportErr, channels.ErrTransport) {
		t.Errorf("server failure classified as %v, want transport error", transportErr)
	}

	permErr := classifySendError(fmt.Errorf("telegram: Forbidden: bot was blocked by the user"))
	if errors.Is(permErr, channels.ErrTransport) || errors.Is(permErr, channels.ErrFormat) {
		t.Errorf("permanent failure should not be retried or reformatted: %v", permErr)
	}
}
