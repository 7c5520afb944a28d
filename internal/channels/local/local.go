// Package local is the loopback connector: sends land as markdown
// files on disk and inbound events are injected programmatically. It
// backs development sessions and smoke tests that need a full adapter
// without any network.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
)

// Adapter writes outbound messages under root/<chat_id>/ as
// timestamped markdown files.
type Adapter struct {
	root    string
	handler bus.MessageHandler
}

// New creates a local adapter rooted at dir.
func New(root string) *Adapter {
	return &Adapter{root: root}
}

func (a *Adapter) Platform() bus.Platform { return bus.PlatformLocal }

func (a *Adapter) OnMessage(handler bus.MessageHandler) {
	a.handler = handler
}

func (a *Adapter) Connect(ctx context.Context) error {
	if err := os.MkdirAll(a.root, 0o755); err != nil {
		return fmt.Errorf("local adapter root: %w", err)
	}
	slog.Info("local adapter ready", "root", a.root)
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error { return nil }

// Inject feeds an inbound event as if it arrived from a platform.
func (a *Adapter) Inject(event bus.MessageEvent) {
	if a.handler == nil {
		slog.Warn("local message dropped: no handler registered")
		return
	}
	if event.Source.Platform == "" {
		event.Source.Platform = bus.PlatformLocal
	}
	if event.Source.ChatType == "" {
		event.Source.ChatType = bus.ChatDM
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	a.handler(event)
}

// SendText writes the content as one markdown file. No chunking: the
// filesystem has no message limit.
func (a *Adapter) SendText(ctx context.Context, chatID, content string, opts *channels.SendOptions) (channels.SendResult, error) {
	path, err := a.write(chatID, content)
	if err != nil {
		return channels.SendResult{}, err
	}
	return channels.SendResult{MessageID: path}, nil
}

func (a *Adapter) SendImage(ctx context.Context, chatID, url, caption string, opts *channels.SendOptions) (channels.SendResult, error) {
	content := fmt.Sprintf("![%s](%s)", caption, url)
	return a.SendText(ctx, chatID, content, opts)
}

func (a *Adapter) SendDocument(ctx context.Context, chatID, path, caption string) (channels.SendResult, error) {
	content := fmt.Sprintf("DOCUMENT:%s", path)
	if caption != "" {
		content += "|" + caption
	}
	return a.SendText(ctx, chatID, content, nil)
}

func (a *Adapter) SendTyping(ctx context.Context, chatID string) {}

func (a *Adapter) GetChatInfo(ctx context.Context, chatID string) (channels.ChatInfo, error) {
	return channels.ChatInfo{ID: chatID, Name: chatID, Type: bus.ChatDM}, nil
}

func (a *Adapter) ListChats(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (a *Adapter) write(chatID, content string) (string, error) {
	group := sanitize(chatID)
	if group == "" {
		group = "misc"
	}
	dir := filepath.Join(a.root, group)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("local send: %w", err)
	}

	name := time.Now().Format("20060102_150405") + ".md"
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		name = time.Now().Format("20060102_150405") + "_" + uuid.NewString()[:8] + ".md"
		path = filepath.Join(dir, name)
	}

	if err := os.WriteFile(path, []byte(content+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("local send: %w", err)
	}
	return path, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, s)
}
