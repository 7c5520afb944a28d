// Package whatsapp connects to a WhatsApp bridge over WebSocket.
// The bridge (e.g. whatsapp-web.js based) speaks the actual WhatsApp
// protocol; this adapter exchanges JSON frames with it.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
	"github.com/hermesworks/hermes/internal/config"
)

// frame is the JSON envelope both directions use on the bridge socket.
type frame struct {
	Type     string   `json:"type"`
	To       string   `json:"to,omitempty"`
	From     string   `json:"from,omitempty"`
	FromName string   `json:"from_name,omitempty"`
	Chat     string   `json:"chat,omitempty"`
	Content  string   `json:"content,omitempty"`
	Caption  string   `json:"caption,omitempty"`
	URL      string   `json:"url,omitempty"`
	Path     string   `json:"path,omitempty"`
	ID       string   `json:"id,omitempty"`
	Media    []string `json:"media,omitempty"`
}

// Adapter is the WhatsApp bridge connector.
type Adapter struct {
	cfg     config.WhatsAppConfig
	handler bus.MessageHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a WhatsApp adapter from config.
func New(cfg config.WhatsAppConfig) (*Adapter, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp: bridge_url is required")
	}
	return &Adapter{cfg: cfg}, nil
}

func (a *Adapter) Platform() bus.Platform { return bus.PlatformWhatsApp }

// OnMessage registers the inbound handler. Must be called before
// Connect.
func (a *Adapter) OnMessage(handler bus.MessageHandler) {
	a.handler = handler
}

// Connect dials the bridge and starts the read loop. A failed initial
// dial is not fatal; the loop keeps retrying with backoff.
func (a *Adapter) Connect(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.done = make(chan struct{})

	if err := a.dial(); err != nil {
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go a.listenLoop()

	slog.Info("whatsapp adapter started", "bridge_url", a.cfg.BridgeURL)
	return nil
}

// Disconnect stops the read loop and closes the socket.
func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	a.mu.Lock()
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.connected = false
	a.mu.Unlock()

	if a.done != nil {
		select {
		case <-a.done:
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
	}
	slog.Info("whatsapp disconnected")
	return nil
}

// SendText chunks content at the WhatsApp limit and writes one frame
// per chunk.
func (a *Adapter) SendText(ctx context.Context, chatID, content string, opts *channels.SendOptions) (channels.SendResult, error) {
	for _, chunk := range channels.SplitMessage(content, channels.WhatsAppMessageLimit) {
		err := channels.RetryTransport(ctx, "whatsapp send", func() error {
			return a.writeFrame(frame{Type: "message", To: chatID, Content: chunk})
		})
		if err != nil {
			return channels.SendResult{}, err
		}
	}
	return channels.SendResult{}, nil
}

// SendImage forwards the image URL; the bridge downloads and uploads
// it natively.
func (a *Adapter) SendImage(ctx context.Context, chatID, url, caption string, opts *channels.SendOptions) (channels.SendResult, error) {
	err := channels.RetryTransport(ctx, "whatsapp send image", func() error {
		return a.writeFrame(frame{Type: "image", To: chatID, URL: url, Caption: caption})
	})
	return channels.SendResult{}, err
}

// SendDocument forwards a local path. The bridge runs on the same
// host, and the caller has already checked the path against the
// trusted roots.
func (a *Adapter) SendDocument(ctx context.Context, chatID, path, caption string) (channels.SendResult, error) {
	err := channels.RetryTransport(ctx, "whatsapp send document", func() error {
		return a.writeFrame(frame{Type: "document", To: chatID, Path: path, Caption: caption})
	})
	return channels.SendResult{}, err
}

// SendTyping forwards the composing state, best effort.
func (a *Adapter) SendTyping(ctx context.Context, chatID string) {
	if err := a.writeFrame(frame{Type: "typing", To: chatID}); err != nil {
		slog.Debug("whatsapp typing indicator failed", "chat_id", chatID, "error", err)
	}
}

// GetChatInfo derives what it can from the JID; the bridge protocol
// has no chat metadata lookup.
func (a *Adapter) GetChatInfo(ctx context.Context, chatID string) (channels.ChatInfo, error) {
	return channels.ChatInfo{
		ID:   chatID,
		Type: chatTypeForJID(chatID),
	}, nil
}

// ListChats is empty: the bridge protocol has no chat enumeration, so
// WhatsApp targets are addressed by JID.
func (a *Adapter) ListChats(ctx context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func (a *Adapter) dial() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(a.cfg.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", a.cfg.BridgeURL, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	a.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", a.cfg.BridgeURL)
	return nil
}

func (a *Adapter) writeFrame(f frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return fmt.Errorf("%w: whatsapp bridge not connected", channels.ErrTransport)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal whatsapp frame: %w", err)
	}
	if err := a.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: whatsapp write: %v", channels.ErrTransport, err)
	}
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (a *Adapter) listenLoop() {
	defer close(a.done)
	backoff := time.Second

	for {
		select {
		case <-a.ctx.Done():
			return
		default:
		}

		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)
			select {
			case <-a.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := a.dial(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp read error, will reconnect", "error", err)
			a.mu.Lock()
			if a.conn != nil {
				_ = a.conn.Close()
				a.conn = nil
			}
			a.connected = false
			a.mu.Unlock()
			continue
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			slog.Warn("invalid whatsapp bridge frame", "error", err)
			continue
		}
		if f.Type == "message" {
			a.handleIncoming(f)
		}
	}
}

// handleIncoming normalizes one bridge frame and hands it to the
// injected handler.
func (a *Adapter) handleIncoming(f frame) {
	if f.From == "" {
		return
	}
	chatID := f.Chat
	if chatID == "" {
		chatID = f.From
	}

	if f.Content == "" && len(f.Media) == 0 {
		return
	}

	media := make([]bus.MediaRef, 0, len(f.Media))
	for _, path := range f.Media {
		media = append(media, bus.MediaRef{URL: path})
	}
	kind := bus.KindText
	if len(media) > 0 {
		kind = bus.KindDocument
	}

	event := bus.MessageEvent{
		Text: f.Content,
		Kind: kind,
		Source: bus.SessionSource{
			Platform: bus.PlatformWhatsApp,
			ChatID:   chatID,
			ChatType: chatTypeForJID(chatID),
			UserID:   f.From,
			UserName: f.FromName,
		},
		MessageID: f.ID,
		Media:     media,
		Timestamp: time.Now(),
	}
	if event.IsCommand() {
		event.Kind = bus.KindCommand
	}

	if a.handler == nil {
		slog.Warn("whatsapp message dropped: no handler registered")
		return
	}
	a.handler(event)
}

// Group JIDs end in "@g.us"; everything else is treated as a DM.
func chatTypeForJID(jid string) bus.ChatType {
	if strings.HasSuffix(jid, "@g.us") {
		return bus.ChatGroup
	}
	return bus.ChatDM
}
