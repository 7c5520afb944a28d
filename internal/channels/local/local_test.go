package local

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hermesworks/hermes/internal/bus"
)

func TestSendTextWritesFile(t *testing.T) {
	root := t.TempDir()
	a := New(root)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res, err := a.SendText(context.Background(), "devchat", "hello from the gateway", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}

	data, err := os.ReadFile(res.MessageID)
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if !strings.Contains(string(data), "hello from the gateway") {
		t.Errorf("file content = %q", data)
	}
	if filepath.Dir(res.MessageID) != filepath.Join(root, "devchat") {
		t.Errorf("file written to %s", res.MessageID)
	}
}

func TestInjectDefaults(t *testing.T) {
	a := New(t.TempDir())
	var got bus.MessageEvent
	a.OnMessage(func(ev bus.MessageEvent) { got = ev })

	a.Inject(bus.MessageEvent{Text: "ping", Source: bus.SessionSource{ChatID: "dev"}})

	if got.Source.Platform != bus.PlatformLocal {
		t.Errorf("platform = %q", got.Source.Platform)
	}
	if got.Source.ChatType != bus.ChatDM {
		t.Errorf("chat type = %q", got.Source.ChatType)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
}

func TestSendDocumentEnvelope(t *testing.T) {
	a := New(t.TempDir())
	res, err := a.SendDocument(context.Background(), "dev", "/tmp/report.pdf", "weekly report")
	if err != nil {
		t.Fatalf("SendDocument: %v", err)
	}
	data, _ := os.ReadFile(res.MessageID)
	if want := "DOCUMENT:/tmp/report.pdf|weekly report"; !strings.Contains(string(data), want) {
		t.Errorf("content = %q, want %q", data, want)
	}
}
