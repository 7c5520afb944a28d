package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
	"github.com/hermesworks/hermes/internal/directory"
	"github.com/hermesworks/hermes/internal/safety"
)

type fakeAdapter struct {
	platform  bus.Platform
	failText  error
	failImage error

	mu    sync.Mutex
	texts []string
	imgs  []string
	docs  []string
}

func (f *fakeAdapter) Platform() bus.Platform                  { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error           { return nil }
func (f *fakeAdapter) Disconnect(context.Context) error        { return nil }
func (f *fakeAdapter) OnMessage(bus.MessageHandler)            {}
func (f *fakeAdapter) SendTyping(context.Context, string)      {}
func (f *fakeAdapter) ListChats(context.Context) (map[string]string, error) {
	return nil, nil
}

func (f *fakeAdapter) GetChatInfo(_ context.Context, chatID string) (channels.ChatInfo, error) {
	return channels.ChatInfo{ID: chatID}, nil
}

func (f *fakeAdapter) SendText(_ context.Context, chatID, content string, _ *channels.SendOptions) (channels.SendResult, error) {
	if f.failText != nil {
		return channels.SendResult{}, f.failText
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, chatID+"|"+content)
	return channels.SendResult{MessageID: "m1"}, nil
}

func (f *fakeAdapter) SendImage(_ context.Context, _, url, _ string, _ *channels.SendOptions) (channels.SendResult, error) {
	if f.failImage != nil {
		return channels.SendResult{}, f.failImage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imgs = append(f.imgs, url)
	return channels.SendResult{}, nil
}

func (f *fakeAdapter) SendDocument(_ context.Context, _, path, _ string) (channels.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, path)
	return channels.SendResult{}, nil
}

func newTestRouter(t *testing.T, trustedDir string) (*Router, *fakeAdapter, string) {
	t.Helper()
	sinkRoot := t.TempDir()
	dir := directory.New(time.Minute)
	dir.Register(bus.PlatformTelegram, func(context.Context) (map[string]string, error) {
		return map[string]string{"team": "555"}, nil
	})

	roots := []string{trustedDir}
	tg := &fakeAdapter{platform: bus.PlatformTelegram}
	r := NewRouter(dir, NewLocalSink(sinkRoot), safety.NewTrustedRoots(roots),
		func(p bus.Platform) string {
			if p == bus.PlatformTelegram {
				return "100"
			}
			return ""
		}, false)
	r.RegisterAdapter(tg)
	return r, tg, sinkRoot
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		raw  string
		want TargetSpec
	}{
		{"origin", TargetSpec{Origin: true}},
		{"local", TargetSpec{Platform: bus.PlatformLocal}},
		{"telegram", TargetSpec{Platform: bus.PlatformTelegram}},
		{"Discord:#general", TargetSpec{Platform: bus.PlatformDiscord, Chat: "#general"}},
		{" telegram:123 ", TargetSpec{Platform: bus.PlatformTelegram, Chat: "123"}},
		{"gopher:99", TargetSpec{Platform: bus.PlatformLocal}},
	}
	for _, tt := range tests {
		if got := ParseSpec(tt.raw); got != tt.want {
			t.Errorf("ParseSpec(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestTargetFormatParseRoundTrip(t *testing.T) {
	targets := []Target{
		{Platform: bus.PlatformTelegram, ChatID: "123"},
		{Platform: bus.PlatformDiscord, ChatID: "42"},
		{Platform: bus.PlatformLocal},
	}
	for _, target := range targets {
		spec := ParseSpec(target.Format())
		if spec.Platform != target.Platform || spec.Chat != target.ChatID {
			t.Errorf("round trip of %+v via %q gave %+v", target, target.Format(), spec)
		}
	}
}

func TestResolveOriginAndHome(t *testing.T) {
	r, _, _ := newTestRouter(t, t.TempDir())
	origin := &bus.SessionSource{Platform: bus.PlatformTelegram, ChatID: "777"}

	targets, errs := r.Resolve(context.Background(), []string{"origin", "telegram"}, origin)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets: %+v", len(targets), targets)
	}
	if !targets[0].IsOrigin || targets[0].ChatID != "777" {
		t.Errorf("origin target = %+v", targets[0])
	}
	if targets[1].ChatID != "100" {
		t.Errorf("home target = %+v", targets[1])
	}
}

func TestResolveDirectoryNameAndDedupe(t *testing.T) {
	r, _, _ := newTestRouter(t, t.TempDir())

	targets, errs := r.Resolve(context.Background(),
		[]string{"telegram:team", "telegram:555", "telegram:#team"}, nil)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(targets) != 1 || targets[0].ChatID != "555" {
		t.Errorf("targets = %+v, want single deduped 555", targets)
	}
}

func TestResolveDropsUnresolvable(t *testing.T) {
	r, _, _ := newTestRouter(t, t.TempDir())

	// Discord has no home channel and no directory listing registered.
	targets, errs := r.Resolve(context.Background(),
		[]string{"discord", "discord:#nowhere", "local"}, nil)
	if len(targets) != 1 || targets[0].Platform != bus.PlatformLocal {
		t.Errorf("targets = %+v, want only local", targets)
	}
	if len(errs) != 2 || !Unresolved(errs) {
		t.Errorf("errs = %v, want two unresolved", errs)
	}
}

func TestResolveUnknownOriginDegradesToLocal(t *testing.T) {
	r, _, _ := newTestRouter(t, t.TempDir())
	targets, _ := r.Resolve(context.Background(), []string{"origin"}, nil)
	if len(targets) != 1 || targets[0].Platform != bus.PlatformLocal {
		t.Errorf("targets = %+v, want local fallback", targets)
	}
}

func TestResolveAlwaysLogLocal(t *testing.T) {
	dir := directory.New(time.Minute)
	r := NewRouter(dir, NewLocalSink(t.TempDir()), safety.NewTrustedRoots(nil),
		func(bus.Platform) string { return "1" }, true)

	targets, _ := r.Resolve(context.Background(), []string{"telegram"}, nil)
	if len(targets) != 2 || targets[1].Platform != bus.PlatformLocal {
		t.Errorf("targets = %+v, want local appended", targets)
	}

	// local already present: no duplicate.
	targets, _ = r.Resolve(context.Background(), []string{"local", "telegram"}, nil)
	if len(targets) != 2 {
		t.Errorf("targets = %+v, local duplicated", targets)
	}
}

func TestDeliverFanOutPartialFailure(t *testing.T) {
	r, tg, sinkRoot := newTestRouter(t, t.TempDir())
	tg.failText = fmt.Errorf("%w: 502 from api", channels.ErrTransport)

	targets := []Target{
		{Platform: bus.PlatformTelegram, ChatID: "9"},
		{Platform: bus.PlatformLocal},
	}
	results := r.Deliver(context.Background(), "report body", targets, Meta{JobID: "job1", JobName: "Daily"})

	tgRes := results["telegram:9"]
	if tgRes.Success {
		t.Error("telegram result should be a failure")
	}
	if !strings.Contains(tgRes.Error, "502") {
		t.Errorf("telegram error = %q", tgRes.Error)
	}

	localRes := results["local"]
	if !localRes.Success {
		t.Fatalf("local result = %+v", localRes)
	}
	if _, err := os.Stat(localRes.MessageID); err != nil {
		t.Errorf("local file missing: %v", err)
	}
	if !strings.HasPrefix(localRes.MessageID, filepath.Join(sinkRoot, "job1")) {
		t.Errorf("local file %q not under job dir", localRes.MessageID)
	}
}

func TestDeliverExtractsAttachments(t *testing.T) {
	trusted := t.TempDir()
	doc := filepath.Join(trusted, "out.csv")
	os.WriteFile(doc, []byte("a,b\n"), 0o644)

	r, tg, _ := newTestRouter(t, trusted)
	content := "Results:\n![plot](https://x.com/plot.png)\nDOCUMENT:" + doc + "|data"

	results := r.Deliver(context.Background(), content,
		[]Target{{Platform: bus.PlatformTelegram, ChatID: "5"}}, Meta{})

	res := results["telegram:5"]
	if !res.Success || len(res.AttachmentErrors) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(tg.texts) != 1 || !strings.Contains(tg.texts[0], "Results:") {
		t.Errorf("texts = %v", tg.texts)
	}
	if len(tg.imgs) != 1 || tg.imgs[0] != "https://x.com/plot.png" {
		t.Errorf("images = %v", tg.imgs)
	}
	if len(tg.docs) != 1 {
		t.Errorf("documents = %v", tg.docs)
	}
}

func TestDeliverRejectsUntrustedDocument(t *testing.T) {
	r, tg, _ := newTestRouter(t, t.TempDir())
	content := "Here it is.\nDOCUMENT:/etc/passwd"

	results := r.Deliver(context.Background(), content,
		[]Target{{Platform: bus.PlatformTelegram, ChatID: "5"}}, Meta{})

	res := results["telegram:5"]
	if !res.Success {
		t.Fatal("text delivery should still succeed")
	}
	if len(res.AttachmentErrors) != 1 || !strings.Contains(res.AttachmentErrors[0], "trusted") {
		t.Errorf("attachment errors = %v", res.AttachmentErrors)
	}
	if len(tg.docs) != 0 {
		t.Error("untrusted document reached the adapter")
	}
	if len(tg.texts) != 1 {
		t.Errorf("texts = %v", tg.texts)
	}
}

func TestDeliverAttachmentOnlyFailure(t *testing.T) {
	r, tg, _ := newTestRouter(t, t.TempDir())
	tg.failImage = fmt.Errorf("%w: 502 from api", channels.ErrTransport)

	// No text to carry the delivery: the lone image failing means
	// nothing reached the chat.
	results := r.Deliver(context.Background(), "![plot](https://x.com/plot.png)",
		[]Target{{Platform: bus.PlatformTelegram, ChatID: "5"}}, Meta{})

	res := results["telegram:5"]
	if res.Success {
		t.Errorf("result = %+v, want failure when every attachment failed", res)
	}
	if !strings.Contains(res.Error, "plot.png") {
		t.Errorf("error = %q, want the failed attachment named", res.Error)
	}

	// With text alongside, the text landing keeps the delivery a
	// success and the image failure rides in AttachmentErrors.
	results = r.Deliver(context.Background(), "Chart:\n![plot](https://x.com/plot.png)",
		[]Target{{Platform: bus.PlatformTelegram, ChatID: "5"}}, Meta{})
	res = results["telegram:5"]
	if !res.Success || len(res.AttachmentErrors) != 1 {
		t.Errorf("result = %+v, want success with one attachment error", res)
	}
}

func TestOriginChatID(t *testing.T) {
	tests := []struct {
		name   string
		origin bus.SessionSource
		want   string
	}{
		{"plain chat", bus.SessionSource{Platform: bus.PlatformTelegram, ChatID: "777"}, "777"},
		{"telegram forum topic", bus.SessionSource{Platform: bus.PlatformTelegram, ChatID: "777", ThreadID: "42"}, "777:42"},
		// Discord threads are channels of their own; ThreadID is
		// never set, and if it were it must not double the id.
		{"discord thread", bus.SessionSource{Platform: bus.PlatformDiscord, ChatID: "555"}, "555"},
		{"discord stray thread id", bus.SessionSource{Platform: bus.PlatformDiscord, ChatID: "555", ThreadID: "555"}, "555"},
	}
	for _, tt := range tests {
		if got := originChatID(tt.origin); got != tt.want {
			t.Errorf("%s: originChatID = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestLocalSinkLayout(t *testing.T) {
	sink := NewLocalSink(t.TempDir())
	path, err := sink.Write("the content", Meta{
		JobID:    "news",
		JobName:  "Morning News",
		Metadata: map[string]string{"Schedule": "0 7 * * *"},
	})
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	body := string(data)
	for _, want := range []string{
		"# Morning News",
		"**Timestamp:**",
		"**Job ID:** news",
		"**Schedule:** 0 7 * * *",
		"---",
		"the content",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("sink file missing %q:\n%s", want, body)
		}
	}

	name := filepath.Base(path)
	if len(name) < len("20060102_150405.md") || !strings.HasSuffix(name, ".md") {
		t.Errorf("unexpected sink file name %q", name)
	}
	if filepath.Base(filepath.Dir(path)) != "news" {
		t.Errorf("sink file %q not grouped by job id", path)
	}
}

func TestLocalSinkCollision(t *testing.T) {
	sink := NewLocalSink(t.TempDir())
	p1, err := sink.Write("one", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	p2, err := sink.Write("two", Meta{})
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Error("same-second writes collided on one path")
	}
}
