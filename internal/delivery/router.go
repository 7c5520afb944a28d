package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hermesworks/hermes/internal/bus"
	"github.com/hermesworks/hermes/internal/channels"
	"github.com/hermesworks/hermes/internal/directory"
	"github.com/hermesworks/hermes/internal/safety"
)

// Meta annotates a delivery for the local sink header.
type Meta struct {
	JobID    string
	JobName  string
	Metadata map[string]string
}

// Router resolves target specs and fans deliveries out.
type Router struct {
	mu             sync.RWMutex
	adapters       map[bus.Platform]channels.Adapter
	dir            *directory.Directory
	sink           *LocalSink
	trusted        *safety.TrustedRoots
	homeChannel    func(bus.Platform) string
	alwaysLogLocal bool
}

// NewRouter builds a router. Adapters register as they connect.
func NewRouter(dir *directory.Directory, sink *LocalSink, trusted *safety.TrustedRoots,
	homeChannel func(bus.Platform) string, alwaysLogLocal bool) *Router {
	return &Router{
		adapters:       make(map[bus.Platform]channels.Adapter),
		dir:            dir,
		sink:           sink,
		trusted:        trusted,
		homeChannel:    homeChannel,
		alwaysLogLocal: alwaysLogLocal,
	}
}

// RegisterAdapter makes a connected adapter addressable.
func (r *Router) RegisterAdapter(a channels.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Platform()] = a
}

func (r *Router) adapter(p bus.Platform) (channels.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[p]
	return a, ok
}

// Resolve maps raw specs to concrete targets. Unresolvable specs are
// dropped and reported in the returned error slice; resolution of the
// remaining targets is unaffected. Duplicates collapse; local is
// appended when always_log_local is on.
func (r *Router) Resolve(ctx context.Context, specs []string, origin *bus.SessionSource) ([]Target, []error) {
	var targets []Target
	var errs []error
	seen := make(map[string]bool)

	add := func(t Target) {
		if !seen[t.dedupeKey()] {
			seen[t.dedupeKey()] = true
			targets = append(targets, t)
		}
	}

	for _, raw := range specs {
		spec := ParseSpec(raw)

		switch {
		case spec.Origin:
			if origin == nil || origin.ChatID == "" {
				slog.Warn("origin target without known origin, degrading to local")
				add(Target{Platform: bus.PlatformLocal})
				continue
			}
			add(Target{Platform: origin.Platform, ChatID: originChatID(*origin), IsOrigin: true})

		case spec.Platform == bus.PlatformLocal:
			add(Target{Platform: bus.PlatformLocal})

		case spec.Chat == "":
			home := r.homeChannel(spec.Platform)
			if home == "" {
				errs = append(errs, fmt.Errorf("%w: no home channel for %s", ErrUnresolved, spec.Platform))
				continue
			}
			add(Target{Platform: spec.Platform, ChatID: home})

		case isNumericChat(spec.Chat):
			add(Target{Platform: spec.Platform, ChatID: spec.Chat, IsExplicit: true})

		default:
			id, err := r.dir.Resolve(ctx, spec.Platform, spec.Chat)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s:%s: %v", ErrUnresolved, spec.Platform, spec.Chat, err))
				continue
			}
			add(Target{Platform: spec.Platform, ChatID: id, IsExplicit: true})
		}
	}

	if r.alwaysLogLocal && !seen[Target{Platform: bus.PlatformLocal}.dedupeKey()] {
		add(Target{Platform: bus.PlatformLocal})
	}
	return targets, errs
}

// Deliver sends content to every target concurrently and collects all
// outcomes; one target's failure never short-circuits the rest.
func (r *Router) Deliver(ctx context.Context, content string, targets []Target, meta Meta) map[string]Result {
	results := make([]Result, len(targets))

	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			results[i] = r.deliverOne(ctx, content, target, meta)
			return nil
		})
	}
	g.Wait()

	out := make(map[string]Result, len(targets))
	for i, target := range targets {
		out[target.Format()] = results[i]
	}
	return out
}

// DeliverToOrigin sends a turn's response straight back to its source.
// Used by the turn scheduler; cron output goes through Resolve/Deliver.
func (r *Router) DeliverToOrigin(ctx context.Context, origin bus.SessionSource, content string) error {
	target := Target{Platform: origin.Platform, ChatID: originChatID(origin), IsOrigin: true}
	res := r.deliverOne(ctx, content, target, Meta{})
	if !res.Success {
		return fmt.Errorf("deliver to %s: %s", target.Format(), res.Error)
	}
	return nil
}

// Typing forwards a typing ping to the origin's adapter.
func (r *Router) Typing(ctx context.Context, source bus.SessionSource) {
	if a, ok := r.adapter(source.Platform); ok {
		a.SendTyping(ctx, source.ChatID)
	}
}

func (r *Router) deliverOne(ctx context.Context, content string, target Target, meta Meta) Result {
	if target.Platform == bus.PlatformLocal {
		path, err := r.sink.Write(content, meta)
		if err != nil {
			return Result{Error: err.Error()}
		}
		return Result{Success: true, MessageID: path}
	}

	a, ok := r.adapter(target.Platform)
	if !ok {
		return Result{Error: fmt.Sprintf("no adapter for %s", target.Platform)}
	}

	ex := channels.ExtractAttachments(content)
	var result Result

	if ex.Text != "" {
		sent, err := a.SendText(ctx, target.ChatID, ex.Text, nil)
		if err != nil {
			return Result{Error: err.Error()}
		}
		result = Result{Success: true, MessageID: sent.MessageID}
	} else {
		result = Result{Success: true}
	}

	for _, img := range ex.Images {
		if _, err := a.SendImage(ctx, target.ChatID, img.URL, img.Alt, nil); err != nil {
			result.AttachmentErrors = append(result.AttachmentErrors,
				fmt.Sprintf("image %s: %v", img.URL, err))
		}
	}
	for _, doc := range ex.Documents {
		real, err := r.trusted.Check(doc.Path)
		if err != nil {
			result.AttachmentErrors = append(result.AttachmentErrors,
				fmt.Sprintf("document %s: %v", doc.Path, err))
			slog.Warn("document send rejected", "path", doc.Path, "error", err)
			continue
		}
		if _, err := a.SendDocument(ctx, target.ChatID, real, doc.Caption); err != nil {
			result.AttachmentErrors = append(result.AttachmentErrors,
				fmt.Sprintf("document %s: %v", doc.Path, err))
		}
	}

	// With no text to carry it, a delivery where every attachment failed
	// delivered nothing at all.
	if ex.Text == "" && len(result.AttachmentErrors) > 0 &&
		len(result.AttachmentErrors) == len(ex.Images)+len(ex.Documents) {
		result.Success = false
		result.Error = strings.Join(result.AttachmentErrors, "; ")
	}
	return result
}

// originChatID picks the thread-scoped chat when the origin came from a
// forum topic, so replies land in the right subchannel. Telegram topics
// ride along in the chat id as "<chat>:<topic>". Discord threads are
// channels of their own, so their ThreadID is always empty and the chat
// id already addresses the thread.
func originChatID(origin bus.SessionSource) string {
	if origin.ThreadID != "" && origin.Platform == bus.PlatformTelegram {
		return origin.ChatID + ":" + origin.ThreadID
	}
	return origin.ChatID
}

func isNumericChat(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Unresolved reports whether an error list contains resolution
// failures worth surfacing.
func Unresolved(errs []error) bool {
	for _, err := range errs {
		if errors.Is(err, ErrUnresolved) {
			return true
		}
	}
	return false
}
