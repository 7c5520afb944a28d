// Package directory maps human-friendly channel names to platform chat
// IDs. Adapters feed it best-effort membership snapshots; the delivery
// router consults it when a target names a channel instead of an ID.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hermesworks/hermes/internal/bus"
)

// ErrNotFound marks a name the directory could not resolve.
var ErrNotFound = errors.New("channel not found")

// Lister produces a name→ID snapshot for one platform. Adapters
// implement it on top of their SDK's chat listing call.
type Lister func(ctx context.Context) (map[string]string, error)

// Directory is a TTL-bounded cache of per-platform channel listings.
// One writer refreshes a platform at a time; readers are concurrent.
type Directory struct {
	ttl time.Duration

	mu      sync.RWMutex
	listers map[bus.Platform]Lister
	cache   map[bus.Platform]snapshot
}

type snapshot struct {
	byName    map[string]string // lowered name → chat id
	fetchedAt time.Time
}

// New creates a directory whose snapshots expire after ttl.
func New(ttl time.Duration) *Directory {
	return &Directory{
		ttl:     ttl,
		listers: make(map[bus.Platform]Lister),
		cache:   make(map[bus.Platform]snapshot),
	}
}

// Register attaches a platform's listing function.
func (d *Directory) Register(platform bus.Platform, lister Lister) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listers[platform] = lister
}

// Resolve turns a channel name into a chat ID. Leading '#' is
// accepted; matching is case-insensitive. A stale snapshot is refreshed
// before lookup; refresh failure with no prior snapshot is an error.
func (d *Directory) Resolve(ctx context.Context, platform bus.Platform, name string) (string, error) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrNotFound)
	}

	snap, ok := d.fresh(platform)
	if !ok {
		var err error
		snap, err = d.refresh(ctx, platform)
		if err != nil {
			return "", err
		}
	}

	if id, ok := snap.byName[name]; ok {
		return id, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrNotFound, name, platform)
}

func (d *Directory) fresh(platform bus.Platform) (snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap, ok := d.cache[platform]
	if !ok || time.Since(snap.fetchedAt) >= d.ttl {
		return snapshot{}, false
	}
	return snap, true
}

func (d *Directory) refresh(ctx context.Context, platform bus.Platform) (snapshot, error) {
	d.mu.RLock()
	lister, ok := d.listers[platform]
	d.mu.RUnlock()
	if !ok {
		return snapshot{}, fmt.Errorf("%w: no listing for %s", ErrNotFound, platform)
	}

	listing, err := lister(ctx)
	if err != nil {
		// Serve the stale snapshot rather than fail when we have one.
		d.mu.RLock()
		stale, ok := d.cache[platform]
		d.mu.RUnlock()
		if ok {
			return stale, nil
		}
		return snapshot{}, fmt.Errorf("%w: listing %s failed: %v", ErrNotFound, platform, err)
	}

	byName := make(map[string]string, len(listing))
	for name, id := range listing {
		byName[strings.ToLower(strings.TrimPrefix(name, "#"))] = id
	}
	snap := snapshot{byName: byName, fetchedAt: time.Now()}

	d.mu.Lock()
	d.cache[platform] = snap
	d.mu.Unlock()
	return snap, nil
}
