// Package limits caches the bandwidth overrides served by the manager.
package limits

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"golang.org/x/crypto/blake2b"
	"k8s.io/klog/v2"

	"bracket-qos/pkg/model"
)

// Fetcher retrieves the current override set.
type Fetcher interface {
	FetchShaperConfig(ctx context.Context) (model.ShaperConfig, error)
}

// Lookup is an immutable view of the overrides for one build.
type Lookup struct {
	sites map[string]model.SiteLimit
	aps   map[string]model.APLimit
	hash  string
}

// NewLookup indexes cfg. A later entry with the same id replaces an earlier one.
func NewLookup(cfg model.ShaperConfig) Lookup {
	l := Lookup{sites: map[string]model.SiteLimit{}, aps: map[string]model.APLimit{}}
	for _, s := range cfg.Sites {
		l.sites[s.ID] = s
	}
	for _, a := range cfg.AccessPoints {
		l.aps[a.ID] = a
	}
	l.hash = l.computeHash()
	return l
}

// Empty is the lookup used before the first successful refresh.
func Empty() Lookup { return NewLookup(model.ShaperConfig{}) }

func pick(override, fallback uint32) uint32 {
	if override == 0 {
		return fallback
	}
	return override
}

// SiteCaps returns the site's override for each direction, or the fallback
// where the override is missing or zero.
func (l Lookup) SiteCaps(id string, down, up uint32) (uint32, uint32) {
	s, ok := l.sites[id]
	if !ok {
		return down, up
	}
	return pick(s.Download, down), pick(s.Upload, up)
}

// APCaps is SiteCaps for access point overrides.
func (l Lookup) APCaps(id string, down, up uint32) (uint32, uint32) {
	a, ok := l.aps[id]
	if !ok {
		return down, up
	}
	return pick(a.Download, down), pick(a.Upload, up)
}

// HasSite reports whether an override exists for the site.
func (l Lookup) HasSite(id string) bool {
	_, ok := l.sites[id]
	return ok
}

// Len is the total number of overrides.
func (l Lookup) Len() int { return len(l.sites) + len(l.aps) }

// Config returns the overrides in canonical order.
func (l Lookup) Config() model.ShaperConfig {
	cfg := model.ShaperConfig{Sites: []model.SiteLimit{}, AccessPoints: []model.APLimit{}}
	for _, id := range slices.Sorted(maps.Keys(l.sites)) {
		cfg.Sites = append(cfg.Sites, l.sites[id])
	}
	for _, id := range slices.Sorted(maps.Keys(l.aps)) {
		cfg.AccessPoints = append(cfg.AccessPoints, l.aps[id])
	}
	return cfg
}

// Hash is a hex blake2b-256 digest of the canonical override set.
func (l Lookup) Hash() string {
	if l.hash == "" {
		return l.computeHash()
	}
	return l.hash
}

func (l Lookup) computeHash() string {
	b, _ := json.Marshal(l.Config())
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Cache holds the latest successfully fetched overrides.
type Cache struct {
	fetcher Fetcher

	mu      sync.RWMutex
	current Lookup
}

func NewCache(f Fetcher) *Cache {
	return &Cache{fetcher: f, current: Empty()}
}

// Refresh replaces the cached overrides wholesale. On error the previous set
// is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.fetcher == nil {
		return nil
	}
	cfg, err := c.fetcher.FetchShaperConfig(ctx)
	if err != nil {
		return err
	}
	next := NewLookup(cfg)
	c.mu.Lock()
	changed := next.Hash() != c.current.Hash()
	c.current = next
	c.mu.Unlock()
	if changed {
		klog.Infof("limits: %d site and %d access point overrides loaded", len(next.sites), len(next.aps))
	}
	return nil
}

// Snapshot returns the current overrides.
func (c *Cache) Snapshot() Lookup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}
