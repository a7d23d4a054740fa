package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/talgya/story-engine/internal/storygraph"
)

// Source loads campaign definitions. It returns an error wrapping
// ErrUnknownCampaign when id is not defined.
type Source interface {
	Campaign(ctx context.Context, id string) (*Campaign, error)
}

// Entry is a loaded campaign with its story graph. Entries are read-only
// once built and shared across rooms.
type Entry struct {
	Campaign *Campaign
	Graph    *storygraph.Graph
}

// Repository caches built campaigns, bounded by an LRU.
type Repository struct {
	src  Source
	opts storygraph.Options

	mu    sync.Mutex
	cache *lru.Cache[string, *Entry]
}

// NewRepository returns a repository holding up to size campaigns.
func NewRepository(src Source, size int, opts storygraph.Options) (*Repository, error) {
	cache, err := lru.New[string, *Entry](max(size, 1))
	if err != nil {
		return nil, fmt.Errorf("create campaign cache: %w", err)
	}
	return &Repository{src: src, opts: opts, cache: cache}, nil
}

// GetOrBuild returns the campaign with its graph, loading and building it
// on first use.
func (r *Repository) GetOrBuild(ctx context.Context, id string) (*Entry, error) {
	if e, ok := r.cache.Get(id); ok {
		return e, nil
	}

	// Serialize builds so concurrent first requests build once.
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache.Get(id); ok {
		return e, nil
	}

	c, err := r.src.Campaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load campaign %s: %w", id, err)
	}
	e := &Entry{Campaign: c, Graph: BuildGraph(c, r.opts)}
	r.cache.Add(id, e)
	slog.Info("campaign graph built", "campaign", id, "nodes", e.Graph.Len(), "endings", len(e.Graph.Endings()))
	return e, nil
}

// Put installs a campaign directly, replacing any cached build.
func (r *Repository) Put(c *Campaign) *Entry {
	e := &Entry{Campaign: c, Graph: BuildGraph(c, r.opts)}
	r.cache.Add(c.ID, e)
	return e
}

// Invalidate drops a cached build so the next request reloads it.
func (r *Repository) Invalidate(id string) bool {
	removed := r.cache.Remove(id)
	if removed {
		slog.Info("campaign cache invalidated", "campaign", id)
	}
	return removed
}

// Cached returns the IDs currently cached, oldest first.
func (r *Repository) Cached() []string {
	return r.cache.Keys()
}
