// Package cache keeps short-lived per-room data in memory: story state,
// NPC short-term memory, the assembled narration context, pending
// decisions and session locks. Every entry expires; the store stays the
// source of truth.
package cache

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/story"
)

// MemoryLimit is how many interactions an NPC remembers.
const MemoryLimit = 20

// Config sizes the cache and sets per-kind lifetimes.
type Config struct {
	Size         int
	StoryTTL     time.Duration
	NPCMemoryTTL time.Duration
	AIContextTTL time.Duration
	LockTTL      time.Duration
}

// DefaultConfig returns 24h story and memory lifetimes, a 5m context
// lifetime and 30s locks.
func DefaultConfig() Config {
	return Config{
		Size:         4096,
		StoryTTL:     24 * time.Hour,
		NPCMemoryTTL: 24 * time.Hour,
		AIContextTTL: 5 * time.Minute,
		LockTTL:      30 * time.Second,
	}
}

// MemoryEntry is one remembered interaction.
type MemoryEntry struct {
	At      time.Time       `json:"timestamp"`
	Action  npc.Interaction `json:"action_type"`
	Details string          `json:"details,omitempty"`
}

// Memory is what an NPC recalls about a room's party.
type Memory struct {
	Interactions []MemoryEntry      `json:"interactions"`
	Relationship int                `json:"relationship"`
	Trust        int                `json:"trust"`
	Emotion      npc.EmotionalState `json:"emotional_state"`
}

type memoryKey struct {
	room int64
	npc  string
}

// Cache is safe for concurrent use.
type Cache struct {
	states    *expirable.LRU[int64, []byte]
	memories  *expirable.LRU[memoryKey, Memory]
	aiContext *expirable.LRU[int64, []byte]
	pending   *expirable.LRU[int64, story.PendingDecision]

	// mu guards read-modify-write of memories and pending decisions.
	mu sync.Mutex

	lockMu sync.Mutex
	locks  *expirable.LRU[int64, string]
}

// New returns an empty cache.
func New(cfg Config) *Cache {
	size := max(cfg.Size, 1)
	return &Cache{
		states:    expirable.NewLRU[int64, []byte](size, nil, cfg.StoryTTL),
		memories:  expirable.NewLRU[memoryKey, Memory](size, nil, cfg.NPCMemoryTTL),
		aiContext: expirable.NewLRU[int64, []byte](size, nil, cfg.AIContextTTL),
		pending:   expirable.NewLRU[int64, story.PendingDecision](size, nil, cfg.StoryTTL),
		locks:     expirable.NewLRU[int64, string](size, nil, cfg.LockTTL),
	}
}

// State returns a copy of a room's cached story state.
func (c *Cache) State(room int64) (*story.State, bool) {
	b, ok := c.states.Get(room)
	if !ok {
		return nil, false
	}
	var st story.State
	if err := json.Unmarshal(b, &st); err != nil {
		c.states.Remove(room)
		return nil, false
	}
	st.Normalize()
	return &st, true
}

// SetState caches a copy of st.
func (c *Cache) SetState(st *story.State) error {
	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode story state: %w", err)
	}
	c.states.Add(st.RoomID, b)
	return nil
}

// DeleteState drops a room's cached story state.
func (c *Cache) DeleteState(room int64) {
	c.states.Remove(room)
}

// Memory returns what an NPC remembers of a room.
func (c *Cache) Memory(room int64, npcCode string) (Memory, bool) {
	m, ok := c.memories.Get(memoryKey{room, npcCode})
	if !ok {
		return Memory{}, false
	}
	m.Interactions = slices.Clone(m.Interactions)
	return m, true
}

// Remember records an interaction, keeping the most recent MemoryLimit,
// along with the relationship it left behind.
func (c *Cache) Remember(room int64, rel npc.Relationship, act npc.Interaction, details string) Memory {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := memoryKey{room, rel.NPCCode}
	m, _ := c.memories.Get(key)
	entries := append(slices.Clone(m.Interactions), MemoryEntry{At: time.Now(), Action: act, Details: details})
	if len(entries) > MemoryLimit {
		entries = entries[len(entries)-MemoryLimit:]
	}
	m = Memory{
		Interactions: entries,
		Relationship: rel.Score,
		Trust:        rel.Trust,
		Emotion:      rel.Emotion,
	}
	c.memories.Add(key, m)
	return m
}

// Memories returns every NPC memory cached for a room, by NPC code.
func (c *Cache) Memories(room int64) map[string]Memory {
	out := make(map[string]Memory)
	for _, k := range c.memories.Keys() {
		if k.room != room {
			continue
		}
		if m, ok := c.memories.Peek(k); ok {
			m.Interactions = slices.Clone(m.Interactions)
			out[k.npc] = m
		}
	}
	return out
}

// AIContext returns the cached narration context of a room.
func (c *Cache) AIContext(room int64) ([]byte, bool) {
	return c.aiContext.Get(room)
}

// SetAIContext caches a room's encoded narration context.
func (c *Cache) SetAIContext(room int64, b []byte) {
	c.aiContext.Add(room, b)
}

// InvalidateAIContext drops a room's cached narration context.
func (c *Cache) InvalidateAIContext(room int64) {
	c.aiContext.Remove(room)
}

// PendingDecision returns the decision a room must answer.
func (c *Cache) PendingDecision(room int64) (story.PendingDecision, bool) {
	return c.pending.Get(room)
}

// SetPendingDecision stores a decision for a room, stamping when it was set.
func (c *Cache) SetPendingDecision(d story.PendingDecision) story.PendingDecision {
	if d.SetAt.IsZero() {
		d.SetAt = time.Now()
	}
	c.pending.Add(d.RoomID, d)
	return d
}

// ClearPendingDecision drops a room's pending decision.
func (c *Cache) ClearPendingDecision(room int64) {
	c.pending.Remove(room)
}

// DecrementDecisionTurns counts down a timed pending decision. It returns
// the turns left and whether a timed decision was pending; at zero the
// decision is cleared.
func (c *Cache) DecrementDecisionTurns(room int64) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.pending.Get(room)
	if !ok || d.Turns <= 0 {
		return 0, false
	}
	d.Turns--
	if d.Turns <= 0 {
		c.pending.Remove(room)
		return 0, true
	}
	c.pending.Add(room, d)
	return d.Turns, true
}

// AcquireLock takes a room's session lock. It returns the owner token
// needed to release it, or false if another owner holds it.
func (c *Cache) AcquireLock(room int64) (string, bool) {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	if _, held := c.locks.Get(room); held {
		return "", false
	}
	token := uuid.NewString()
	c.locks.Add(room, token)
	return token, true
}

// ReleaseLock releases a room's session lock if token owns it.
func (c *Cache) ReleaseLock(room int64, token string) bool {
	c.lockMu.Lock()
	defer c.lockMu.Unlock()

	if owner, held := c.locks.Get(room); !held || owner != token {
		return false
	}
	c.locks.Remove(room)
	return true
}

// Locked reports whether a room's session lock is held.
func (c *Cache) Locked(room int64) bool {
	_, held := c.locks.Peek(room)
	return held
}

// Cleanup drops everything cached for a room.
func (c *Cache) Cleanup(room int64) {
	c.states.Remove(room)
	c.aiContext.Remove(room)
	c.pending.Remove(room)
	c.lockMu.Lock()
	c.locks.Remove(room)
	c.lockMu.Unlock()
	for _, k := range c.memories.Keys() {
		if k.room == room {
			c.memories.Remove(k)
		}
	}
}
