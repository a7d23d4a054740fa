// Package engine orchestrates story turns for rooms. The Director loads a
// room's state, runs the classifier, ledger, NPC simulator, twist scheduler
// and story graph over it, and writes the results back to the store and
// cache. The components themselves stay pure; all I/O happens here.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/story-engine/internal/cache"
	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/karma"
	"github.com/talgya/story-engine/internal/llm"
	"github.com/talgya/story-engine/internal/narrative"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/persistence"
	"github.com/talgya/story-engine/internal/story"
	"github.com/talgya/story-engine/internal/twist"
)

var (
	// ErrNoProgress is returned when a room has not started a campaign.
	ErrNoProgress = errors.New("room progress not found")
	// ErrProgressExists is returned when starting a campaign twice.
	ErrProgressExists = errors.New("progress already exists")
	// ErrUnknownDecision is returned for a decision code the campaign lacks.
	ErrUnknownDecision = errors.New("decision not found")
	// ErrInvalidOption is returned for an option the decision lacks or hides.
	ErrInvalidOption = errors.New("invalid option")
	// ErrUnknownNPC is returned for an NPC code the campaign lacks.
	ErrUnknownNPC = errors.New("npc not found")
	// ErrRoomBusy is returned when another turn holds the room's lock.
	ErrRoomBusy = errors.New("room is busy")
	// ErrDecisionMade is returned when answering a decision twice.
	ErrDecisionMade = errors.New("decision already made")
	// ErrUnknownTrigger is returned for an unsupported trigger type.
	ErrUnknownTrigger = errors.New("unknown trigger type")
)

// Event types written to the story log.
const (
	EventCampaignStarted  = "campaign_started"
	EventKarmaChange      = "karma_change"
	EventNPCInteraction   = "npc_interaction"
	EventNPCBetrayal      = "npc_betrayal"
	EventNPCRedemption    = "npc_redemption"
	EventNPCInitiative    = "npc_initiative"
	EventDecisionMade     = "decision_made"
	EventDecisionTimeout  = "decision_timeout"
	EventTwistRevealed    = "twist_revealed"
	EventHerringDeployed  = "red_herring_deployed"
	EventFactionThreshold = "faction_threshold"
	EventCluesRevealed    = "clues_revealed"
)

// Store is the durable state the Director reads and writes.
type Store interface {
	Progress(ctx context.Context, roomID int64) (*story.State, error)
	SaveProgress(ctx context.Context, st *story.State) error
	Relationship(ctx context.Context, roomID int64, npcCode string) (npc.Relationship, error)
	Relationships(ctx context.Context, roomID int64) ([]npc.Relationship, error)
	SaveRelationship(ctx context.Context, rel npc.Relationship) error
	LogEvents(ctx context.Context, roomID int64, entries []persistence.LogEntry) error
	RecentEvents(ctx context.Context, roomID int64, limit int, eventType string) ([]persistence.Event, error)
}

// Options tune the Director.
type Options struct {
	// DefaultKarma is the starting karma of campaigns that set none.
	DefaultKarma int
	// DefaultRelationship is the starting score of NPCs that set none.
	DefaultRelationship int
	// PendingDecisionTurns is the countdown of decisions without a timeout.
	PendingDecisionTurns int

	Twist      twist.Options
	Thresholds npc.Thresholds
}

// DefaultOptions returns karma and relationships starting at 50 and a
// three-turn decision countdown.
func DefaultOptions() Options {
	return Options{
		DefaultKarma:         50,
		DefaultRelationship:  50,
		PendingDecisionTurns: 3,
		Twist:                twist.DefaultOptions(),
		Thresholds:           npc.DefaultThresholds(),
	}
}

// Director runs story turns. It is safe for concurrent use; turns for the
// same room are serialized by the cache's session lock.
type Director struct {
	store    Store
	cache    *cache.Cache
	repo     *campaign.Repository
	narrator llm.Completer
	opts     Options

	ledger   *karma.Ledger
	analyzer *narrative.Analyzer
	sim      *npc.Simulator
}

// New returns a Director. narrator may be nil, which disables narration.
func New(store Store, c *cache.Cache, repo *campaign.Repository, narrator llm.Completer, opts Options) *Director {
	ledger := karma.NewLedger(nil)
	return &Director{
		store:    store,
		cache:    c,
		repo:     repo,
		narrator: narrator,
		opts:     opts,
		ledger:   ledger,
		analyzer: narrative.NewAnalyzer(ledger),
		sim:      npc.NewSimulator(opts.Thresholds),
	}
}

// Ledger returns the karma and faction rules in use.
func (d *Director) Ledger() *karma.Ledger {
	return d.ledger
}

// state returns a room's story state, from the cache when possible.
func (d *Director) state(ctx context.Context, room int64) (*story.State, error) {
	if st, ok := d.cache.State(room); ok {
		return st, nil
	}
	st, err := d.store.Progress(ctx, room)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("%w: room %d", ErrNoProgress, room)
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if err := d.cache.SetState(st); err != nil {
		slog.Warn("story state not cached", "room", room, "error", err)
	}
	return st, nil
}

// save writes a room's story state through to the store and cache and
// drops the stale narration context.
func (d *Director) save(ctx context.Context, st *story.State) error {
	if err := d.store.SaveProgress(ctx, st); err != nil {
		slog.Error("progress save failed", "room", st.RoomID, "error", err)
		return fmt.Errorf("save progress: %w", err)
	}
	if err := d.cache.SetState(st); err != nil {
		slog.Warn("story state not cached", "room", st.RoomID, "error", err)
		d.cache.DeleteState(st.RoomID)
	}
	d.cache.InvalidateAIContext(st.RoomID)
	return nil
}

// logEvents appends to the story log. Failures are logged, not returned:
// the log is a record of state already saved.
func (d *Director) logEvents(ctx context.Context, room int64, entries []persistence.LogEntry) {
	if len(entries) == 0 {
		return
	}
	if err := d.store.LogEvents(ctx, room, entries); err != nil {
		slog.Error("story events not logged", "room", room, "count", len(entries), "error", err)
	}
}

// entry returns the built campaign of a room.
func (d *Director) entry(ctx context.Context, st *story.State) (*campaign.Entry, error) {
	return d.repo.GetOrBuild(ctx, st.CampaignID)
}

// scheduler returns a twist scheduler for a room, restored from its log.
func (d *Director) scheduler(c *campaign.Campaign, st *story.State) *twist.Scheduler {
	s := twist.NewScheduler(d.opts.Twist)
	s.Load(c.Twists, c.Herrings())
	s.Restore(st.Twists)
	return s
}

// relationship returns the stored relationship with an NPC, or a fresh one
// at the NPC's default score.
func (d *Director) relationship(ctx context.Context, room int64, n *campaign.NPC) (npc.Relationship, error) {
	rel, err := d.store.Relationship(ctx, room, n.Code)
	if errors.Is(err, persistence.ErrNotFound) {
		return d.newRelationship(room, n), nil
	}
	if err != nil {
		return npc.Relationship{}, fmt.Errorf("load relationship: %w", err)
	}
	return rel, nil
}

func (d *Director) newRelationship(room int64, n *campaign.NPC) npc.Relationship {
	score := d.opts.DefaultRelationship
	if n.RelationshipDefault != nil {
		score = *n.RelationshipDefault
	}
	return npc.NewRelationship(room, n.Code, score)
}

// lock takes a room's session lock and returns its release func.
func (d *Director) lock(room int64) (func(), error) {
	token, ok := d.cache.AcquireLock(room)
	if !ok {
		return nil, fmt.Errorf("%w: room %d", ErrRoomBusy, room)
	}
	return func() { d.cache.ReleaseLock(room, token) }, nil
}

// enterScene moves a room to a scene, refreshing the scene-derived fields.
// Unknown scenes only update the scene number.
func enterScene(c *campaign.Campaign, st *story.State, sceneID int) {
	st.Scene = sceneID
	loc, ok := c.Scene(sceneID)
	if !ok {
		return
	}
	st.Act = loc.Act.Number
	st.Chapter = loc.Chapter.Number
	st.SceneType = string(loc.Scene.Type)
	st.Tension = loc.Scene.Tension
	st.ActiveNPCs = append([]string{}, loc.Scene.NPCs...)
	if len(st.ActiveNPCs) == 0 {
		st.ActiveNPCs = append(st.ActiveNPCs, loc.Chapter.KeyNPCs...)
	}
}
