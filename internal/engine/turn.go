package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/karma"
	"github.com/talgya/story-engine/internal/narrative"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/persistence"
	"github.com/talgya/story-engine/internal/story"
	"github.com/talgya/story-engine/internal/twist"
)

// TurnRequest is one player message.
type TurnRequest struct {
	RoomID         int64  `json:"room_id"`
	UserID         int64  `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	Message        string `json:"message"`
	CharacterName  string `json:"character_name,omitempty"`
	CharacterClass string `json:"character_class,omitempty"`
}

func (r TurnRequest) action(st *story.State) narrative.PlayerAction {
	a := narrative.PlayerAction{
		RoomID:         r.RoomID,
		UserID:         r.UserID,
		Username:       r.Username,
		Message:        r.Message,
		CharacterName:  r.CharacterName,
		CharacterClass: r.CharacterClass,
	}
	if st != nil {
		a.SceneType = narrative.SceneType(st.SceneType)
		a.ActiveNPCs = st.ActiveNPCs
	}
	return a
}

// Initiative is something an NPC does on its own during a turn.
type Initiative struct {
	NPCCode string `json:"npc_code"`
	npc.Proposal
}

// TurnResult is everything one turn changed.
type TurnResult struct {
	Analysis   narrative.ActionAnalysis `json:"analysis"`
	Karma      karma.Change             `json:"karma"`
	KarmaLevel string                   `json:"karma_level"`

	Reactions   []npc.Reaction `json:"npc_reactions"`
	Initiatives []Initiative   `json:"npc_initiatives"`

	PendingDecision *story.PendingDecision `json:"pending_decision,omitempty"`
	TimedOut        *DecisionResult        `json:"decision_timeout,omitempty"`

	Revelation    *twist.RevelationContext `json:"revelation,omitempty"`
	RedHerrings   []twist.RedHerring       `json:"red_herrings"`
	Foreshadowing []twist.Hint             `json:"foreshadowing"`

	State *story.State `json:"state"`
}

// AnalyzeAction classifies a message in the room's current scene. Rooms
// without progress are classified without scene context.
func (d *Director) AnalyzeAction(ctx context.Context, req TurnRequest) (narrative.ActionAnalysis, error) {
	st, err := d.state(ctx, req.RoomID)
	if err != nil && !errors.Is(err, ErrNoProgress) {
		return narrative.ActionAnalysis{}, err
	}
	return d.analyzer.Analyze(req.action(st)), nil
}

// ProcessTurn runs one turn for a room under its session lock: classify the
// message, apply karma, let targeted NPCs react, count down the pending
// decision, then let the twist scheduler reveal, deploy and foreshadow.
func (d *Director) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	release, err := d.lock(req.RoomID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := d.state(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	c := e.Campaign

	res := &TurnResult{
		Reactions:     []npc.Reaction{},
		Initiatives:   []Initiative{},
		RedHerrings:   []twist.RedHerring{},
		Foreshadowing: []twist.Hint{},
	}
	var events []persistence.LogEntry

	res.Analysis = d.analyzer.Analyze(req.action(st))

	res.Karma = d.ledger.Apply(st.Karma, res.Analysis.TotalKarmaChange)
	st.Karma = res.Karma.New
	res.KarmaLevel = karma.LevelOf(st.Karma).Name
	if res.Analysis.TotalKarmaChange != 0 {
		events = append(events, persistence.LogEntry{Type: EventKarmaChange, Data: map[string]any{
			"amount":        res.Analysis.TotalKarmaChange,
			"new_karma":     res.Karma.New,
			"level_changed": res.Karma.LevelChanged,
			"actions":       res.Analysis.KarmaActions,
		}})
	}

	rels := make(map[string]npc.Relationship)
	for _, code := range sortedKeys(res.Analysis.NPCInteractions) {
		n, ok := c.NPC(code)
		if !ok {
			continue
		}
		rel, err := d.relationship(ctx, st.RoomID, n)
		if err != nil {
			return nil, err
		}
		r, evs, err := d.interact(ctx, n, &rel, npc.Interaction(res.Analysis.NPCInteractions[code]), req.Message)
		if err != nil {
			return nil, err
		}
		rels[code] = rel
		res.Reactions = append(res.Reactions, r)
		events = append(events, evs...)
	}

	timedOut, evs, err := d.countdown(ctx, c, st)
	if err != nil {
		return nil, err
	}
	res.TimedOut = timedOut
	events = append(events, evs...)

	sched := d.scheduler(c, st)
	if t, ok := sched.CheckRevelation(st); ok {
		sched.MarkRevealed(t.ID)
		rc := twist.Revelation(t)
		res.Revelation = &rc
		events = append(events, persistence.LogEntry{Type: EventTwistRevealed, Data: rc})
		slog.Info("twist revealed", "room", st.RoomID, "twist", t.ID)
	}
	for _, h := range sched.CheckHerrings(st) {
		sched.MarkHerringDeployed(h.ID)
		res.RedHerrings = append(res.RedHerrings, h)
		events = append(events, persistence.LogEntry{Type: EventHerringDeployed, Data: h})
		slog.Info("red herring deployed", "room", st.RoomID, "herring", h.ID)
	}
	for _, h := range sched.Foreshadowing(st, st.SceneType) {
		sched.RecordForeshadowing(h.TwistID, h.ElementID)
		res.Foreshadowing = append(res.Foreshadowing, h)
	}
	st.Twists = sched.Log()

	danger := st.Tension.Danger()
	for _, code := range st.ActiveNPCs {
		n, ok := c.NPC(code)
		if !ok {
			continue
		}
		rel, seen := rels[code]
		if !seen {
			if rel, err = d.relationship(ctx, st.RoomID, n); err != nil {
				return nil, err
			}
		}
		p := d.sim.ShouldAct(&n.NPC, rel, danger)
		if p == nil {
			continue
		}
		ev, err := d.takeInitiative(ctx, n, rel, p)
		if err != nil {
			return nil, err
		}
		res.Initiatives = append(res.Initiatives, Initiative{NPCCode: code, Proposal: *p})
		events = append(events, ev)
	}

	if err := d.save(ctx, st); err != nil {
		return nil, err
	}
	d.logEvents(ctx, st.RoomID, events)

	if pd, ok := d.cache.PendingDecision(st.RoomID); ok {
		res.PendingDecision = &pd
	}
	res.State = st
	return res, nil
}

// NPCReaction applies one interaction with an NPC and returns its reaction.
func (d *Director) NPCReaction(ctx context.Context, room int64, npcCode string, act npc.Interaction, details string) (npc.Reaction, error) {
	release, err := d.lock(room)
	if err != nil {
		return npc.Reaction{}, err
	}
	defer release()

	st, err := d.state(ctx, room)
	if err != nil {
		return npc.Reaction{}, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return npc.Reaction{}, err
	}
	n, ok := e.Campaign.NPC(npcCode)
	if !ok {
		return npc.Reaction{}, fmt.Errorf("%w: %s", ErrUnknownNPC, npcCode)
	}
	rel, err := d.relationship(ctx, room, n)
	if err != nil {
		return npc.Reaction{}, err
	}
	r, events, err := d.interact(ctx, n, &rel, act, details)
	if err != nil {
		return npc.Reaction{}, err
	}
	d.logEvents(ctx, room, events)
	d.cache.InvalidateAIContext(room)
	return r, nil
}

// interact runs the simulator for one interaction and persists the
// relationship it leaves behind.
func (d *Director) interact(ctx context.Context, n *campaign.NPC, rel *npc.Relationship, act npc.Interaction, details string) (npc.Reaction, []persistence.LogEntry, error) {
	r := d.sim.React(&n.NPC, *rel, act)
	applyReaction(rel, r)
	if err := d.store.SaveRelationship(ctx, *rel); err != nil {
		return npc.Reaction{}, nil, fmt.Errorf("save relationship: %w", err)
	}
	d.cache.Remember(rel.RoomID, *rel, act, details)

	events := []persistence.LogEntry{{Type: EventNPCInteraction, Data: map[string]any{
		"npc":                 n.Code,
		"interaction":         act,
		"relationship_change": r.RelationshipDelta,
		"trust_change":        r.TrustDelta,
		"emotion":             r.Emotion,
	}}}
	if r.TriggersBetrayal {
		slog.Info("npc betrayal", "room", rel.RoomID, "npc", n.Code)
		events = append(events, persistence.LogEntry{Type: EventNPCBetrayal, Data: map[string]string{"npc": n.Code}})
	}
	if r.TriggersRedemption {
		slog.Info("npc redemption", "room", rel.RoomID, "npc", n.Code)
		events = append(events, persistence.LogEntry{Type: EventNPCRedemption, Data: map[string]string{"npc": n.Code}})
	}
	return r, events, nil
}

// takeInitiative persists the consequences of an NPC acting on its own: a
// betrayal is spent, a confession becomes a known secret.
func (d *Director) takeInitiative(ctx context.Context, n *campaign.NPC, rel npc.Relationship, p *npc.Proposal) (persistence.LogEntry, error) {
	changed := false
	switch p.Action {
	case "betray":
		rel.BetrayalTriggered = true
		changed = true
		slog.Info("npc betrayal", "room", rel.RoomID, "npc", n.Code)
	case "confess":
		if p.Secret != "" && !rel.Knows(p.Secret) {
			rel.KnownSecrets = append(rel.KnownSecrets, p.Secret)
			changed = true
		}
	}
	if changed {
		if err := d.store.SaveRelationship(ctx, rel); err != nil {
			return persistence.LogEntry{}, fmt.Errorf("save relationship: %w", err)
		}
	}
	typ := EventNPCInitiative
	if p.Action == "betray" {
		typ = EventNPCBetrayal
	}
	return persistence.LogEntry{Type: typ, Data: map[string]any{
		"npc":         n.Code,
		"action":      p.Action,
		"description": p.Description,
		"severity":    p.Severity,
	}}, nil
}

// applyReaction folds a reaction into the relationship it was computed on.
func applyReaction(rel *npc.Relationship, r npc.Reaction) {
	rel.Score = karma.Clamp(rel.Score + r.RelationshipDelta)
	rel.Trust = karma.Clamp(rel.Trust + r.TrustDelta)
	rel.Emotion = r.Emotion
	rel.Interactions++
	rel.LastInteraction = time.Now()
	if r.RevealsSecret != "" && !rel.Knows(r.RevealsSecret) {
		rel.KnownSecrets = append(rel.KnownSecrets, r.RevealsSecret)
	}
	if r.TriggersBetrayal {
		rel.BetrayalTriggered = true
	}
	if r.TriggersRedemption {
		rel.RedemptionTriggered = true
	}
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
