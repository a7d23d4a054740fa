package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/karma"
	"github.com/talgya/story-engine/internal/llm"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/persistence"
	"github.com/talgya/story-engine/internal/story"
)

// UpdateResult is the state after a progress update.
type UpdateResult struct {
	State         *story.State    `json:"state"`
	FactionEvents []string        `json:"faction_events,omitempty"`
	TimedOut      *DecisionResult `json:"decision_timeout,omitempty"`
}

// InitializeProgress starts a campaign for a room at its first scene.
func (d *Director) InitializeProgress(ctx context.Context, room int64, campaignID string) (*story.State, error) {
	if err := d.checkFresh(ctx, room); err != nil {
		return nil, err
	}
	d.cache.Cleanup(room)

	release, err := d.lock(room)
	if err != nil {
		return nil, err
	}
	defer release()

	// Checked again under the lock for concurrent starts.
	if err := d.checkFresh(ctx, room); err != nil {
		return nil, err
	}

	e, err := d.repo.GetOrBuild(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	c := e.Campaign

	k := d.opts.DefaultKarma
	if c.StartingKarma != nil {
		k = karma.Clamp(*c.StartingKarma)
	}
	st := story.New(room, c.ID, k)
	if first, ok := c.FirstScene(); ok {
		enterScene(c, st, first.Scene.ID)
	}

	if err := d.save(ctx, st); err != nil {
		return nil, err
	}
	d.logEvents(ctx, room, []persistence.LogEntry{{Type: EventCampaignStarted, Data: map[string]string{
		"campaign_id":   c.ID,
		"campaign_name": c.Name,
	}}})
	return st, nil
}

// checkFresh fails unless the room has no stored progress.
func (d *Director) checkFresh(ctx context.Context, room int64) error {
	_, err := d.store.Progress(ctx, room)
	switch {
	case err == nil:
		return fmt.Errorf("%w: room %d", ErrProgressExists, room)
	case errors.Is(err, persistence.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("load progress: %w", err)
	}
}

// EndSession drops everything cached for a room. Stored progress is kept.
func (d *Director) EndSession(room int64) {
	d.cache.Cleanup(room)
}

// StoryState returns a room's current story state.
func (d *Director) StoryState(ctx context.Context, room int64) (*story.State, error) {
	return d.state(ctx, room)
}

// UpdateProgress applies a partial update to a room's state. Moving to a
// scene refreshes the scene-derived fields before explicit act, chapter
// and tension overrides are applied.
func (d *Director) UpdateProgress(ctx context.Context, upd story.ProgressUpdate) (*UpdateResult, error) {
	release, err := d.lock(upd.RoomID)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := d.state(ctx, upd.RoomID)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	c := e.Campaign
	res := &UpdateResult{State: st}
	var events []persistence.LogEntry

	if upd.NewScene != nil {
		enterScene(c, st, *upd.NewScene)
	}
	if upd.NewAct != nil {
		st.Act = *upd.NewAct
	}
	if upd.NewChapter != nil {
		st.Chapter = *upd.NewChapter
	}
	if upd.Tension != nil {
		st.Tension = *upd.Tension
	}

	if upd.KarmaChange != 0 {
		change := d.ledger.Apply(st.Karma, upd.KarmaChange)
		st.Karma = change.New
		events = append(events, persistence.LogEntry{Type: EventKarmaChange, Data: map[string]any{
			"amount":        upd.KarmaChange,
			"new_karma":     change.New,
			"level_changed": change.LevelChanged,
		}})
	}
	for _, faction := range sortedKeys(upd.FactionChanges) {
		var crossed []string
		st.FactionStandings, crossed = d.ledger.UpdateStanding(st.FactionStandings, faction, upd.FactionChanges[faction])
		res.FactionEvents = append(res.FactionEvents, crossed...)
	}
	for _, ev := range res.FactionEvents {
		events = append(events, persistence.LogEntry{Type: EventFactionThreshold, Data: map[string]string{"event": ev}})
	}

	for k, v := range upd.NewFlags {
		st.Flags[k] = v
	}
	st.AddClues(upd.NewClues...)
	for code, opt := range upd.DecisionMade {
		st.DecisionsMade[code] = opt
		if st.PendingDecision == code {
			upd.ClearPendingDecision = true
		}
	}

	switch {
	case upd.SetPendingDecision != "":
		dec, ok := c.Decision(upd.SetPendingDecision)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDecision, upd.SetPendingDecision)
		}
		d.setPending(st, dec, upd.PendingDecisionTurns)
	case upd.ClearPendingDecision:
		st.PendingDecision = ""
		st.PendingDecisionTurns = 0
		d.cache.ClearPendingDecision(st.RoomID)
	case upd.DecrementDecisionTurns:
		timedOut, evs, err := d.countdown(ctx, c, st)
		if err != nil {
			return nil, err
		}
		res.TimedOut = timedOut
		events = append(events, evs...)
	}

	if err := d.save(ctx, st); err != nil {
		return nil, err
	}
	d.logEvents(ctx, st.RoomID, events)
	return res, nil
}

// ProcessMarkers applies the state changes a narration reported and
// returns a description of each applied change. Codes the campaign does
// not define are ignored.
func (d *Director) ProcessMarkers(ctx context.Context, room int64, m llm.Markers) ([]string, error) {
	release, err := d.lock(room)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.applyMarkers(ctx, room, m, nil)
}

// applyMarkers applies markers and records delivered foreshadowing hints.
// The caller holds the room lock.
func (d *Director) applyMarkers(ctx context.Context, room int64, m llm.Markers, delivered []llm.Hint) ([]string, error) {
	st, err := d.state(ctx, room)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	c := e.Campaign
	updates := []string{}
	var events []persistence.LogEntry

	if m.Karma != nil && *m.Karma != 0 {
		change := d.ledger.Apply(st.Karma, *m.Karma)
		st.Karma = change.New
		updates = append(updates, fmt.Sprintf("karma: %+d", *m.Karma))
		events = append(events, persistence.LogEntry{Type: EventKarmaChange, Data: map[string]any{
			"amount":    *m.Karma,
			"new_karma": change.New,
			"source":    "narration",
		}})
	}

	for _, code := range sortedKeys(m.NPCReactions) {
		n, ok := c.NPC(code)
		if !ok {
			continue
		}
		rel, err := d.relationship(ctx, room, n)
		if err != nil {
			return nil, err
		}
		rel.Emotion = npc.ParseEmotionalState(m.NPCReactions[code].State)
		if err := d.store.SaveRelationship(ctx, rel); err != nil {
			return nil, fmt.Errorf("save relationship: %w", err)
		}
		d.cache.Remember(room, rel, npc.ActNeutral, "narración")
		updates = append(updates, "npc:"+code)
	}

	var revealed []string
	for _, clue := range m.CluesRevealed {
		if st.HasClue(clue) || !slices.ContainsFunc(c.Clues, func(x campaign.Clue) bool { return x.Code == clue }) {
			continue
		}
		st.AddClues(clue)
		revealed = append(revealed, clue)
		updates = append(updates, "clue:"+clue)
	}
	if len(revealed) > 0 {
		events = append(events, persistence.LogEntry{Type: EventCluesRevealed, Data: map[string]any{"clues": revealed}})
	}

	if code := m.DecisionTriggered; code != "" {
		if dec, ok := c.Decision(code); ok && st.PendingDecision != code {
			if _, done := st.DecisionsMade[code]; !done {
				d.setPending(st, dec, 0)
				updates = append(updates, "decision:"+code)
			}
		}
	}

	if len(delivered) > 0 {
		sched := d.scheduler(c, st)
		for _, h := range delivered {
			sched.RecordForeshadowing(h.TwistID, h.ElementID)
		}
		st.Twists = sched.Log()
	}

	if len(updates) == 0 && len(delivered) == 0 {
		return updates, nil
	}
	if err := d.save(ctx, st); err != nil {
		return nil, err
	}
	d.logEvents(ctx, room, events)
	return updates, nil
}

// Recap summarizes a room's story so far.
func (d *Director) Recap(ctx context.Context, room int64) (*llm.Recap, error) {
	st, err := d.state(ctx, room)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	c := e.Campaign

	recent, err := d.store.RecentEvents(ctx, room, 20, "")
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	data := &llm.RecapData{
		Campaign:   c.Name,
		Act:        st.Act,
		Chapter:    st.Chapter,
		Karma:      st.Karma,
		KarmaLevel: karma.LevelOf(st.Karma).Name,
		Clues:      st.RevealedClues,
	}
	for _, ev := range recent {
		desc := describeEvent(ev)
		data.Events = append(data.Events, desc)
		if ev.Type == EventDecisionMade {
			data.Decisions = append([]string{desc}, data.Decisions...)
		}
	}
	for _, t := range c.Twists {
		if slices.Contains(st.Twists.Revealed, t.ID) {
			data.Twists = append(data.Twists, t.Title+": "+t.RevelationText)
		}
	}
	return llm.GenerateRecap(ctx, d.narrator, data), nil
}

// describeEvent renders a logged event as one line, preferring its own
// description.
func describeEvent(ev persistence.Event) string {
	var data map[string]any
	if err := json.Unmarshal(ev.Data, &data); err == nil {
		if desc, ok := data["description"].(string); ok && desc != "" {
			return desc
		}
	}
	return ev.Type + " " + string(ev.Data)
}
