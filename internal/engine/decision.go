package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/karma"
	"github.com/talgya/story-engine/internal/persistence"
	"github.com/talgya/story-engine/internal/story"
	"github.com/talgya/story-engine/internal/storygraph"
	"github.com/talgya/story-engine/internal/twist"
)

// DecisionResult is what answering a decision changed.
type DecisionResult struct {
	DecisionCode  string         `json:"decision_code"`
	ChosenOption  string         `json:"chosen_option"`
	KarmaChange   int            `json:"karma_change"`
	Karma         karma.Change   `json:"karma"`
	FlagsSet      []string       `json:"flags_set"`
	FlagsRemoved  []string       `json:"flags_removed,omitempty"`
	NewSceneID    int            `json:"new_scene_id,omitempty"`
	NPCReactions  map[string]int `json:"npc_reactions"`
	RevealsClues  []string       `json:"reveals_clues"`
	FactionEvents []string       `json:"faction_events,omitempty"`
	NarrationHint string         `json:"narration_hint,omitempty"`
	TimedOut      bool           `json:"timed_out,omitempty"`
}

// PendingView is a pending decision with the options the room may pick.
type PendingView struct {
	Code           string                 `json:"decision_code"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description,omitempty"`
	TurnsRemaining int                    `json:"turns_remaining"`
	DefaultOption  string                 `json:"default_option,omitempty"`
	Options        []karma.DialogueOption `json:"options"`
	SetAt          time.Time              `json:"set_at,omitzero"`
}

// Trigger types accepted by CheckTrigger.
const (
	TriggerDecision   = "decision"
	TriggerRevelation = "revelation"
	TriggerSideStory  = "side_story"
)

// TriggerData qualifies a trigger check.
type TriggerData struct {
	DecisionCode string              `json:"decision_code,omitempty"`
	Tension      *story.TensionLevel `json:"tension_level,omitempty"`
}

// TriggerResult reports whether a trigger fired and what it carries.
type TriggerResult struct {
	Triggered bool   `json:"triggered"`
	Type      string `json:"trigger_type"`
	Data      any    `json:"trigger_data"`
}

// EndingOutlook is one ending with its odds and requirements.
type EndingOutlook struct {
	Code            string   `json:"code"`
	Title           string   `json:"title"`
	Good            bool     `json:"is_good_ending"`
	Probability     float64  `json:"probability"`
	RequirementsMet bool     `json:"requirements_met"`
	Missing         []string `json:"missing_requirements"`
}

// EndingReport is the ending forecast for a room.
type EndingReport struct {
	Probabilities  map[string]float64 `json:"probabilities"`
	MostLikely     string             `json:"most_likely_ending,omitempty"`
	Karma          int                `json:"karma"`
	DecisionsCount int                `json:"decisions_count"`
	Endings        []EndingOutlook    `json:"endings"`
}

// visibleOptions returns the options of dec the room may currently pick:
// not hidden, with their required flags set and their karma and faction
// requirements met.
func (d *Director) visibleOptions(st *story.State, dec *campaign.Decision) []karma.DialogueOption {
	var candidates []karma.DialogueOption
	for _, o := range dec.Options {
		if o.Hidden || slices.ContainsFunc(o.RequiredFlags, func(f string) bool { return !st.Flag(f) }) {
			continue
		}
		candidates = append(candidates, karma.DialogueOption{ID: o.ID, Text: o.Label, Requirements: o.Requirements})
	}
	return d.ledger.AvailableDialogueOptions(st.Karma, st.FactionStandings, candidates)
}

// ProcessDecision answers a decision with one of its options.
func (d *Director) ProcessDecision(ctx context.Context, room int64, code, optionID string) (*DecisionResult, error) {
	release, err := d.lock(room)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := d.state(ctx, room)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	dec, ok := e.Campaign.Decision(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDecision, code)
	}
	if prev, done := st.DecisionsMade[code]; done {
		return nil, fmt.Errorf("%w: %s chose %s", ErrDecisionMade, code, prev)
	}
	opt, ok := dec.Option(optionID)
	if !ok || !slices.ContainsFunc(d.visibleOptions(st, dec), func(o karma.DialogueOption) bool { return o.ID == optionID }) {
		return nil, fmt.Errorf("%w: %s for %s", ErrInvalidOption, optionID, code)
	}

	res, events, err := d.applyDecision(ctx, e.Campaign, st, dec, opt, false)
	if err != nil {
		return nil, err
	}
	if err := d.save(ctx, st); err != nil {
		return nil, err
	}
	d.logEvents(ctx, room, events)
	return res, nil
}

// applyDecision applies an option's consequences to st. The caller holds
// the room lock and saves st.
func (d *Director) applyDecision(ctx context.Context, c *campaign.Campaign, st *story.State, dec *campaign.Decision, opt *campaign.Option, timedOut bool) (*DecisionResult, []persistence.LogEntry, error) {
	res := &DecisionResult{
		DecisionCode:  dec.Code,
		ChosenOption:  opt.ID,
		KarmaChange:   opt.KarmaEffect,
		FlagsSet:      append([]string{}, opt.ConsequenceFlags...),
		FlagsRemoved:  opt.RemovesFlags,
		NPCReactions:  map[string]int{},
		RevealsClues:  append([]string{}, opt.RevealsClues...),
		NarrationHint: opt.NarrationHint,
		TimedOut:      timedOut,
	}
	var events []persistence.LogEntry

	res.Karma = d.ledger.Apply(st.Karma, opt.KarmaEffect)
	st.Karma = res.Karma.New

	for _, f := range opt.ConsequenceFlags {
		st.Flags[f] = true
	}
	for _, f := range opt.RemovesFlags {
		delete(st.Flags, f)
	}
	st.AddClues(opt.RevealsClues...)

	for _, code := range sortedKeys(opt.NPCReactions) {
		n, ok := c.NPC(code)
		if !ok {
			continue
		}
		rel, err := d.relationship(ctx, st.RoomID, n)
		if err != nil {
			return nil, nil, err
		}
		rel.Score = karma.Clamp(rel.Score + opt.NPCReactions[code])
		if err := d.store.SaveRelationship(ctx, rel); err != nil {
			return nil, nil, fmt.Errorf("save relationship: %w", err)
		}
		res.NPCReactions[code] = opt.NPCReactions[code]
	}

	for _, faction := range sortedKeys(opt.FactionChanges) {
		var crossed []string
		st.FactionStandings, crossed = d.ledger.UpdateStanding(st.FactionStandings, faction, opt.FactionChanges[faction])
		res.FactionEvents = append(res.FactionEvents, crossed...)
	}
	for _, ev := range res.FactionEvents {
		events = append(events, persistence.LogEntry{Type: EventFactionThreshold, Data: map[string]string{"event": ev}})
	}

	if opt.NextScene > 0 {
		enterScene(c, st, opt.NextScene)
		res.NewSceneID = opt.NextScene
	}

	st.DecisionsMade[dec.Code] = opt.ID
	if st.PendingDecision == dec.Code {
		st.PendingDecision = ""
		st.PendingDecisionTurns = 0
		d.cache.ClearPendingDecision(st.RoomID)
	}

	events = append(events, persistence.LogEntry{Type: EventDecisionMade, Data: map[string]any{
		"decision_code": dec.Code,
		"chosen_option": opt.ID,
		"karma_change":  opt.KarmaEffect,
		"timed_out":     timedOut,
		"description":   fmt.Sprintf("%s: %s", dec.Title, opt.Label),
	}})
	return res, events, nil
}

// countdown spends one turn of the pending decision. When the countdown
// runs out the decision is cleared and its default option, if any, chosen.
func (d *Director) countdown(ctx context.Context, c *campaign.Campaign, st *story.State) (*DecisionResult, []persistence.LogEntry, error) {
	if st.PendingDecision == "" || st.PendingDecisionTurns <= 0 {
		return nil, nil, nil
	}
	left, ok := d.cache.DecrementDecisionTurns(st.RoomID)
	if !ok {
		left = st.PendingDecisionTurns - 1
		if left > 0 {
			d.cache.SetPendingDecision(story.PendingDecision{RoomID: st.RoomID, Code: st.PendingDecision, Turns: left})
		}
	}
	st.PendingDecisionTurns = left
	if left > 0 {
		return nil, nil, nil
	}

	code := st.PendingDecision
	st.PendingDecision = ""
	d.cache.ClearPendingDecision(st.RoomID)
	events := []persistence.LogEntry{{Type: EventDecisionTimeout, Data: map[string]string{"decision_code": code}}}
	slog.Info("pending decision timed out", "room", st.RoomID, "decision", code)

	dec, ok := c.Decision(code)
	if !ok || dec.DefaultOption == "" {
		return nil, events, nil
	}
	if _, done := st.DecisionsMade[code]; done {
		return nil, events, nil
	}
	opt, ok := dec.Option(dec.DefaultOption)
	if !ok {
		return nil, events, nil
	}
	res, evs, err := d.applyDecision(ctx, c, st, dec, opt, true)
	if err != nil {
		return nil, nil, err
	}
	return res, append(events, evs...), nil
}

// SetPendingDecision asks a room to make a decision within turns turns.
// turns <= 0 uses the decision's timeout, or the configured default.
func (d *Director) SetPendingDecision(ctx context.Context, room int64, code string, turns int) (*PendingView, error) {
	release, err := d.lock(room)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := d.state(ctx, room)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	dec, ok := e.Campaign.Decision(code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDecision, code)
	}
	pd := d.setPending(st, dec, turns)
	if err := d.save(ctx, st); err != nil {
		return nil, err
	}
	return d.pendingView(st, dec, pd), nil
}

func (d *Director) setPending(st *story.State, dec *campaign.Decision, turns int) story.PendingDecision {
	if turns <= 0 {
		turns = dec.TimeoutTurns
	}
	if turns <= 0 {
		turns = d.opts.PendingDecisionTurns
	}
	st.PendingDecision = dec.Code
	st.PendingDecisionTurns = turns
	return d.cache.SetPendingDecision(story.PendingDecision{RoomID: st.RoomID, Code: dec.Code, Turns: turns})
}

// PendingDecision returns the room's pending decision, or nil if none.
func (d *Director) PendingDecision(ctx context.Context, room int64) (*PendingView, error) {
	st, err := d.state(ctx, room)
	if err != nil {
		return nil, err
	}
	pd, ok := d.cache.PendingDecision(room)
	if !ok {
		if st.PendingDecision == "" {
			return nil, nil
		}
		pd = d.cache.SetPendingDecision(story.PendingDecision{RoomID: room, Code: st.PendingDecision, Turns: st.PendingDecisionTurns})
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	dec, ok := e.Campaign.Decision(pd.Code)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDecision, pd.Code)
	}
	return d.pendingView(st, dec, pd), nil
}

func (d *Director) pendingView(st *story.State, dec *campaign.Decision, pd story.PendingDecision) *PendingView {
	return &PendingView{
		Code:           dec.Code,
		Title:          dec.Title,
		Description:    dec.Description,
		TurnsRemaining: pd.Turns,
		DefaultOption:  dec.DefaultOption,
		Options:        d.visibleOptions(st, dec),
		SetAt:          pd.SetAt,
	}
}

// CheckTrigger reports whether a decision, revelation or side story is
// ready for the room. It changes nothing.
func (d *Director) CheckTrigger(ctx context.Context, room int64, kind string, data TriggerData) (*TriggerResult, error) {
	st, err := d.state(ctx, room)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	c := e.Campaign
	res := &TriggerResult{Type: kind}

	switch kind {
	case TriggerDecision:
		dec, ok := c.Decision(data.DecisionCode)
		if !ok {
			return res, nil
		}
		if _, done := st.DecisionsMade[dec.Code]; !done {
			res.Triggered = true
			res.Data = map[string]string{"decision_code": dec.Code, "title": dec.Title}
		}

	case TriggerRevelation:
		probe := *st
		if data.Tension != nil {
			probe.Tension = *data.Tension
		}
		if t, ok := d.scheduler(c, st).CheckRevelation(&probe); ok {
			res.Triggered = true
			res.Data = twist.Revelation(t)
		}

	case TriggerSideStory:
		if side, ok := nextSideStory(c, st); ok {
			res.Triggered = true
			res.Data = side
		}

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTrigger, kind)
	}
	return res, nil
}

// SideStory is an optional chapter the room may take up.
type SideStory struct {
	Key           string `json:"key"`
	Act           int    `json:"act"`
	Chapter       int    `json:"chapter"`
	Title         string `json:"title"`
	NarrativeHook string `json:"narrative_hook,omitempty"`
}

// nextSideStory returns the first optional chapter of the current act the
// room has not completed.
func nextSideStory(c *campaign.Campaign, st *story.State) (SideStory, bool) {
	for _, a := range c.Acts {
		if a.Number != st.Act {
			continue
		}
		for _, ch := range a.Chapters {
			key := fmt.Sprintf("%d.%d", a.Number, ch.Number)
			if !ch.Optional || slices.Contains(st.SideStories, key) {
				continue
			}
			return SideStory{Key: key, Act: a.Number, Chapter: ch.Number, Title: ch.Title, NarrativeHook: ch.NarrativeHook}, true
		}
	}
	return SideStory{}, false
}

// CalculateEnding forecasts the room's endings from its current scene.
func (d *Director) CalculateEnding(ctx context.Context, room int64) (*EndingReport, error) {
	st, err := d.state(ctx, room)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}

	probs := e.Graph.EndingProbabilities(storygraph.SceneID(st.Scene), st.DecisionsMade, st.Flags)
	report := &EndingReport{
		Probabilities:  make(map[string]float64, len(probs)),
		Karma:          st.Karma,
		DecisionsCount: len(st.DecisionsMade),
		Endings:        []EndingOutlook{},
	}
	for id, p := range probs {
		report.Probabilities[strings.TrimPrefix(id, "ending_")] = p
	}
	if best, _ := e.Graph.MostLikelyEnding(probs); best != "" {
		report.MostLikely = strings.TrimPrefix(best, "ending_")
	}

	for _, end := range e.Campaign.Endings {
		met, missing := d.ledger.CheckEndingRequirements(st.Karma, st.FactionStandings, end.Requirements)
		report.Endings = append(report.Endings, EndingOutlook{
			Code:            end.Code,
			Title:           end.Title,
			Good:            end.Good,
			Probability:     report.Probabilities[end.Code],
			RequirementsMet: met,
			Missing:         missing,
		})
	}
	return report, nil
}
