package engine

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/karma"
	"github.com/talgya/story-engine/internal/llm"
	"github.com/talgya/story-engine/internal/narrative"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/persistence"
	"github.com/talgya/story-engine/internal/story"
)

const noSceneContext = "Sin contexto específico de escena."

var sceneInstructions = map[narrative.SceneType][]string{
	narrative.SceneCombat: {
		"Describe acciones de combate de forma dinámica",
		"Pide tiradas de dados para acciones importantes",
		"Los enemigos reaccionan tácticamente",
	},
	narrative.ScenePuzzle: {
		"Da pistas graduales, no la solución directa",
		"Recompensa el pensamiento creativo",
	},
	narrative.SceneSocial: {
		"Los NPCs responden según su personalidad",
		"Las palabras tienen consecuencias",
		"Detecta intentos de persuasión/engaño",
	},
	narrative.SceneRevelation: {
		"Construye tensión antes de revelar",
		"Permite que los jugadores lleguen a conclusiones",
	},
	narrative.SceneDecision: {
		"Presenta opciones de forma natural",
		"No fuerces una decisión específica",
		"Cada opción tiene consecuencias",
	},
}

// Hint priorities for the narration context.
const (
	secretPriority     = 10
	atmospherePriority = 7
)

// ContextRequest asks for the narration context of a room, optionally with
// the analysis of the message about to be narrated.
type ContextRequest struct {
	RoomID        int64  `json:"room_id"`
	Message       string `json:"message,omitempty"`
	CharacterName string `json:"character_name,omitempty"`
}

// ContextResponse is a freshly built narration context.
type ContextResponse struct {
	*llm.StoryContext
	Analysis  *narrative.ActionAnalysis `json:"action_analysis,omitempty"`
	Formatted string                    `json:"formatted"`
}

// NarrateResult is a narration and the state changes it carried.
type NarrateResult struct {
	*llm.Narration
	Applied []string `json:"applied"`
}

// BuildContext builds the narration context of a room, bypassing the cache.
func (d *Director) BuildContext(ctx context.Context, req ContextRequest) (*ContextResponse, error) {
	st, err := d.state(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	sc, err := d.storyContext(ctx, e.Campaign, st)
	if err != nil {
		return nil, err
	}
	resp := &ContextResponse{StoryContext: sc, Formatted: sc.Prompt()}
	if req.Message != "" {
		a := d.analyzer.Analyze(TurnRequest{RoomID: req.RoomID, Message: req.Message, CharacterName: req.CharacterName}.action(st))
		resp.Analysis = &a
	}
	return resp, nil
}

// BuildAIContext returns the narration context of a room, cached until the
// room's state changes or the entry expires.
func (d *Director) BuildAIContext(ctx context.Context, room int64) (*llm.StoryContext, error) {
	if b, ok := d.cache.AIContext(room); ok {
		var sc llm.StoryContext
		if err := json.Unmarshal(b, &sc); err == nil {
			return &sc, nil
		}
		d.cache.InvalidateAIContext(room)
	}

	st, err := d.state(ctx, room)
	if err != nil {
		return nil, err
	}
	e, err := d.entry(ctx, st)
	if err != nil {
		return nil, err
	}
	sc, err := d.storyContext(ctx, e.Campaign, st)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(sc); err == nil {
		d.cache.SetAIContext(room, b)
	}
	return sc, nil
}

// Narrate has the narrator answer a player message, then applies the
// markers it returned and records the foreshadowing it was given.
func (d *Director) Narrate(ctx context.Context, req TurnRequest) (*NarrateResult, error) {
	if d.narrator == nil || !d.narrator.Enabled() {
		return nil, llm.ErrDisabled
	}
	sc, err := d.BuildAIContext(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	n, err := llm.Narrate(ctx, d.narrator, sc, req.CharacterName, req.Message)
	if err != nil {
		return nil, err
	}

	var delivered []llm.Hint
	for _, h := range sc.Hints {
		if h.Kind == llm.HintForeshadow && h.TwistID != "" {
			delivered = append(delivered, h)
		}
	}

	release, err := d.lock(req.RoomID)
	if err != nil {
		// The narration stands; its markers are lost.
		slog.Warn("narration markers not applied", "room", req.RoomID, "error", err)
		return &NarrateResult{Narration: n, Applied: []string{}}, nil
	}
	defer release()
	applied, err := d.applyMarkers(ctx, req.RoomID, n.Markers, delivered)
	if err != nil {
		return nil, err
	}
	return &NarrateResult{Narration: n, Applied: applied}, nil
}

// storyContext assembles the narration context from a room's state.
func (d *Director) storyContext(ctx context.Context, c *campaign.Campaign, st *story.State) (*llm.StoryContext, error) {
	sc := &llm.StoryContext{
		RoomID:         st.RoomID,
		Campaign:       c.Name,
		Act:            st.Act,
		Chapter:        st.Chapter,
		Scene:          st.Scene,
		SceneType:      st.SceneType,
		SceneContext:   noSceneContext,
		Tone:           cmp.Or(c.Tone, "neutral"),
		Tension:        st.Tension.String(),
		Karma:          st.Karma,
		KarmaContext:   d.ledger.ContextForAI(st.Karma),
		FactionContext: d.factionContext(st.FactionStandings),
		NPCs:           []llm.NPCBrief{},
		Hints:          []llm.Hint{},
		AvailableClues: []string{},
	}

	if loc, ok := c.Scene(st.Scene); ok {
		sc.SceneTitle = loc.Scene.Title
		var parts []string
		for _, p := range []string{loc.Scene.OpeningNarration, loc.Scene.AIContext} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if loc.Chapter.NarrativeHook != "" {
			parts = append(parts, "Gancho narrativo: "+loc.Chapter.NarrativeHook)
		}
		if len(parts) > 0 {
			sc.SceneContext = strings.Join(parts, "\n\n")
		}
		if loc.Scene.SecretInstructions != "" {
			sc.Hints = append(sc.Hints, llm.Hint{Kind: llm.HintSecret, Content: loc.Scene.SecretInstructions, Priority: secretPriority})
		}
	}

	for _, code := range st.ActiveNPCs {
		n, ok := c.NPC(code)
		if !ok {
			continue
		}
		brief, err := d.npcBrief(ctx, st.RoomID, n)
		if err != nil {
			return nil, err
		}
		sc.NPCs = append(sc.NPCs, brief)
	}

	for _, h := range d.scheduler(c, st).Foreshadowing(st, st.SceneType) {
		sc.Hints = append(sc.Hints, llm.Hint{
			Kind:      llm.HintForeshadow,
			Content:   h.Hint,
			Priority:  h.Priority,
			RelatedTo: h.NPC,
			TwistID:   h.TwistID,
			ElementID: h.ElementID,
		})
	}
	sc.Hints = append(sc.Hints, llm.Hint{Kind: llm.HintAtmosphere, Content: st.Tension.Hint(), Priority: atmospherePriority})
	slices.SortStableFunc(sc.Hints, func(a, b llm.Hint) int { return cmp.Compare(b.Priority, a.Priority) })

	for _, clue := range c.Clues {
		if !st.HasClue(clue.Code) {
			sc.AvailableClues = append(sc.AvailableClues, clue.Code)
		}
	}

	if st.PendingDecision != "" {
		if dec, ok := c.Decision(st.PendingDecision); ok {
			brief := &llm.DecisionBrief{Code: dec.Code, Title: dec.Title, TurnsLeft: st.PendingDecisionTurns}
			for _, o := range d.visibleOptions(st, dec) {
				brief.Options = append(brief.Options, o.Text)
			}
			sc.PendingDecision = brief
		}
	}

	sc.SpecialInstructions = slices.Clone(sceneInstructions[narrative.SceneType(st.SceneType)])
	if st.PendingDecision != "" {
		sc.SpecialInstructions = append(sc.SpecialInstructions, "Hay una decisión pendiente - guía la narrativa hacia ella")
	}

	sc.StorySummary = storySummary(st)
	return sc, nil
}

// npcBrief describes an NPC as the room knows it. Short-term memory, when
// cached, is fresher than the stored relationship.
func (d *Director) npcBrief(ctx context.Context, room int64, n *campaign.NPC) (llm.NPCBrief, error) {
	brief := llm.NPCBrief{
		Code:          n.Code,
		Name:          n.Name,
		ApparentRole:  n.ApparentRole,
		Description:   n.Description,
		DialogueStyle: n.DialogueStyle,
		SecretAgenda:  npc.SecretAgenda(&n.NPC),
	}

	var relp *npc.Relationship
	rel, err := d.store.Relationship(ctx, room, n.Code)
	switch {
	case err == nil:
		relp = &rel
	case errors.Is(err, persistence.ErrNotFound):
		rel = d.newRelationship(room, n)
	default:
		return llm.NPCBrief{}, fmt.Errorf("load relationship: %w", err)
	}
	brief.Relationship = rel.Score
	brief.Trust = rel.Trust
	brief.Mood = rel.Emotion.String()
	brief.KnownSecrets = rel.KnownSecrets
	if !rel.LastInteraction.IsZero() {
		brief.LastInteraction = humanize.Time(rel.LastInteraction)
	}

	var last npc.Interaction
	if mem, ok := d.cache.Memory(room, n.Code); ok {
		brief.Mood = mem.Emotion.String()
		if len(mem.Interactions) > 0 {
			last = mem.Interactions[len(mem.Interactions)-1].Action
		}
	}
	brief.BehaviorHints = npc.BehaviorHints(&n.NPC, relp, last)
	return brief, nil
}

func (d *Director) factionContext(standings map[string]int) string {
	ctx := d.ledger.FactionContextForAI(standings)
	parts := make([]string, 0, len(ctx))
	for _, code := range sortedKeys(ctx) {
		parts = append(parts, code+": "+ctx[code])
	}
	return strings.Join(parts, "; ")
}

// storySummary lists up to five decisions and the party's reputation.
func storySummary(st *story.State) string {
	var b strings.Builder
	if len(st.DecisionsMade) > 0 {
		b.WriteString("Decisiones tomadas:")
		codes := sortedKeys(st.DecisionsMade)
		for _, code := range codes[max(len(codes)-5, 0):] {
			fmt.Fprintf(&b, "\n  - %s: %s", code, st.DecisionsMade[code])
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Reputación actual: %s (karma: %d)", karma.LevelOf(st.Karma).Name, st.Karma)
	return b.String()
}
