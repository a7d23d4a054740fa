package engine

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/talgya/story-engine/internal/cache"
	"github.com/talgya/story-engine/internal/campaign"
	"github.com/talgya/story-engine/internal/llm"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/persistence"
	"github.com/talgya/story-engine/internal/story"
	"github.com/talgya/story-engine/internal/storygraph"
)

type fakeNarrator struct {
	reply  string
	system string
	prompt string
}

func (f *fakeNarrator) Enabled() bool { return true }

func (f *fakeNarrator) Complete(_ context.Context, system, prompt string, _ int) (string, error) {
	f.system, f.prompt = system, prompt
	return f.reply, nil
}

type harness struct {
	d     *Director
	db    *persistence.DB
	cache *cache.Cache
}

func newHarness(t *testing.T, narrator llm.Completer) *harness {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "story.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c, err := campaign.LoadFile("../campaign/testdata/valdoria.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.SeedCampaigns(context.Background(), []*campaign.Campaign{c}); err != nil {
		t.Fatal(err)
	}
	repo, err := campaign.NewRepository(db, 4, storygraph.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.Twist.RevealThreshold = 0.5
	ch := cache.New(cache.DefaultConfig())
	return &harness{d: New(db, ch, repo, narrator, opts), db: db, cache: ch}
}

func (h *harness) start(t *testing.T, room int64) *story.State {
	t.Helper()
	st, err := h.d.InitializeProgress(context.Background(), room, "valdoria")
	if err != nil {
		t.Fatalf("InitializeProgress: %v", err)
	}
	return st
}

func (h *harness) turn(t *testing.T, room int64, msg string) *TurnResult {
	t.Helper()
	res, err := h.d.ProcessTurn(context.Background(), TurnRequest{RoomID: room, Message: msg})
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	return res
}

func TestInitializeProgress(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	st := h.start(t, 1)
	if st.Scene != 1 || st.Act != 1 || st.Chapter != 1 {
		t.Fatalf("position = %d/%d/%d", st.Act, st.Chapter, st.Scene)
	}
	if st.SceneType != "combat" || st.Tension != story.TensionHigh || st.Karma != 50 {
		t.Fatalf("state = %+v", st)
	}
	if !slices.Equal(st.ActiveNPCs, []string{"varen"}) {
		t.Fatalf("active npcs = %v", st.ActiveNPCs)
	}

	if _, err := h.d.InitializeProgress(ctx, 1, "valdoria"); !errors.Is(err, ErrProgressExists) {
		t.Fatalf("second start err = %v", err)
	}
	if _, err := h.d.InitializeProgress(ctx, 2, "nada"); !errors.Is(err, campaign.ErrUnknownCampaign) {
		t.Fatalf("unknown campaign err = %v", err)
	}
	if _, err := h.d.StoryState(ctx, 99); !errors.Is(err, ErrNoProgress) {
		t.Fatalf("missing room err = %v", err)
	}

	events, err := h.db.RecentEvents(ctx, 1, 10, EventCampaignStarted)
	if err != nil || len(events) != 1 {
		t.Fatalf("start events = %v, %v", events, err)
	}
}

func TestProcessTurnForeshadowsOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t, 1)

	first := h.turn(t, 1, "Miro alrededor en silencio")
	if first.State == nil || first.State.Scene != 1 {
		t.Fatalf("state = %+v", first.State)
	}
	// Only the element without a scene type fits a combat scene.
	if len(first.Foreshadowing) != 1 || first.Foreshadowing[0].ElementID != "sello" {
		t.Fatalf("foreshadowing = %+v", first.Foreshadowing)
	}
	if first.Revelation != nil || len(first.RedHerrings) != 0 {
		t.Fatalf("premature twist: %+v %+v", first.Revelation, first.RedHerrings)
	}

	second := h.turn(t, 1, "Miro alrededor en silencio")
	if len(second.Foreshadowing) != 0 {
		t.Fatalf("hint repeated: %+v", second.Foreshadowing)
	}
	if second.State.Twists.Foreshadowed["traidor"] != 1 {
		t.Fatalf("twist log = %+v", second.State.Twists)
	}
}

func TestProcessTurnRoomBusy(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t, 1)

	token, ok := h.cache.AcquireLock(1)
	if !ok {
		t.Fatal("lock not acquired")
	}
	_, err := h.d.ProcessTurn(context.Background(), TurnRequest{RoomID: 1, Message: "hola"})
	if !errors.Is(err, ErrRoomBusy) {
		t.Fatalf("err = %v", err)
	}
	h.cache.ReleaseLock(1, token)
	h.turn(t, 1, "hola")
}

func TestProcessDecision(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)

	res, err := h.d.ProcessDecision(ctx, 1, "confiar_varen", "dudar")
	if err != nil {
		t.Fatal(err)
	}
	if res.NewSceneID != 3 || !slices.Equal(res.RevealsClues, []string{"anillo"}) {
		t.Fatalf("result = %+v", res)
	}

	st, err := h.d.StoryState(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Scene != 3 || st.Act != 2 || !st.HasClue("anillo") || !st.Flag("sospecha_varen") {
		t.Fatalf("state = %+v", st)
	}
	if st.DecisionsMade["confiar_varen"] != "dudar" || st.FactionStandings["corona"] != 55 {
		t.Fatalf("decisions %v factions %v", st.DecisionsMade, st.FactionStandings)
	}

	varen, err := h.db.Relationship(ctx, 1, "varen")
	if err != nil || varen.Score != 50 {
		t.Fatalf("varen = %+v, %v", varen, err)
	}
	mira, err := h.db.Relationship(ctx, 1, "mira")
	if err != nil || mira.Score != 55 {
		t.Fatalf("mira = %+v, %v", mira, err)
	}

	if _, err := h.d.ProcessDecision(ctx, 1, "confiar_varen", "confiar"); !errors.Is(err, ErrDecisionMade) {
		t.Fatalf("repeat err = %v", err)
	}
	if _, err := h.d.ProcessDecision(ctx, 1, "juicio", "olvidar"); !errors.Is(err, ErrInvalidOption) {
		t.Fatalf("bad option err = %v", err)
	}
	if _, err := h.d.ProcessDecision(ctx, 1, "nada", "x"); !errors.Is(err, ErrUnknownDecision) {
		t.Fatalf("unknown decision err = %v", err)
	}

	recap, err := h.d.Recap(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if recap.Narrated || !strings.Contains(recap.Content, "¿Confiar en Varen?: Dudar") {
		t.Fatalf("recap = %+v", recap)
	}
}

func TestPendingDecisionTimesOut(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)

	view, err := h.d.SetPendingDecision(ctx, 1, "confiar_varen", 2)
	if err != nil {
		t.Fatal(err)
	}
	if view.TurnsRemaining != 2 || len(view.Options) != 2 || view.DefaultOption != "dudar" {
		t.Fatalf("view = %+v", view)
	}

	first := h.turn(t, 1, "Espero")
	if first.PendingDecision == nil || first.PendingDecision.Turns != 1 || first.TimedOut != nil {
		t.Fatalf("first turn pending = %+v timed out = %+v", first.PendingDecision, first.TimedOut)
	}

	second := h.turn(t, 1, "Espero")
	if second.TimedOut == nil || second.TimedOut.ChosenOption != "dudar" || !second.TimedOut.TimedOut {
		t.Fatalf("timed out = %+v", second.TimedOut)
	}
	if second.PendingDecision != nil || second.State.PendingDecision != "" {
		t.Fatalf("decision still pending: %+v", second.PendingDecision)
	}
	if second.State.Scene != 3 || second.State.DecisionsMade["confiar_varen"] != "dudar" {
		t.Fatalf("state = %+v", second.State)
	}
	// The default option revealed the clue the herring waits for.
	if len(second.RedHerrings) != 1 || second.RedHerrings[0].ID != "mira_sospechosa" {
		t.Fatalf("herrings = %+v", second.RedHerrings)
	}

	if pv, err := h.d.PendingDecision(ctx, 1); err != nil || pv != nil {
		t.Fatalf("pending = %+v, %v", pv, err)
	}
	timeouts, _ := h.db.RecentEvents(ctx, 1, 10, EventDecisionTimeout)
	if len(timeouts) != 1 {
		t.Fatalf("timeout events = %d", len(timeouts))
	}
}

func TestTwistRevealedOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)

	if _, err := h.d.ProcessDecision(ctx, 1, "confiar_varen", "dudar"); err != nil {
		t.Fatal(err)
	}
	res, err := h.d.CheckTrigger(ctx, 1, TriggerRevelation, TriggerData{})
	if err != nil || res.Triggered {
		t.Fatalf("one clue triggered: %+v, %v", res, err)
	}

	if _, err := h.d.UpdateProgress(ctx, story.ProgressUpdate{RoomID: 1, NewClues: []string{"carta"}}); err != nil {
		t.Fatal(err)
	}
	res, err = h.d.CheckTrigger(ctx, 1, TriggerRevelation, TriggerData{})
	if err != nil || !res.Triggered {
		t.Fatalf("both clues not triggered: %+v, %v", res, err)
	}

	turn := h.turn(t, 1, "Leo los documentos")
	if turn.Revelation == nil || turn.Revelation.TwistID != "traidor" {
		t.Fatalf("revelation = %+v", turn.Revelation)
	}
	if again := h.turn(t, 1, "Leo los documentos"); again.Revelation != nil {
		t.Fatalf("revealed twice: %+v", again.Revelation)
	}
}

func TestCheckTrigger(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)

	res, err := h.d.CheckTrigger(ctx, 1, TriggerDecision, TriggerData{DecisionCode: "confiar_varen"})
	if err != nil || !res.Triggered {
		t.Fatalf("decision trigger = %+v, %v", res, err)
	}
	res, _ = h.d.CheckTrigger(ctx, 1, TriggerDecision, TriggerData{DecisionCode: "nada"})
	if res.Triggered {
		t.Fatal("unknown decision triggered")
	}
	res, _ = h.d.CheckTrigger(ctx, 1, TriggerSideStory, TriggerData{})
	if res.Triggered {
		t.Fatalf("side story without optional chapters: %+v", res.Data)
	}
	if _, err := h.d.CheckTrigger(ctx, 1, "eclipse", TriggerData{}); !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("unknown trigger err = %v", err)
	}
}

func TestCalculateEnding(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)
	if _, err := h.d.ProcessDecision(ctx, 1, "confiar_varen", "dudar"); err != nil {
		t.Fatal(err)
	}

	rep, err := h.d.CalculateEnding(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rep.MostLikely != "reino_caido" || rep.DecisionsCount != 1 || rep.Karma != 50 {
		t.Fatalf("report = %+v", rep)
	}
	if _, ok := rep.Probabilities["rey_salvado"]; !ok {
		t.Fatalf("probabilities = %v", rep.Probabilities)
	}
	if len(rep.Endings) != 2 {
		t.Fatalf("endings = %+v", rep.Endings)
	}
	for _, e := range rep.Endings {
		// Karma 50 meets neither the good nor the bad ending.
		if e.RequirementsMet || len(e.Missing) == 0 {
			t.Fatalf("ending %s = %+v", e.Code, e)
		}
	}
}

func TestUpdateProgress(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)

	scene := 2
	res, err := h.d.UpdateProgress(ctx, story.ProgressUpdate{
		RoomID:             1,
		NewScene:           &scene,
		KarmaChange:        -10,
		NewFlags:           map[string]any{"sospecha_varen": true},
		SetPendingDecision: "juicio",
	})
	if err != nil {
		t.Fatal(err)
	}
	st := res.State
	if st.Scene != 2 || st.SceneType != "social" || st.Tension != story.TensionNormal || st.Karma != 40 {
		t.Fatalf("state = %+v", st)
	}
	if !slices.Equal(st.ActiveNPCs, []string{"varen", "mira"}) || !st.Flag("sospecha_varen") {
		t.Fatalf("npcs %v flags %v", st.ActiveNPCs, st.Flags)
	}

	pv, err := h.d.PendingDecision(ctx, 1)
	if err != nil || pv == nil {
		t.Fatalf("pending = %+v, %v", pv, err)
	}
	if pv.Code != "juicio" || pv.TurnsRemaining != 3 {
		t.Fatalf("pending = %+v", pv)
	}

	res, err = h.d.UpdateProgress(ctx, story.ProgressUpdate{RoomID: 1, DecrementDecisionTurns: true})
	if err != nil || res.State.PendingDecisionTurns != 2 {
		t.Fatalf("decrement = %+v, %v", res, err)
	}
	res, err = h.d.UpdateProgress(ctx, story.ProgressUpdate{RoomID: 1, ClearPendingDecision: true})
	if err != nil || res.State.PendingDecision != "" {
		t.Fatalf("clear = %+v, %v", res, err)
	}

	_, err = h.d.UpdateProgress(ctx, story.ProgressUpdate{RoomID: 1, SetPendingDecision: "nada"})
	if !errors.Is(err, ErrUnknownDecision) {
		t.Fatalf("unknown decision err = %v", err)
	}
}

func TestNPCReactionBetrayal(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)

	r, err := h.d.NPCReaction(ctx, 1, "mira", npc.ActHelped, "la saco del fuego")
	if err != nil || r.RelationshipDelta <= 0 {
		t.Fatalf("mira reaction = %+v, %v", r, err)
	}

	betrayed := false
	for range 5 {
		r, err := h.d.NPCReaction(ctx, 1, "varen", npc.ActAttacked, "")
		if err != nil {
			t.Fatal(err)
		}
		if r.TriggersBetrayal {
			betrayed = true
			break
		}
	}
	if !betrayed {
		t.Fatal("varen never betrayed the party")
	}
	rel, err := h.db.Relationship(ctx, 1, "varen")
	if err != nil || !rel.BetrayalTriggered || rel.Score >= 30 {
		t.Fatalf("varen = %+v, %v", rel, err)
	}
	if mem, ok := h.cache.Memory(1, "varen"); !ok || len(mem.Interactions) == 0 {
		t.Fatalf("memory = %+v", mem)
	}

	if _, err := h.d.NPCReaction(ctx, 1, "nadie", npc.ActFriendly, ""); !errors.Is(err, ErrUnknownNPC) {
		t.Fatalf("unknown npc err = %v", err)
	}
}

func TestBuildAIContext(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)

	sc, err := h.d.BuildAIContext(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if sc.SceneTitle != "La emboscada" || sc.Tone != "intriga" || len(sc.NPCs) != 1 {
		t.Fatalf("context = %+v", sc)
	}
	if sc.NPCs[0].Relationship != 60 || sc.NPCs[0].SecretAgenda == "" {
		t.Fatalf("varen brief = %+v", sc.NPCs[0])
	}
	if !strings.Contains(sc.SceneContext, "Gancho narrativo") {
		t.Fatalf("scene context = %q", sc.SceneContext)
	}
	if !slices.Equal(sc.AvailableClues, []string{"anillo", "carta"}) {
		t.Fatalf("clues = %v", sc.AvailableClues)
	}
	if len(sc.SpecialInstructions) == 0 {
		t.Fatal("no combat instructions")
	}
	if got := sc.Foreshadowing(); len(got) != 2 {
		t.Fatalf("foreshadowing = %v", got)
	}
	for i := 1; i < len(sc.Hints); i++ {
		if sc.Hints[i].Priority > sc.Hints[i-1].Priority {
			t.Fatalf("hints out of order: %+v", sc.Hints)
		}
	}
	if !strings.Contains(sc.Prompt(), "TONO NARRATIVO: intriga") {
		t.Fatalf("prompt = %s", sc.Prompt())
	}

	// Peeking does not spend the hint; a turn does.
	again, _ := h.d.BuildAIContext(ctx, 1)
	if len(again.Foreshadowing()) != 2 {
		t.Fatalf("cached foreshadowing = %v", again.Foreshadowing())
	}
	h.turn(t, 1, "Espero")
	after, _ := h.d.BuildAIContext(ctx, 1)
	if len(after.Foreshadowing()) != 1 {
		t.Fatalf("foreshadowing after turn = %v", after.Foreshadowing())
	}

	resp, err := h.d.BuildContext(ctx, ContextRequest{RoomID: 1, Message: "Ataco a Varen"})
	if err != nil || resp.Analysis == nil || resp.Formatted == "" {
		t.Fatalf("context response = %+v, %v", resp, err)
	}
}

func TestNarrateAppliesMarkers(t *testing.T) {
	fake := &fakeNarrator{reply: "Varen entorna los ojos.\nMARCADORES: " +
		`{"karma": 5, "npc_reactions": {"varen": {"state": "suspicious"}}, "clues_revealed": ["carta", "inventada"], "decision_triggered": "confiar_varen"}`}
	h := newHarness(t, fake)
	ctx := context.Background()
	h.start(t, 1)

	res, err := h.d.Narrate(ctx, TurnRequest{RoomID: 1, CharacterName: "Aria", Message: "¿Quién eres?"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "Varen entorna los ojos." {
		t.Fatalf("text = %q", res.Text)
	}
	want := []string{"karma: +5", "npc:varen", "clue:carta", "decision:confiar_varen"}
	if !slices.Equal(res.Applied, want) {
		t.Fatalf("applied = %v, want %v", res.Applied, want)
	}
	if !strings.Contains(fake.system, "Varen") || !strings.Contains(fake.prompt, "Aria") {
		t.Fatalf("system %q prompt %q", fake.system, fake.prompt)
	}

	st, _ := h.d.StoryState(ctx, 1)
	if st.Karma != 55 || !st.HasClue("carta") || st.HasClue("inventada") {
		t.Fatalf("state = %+v", st)
	}
	if st.PendingDecision != "confiar_varen" || st.PendingDecisionTurns != 3 {
		t.Fatalf("pending = %q %d", st.PendingDecision, st.PendingDecisionTurns)
	}
	if st.Twists.Foreshadowed["traidor"] != 1 {
		t.Fatalf("delivered hint not recorded: %+v", st.Twists)
	}
	rel, err := h.db.Relationship(ctx, 1, "varen")
	if err != nil || rel.Emotion != npc.Suspicious {
		t.Fatalf("varen = %+v, %v", rel, err)
	}
}

func TestNarrateDisabled(t *testing.T) {
	h := newHarness(t, llm.NewClient("", llm.Options{}))
	h.start(t, 1)
	if _, err := h.d.Narrate(context.Background(), TurnRequest{RoomID: 1, Message: "hola"}); !errors.Is(err, llm.ErrDisabled) {
		t.Fatalf("err = %v", err)
	}
}

func TestProcessMarkersIgnoresUnknownCodes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.start(t, 1)

	applied, err := h.d.ProcessMarkers(ctx, 1, llm.Markers{
		NPCReactions:      map[string]llm.NPCMarker{"nadie": {State: "angry"}},
		CluesRevealed:     []string{"inventada"},
		DecisionTriggered: "nada",
	})
	if err != nil || len(applied) != 0 {
		t.Fatalf("applied = %v, %v", applied, err)
	}
}
