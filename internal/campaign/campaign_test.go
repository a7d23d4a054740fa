package campaign

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/talgya/story-engine/internal/story"
	"github.com/talgya/story-engine/internal/storygraph"
)

func load(t *testing.T) *Campaign {
	t.Helper()
	c, err := LoadFile("testdata/valdoria.json")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return c
}

func TestParseIndexes(t *testing.T) {
	c := load(t)
	loc, ok := c.Scene(3)
	if !ok || loc.Act.Number != 2 || loc.Chapter.Number != 1 || loc.Scene.Title != "Los archivos" {
		t.Fatalf("scene 3 = %+v", loc)
	}
	if loc.Scene.Tension != story.TensionHigh {
		t.Fatalf("tension = %v", loc.Scene.Tension)
	}
	first, ok := c.FirstScene()
	if !ok || first.Scene.ID != 1 {
		t.Fatalf("first scene = %+v", first)
	}
	d, ok := c.Decision("confiar_varen")
	if !ok || d.TimeoutTurns != 3 {
		t.Fatalf("decision = %+v", d)
	}
	if o, ok := d.Option("dudar"); !ok || o.NextScene != 3 || o.NPCReactions["mira"] != 5 {
		t.Fatalf("option = %+v", o)
	}
	if _, ok := d.Option("huir"); ok {
		t.Fatal("found a missing option")
	}
	v, ok := c.NPC("varen")
	if !ok || v.Personality.Cunning != 85 || *v.RelationshipDefault != 60 || !v.HasHiddenRole() {
		t.Fatalf("npc = %+v", v)
	}
	if e, ok := c.Ending("rey_salvado"); !ok || *e.Requirements.KarmaMin != 60 {
		t.Fatalf("ending = %+v", e)
	}
	if got := c.SceneDecisions(4); len(got) != 1 || got[0].Code != "juicio" {
		t.Fatalf("scene decisions = %+v", got)
	}
	if c.Summary().TotalActs != 2 {
		t.Fatalf("summary = %+v", c.Summary())
	}
}

func TestParseRejects(t *testing.T) {
	tests := []string{
		`{`,
		`{"name": "sin id"}`,
		`{"id": "x", "acts": [{"chapters": [{"scenes": [{"id": 1}, {"id": 1}]}]}]}`,
		`{"id": "x", "decisions": [{"decision_code": "a"}, {"decision_code": "a"}]}`,
	}
	for _, doc := range tests {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("Parse(%s) succeeded", doc)
		}
	}
}

func TestBuildGraph(t *testing.T) {
	g := BuildGraph(load(t), storygraph.DefaultOptions())

	if got := g.Endings(); !slices.Equal(got, []string{"ending_rey_salvado", "ending_reino_caido"}) {
		t.Fatalf("endings = %v", got)
	}
	if got := g.DecisionPoints(); !slices.Equal(got, []string{"decision_confiar_varen", "decision_juicio"}) {
		t.Fatalf("decision points = %v", got)
	}
	n, _ := g.Node("scene_3")
	if n.Type != storygraph.NodeScene || n.Act != 2 || n.Title != "Los archivos" {
		t.Fatalf("scene_3 = %+v", n)
	}

	succ := g.Successors("decision_confiar_varen")
	if len(succ) != 1 || succ[0].Condition != "decision:confiar_varen:dudar" || succ[0].Probability != 1 {
		t.Fatalf("decision edges = %+v", succ)
	}
	if got := g.DeadEnds(); !slices.Equal(got, []string{"decision_juicio"}) {
		t.Fatalf("dead ends = %v", got)
	}
}

func TestCampaignEndingProbabilities(t *testing.T) {
	g := BuildGraph(load(t), storygraph.DefaultOptions())

	probs := g.EndingProbabilities("scene_1", nil, nil)
	if probs["ending_rey_salvado"] != 18.9 || probs["ending_reino_caido"] != 81.1 {
		t.Fatalf("undecided = %v", probs)
	}

	decided := map[string]string{"confiar_varen": "dudar", "juicio": "perdonar"}
	probs = g.EndingProbabilities("scene_1", decided, nil)
	if probs["ending_rey_salvado"] != 70 || probs["ending_reino_caido"] != 30 {
		t.Fatalf("decided = %v", probs)
	}
	if id, _ := g.MostLikelyEnding(probs); id != "ending_rey_salvado" {
		t.Fatalf("most likely = %s", id)
	}
}

type countingSource struct {
	mu    sync.Mutex
	loads int
	c     *Campaign
}

func (s *countingSource) Campaign(_ context.Context, id string) (*Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != s.c.ID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCampaign, id)
	}
	s.loads++
	return s.c, nil
}

func TestRepository(t *testing.T) {
	src := &countingSource{c: load(t)}
	repo, err := NewRepository(src, 4, storygraph.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetOrBuild(ctx, "valdoria"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if src.loads != 1 {
		t.Fatalf("loads = %d, want 1", src.loads)
	}

	e, _ := repo.GetOrBuild(ctx, "valdoria")
	if e.Graph.Len() == 0 || e.Campaign.Name == "" {
		t.Fatalf("entry = %+v", e)
	}

	if !repo.Invalidate("valdoria") {
		t.Fatal("Invalidate found nothing")
	}
	if _, err := repo.GetOrBuild(ctx, "valdoria"); err != nil || src.loads != 2 {
		t.Fatalf("reload: err %v loads %d", err, src.loads)
	}

	if _, err := repo.GetOrBuild(ctx, "nada"); !errors.Is(err, ErrUnknownCampaign) {
		t.Fatalf("unknown campaign err = %v", err)
	}
}
