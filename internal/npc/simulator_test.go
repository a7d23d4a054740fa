package npc

import (
	"slices"
	"testing"
)

func traitor() *NPC {
	return &NPC{
		Code:         "varen",
		Name:         "Varen",
		ApparentRole: "merchant",
		TrueRole:     "traitor",
	}
}

func TestBetrayalOnSharpDrop(t *testing.T) {
	s := NewSimulator(DefaultThresholds())
	rel := Relationship{Score: 85, Trust: 75}
	if !s.CheckBetrayal(traitor(), rel, -60) {
		t.Fatal("relationship 85-60=25 below 30 should trigger betrayal")
	}
	if s.CheckBetrayal(traitor(), rel, -50) {
		t.Fatal("relationship 35 should not trigger betrayal")
	}
}

func TestBetrayalRequiresHiddenRole(t *testing.T) {
	s := NewSimulator(DefaultThresholds())
	honest := &NPC{Code: "mira", ApparentRole: "merchant", TrueRole: "merchant"}
	if s.CheckBetrayal(honest, Relationship{Score: 10}, -10) {
		t.Fatal("NPC without hidden role betrayed")
	}
	plain := &NPC{Code: "mira", ApparentRole: "merchant"}
	if s.CheckRedemption(plain, Relationship{Score: 90}, 5) {
		t.Fatal("NPC without true role redeemed")
	}
}

func TestTriggersAreOneShot(t *testing.T) {
	s := NewSimulator(DefaultThresholds())
	n := traitor()
	if s.CheckBetrayal(n, Relationship{Score: 10, BetrayalTriggered: true}, -5) {
		t.Fatal("betrayal fired twice")
	}
	if s.CheckRedemption(n, Relationship{Score: 90, RedemptionTriggered: true}, 5) {
		t.Fatal("redemption fired twice")
	}
	if s.CheckRedemption(n, Relationship{Score: 90, BetrayalTriggered: true}, 5) {
		t.Fatal("redemption fired after betrayal")
	}
	if s.CheckBetrayal(n, Relationship{Score: 10, RedemptionTriggered: true}, -5) {
		t.Fatal("betrayal fired after redemption")
	}
}

func TestTriggersMutuallyExclusive(t *testing.T) {
	s := NewSimulator(DefaultThresholds())
	n := traitor()
	for score := 0; score <= 100; score++ {
		for d := -100; d <= 100; d++ {
			rel := Relationship{Score: score}
			if s.CheckBetrayal(n, rel, d) && s.CheckRedemption(n, rel, d) {
				t.Fatalf("score %d delta %d fired both triggers", score, d)
			}
		}
	}
}

func TestNPCThresholdOverride(t *testing.T) {
	s := NewSimulator(DefaultThresholds())
	n := traitor()
	b, r := 50, 60
	n.BetrayalThreshold = &b
	n.RedemptionThreshold = &r
	if !s.CheckBetrayal(n, Relationship{Score: 55}, -10) {
		t.Fatal("custom betrayal threshold ignored")
	}
	if !s.CheckRedemption(n, Relationship{Score: 55}, 5) {
		t.Fatal("custom redemption threshold ignored")
	}
}

func TestDeltas(t *testing.T) {
	tests := []struct {
		name       string
		p          Personality
		act        Interaction
		rel, trust int
	}{
		{"base attacked", Personality{}, ActAttacked, -20, -25},
		{"unknown", DefaultPersonality(), Interaction("dance"), 0, 0},
		{"loyal honorable betrayed", DefaultPersonality(), ActBetrayed, -43, -54},
		{"compassionate helped", Personality{Compassion: 25}, ActHelped, 11, 8},
		{"cunning deceived", Personality{Cunning: 100}, ActDeceptive, 0, -7},
	}
	for _, tt := range tests {
		rel, trust := Deltas(tt.p, tt.act)
		if rel != tt.rel || trust != tt.trust {
			t.Fatalf("%s: Deltas = (%d, %d), want (%d, %d)", tt.name, rel, trust, tt.rel, tt.trust)
		}
	}
}

func TestEmotionTransitions(t *testing.T) {
	tests := []struct {
		from EmotionalState
		act  Interaction
		want EmotionalState
	}{
		{Neutral, ActFriendly, Friendly},
		{Neutral, ActThreatened, Fearful},
		{Friendly, ActBetrayed, Hostile},
		{Hostile, ActSaved, Neutral},
		{Neutral, ActSaved, Neutral},
		{Neutral, ActProfessional, Neutral},
		{Neutral, ActStole, Suspicious},
		{Grateful, ActInsulted, Sad},
		{Desperate, ActFriendly, Desperate},
		{Suspicious, ActHelped, Neutral},
	}
	for _, tt := range tests {
		relDelta, _ := Deltas(Personality{}, tt.act)
		if got := nextEmotion(tt.from, tt.act, relDelta); got != tt.want {
			t.Fatalf("%v + %s = %v, want %v", tt.from, tt.act, got, tt.want)
		}
	}
}

func TestSecretReveal(t *testing.T) {
	n := &NPC{Code: "mira", Secrets: []string{"s1", "s2"}}
	tests := []struct {
		name string
		rel  Relationship
		act  Interaction
		want string
	}{
		{"saved with high trust", Relationship{Trust: 75, KnownSecrets: []string{"s1"}}, ActSaved, "s2"},
		{"friendly but low trust", Relationship{Trust: 50, Interactions: 5}, ActHelped, ""},
		{"friendly with history", Relationship{Trust: 65, Interactions: 5}, ActHelped, "s1"},
		{"friendly without history", Relationship{Trust: 65, Interactions: 4}, ActHelped, ""},
		{"all known", Relationship{Trust: 99, KnownSecrets: []string{"s1", "s2"}}, ActSaved, ""},
		{"wrong kind", Relationship{Trust: 95, Interactions: 10}, ActGift, ""},
	}
	for _, tt := range tests {
		_, trust := Deltas(Personality{}, tt.act)
		if got := secretToReveal(n, tt.rel, tt.act, trust); got != tt.want {
			t.Fatalf("%s: revealed %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestReactBetrayal(t *testing.T) {
	s := NewSimulator(DefaultThresholds())
	n := traitor()
	rel := Relationship{Score: 55, Trust: 50, Emotion: Friendly}
	r := s.React(n, rel, ActBetrayed)

	if r.RelationshipDelta != -30 || r.TrustDelta != -40 {
		t.Fatalf("deltas = (%d, %d), want (-30, -40)", r.RelationshipDelta, r.TrustDelta)
	}
	if !r.TriggersBetrayal || r.TriggersRedemption {
		t.Fatalf("triggers = %v/%v, want betrayal only", r.TriggersBetrayal, r.TriggersRedemption)
	}
	if r.Emotion != Hostile || r.Tone != "cortante" {
		t.Fatalf("emotion %v tone %q, want hostile/cortante", r.Emotion, r.Tone)
	}
	wantNotes := []string{
		"Varen comienza a ver a los jugadores como una amenaza a sus planes",
		"Busca excusas para terminar la conversación",
	}
	if !slices.Equal(r.Notes, wantNotes) {
		t.Fatalf("notes = %v, want %v", r.Notes, wantNotes)
	}
	if rel.Score != 55 || rel.Emotion != Friendly {
		t.Fatal("React modified the relationship")
	}
}

func TestToneOverrides(t *testing.T) {
	tests := []struct {
		e    EmotionalState
		p    Personality
		want string
	}{
		{Friendly, Personality{}, "cálido"},
		{Friendly, Personality{Pride: 90}, "cordial pero distante"},
		{Fearful, Personality{Pride: 81}, "tenso pero digno"},
		{Hostile, Personality{Cunning: 90}, "amenazante pero sutil"},
		{Excited, Personality{}, "neutral"},
		{Sad, Personality{}, "melancólico"},
	}
	for _, tt := range tests {
		if got := tone(tt.e, tt.p); got != tt.want {
			t.Fatalf("tone(%v, %+v) = %q, want %q", tt.e, tt.p, got, tt.want)
		}
	}
}

func TestDialogueHints(t *testing.T) {
	n := &NPC{Personality: Personality{Pride: 80}, Secrets: []string{"s1"}}
	got := dialogueHints(n, Relationship{Trust: 50}, ActFriendly, Friendly)
	want := []string{
		"Sonríe genuinamente",
		"Tono cálido y acogedor",
		"Mantiene postura altiva y digna",
		"Evita ciertos temas o cambia de tema sutilmente",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("hints = %v, want %v", got, want)
	}
}

func TestShouldAct(t *testing.T) {
	s := NewSimulator(DefaultThresholds())

	if p := s.ShouldAct(traitor(), Relationship{Score: 20, Trust: 90}, 0.9); p == nil || p.Action != "betray" {
		t.Fatalf("proposal = %+v, want betray", p)
	}

	ally := &NPC{Code: "mira", Name: "Mira", ApparentRole: "healer", Secrets: []string{"origen"}}
	if p := s.ShouldAct(ally, Relationship{Score: 85, Trust: 90}, 0.6); p == nil || p.Action != "help" {
		t.Fatalf("proposal = %+v, want help", p)
	}
	p := s.ShouldAct(ally, Relationship{Score: 85, Trust: 90}, 0.3)
	if p == nil || p.Action != "confess" || p.Secret != "origen" {
		t.Fatalf("proposal = %+v, want confess origen", p)
	}
	if p := s.ShouldAct(ally, Relationship{Score: 85, Trust: 90, KnownSecrets: []string{"origen"}}, 0.3); p != nil {
		t.Fatalf("proposal = %+v, want none", p)
	}
}

func TestSecretAgenda(t *testing.T) {
	if got := SecretAgenda(traitor()); got == "" {
		t.Fatal("traitor has no agenda")
	}
	if got := SecretAgenda(&NPC{ApparentRole: "guard", TrueRole: "guard"}); got != "" {
		t.Fatalf("agenda = %q, want none", got)
	}
}

func TestBehaviorHints(t *testing.T) {
	n := &NPC{Personality: Personality{Cunning: 80}}
	got := BehaviorHints(n, &Relationship{Score: 20, Trust: 80}, ActHostile)
	want := []string{
		"Responde con ambigüedad, nunca da información directa",
		"Hostil, respuestas cortantes y desconfiadas",
		"Puede compartir información sensible",
		"Recuerda el último encuentro hostil, está en guardia",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("hints = %v, want %v", got, want)
	}
}
