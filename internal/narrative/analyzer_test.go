package narrative

import (
	"math"
	"reflect"
	"testing"
)

type amountTable map[string]int

func (t amountTable) BaseAmount(code string) int { return t[code] }

var testAmounts = amountTable{
	"helped_innocent": 10,
	"showed_mercy":    15,
	"donated_to_poor": 12,
	"stole":           -8,
}

func TestAnalyzeCombatAgainstNPC(t *testing.T) {
	a := NewAnalyzer(testAmounts)
	res := a.Analyze(PlayerAction{
		Message:    "Ataco a Varen con mi espada",
		ActiveNPCs: []string{"varen"},
	})

	if res.ActionType != ActionCombat {
		t.Fatalf("action type = %v, want combat", res.ActionType)
	}
	if res.TargetNPC != "varen" {
		t.Fatalf("target = %q, want varen", res.TargetNPC)
	}
	if res.Confidence <= 0.5 {
		t.Fatalf("confidence = %v, want > 0.5", res.Confidence)
	}
	if len(res.KarmaActions) != 0 || res.TotalKarmaChange != 0 {
		t.Fatalf("karma = %+v total %d, want none", res.KarmaActions, res.TotalKarmaChange)
	}
	if res.NPCInteractions["varen"] != StyleNeutral {
		t.Fatalf("interaction = %q, want neutral", res.NPCInteractions["varen"])
	}
	if res.DetectedIntent != "attack" {
		t.Fatalf("intent = %q, want attack", res.DetectedIntent)
	}
}

func TestAnalyzeNoSignal(t *testing.T) {
	a := NewAnalyzer(testAmounts)
	res := a.Analyze(PlayerAction{Message: "   "})

	if res.ActionType != ActionNeutral || res.MoralAlignment != AlignNeutral {
		t.Fatalf("got %v/%v, want neutral/neutral", res.ActionType, res.MoralAlignment)
	}
	if math.Abs(res.Confidence-0.65) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.65", res.Confidence)
	}
	if res.TargetNPC != "" || res.TotalKarmaChange != 0 || res.TriggersDecision != "" {
		t.Fatalf("unexpected signal: %+v", res)
	}
	if res.CoherenceScore != 1.0 {
		t.Fatalf("coherence = %v, want 1.0 without a scene", res.CoherenceScore)
	}
}

func TestAnalyzeFoldsAccents(t *testing.T) {
	a := NewAnalyzer(testAmounts)
	for _, msg := range []string{"Exploro la habitación", "EXPLORO LA HABITACION"} {
		res := a.Analyze(PlayerAction{Message: msg})
		if res.ActionType != ActionExploration {
			t.Fatalf("%q: action type = %v, want exploration", msg, res.ActionType)
		}
		if res.Confidence != (1.0+0.8)/2 {
			t.Fatalf("%q: confidence = %v", msg, res.Confidence)
		}
	}
}

func TestAnalyzeKarma(t *testing.T) {
	a := NewAnalyzer(testAmounts)

	res := a.Analyze(PlayerAction{Message: "Ayudo al niño inocente"})
	if len(res.KarmaActions) != 1 || res.KarmaActions[0].ActionCode != "helped_innocent" {
		t.Fatalf("karma = %+v, want helped_innocent", res.KarmaActions)
	}
	if res.KarmaActions[0].Reason != "Acción detectada: helped_innocent" {
		t.Fatalf("reason = %q", res.KarmaActions[0].Reason)
	}
	if res.MoralAlignment != AlignHeroic {
		t.Fatalf("alignment = %v, want heroic", res.MoralAlignment)
	}

	res = a.Analyze(PlayerAction{Message: "Perdono al ladrón y le doy limosna"})
	if res.TotalKarmaChange != 27 {
		t.Fatalf("total karma = %d, want 27 (%+v)", res.TotalKarmaChange, res.KarmaActions)
	}
	if res.KarmaActions[0].ActionCode != "showed_mercy" || res.KarmaActions[1].ActionCode != "donated_to_poor" {
		t.Fatalf("karma order = %+v", res.KarmaActions)
	}
}

func TestAnalyzeNilAmounts(t *testing.T) {
	res := NewAnalyzer(nil).Analyze(PlayerAction{Message: "Perdono al ladrón"})
	if len(res.KarmaActions) != 1 || res.KarmaActions[0].Amount != 0 {
		t.Fatalf("karma = %+v, want one zero-amount change", res.KarmaActions)
	}
}

func TestAnalyzeInteractionStyle(t *testing.T) {
	a := NewAnalyzer(testAmounts)
	tests := []struct {
		msg       string
		style     string
		intent    string
		trigger   string
		actionNPC string
	}{
		{"Amenazo a Varen", StyleHostile, "threaten", "", "varen"},
		{"Acuso a Varen de traición", StyleConfrontation, "", "trigger_confrontation", "varen"},
		{"Saludo amablemente a Varen", StyleFriendly, "", "", "varen"},
	}
	for _, tt := range tests {
		res := a.Analyze(PlayerAction{Message: tt.msg, ActiveNPCs: []string{"mira", tt.actionNPC}})
		if res.TargetNPC != tt.actionNPC {
			t.Fatalf("%q: target = %q", tt.msg, res.TargetNPC)
		}
		if got := res.NPCInteractions[tt.actionNPC]; got != tt.style {
			t.Fatalf("%q: style = %q, want %q", tt.msg, got, tt.style)
		}
		if tt.intent != "" && res.DetectedIntent != tt.intent {
			t.Fatalf("%q: intent = %q, want %q", tt.msg, res.DetectedIntent, tt.intent)
		}
		if res.TriggersDecision != tt.trigger {
			t.Fatalf("%q: trigger = %q, want %q", tt.msg, res.TriggersDecision, tt.trigger)
		}
	}
}

func TestDetectTarget(t *testing.T) {
	tests := []struct {
		msg    string
		active []string
		want   string
	}{
		{"Hablo con Capitán Vex", []string{"capitan_vex"}, "capitan_vex"},
		{"Miro a la Reina", []string{"reina"}, "reina"},
		{"Le pregunto a Mira", []string{"varen", "mira"}, "mira"},
		{"Miro alrededor", []string{"varen"}, ""},
		{"Varen y Mira discuten", []string{"mira", "varen"}, "mira"},
	}
	for _, tt := range tests {
		if got := DetectTarget(tt.msg, tt.active); got != tt.want {
			t.Fatalf("DetectTarget(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestDialogueQuoted(t *testing.T) {
	res := NewAnalyzer(testAmounts).Analyze(PlayerAction{Message: `"Hola, amigo"`})
	if res.ActionType != ActionDialogue {
		t.Fatalf("action type = %v, want dialogue", res.ActionType)
	}
	if res.DetectedIntent != "communicate" {
		t.Fatalf("intent = %q, want communicate", res.DetectedIntent)
	}
}

func TestCoherence(t *testing.T) {
	tests := []struct {
		typ   ActionType
		scene SceneType
		want  float64
	}{
		{ActionCombat, "", 1.0},
		{ActionCombat, SceneCombat, 1.0},
		{ActionMagic, SceneCombat, 1.0},
		{ActionDialogue, SceneCombat, 0.9},
		{ActionNeutral, ScenePuzzle, 0.9},
		{ActionCombat, SceneSocial, 0.6},
		{ActionStealth, SceneSocial, 0.7},
		{ActionRest, SceneRevelation, 0.8},
		{ActionTravel, "unknown", 0.8},
	}
	for _, tt := range tests {
		got, notes := Coherence(tt.typ, tt.scene)
		if got != tt.want {
			t.Fatalf("Coherence(%v, %q) = %v, want %v", tt.typ, tt.scene, got, tt.want)
		}
		if tt.scene != "" && len(notes) != 1 {
			t.Fatalf("Coherence(%v, %q) notes = %v", tt.typ, tt.scene, notes)
		}
	}
}

func TestDetectEmotion(t *testing.T) {
	a := NewAnalyzer(nil)
	if got := a.DetectEmotion("Estoy furioso con él"); got != "angry" {
		t.Fatalf("emotion = %q, want angry", got)
	}
	if got := a.DetectEmotion("Desconfío del guardia"); got != "suspicious" {
		t.Fatalf("emotion = %q, want suspicious", got)
	}
	if got := a.DetectEmotion("Abro la puerta"); got != "" {
		t.Fatalf("emotion = %q, want none", got)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	a := NewAnalyzer(testAmounts)
	msgs := []string{
		"Ataco a Varen con mi espada",
		"Robo la bolsa sin que nadie me vea",
		"Persuado al guardia para que me deje pasar",
		"Lanzo un hechizo de fuego",
	}
	for _, msg := range msgs {
		in := PlayerAction{Message: msg, SceneType: SceneSocial, ActiveNPCs: []string{"guardia", "varen"}}
		first := a.Analyze(in)
		for i := 0; i < 5; i++ {
			if got := a.Analyze(in); !reflect.DeepEqual(got, first) {
				t.Fatalf("%q: analysis changed between runs:\n%+v\n%+v", msg, first, got)
			}
		}
	}
}

func TestActionTypeText(t *testing.T) {
	for i := 0; i < NumActionTypes; i++ {
		at := ActionType(i)
		if ParseActionType(at.String()) != at {
			t.Fatalf("ParseActionType(%q) did not round trip", at.String())
		}
	}
	if ParseActionType("dance") != ActionNeutral {
		t.Fatal("unknown action type should parse as neutral")
	}
}
