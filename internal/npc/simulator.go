package npc

import (
	"fmt"
	"slices"
)

// Thresholds are the relationship scores at which hidden-role NPCs betray
// or redeem themselves when the NPC does not set its own.
type Thresholds struct {
	Betrayal   int
	Redemption int
}

// DefaultThresholds returns betrayal 30 and redemption 80.
func DefaultThresholds() Thresholds {
	return Thresholds{Betrayal: 30, Redemption: 80}
}

type delta struct{ rel, trust int }

var baseReactions = map[Interaction]delta{
	ActFriendly:  {5, 3},
	ActHelped:    {10, 8},
	ActGift:      {8, 5},
	ActDefended:  {15, 12},
	ActSaved:     {25, 20},
	ActTrusted:   {5, 10},
	ActHonest:    {3, 8},
	ActRespected: {5, 3},

	ActHostile:    {-5, -5},
	ActInsulted:   {-8, -5},
	ActThreatened: {-10, -15},
	ActAttacked:   {-20, -25},
	ActLied:       {-5, -15},
	ActStole:      {-15, -20},
	ActBetrayed:   {-30, -40},

	ActNeutral:      {0, 0},
	ActProfessional: {1, 2},
	ActDistant:      {-2, -1},

	ActConfrontation: {-5, 0},
	ActSeductive:     {5, -2},
	ActDeceptive:     {0, -10},
}

// traitModifiers scale the base reaction by (1 + modifier * trait/100).
// A positive modifier makes the NPC feel the interaction more strongly.
var traitModifiers = [NumTraits]map[Interaction]float64{
	Cunning:    {ActDeceptive: -0.3, ActThreatened: -0.1},
	Loyalty:    {ActBetrayed: 0.5},
	Pride:      {ActInsulted: 0.4, ActRespected: 0.2},
	Cruelty:    {ActAttacked: -0.2},
	Compassion: {ActHelped: 0.4, ActSaved: 0.3, ActAttacked: 0.4},
	Greed:      {ActGift: 0.3},
	Honor:      {ActBetrayed: 0.4, ActLied: 0.3},
}

type trigger uint8

const (
	noTrigger trigger = iota
	positiveAction
	negativeAction
	threat
	kindness
	betrayal
	continuedKindness
	continuedNegative
	proofOfInnocence
	majorKindness
	continuedAggression
	reassurance
	continuedThreat
	protection
)

var interactionTriggers = map[Interaction]trigger{
	ActFriendly:   positiveAction,
	ActHelped:     positiveAction,
	ActGift:       positiveAction,
	ActTrusted:    positiveAction,
	ActDefended:   majorKindness,
	ActSaved:      majorKindness,
	ActHostile:    negativeAction,
	ActInsulted:   negativeAction,
	ActLied:       negativeAction,
	ActThreatened: threat,
	ActAttacked:   continuedAggression,
	ActBetrayed:   betrayal,
}

// transitions is the emotional state machine. States without an entry for
// a trigger stay where they are.
var transitions = [NumEmotionalStates]map[trigger]EmotionalState{
	Neutral: {
		positiveAction: Friendly,
		negativeAction: Suspicious,
		threat:         Fearful,
		kindness:       Grateful,
	},
	Friendly: {
		positiveAction:    Friendly,
		negativeAction:    Suspicious,
		betrayal:          Hostile,
		continuedKindness: Grateful,
	},
	Suspicious: {
		positiveAction:    Neutral,
		continuedNegative: Hostile,
		proofOfInnocence:  Neutral,
	},
	Hostile: {
		positiveAction:      Suspicious,
		majorKindness:       Neutral,
		continuedAggression: Hostile,
	},
	Grateful: {
		continuedKindness: Grateful,
		negativeAction:    Sad,
		betrayal:          Hostile,
	},
	Fearful: {
		reassurance:     Neutral,
		continuedThreat: Desperate,
		protection:      Grateful,
	},
}

var stateHints = [NumEmotionalStates][]string{
	Friendly:    {"Sonríe genuinamente", "Tono cálido y acogedor"},
	Suspicious:  {"Entrecierra los ojos", "Respuestas cautelosas"},
	Hostile:     {"Tono cortante", "Postura defensiva"},
	Grateful:    {"Expresión de agradecimiento", "Disposición a ayudar"},
	Fearful:     {"Voz temblorosa", "Evita confrontación directa"},
	Nervous:     {"Se toca el cuello/manos nerviosamente", "Evita el contacto visual"},
	Calculating: {"Pausa antes de responder", "Elige las palabras con cuidado"},
}

var stateNotes = [NumEmotionalStates]string{
	Suspicious: "Hace preguntas indirectas para saber más",
	Hostile:    "Busca excusas para terminar la conversación",
	Grateful:   "Ofrece información o ayuda voluntariamente",
}

var baseTones = [NumEmotionalStates]string{
	Neutral:     "formal",
	Friendly:    "cálido",
	Suspicious:  "cauteloso",
	Hostile:     "cortante",
	Grateful:    "efusivo",
	Fearful:     "tembloroso",
	Nervous:     "vacilante",
	Calculating: "medido",
	Angry:       "agresivo",
	Sad:         "melancólico",
}

// Simulator computes NPC reactions. It holds only configuration and is safe
// for concurrent use.
type Simulator struct {
	thresholds Thresholds
}

// NewSimulator returns a simulator using th for NPCs without their own
// thresholds.
func NewSimulator(th Thresholds) *Simulator {
	return &Simulator{thresholds: th}
}

// React computes how npc responds to an interaction given the current
// relationship. Neither input is modified.
func (s *Simulator) React(n *NPC, rel Relationship, act Interaction) Reaction {
	relDelta, trustDelta := Deltas(n.Personality, act)
	emotion := nextEmotion(rel.Emotion, act, relDelta)

	return Reaction{
		NPCCode:            n.Code,
		NPCName:            n.Name,
		Emotion:            emotion,
		RelationshipDelta:  relDelta,
		TrustDelta:         trustDelta,
		Tone:               tone(emotion, n.Personality),
		Hints:              dialogueHints(n, rel, act, emotion),
		RevealsSecret:      secretToReveal(n, rel, act, trustDelta),
		TriggersBetrayal:   s.CheckBetrayal(n, rel, relDelta),
		TriggersRedemption: s.CheckRedemption(n, rel, relDelta),
		Notes:              behaviorNotes(n, rel, emotion),
	}
}

// Deltas returns the relationship and trust change an interaction causes
// for a given personality. Unknown interactions yield zero.
func Deltas(p Personality, act Interaction) (int, int) {
	base := baseReactions[act]
	relMod, trustMod := 0.0, 0.0
	for t, v := range p.traits() {
		m, ok := traitModifiers[t][act]
		if !ok {
			continue
		}
		contrib := m * float64(v) / 100
		relMod += contrib
		trustMod += contrib * 0.8
	}
	return int(float64(base.rel) * (1 + relMod)), int(float64(base.trust) * (1 + trustMod))
}

func nextEmotion(cur EmotionalState, act Interaction, relDelta int) EmotionalState {
	trig, ok := interactionTriggers[act]
	if !ok {
		switch {
		case relDelta > 5:
			trig = positiveAction
		case relDelta < -5:
			trig = negativeAction
		default:
			return cur
		}
	}
	if int(cur) >= NumEmotionalStates {
		return cur
	}
	if next, ok := transitions[cur][trig]; ok {
		return next
	}
	return cur
}

func dialogueHints(n *NPC, rel Relationship, act Interaction, emotion EmotionalState) []string {
	hints := []string{}
	if int(emotion) < NumEmotionalStates {
		hints = append(hints, stateHints[emotion]...)
	}
	p := n.Personality
	if p.Pride > 70 {
		hints = append(hints, "Mantiene postura altiva y digna")
	}
	if p.Cunning > 70 {
		hints = append(hints, "Respuestas con doble sentido o ambiguas")
	}
	if p.Compassion > 70 && (act == ActHelped || act == ActSaved) {
		hints = append(hints, "Muestra emoción genuina")
	}
	if len(n.Secrets) > 0 && rel.Trust < 60 {
		hints = append(hints, "Evita ciertos temas o cambia de tema sutilmente")
	}
	return hints
}

func clamp(v int) int {
	return max(0, min(100, v))
}

// secretToReveal returns the first secret the party does not know yet if
// the interaction earns it, or "".
func secretToReveal(n *NPC, rel Relationship, act Interaction, trustDelta int) string {
	var unknown string
	for _, sec := range n.Secrets {
		if !rel.Knows(sec) {
			unknown = sec
			break
		}
	}
	if unknown == "" {
		return ""
	}
	trust := clamp(rel.Trust + trustDelta)
	switch {
	case trust >= 80 && slices.Contains([]Interaction{ActSaved, ActDefended, ActTrusted}, act):
		return unknown
	case trust >= 70 && rel.Interactions >= 5 && slices.Contains([]Interaction{ActFriendly, ActHelped, ActHonest}, act):
		return unknown
	}
	return ""
}

func (s *Simulator) betrayalThreshold(n *NPC) int {
	if n.BetrayalThreshold != nil {
		return *n.BetrayalThreshold
	}
	return s.thresholds.Betrayal
}

func (s *Simulator) redemptionThreshold(n *NPC) int {
	if n.RedemptionThreshold != nil {
		return *n.RedemptionThreshold
	}
	return s.thresholds.Redemption
}

// CheckBetrayal reports whether a hidden-role NPC turns on the party when
// the relationship moves by relDelta. It fires at most once per
// relationship and never after a redemption.
func (s *Simulator) CheckBetrayal(n *NPC, rel Relationship, relDelta int) bool {
	if rel.BetrayalTriggered || rel.RedemptionTriggered || !n.HasHiddenRole() {
		return false
	}
	return clamp(rel.Score+relDelta) < s.betrayalThreshold(n)
}

// CheckRedemption reports whether a hidden-role NPC abandons its agenda
// when the relationship moves by relDelta. It fires at most once per
// relationship and never after a betrayal.
func (s *Simulator) CheckRedemption(n *NPC, rel Relationship, relDelta int) bool {
	if rel.RedemptionTriggered || rel.BetrayalTriggered || !n.HasHiddenRole() {
		return false
	}
	return clamp(rel.Score+relDelta) >= s.redemptionThreshold(n)
}

func behaviorNotes(n *NPC, rel Relationship, emotion EmotionalState) []string {
	notes := []string{}
	if n.HasHiddenRole() {
		switch n.TrueRole {
		case "traitor":
			if rel.Score > 60 {
				notes = append(notes, fmt.Sprintf("%s mantiene su fachada pero internamente planea cómo usar esta confianza", n.Name))
			} else {
				notes = append(notes, fmt.Sprintf("%s comienza a ver a los jugadores como una amenaza a sus planes", n.Name))
			}
		case "secret_ally":
			if rel.Trust > 50 {
				notes = append(notes, fmt.Sprintf("%s considera revelar su verdadera lealtad", n.Name))
			}
		}
	}
	if int(emotion) < NumEmotionalStates && stateNotes[emotion] != "" {
		notes = append(notes, stateNotes[emotion])
	}
	return notes
}

func tone(emotion EmotionalState, p Personality) string {
	base := "neutral"
	if int(emotion) < NumEmotionalStates && baseTones[emotion] != "" {
		base = baseTones[emotion]
	}
	switch {
	case p.Pride > 80 && emotion == Friendly:
		return "cordial pero distante"
	case p.Pride > 80 && emotion == Fearful:
		return "tenso pero digno"
	case p.Cunning > 80 && emotion == Hostile:
		return "amenazante pero sutil"
	}
	return base
}

// ShouldAct proposes something the NPC does unprompted, or nil. danger is
// the scene's danger level in [0, 1]. Betrayal outranks help, which
// outranks confession.
func (s *Simulator) ShouldAct(n *NPC, rel Relationship, danger float64) *Proposal {
	if s.CheckBetrayal(n, rel, 0) {
		return &Proposal{
			Action:      "betray",
			Description: fmt.Sprintf("%s decide actuar contra los jugadores", n.Name),
			Severity:    "high",
		}
	}
	if rel.Score > 80 && rel.Trust > 70 && danger > 0.5 {
		return &Proposal{
			Action:      "help",
			Description: fmt.Sprintf("%s ofrece ayuda inesperada", n.Name),
			Severity:    "medium",
		}
	}
	if rel.Trust > 85 {
		for _, sec := range n.Secrets {
			if !rel.Knows(sec) {
				return &Proposal{
					Action:      "confess",
					Description: fmt.Sprintf("%s decide confesar algo importante", n.Name),
					Secret:      sec,
					Severity:    "medium",
				}
			}
		}
	}
	return nil
}
