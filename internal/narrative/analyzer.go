package narrative

import (
	"regexp"
	"strings"
)

// KarmaAmounts supplies the base karma amount for an action code.
// karma.Ledger satisfies it.
type KarmaAmounts interface {
	BaseAmount(code string) int
}

// Analyzer classifies player actions. It holds no mutable state and is safe
// for concurrent use.
type Analyzer struct {
	amounts KarmaAmounts
}

// NewAnalyzer returns an Analyzer that prices detected karma actions with
// amounts.
func NewAnalyzer(amounts KarmaAmounts) *Analyzer {
	return &Analyzer{amounts: amounts}
}

// Analyze classifies a player action. It never fails: text that matches
// nothing yields a neutral analysis.
func (a *Analyzer) Analyze(action PlayerAction) ActionAnalysis {
	text := Fold(action.Message)

	actionType, typeConf := classifyActionType(text)
	alignment, alignConf := classifyAlignment(text)
	karma := a.detectKarma(text)
	target := DetectTarget(action.Message, action.ActiveNPCs)
	coherence, notes := Coherence(actionType, action.SceneType)

	res := ActionAnalysis{
		OriginalMessage: action.Message,
		ActionType:      actionType,
		MoralAlignment:  alignment,
		Confidence:      (typeConf + alignConf) / 2,
		TargetNPC:       target,
		DetectedIntent:  detectIntent(text, actionType),
		DetectedEmotion: firstMatch(emotionRules, text),
		KarmaActions:    karma,
		NPCInteractions: make(map[string]string),
		CoherenceScore:  coherence,
		CoherenceNotes:  notes,
	}
	for _, k := range karma {
		res.TotalKarmaChange += k.Amount
	}
	if target != "" {
		style := firstMatch(styleRules, text)
		if style == "" {
			style = StyleNeutral
		}
		res.NPCInteractions[target] = style
	}
	if trig := firstMatch(decisionRules, text); trig != "" {
		res.TriggersDecision = "trigger_" + trig
	}
	return res
}

// DetectEmotion returns the player's emotion expressed in message, or "".
func (a *Analyzer) DetectEmotion(message string) string {
	return firstMatch(emotionRules, Fold(message))
}

func classifyActionType(text string) (ActionType, float64) {
	best, bestScore := ActionNeutral, 0.0
	for t, patterns := range actionRules {
		if len(patterns) == 0 {
			continue
		}
		matches := 0
		for _, p := range patterns {
			if p.MatchString(text) {
				matches++
			}
		}
		score := float64(matches) / float64(len(patterns))
		if score > bestScore {
			best, bestScore = ActionType(t), score
		}
	}
	if bestScore == 0 {
		return ActionNeutral, 0.5
	}
	return best, min(bestScore*2, 1.0)
}

func classifyAlignment(text string) (MoralAlignment, float64) {
	best, bestCount := AlignNeutral, 0
	for al, patterns := range alignmentRules {
		matches := 0
		for _, p := range patterns {
			if p.MatchString(text) {
				matches++
			}
		}
		if matches > bestCount {
			best, bestCount = MoralAlignment(al), matches
		}
	}
	if bestCount == 0 {
		return AlignNeutral, 0.8
	}
	return best, min(float64(bestCount)*0.3+0.5, 1.0)
}

func (a *Analyzer) detectKarma(text string) []KarmaChange {
	out := []KarmaChange{}
	for _, r := range karmaRules {
		if !r.match(text) {
			continue
		}
		amount := 0
		if a.amounts != nil {
			amount = a.amounts.BaseAmount(r.name)
		}
		out = append(out, KarmaChange{
			ActionCode: r.name,
			Amount:     amount,
			Reason:     "Acción detectada: " + r.name,
		})
	}
	return out
}

// DetectTarget returns the first active NPC code that message addresses, or
// "". A code matches if it appears verbatim; otherwise a short preposition
// phrase ("a varen", "con el herrero") is tried, with underscores in the
// code read as spaces.
func DetectTarget(message string, activeNPCs []string) string {
	raw := strings.ToLower(message)
	folded := Fold(message)
	for _, code := range activeNPCs {
		if code == "" {
			continue
		}
		if strings.Contains(raw, strings.ToLower(code)) {
			return code
		}
		name := regexp.QuoteMeta(Fold(strings.ReplaceAll(code, "_", " ")))
		re, err := regexp.Compile(`\b(a|con|al|el|la|a las?|a los?) ` + name + `\b`)
		if err != nil {
			continue
		}
		if re.MatchString(folded) {
			return code
		}
	}
	return ""
}

func detectIntent(text string, t ActionType) string {
	if intent := firstMatch(intentRules, text); intent != "" {
		return intent
	}
	return defaultIntents[t]
}

// Coherence scores how well an action type fits a scene type. An empty scene
// type is always coherent.
func Coherence(t ActionType, scene SceneType) (float64, []string) {
	if scene == "" {
		return 1.0, []string{}
	}
	for _, exp := range sceneExpected[scene] {
		if exp == t {
			return 1.0, []string{"Acción coherente con la escena"}
		}
	}
	switch {
	case t == ActionDialogue || t == ActionNeutral:
		return 0.9, []string{"Acción generalmente aceptable"}
	case t == ActionCombat && scene != SceneCombat:
		return 0.6, []string{"Acción de combate en escena no combativa - puede escalar la situación"}
	case t == ActionStealth && scene == SceneSocial:
		return 0.7, []string{"Intento de sigilo en situación social - puede parecer sospechoso"}
	}
	return 0.8, []string{"Acción no típica para esta escena pero posible"}
}
