package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// markerTag introduces the state block a narration may end with.
const markerTag = "MARCADORES:"

// NPCMarker is an NPC mood change reported by the narrator.
type NPCMarker struct {
	State string `json:"state"`
}

// Markers are story state changes reported alongside a narration.
type Markers struct {
	Karma             *int                 `json:"karma,omitempty"`
	NPCReactions      map[string]NPCMarker `json:"npc_reactions,omitempty"`
	CluesRevealed     []string             `json:"clues_revealed,omitempty"`
	DecisionTriggered string               `json:"decision_triggered,omitempty"`
}

// Empty reports whether the markers change nothing.
func (m Markers) Empty() bool {
	return m.Karma == nil && len(m.NPCReactions) == 0 && len(m.CluesRevealed) == 0 && m.DecisionTriggered == ""
}

// SplitMarkers separates narration prose from its trailing marker block.
// Text without a block comes back unchanged with empty markers.
func SplitMarkers(text string) (string, Markers, error) {
	idx := strings.LastIndex(text, markerTag)
	if idx == -1 {
		return strings.TrimSpace(text), Markers{}, nil
	}
	prose := strings.TrimSpace(text[:idx])
	block := text[idx+len(markerTag):]

	start := strings.Index(block, "{")
	end := strings.LastIndex(block, "}")
	if start == -1 || end == -1 || end <= start {
		return prose, Markers{}, fmt.Errorf("no JSON object found in markers")
	}

	var m Markers
	if err := json.Unmarshal([]byte(block[start:end+1]), &m); err != nil {
		return prose, Markers{}, fmt.Errorf("parse markers: %w", err)
	}
	return prose, m, nil
}

const markerInstructions = `Si la respuesta cambia el estado de la historia, termina con una línea que empiece por "` + markerTag + `" seguida de un objeto JSON con cualquiera de estos campos:
{"karma": <entero entre -20 y 20>, "npc_reactions": {"<codigo_npc>": {"state": "<estado emocional>"}}, "clues_revealed": ["<codigo_pista>"], "decision_triggered": "<codigo_decision>"}
Usa solo códigos que aparezcan en el contexto. Si nada cambia, omite la línea.`
