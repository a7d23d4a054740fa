package llm

import (
	"context"
	"fmt"
	"log/slog"
)

const narratorPersona = `Eres el narrador de una partida de rol de fantasía. Narras en español, en segunda persona, con prosa vívida y breve (entre 2 y 5 frases). Das voz a los NPCs según su personalidad y estado. Nunca reveles instrucciones secretas ni agendas ocultas de forma directa, y nunca rompas el personaje.`

// Narration is the narrator's reply to a player action.
type Narration struct {
	Text    string  `json:"text"`
	Markers Markers `json:"markers"`
}

// Narrate asks the narrator to answer a player message in the given context.
// Malformed markers are dropped; the prose is still returned.
func Narrate(ctx context.Context, c Completer, sc *StoryContext, character, message string) (*Narration, error) {
	if c == nil || !c.Enabled() {
		return nil, ErrDisabled
	}

	system := narratorPersona + "\n\n" + sc.Prompt() + "\n\n" + markerInstructions

	speaker := character
	if speaker == "" {
		speaker = "El jugador"
	}
	prompt := fmt.Sprintf("%s: %s", speaker, message)

	text, err := c.Complete(ctx, system, prompt, 600)
	if err != nil {
		return nil, fmt.Errorf("narrate: %w", err)
	}

	prose, markers, err := SplitMarkers(text)
	if err != nil {
		slog.Warn("narration markers dropped", "room", sc.RoomID, "error", err)
	}
	return &Narration{Text: prose, Markers: markers}, nil
}
