// Story recaps turn a room's logged events into a "previously on" summary.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RecapData holds the raw material for a recap.
type RecapData struct {
	Campaign   string
	Act        int
	Chapter    int
	Karma      int
	KarmaLevel string

	Decisions []string // "code: option", oldest first
	Events    []string // newest first
	Twists    []string
	Clues     []string
}

// Recap is a generated story summary.
type Recap struct {
	GeneratedAt time.Time `json:"generated_at"`
	Content     string    `json:"content"`
	Narrated    bool      `json:"narrated"`
}

// GenerateRecap summarizes a room's story. Without a narrator, or when the
// call fails, it falls back to a plain listing.
func GenerateRecap(ctx context.Context, c Completer, data *RecapData) *Recap {
	if c == nil || !c.Enabled() {
		return fallbackRecap(data)
	}

	system := `Eres el cronista de una partida de rol de fantasía. Escribe en español un resumen de "anteriormente en..." de no más de 150 palabras, en tono épico y en segunda persona del plural. No inventes hechos que no estén en las notas.`

	content, err := c.Complete(ctx, system, buildRecapPrompt(data), 400)
	if err != nil {
		return fallbackRecap(data)
	}
	return &Recap{GeneratedAt: time.Now(), Content: strings.TrimSpace(content), Narrated: true}
}

func buildRecapPrompt(data *RecapData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "CAMPAÑA: %s\n", data.Campaign)
	fmt.Fprintf(&b, "PUNTO ACTUAL: Acto %d, Capítulo %d\n", data.Act, data.Chapter)
	fmt.Fprintf(&b, "REPUTACIÓN: %s (karma: %d)\n\n", data.KarmaLevel, data.Karma)

	if len(data.Decisions) > 0 {
		b.WriteString("DECISIONES:\n")
		for _, d := range data.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}

	if len(data.Twists) > 0 {
		b.WriteString("REVELACIONES:\n")
		for _, t := range data.Twists {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}

	if len(data.Events) > 0 {
		b.WriteString("EVENTOS RECIENTES:\n")
		for i, e := range data.Events {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	return b.String()
}

func fallbackRecap(data *RecapData) *Recap {
	var b strings.Builder
	fmt.Fprintf(&b, "%s, acto %d, capítulo %d.", data.Campaign, data.Act, data.Chapter)
	fmt.Fprintf(&b, " Reputación: %s (karma %d).", data.KarmaLevel, data.Karma)
	if len(data.Decisions) > 0 {
		fmt.Fprintf(&b, " Decisiones: %s.", strings.Join(data.Decisions, "; "))
	}
	if len(data.Twists) > 0 {
		fmt.Fprintf(&b, " Revelaciones: %s.", strings.Join(data.Twists, "; "))
	}
	if len(data.Clues) > 0 {
		fmt.Fprintf(&b, " Pistas: %s.", strings.Join(data.Clues, ", "))
	}
	return &Recap{GeneratedAt: time.Now(), Content: b.String()}
}
