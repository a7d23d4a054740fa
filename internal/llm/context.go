package llm

import (
	"fmt"
	"strings"
)

// Hint kinds carried in a StoryContext.
const (
	HintSecret     = "secret"
	HintForeshadow = "foreshadow"
	HintAtmosphere = "atmosphere"
)

// NPCBrief describes an NPC present in the scene.
type NPCBrief struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	ApparentRole    string   `json:"apparent_role"`
	Description     string   `json:"description,omitempty"`
	DialogueStyle   string   `json:"dialogue_style,omitempty"`
	Mood            string   `json:"current_mood"`
	Relationship    int      `json:"relationship_with_players"`
	Trust           int      `json:"trust_level"`
	LastInteraction string   `json:"last_interaction,omitempty"`
	SecretAgenda    string   `json:"secret_agenda,omitempty"`
	BehaviorHints   []string `json:"behavior_hints,omitempty"`
	KnownSecrets    []string `json:"known_secrets,omitempty"`
}

// Hint is a narrative instruction ranked by priority.
type Hint struct {
	Kind      string `json:"type"`
	Content   string `json:"content"`
	Priority  int    `json:"priority"`
	RelatedTo string `json:"related_to,omitempty"`

	// TwistID and ElementID identify the source of a foreshadowing hint.
	TwistID   string `json:"twist_id,omitempty"`
	ElementID string `json:"element_id,omitempty"`
}

// DecisionBrief is the decision the party is being steered toward.
type DecisionBrief struct {
	Code      string   `json:"decision_code"`
	Title     string   `json:"title"`
	Options   []string `json:"options,omitempty"`
	TurnsLeft int      `json:"turns_remaining,omitempty"`
}

// StoryContext is everything the narrator needs for one room.
type StoryContext struct {
	RoomID              int64          `json:"room_id"`
	Campaign            string         `json:"campaign"`
	Act                 int            `json:"current_act"`
	Chapter             int            `json:"current_chapter"`
	Scene               int            `json:"current_scene"`
	SceneTitle          string         `json:"scene_title,omitempty"`
	SceneType           string         `json:"scene_type"`
	SceneContext        string         `json:"scene_context"`
	Tone                string         `json:"narrative_tone"`
	Tension             string         `json:"tension_level"`
	Karma               int            `json:"karma"`
	KarmaContext        string         `json:"karma_context"`
	FactionContext      string         `json:"faction_context,omitempty"`
	NPCs                []NPCBrief     `json:"npcs_present"`
	Hints               []Hint         `json:"narrative_hints"`
	AvailableClues      []string       `json:"available_clues"`
	PendingDecision     *DecisionBrief `json:"pending_decision,omitempty"`
	StorySummary        string         `json:"story_summary,omitempty"`
	SpecialInstructions []string       `json:"special_instructions,omitempty"`
}

// Secrets returns the content of secret hints.
func (c *StoryContext) Secrets() []string {
	return c.hints(HintSecret)
}

// Foreshadowing returns the content of foreshadowing and atmosphere hints.
func (c *StoryContext) Foreshadowing() []string {
	return append(c.hints(HintForeshadow), c.hints(HintAtmosphere)...)
}

func (c *StoryContext) hints(kind string) []string {
	var out []string
	for _, h := range c.Hints {
		if h.Kind == kind && h.Content != "" {
			out = append(out, h.Content)
		}
	}
	return out
}

// Prompt renders the context as a system prompt section.
func (c *StoryContext) Prompt() string {
	var sections []string

	sections = append(sections, "CONTEXTO DE ESCENA:\n"+c.SceneContext)

	if len(c.NPCs) > 0 {
		var b strings.Builder
		b.WriteString("NPCs PRESENTES:")
		for _, n := range c.NPCs {
			role := n.ApparentRole
			if role == "" {
				role = "desconocido"
			}
			fmt.Fprintf(&b, "\n- %s (%s)", n.Name, role)
			if n.Mood != "" {
				fmt.Fprintf(&b, " - Estado: %s", n.Mood)
			}
			if n.SecretAgenda != "" {
				fmt.Fprintf(&b, "\n  Agenda oculta: %s", n.SecretAgenda)
			}
			for _, h := range n.BehaviorHints {
				fmt.Fprintf(&b, "\n  * %s", h)
			}
		}
		sections = append(sections, b.String())
	}

	sections = append(sections,
		"TONO NARRATIVO: "+c.Tone,
		"NIVEL DE TENSIÓN: "+c.Tension,
		"CONTEXTO DE KARMA: "+c.KarmaContext,
	)
	if c.FactionContext != "" {
		sections = append(sections, "FACCIONES: "+c.FactionContext)
	}

	if secrets := c.Secrets(); len(secrets) > 0 {
		sections = append(sections, "INSTRUCCIONES SECRETAS (NO REVELAR DIRECTAMENTE):\n"+bullets(secrets))
	}
	if hints := c.Foreshadowing(); len(hints) > 0 {
		sections = append(sections, "PISTAS A INCLUIR SUTILMENTE:\n"+bullets(hints))
	}
	if len(c.SpecialInstructions) > 0 {
		sections = append(sections, "INSTRUCCIONES:\n"+bullets(c.SpecialInstructions))
	}
	if c.PendingDecision != nil {
		title := c.PendingDecision.Title
		if title == "" {
			title = "Sin título"
		}
		sections = append(sections, "DECISIÓN PENDIENTE: "+title+
			"\nGuía al jugador hacia tomar esta decisión de forma natural.")
	}
	if c.StorySummary != "" {
		sections = append(sections, "RESUMEN:\n"+c.StorySummary)
	}

	return strings.Join(sections, "\n\n")
}

func bullets(lines []string) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(l)
	}
	return b.String()
}
