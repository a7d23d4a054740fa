// Package narrative classifies free-text player actions into structured
// action records: type, moral alignment, target NPC, karma changes and how
// well the action fits the current scene.
package narrative

import "fmt"

// ActionType is the closed set of player action categories.
type ActionType uint8

const (
	ActionDialogue ActionType = iota
	ActionExploration
	ActionCombat
	ActionStealth
	ActionSocial
	ActionInvestigation
	ActionItemUse
	ActionSkillCheck
	ActionDecision
	ActionRest
	ActionTravel
	ActionMagic
	ActionNeutral
)

// NumActionTypes is the number of action types. Tables indexed by ActionType
// are sized with it so a missing entry is a compile error.
const NumActionTypes = 13

var actionTypeNames = [NumActionTypes]string{
	"dialogue", "exploration", "combat", "stealth", "social", "investigation",
	"item_use", "skill_check", "decision", "rest", "travel", "magic", "neutral",
}

func (t ActionType) String() string {
	if int(t) < NumActionTypes {
		return actionTypeNames[t]
	}
	return fmt.Sprintf("ActionType(%d)", uint8(t))
}

// MarshalText encodes the action type by name.
func (t ActionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes an action type name. Unknown names decode to neutral.
func (t *ActionType) UnmarshalText(b []byte) error {
	*t = ParseActionType(string(b))
	return nil
}

// ParseActionType returns the action type with the given name, or
// ActionNeutral if the name is unknown.
func ParseActionType(name string) ActionType {
	for i, n := range actionTypeNames {
		if n == name {
			return ActionType(i)
		}
	}
	return ActionNeutral
}

// MoralAlignment grades the morality of an action.
type MoralAlignment uint8

const (
	AlignHeroic MoralAlignment = iota
	AlignGood
	AlignNeutral
	AlignSelfish
	AlignVillainous
)

// NumAlignments is the number of moral alignments.
const NumAlignments = 5

var alignmentNames = [NumAlignments]string{"heroic", "good", "neutral", "selfish", "villainous"}

func (a MoralAlignment) String() string {
	if int(a) < NumAlignments {
		return alignmentNames[a]
	}
	return fmt.Sprintf("MoralAlignment(%d)", uint8(a))
}

// MarshalText encodes the alignment by name.
func (a MoralAlignment) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes an alignment name. Unknown names decode to neutral.
func (a *MoralAlignment) UnmarshalText(b []byte) error {
	*a = AlignNeutral
	for i, n := range alignmentNames {
		if n == string(b) {
			*a = MoralAlignment(i)
		}
	}
	return nil
}

// SceneType is the kind of scene an action happens in. Scene types come from
// campaign data, so the set is open; the classifier knows the ones below.
type SceneType string

const (
	SceneNarrative  SceneType = "narrative"
	SceneCombat     SceneType = "combat"
	ScenePuzzle     SceneType = "puzzle"
	SceneSocial     SceneType = "social"
	SceneRevelation SceneType = "revelation"
	SceneDecision   SceneType = "decision"
)

// Interaction styles reported per targeted NPC.
const (
	StyleFriendly      = "friendly"
	StyleHostile       = "hostile"
	StyleDeceptive     = "deceptive"
	StyleConfrontation = "confrontation"
	StyleSeductive     = "seductive"
	StyleProfessional  = "professional"
	StyleNeutral       = "neutral"
)

// PlayerAction is one turn of raw player input.
type PlayerAction struct {
	RoomID         int64     `json:"room_id"`
	UserID         int64     `json:"user_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	Message        string    `json:"message"`
	CharacterName  string    `json:"character_name,omitempty"`
	CharacterClass string    `json:"character_class,omitempty"`
	SceneType      SceneType `json:"current_scene_type,omitempty"`
	ActiveNPCs     []string  `json:"active_npcs,omitempty"`
}

// KarmaChange is one detected karma-affecting action.
type KarmaChange struct {
	ActionCode string `json:"action_code"`
	Amount     int    `json:"amount"`
	Reason     string `json:"reason"`
}

// ActionAnalysis is the classifier output for a PlayerAction.
type ActionAnalysis struct {
	OriginalMessage string         `json:"original_message"`
	ActionType      ActionType     `json:"action_type"`
	MoralAlignment  MoralAlignment `json:"moral_alignment"`
	Confidence      float64        `json:"confidence"`

	TargetNPC       string `json:"target_npc,omitempty"`
	DetectedIntent  string `json:"detected_intent,omitempty"`
	DetectedEmotion string `json:"detected_emotion,omitempty"`

	KarmaActions     []KarmaChange `json:"karma_actions"`
	TotalKarmaChange int           `json:"total_karma_change"`

	TriggersDecision string            `json:"triggers_decision,omitempty"`
	NPCInteractions  map[string]string `json:"npc_interactions"`

	CoherenceScore float64  `json:"coherence_score"`
	CoherenceNotes []string `json:"coherence_notes"`
}
