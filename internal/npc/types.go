// Package npc simulates how non-player characters react to the party:
// relationship and trust deltas, emotional state transitions, secret
// reveals and the one-shot betrayal and redemption triggers.
package npc

import (
	"fmt"
	"time"
)

// EmotionalState is an NPC's current mood.
type EmotionalState uint8

const (
	Neutral EmotionalState = iota
	Friendly
	Hostile
	Suspicious
	Nervous
	Fearful
	Angry
	Grateful
	Sad
	Excited
	Calculating
	Desperate
)

// NumEmotionalStates is the number of emotional states.
const NumEmotionalStates = 12

var emotionNames = [NumEmotionalStates]string{
	"neutral", "friendly", "hostile", "suspicious", "nervous", "fearful",
	"angry", "grateful", "sad", "excited", "calculating", "desperate",
}

func (e EmotionalState) String() string {
	if int(e) < NumEmotionalStates {
		return emotionNames[e]
	}
	return fmt.Sprintf("EmotionalState(%d)", uint8(e))
}

// MarshalText encodes the state by name.
func (e EmotionalState) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText decodes a state name. Unknown names decode to Neutral.
func (e *EmotionalState) UnmarshalText(b []byte) error {
	*e = ParseEmotionalState(string(b))
	return nil
}

// ParseEmotionalState returns the named state, or Neutral if unknown.
func ParseEmotionalState(name string) EmotionalState {
	for i, n := range emotionNames {
		if n == name {
			return EmotionalState(i)
		}
	}
	return Neutral
}

// Interaction is what the party did to an NPC, e.g. "helped" or "lied".
// Classifier interaction styles ("friendly", "hostile", ...) are valid
// interactions too. Unknown interactions have no effect.
type Interaction string

const (
	ActFriendly      Interaction = "friendly"
	ActHelped        Interaction = "helped"
	ActGift          Interaction = "gift"
	ActDefended      Interaction = "defended"
	ActSaved         Interaction = "saved"
	ActTrusted       Interaction = "trusted"
	ActHonest        Interaction = "honest"
	ActRespected     Interaction = "respected"
	ActHostile       Interaction = "hostile"
	ActInsulted      Interaction = "insulted"
	ActThreatened    Interaction = "threatened"
	ActAttacked      Interaction = "attacked"
	ActLied          Interaction = "lied"
	ActStole         Interaction = "stole"
	ActBetrayed      Interaction = "betrayed"
	ActNeutral       Interaction = "neutral"
	ActProfessional  Interaction = "professional"
	ActDistant       Interaction = "distant"
	ActConfrontation Interaction = "confrontation"
	ActSeductive     Interaction = "seductive"
	ActDeceptive     Interaction = "deceptive"
)

// Personality holds the ten traits, each in [0, 100].
type Personality struct {
	Cunning    int `json:"cunning"`
	Loyalty    int `json:"loyalty"`
	Patience   int `json:"patience"`
	Pride      int `json:"pride"`
	Cruelty    int `json:"cruelty"`
	Compassion int `json:"compassion"`
	Courage    int `json:"courage"`
	Greed      int `json:"greed"`
	Honor      int `json:"honor"`
	Wisdom     int `json:"wisdom"`
}

// DefaultPersonality is the personality of an NPC defined without traits.
func DefaultPersonality() Personality {
	return Personality{50, 50, 50, 50, 50, 50, 50, 50, 50, 50}
}

// Trait indexes Personality.
type Trait uint8

const (
	Cunning Trait = iota
	Loyalty
	Patience
	Pride
	Cruelty
	Compassion
	Courage
	Greed
	Honor
	Wisdom
)

// NumTraits is the number of personality traits.
const NumTraits = 10

func (p Personality) traits() [NumTraits]int {
	return [NumTraits]int{
		p.Cunning, p.Loyalty, p.Patience, p.Pride, p.Cruelty,
		p.Compassion, p.Courage, p.Greed, p.Honor, p.Wisdom,
	}
}

// NPC is a character definition from campaign data. A TrueRole that differs
// from ApparentRole marks a hidden agenda.
type NPC struct {
	ID            int64       `json:"id,omitempty"`
	Code          string      `json:"code"`
	Name          string      `json:"name"`
	ApparentRole  string      `json:"apparent_role"`
	TrueRole      string      `json:"true_role,omitempty"`
	Description   string      `json:"description,omitempty"`
	Appearance    string      `json:"appearance,omitempty"`
	DialogueStyle string      `json:"dialogue_style,omitempty"`
	Personality   Personality `json:"personality"`
	Secrets       []string    `json:"secrets,omitempty"`

	BetrayalThreshold   *int `json:"betrayal_threshold,omitempty"`
	RedemptionThreshold *int `json:"redemption_threshold,omitempty"`

	IsMajor bool `json:"is_major"`
}

// HasHiddenRole reports whether the NPC is not what it appears to be.
func (n *NPC) HasHiddenRole() bool {
	return n.TrueRole != "" && n.TrueRole != n.ApparentRole
}

// Relationship is the per-room state between the party and one NPC.
type Relationship struct {
	RoomID  int64  `json:"room_id"`
	NPCCode string `json:"npc_code"`

	Score int `json:"relationship_score"`
	Trust int `json:"trust_level"`

	KnownSecrets    []string  `json:"known_secrets"`
	Interactions    int       `json:"interactions_count"`
	LastInteraction time.Time `json:"last_interaction,omitzero"`

	Emotion             EmotionalState `json:"emotional_state"`
	BetrayalTriggered   bool           `json:"betrayal_triggered"`
	RedemptionTriggered bool           `json:"redemption_triggered"`

	Custom map[string]any `json:"custom_state,omitempty"`
}

// NewRelationship starts a relationship at score and trust.
func NewRelationship(roomID int64, npcCode string, score int) Relationship {
	return Relationship{
		RoomID:  roomID,
		NPCCode: npcCode,
		Score:   score,
		Trust:   score,
		Emotion: Neutral,
	}
}

// Knows reports whether the party already learned secret.
func (r *Relationship) Knows(secret string) bool {
	for _, s := range r.KnownSecrets {
		if s == secret {
			return true
		}
	}
	return false
}

// Reaction is the simulator's verdict on one interaction.
type Reaction struct {
	NPCCode string         `json:"npc_code"`
	NPCName string         `json:"npc_name"`
	Emotion EmotionalState `json:"emotional_response"`

	RelationshipDelta int `json:"relationship_change"`
	TrustDelta        int `json:"trust_change"`

	Tone  string   `json:"dialogue_tone"`
	Hints []string `json:"dialogue_hints"`

	RevealsSecret      string `json:"reveals_secret,omitempty"`
	TriggersBetrayal   bool   `json:"triggers_betrayal"`
	TriggersRedemption bool   `json:"triggers_redemption"`

	Notes []string `json:"behavior_notes"`
}

// Proposal is an action an NPC takes on its own initiative.
type Proposal struct {
	Action      string `json:"action"`
	Description string `json:"description"`
	Secret      string `json:"secret,omitempty"`
	Severity    string `json:"severity"`
}
