// Package story holds the per-room story state snapshot shared by the
// scheduler, the graph queries and the director.
package story

import (
	"fmt"
	"slices"
	"time"
)

// TensionLevel is the dramatic tension of the current scene.
type TensionLevel uint8

const (
	TensionLow TensionLevel = iota
	TensionNormal
	TensionHigh
	TensionCritical
)

// NumTensionLevels is the number of tension levels.
const NumTensionLevels = 4

var tensionNames = [NumTensionLevels]string{"low", "normal", "high", "critical"}

// tensionDanger is the story danger level each tension implies, in [0, 1].
var tensionDanger = [NumTensionLevels]float64{0.1, 0.3, 0.6, 0.9}

var tensionHints = [NumTensionLevels]string{
	"Mantén un ritmo relajado, permite exploración",
	"Balance entre acción y narrativa",
	"Aumenta la urgencia, las consecuencias se sienten cercanas",
	"Cada acción puede ser decisiva, describe con intensidad dramática",
}

func (t TensionLevel) String() string {
	if int(t) < NumTensionLevels {
		return tensionNames[t]
	}
	return fmt.Sprintf("TensionLevel(%d)", uint8(t))
}

// Danger returns the danger level for t.
func (t TensionLevel) Danger() float64 {
	if int(t) < NumTensionLevels {
		return tensionDanger[t]
	}
	return tensionDanger[TensionNormal]
}

// Hint returns narration pacing advice for t.
func (t TensionLevel) Hint() string {
	if int(t) < NumTensionLevels {
		return tensionHints[t]
	}
	return tensionHints[TensionNormal]
}

// MarshalText encodes the level by name.
func (t TensionLevel) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a level name. Unknown names decode to normal.
func (t *TensionLevel) UnmarshalText(b []byte) error {
	*t = ParseTension(string(b))
	return nil
}

// ParseTension returns the named level, or TensionNormal if unknown.
func ParseTension(name string) TensionLevel {
	for i, n := range tensionNames {
		if n == name {
			return TensionLevel(i)
		}
	}
	return TensionNormal
}

// State is the progress of one room through its campaign.
type State struct {
	RoomID     int64  `json:"room_id"`
	CampaignID string `json:"campaign_id"`

	Act     int `json:"current_act"`
	Chapter int `json:"current_chapter"`
	Scene   int `json:"current_scene"`

	Karma            int               `json:"karma"`
	FactionStandings map[string]int    `json:"faction_standings"`
	DecisionsMade    map[string]string `json:"decisions_made"`
	Flags            map[string]any    `json:"story_flags"`
	RevealedClues    []string          `json:"revealed_clues"`
	SideStories      []string          `json:"side_stories_completed,omitempty"`

	SceneType  string       `json:"scene_type,omitempty"`
	Tension    TensionLevel `json:"tension_level"`
	ActiveNPCs []string     `json:"active_npcs"`

	PendingDecision      string `json:"pending_decision,omitempty"`
	PendingDecisionTurns int    `json:"pending_decision_turns,omitempty"`

	EndingPath string `json:"ending_path,omitempty"`

	Twists TwistLog `json:"twist_log"`

	StartedAt time.Time `json:"started_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// TwistLog is the scheduler's one-shot bookkeeping for a room.
type TwistLog struct {
	Revealed     []string       `json:"revealed"`
	Deployed     []string       `json:"deployed_herrings"`
	Foreshadowed map[string]int `json:"foreshadowed"`
	UsedElements []string       `json:"used_elements"`
}

// New returns the starting state of a room in a campaign.
func New(roomID int64, campaignID string, karma int) *State {
	now := time.Now()
	return &State{
		RoomID:           roomID,
		CampaignID:       campaignID,
		Act:              1,
		Chapter:          1,
		Scene:            1,
		Karma:            karma,
		FactionStandings: map[string]int{},
		DecisionsMade:    map[string]string{},
		Flags:            map[string]any{},
		RevealedClues:    []string{},
		ActiveNPCs:       []string{},
		Tension:          TensionNormal,
		StartedAt:        now,
		UpdatedAt:        now,
	}
}

// Normalize replaces nil collections with empty ones so a state decoded from
// storage can be mutated safely.
func (s *State) Normalize() {
	if s.FactionStandings == nil {
		s.FactionStandings = map[string]int{}
	}
	if s.DecisionsMade == nil {
		s.DecisionsMade = map[string]string{}
	}
	if s.Flags == nil {
		s.Flags = map[string]any{}
	}
	if s.RevealedClues == nil {
		s.RevealedClues = []string{}
	}
	if s.ActiveNPCs == nil {
		s.ActiveNPCs = []string{}
	}
	if s.Twists.Foreshadowed == nil {
		s.Twists.Foreshadowed = map[string]int{}
	}
	if s.Act < 1 {
		s.Act = 1
	}
}

// HasClue reports whether the room has revealed clue.
func (s *State) HasClue(clue string) bool {
	return slices.Contains(s.RevealedClues, clue)
}

// AddClues appends clues not yet revealed, keeping order.
func (s *State) AddClues(clues ...string) {
	for _, c := range clues {
		if c != "" && !s.HasClue(c) {
			s.RevealedClues = append(s.RevealedClues, c)
		}
	}
}

// Flag reports whether flag is set to a truthy value.
func (s *State) Flag(name string) bool {
	return Truthy(s.Flags[name])
}

// Truthy reports whether a decoded flag value counts as set: non-nil,
// non-zero numbers, non-empty strings and collections, and true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

// PendingDecision is a decision the room must make within Turns turns.
type PendingDecision struct {
	RoomID int64     `json:"room_id"`
	Code   string    `json:"decision_code"`
	Turns  int       `json:"turns_remaining"`
	SetAt  time.Time `json:"set_at"`
}
