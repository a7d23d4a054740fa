package story

// ProgressUpdate is a partial change to a room's state. Nil and zero fields
// leave the state alone.
type ProgressUpdate struct {
	RoomID int64 `json:"room_id"`

	NewAct     *int `json:"new_act,omitempty"`
	NewChapter *int `json:"new_chapter,omitempty"`
	NewScene   *int `json:"new_scene,omitempty"`

	KarmaChange    int               `json:"karma_change,omitempty"`
	FactionChanges map[string]int    `json:"faction_changes,omitempty"`
	NewFlags       map[string]any    `json:"new_flags,omitempty"`
	NewClues       []string          `json:"new_clues,omitempty"`
	DecisionMade   map[string]string `json:"decision_made,omitempty"`

	Tension *TensionLevel `json:"tension_level,omitempty"`

	SetPendingDecision     string `json:"set_pending_decision,omitempty"`
	PendingDecisionTurns   int    `json:"pending_decision_turns,omitempty"`
	ClearPendingDecision   bool   `json:"clear_pending_decision,omitempty"`
	DecrementDecisionTurns bool   `json:"decrement_decision_turns,omitempty"`
}
