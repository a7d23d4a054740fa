// Package campaign holds the authored structure of a campaign: its acts,
// chapters and scenes, decisions, endings, twists, red herrings, NPCs and
// clues. Campaigns are loaded from JSON documents.
package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/talgya/story-engine/internal/karma"
	"github.com/talgya/story-engine/internal/narrative"
	"github.com/talgya/story-engine/internal/npc"
	"github.com/talgya/story-engine/internal/story"
	"github.com/talgya/story-engine/internal/twist"
)

// ErrUnknownCampaign is returned when a campaign ID has no definition.
var ErrUnknownCampaign = errors.New("unknown campaign")

// Campaign is an authored story.
type Campaign struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Synopsis   string `json:"synopsis,omitempty"`
	Tone       string `json:"tone,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	TotalActs  int    `json:"total_acts,omitempty"`

	// StartingKarma overrides the configured default when set.
	StartingKarma *int `json:"starting_karma,omitempty"`
	// AutoHerrings derives a red herring for every twist that has none.
	AutoHerrings bool `json:"auto_red_herrings,omitempty"`

	Acts        []Act              `json:"acts"`
	Decisions   []Decision         `json:"decisions,omitempty"`
	Endings     []Ending           `json:"endings,omitempty"`
	Twists      []twist.Twist      `json:"twists,omitempty"`
	RedHerrings []twist.RedHerring `json:"red_herrings,omitempty"`
	NPCs        []NPC              `json:"npcs,omitempty"`
	Clues       []Clue             `json:"clues,omitempty"`

	scenes    map[int]*Located
	decisions map[string]*Decision
	npcs      map[string]*NPC
	endings   map[string]*Ending
}

// Act is the top level of a campaign's structure.
type Act struct {
	Number      int       `json:"act_number"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Objectives  []string  `json:"objectives,omitempty"`
	Chapters    []Chapter `json:"chapters"`
}

// Chapter groups scenes within an act.
type Chapter struct {
	Number        int      `json:"chapter_number"`
	Title         string   `json:"title"`
	NarrativeHook string   `json:"narrative_hook,omitempty"`
	KeyNPCs       []string `json:"key_npcs,omitempty"`
	Locations     []string `json:"locations,omitempty"`
	Optional      bool     `json:"is_optional,omitempty"`
	Scenes        []Scene  `json:"scenes"`
}

// Scene is one playable beat. IDs are unique across the campaign.
type Scene struct {
	ID                 int                 `json:"id"`
	Order              int                 `json:"scene_order"`
	Type               narrative.SceneType `json:"scene_type"`
	Title              string              `json:"title"`
	OpeningNarration   string              `json:"opening_narration,omitempty"`
	AIContext          string              `json:"ai_context,omitempty"`
	SecretInstructions string              `json:"ai_secret_instructions,omitempty"`
	VictoryConditions  []string            `json:"victory_conditions,omitempty"`
	FailureConditions  []string            `json:"failure_conditions,omitempty"`
	NPCs               []string            `json:"npcs,omitempty"`
	Tension            story.TensionLevel  `json:"tension_level"`

	NextSceneDefault int             `json:"next_scene_default,omitempty"`
	BranchTriggers   []BranchTrigger `json:"branch_triggers,omitempty"`
}

// BranchTrigger is a conditional exit from a scene. Exactly one target
// should be set; a scene target wins over a decision, a decision over an
// ending.
type BranchTrigger struct {
	TargetScene    int      `json:"target_scene,omitempty"`
	TargetDecision string   `json:"target_decision,omitempty"`
	TargetEnding   string   `json:"target_ending,omitempty"`
	Condition      string   `json:"condition,omitempty"`
	Probability    *float64 `json:"probability,omitempty"`
	Label          string   `json:"label,omitempty"`
}

// Decision is a critical choice offered in a scene.
type Decision struct {
	Code          string   `json:"decision_code"`
	SceneID       int      `json:"scene_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Options       []Option `json:"options"`
	AffectsEnding bool     `json:"affects_ending,omitempty"`
	Hidden        bool     `json:"is_hidden,omitempty"`
	TimeoutTurns  int      `json:"timeout_turns,omitempty"`
	DefaultOption string   `json:"default_option,omitempty"`
}

// Option looks up an option by ID.
func (d *Decision) Option(id string) (*Option, bool) {
	for i := range d.Options {
		if d.Options[i].ID == id {
			return &d.Options[i], true
		}
	}
	return nil, false
}

// Option is one answer to a decision and its consequences.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`

	KarmaEffect      int      `json:"karma_effect,omitempty"`
	ConsequenceFlags []string `json:"consequence_flags,omitempty"`
	RemovesFlags     []string `json:"removes_flags,omitempty"`
	RequiredFlags    []string `json:"required_flags,omitempty"`
	Hidden           bool     `json:"hidden,omitempty"`

	Requirements karma.OptionRequirements `json:"requirements"`

	NextScene      int            `json:"next_scene,omitempty"`
	RevealsClues   []string       `json:"reveals_clues,omitempty"`
	NPCReactions   map[string]int `json:"npc_reactions,omitempty"`
	FactionChanges map[string]int `json:"faction_changes,omitempty"`
	NarrationHint  string         `json:"narration_hint,omitempty"`
}

// Ending is a way the campaign can conclude.
type Ending struct {
	Code         string                   `json:"code"`
	Title        string                   `json:"title"`
	Description  string                   `json:"description,omitempty"`
	Narration    string                   `json:"narration,omitempty"`
	Requirements karma.EndingRequirements `json:"requirements"`
	Good         bool                     `json:"is_good_ending"`
	Epilogue     string                   `json:"epilogue,omitempty"`
}

// NPC is a character definition with its starting relationship.
type NPC struct {
	npc.NPC
	RelationshipDefault *int `json:"relationship_default,omitempty"`
}

// Clue is a discoverable piece of evidence.
type Clue struct {
	Code           string `json:"code"`
	Title          string `json:"title"`
	Content        string `json:"content,omitempty"`
	RelatedTwist   string `json:"related_twist,omitempty"`
	ForeshadowHint string `json:"foreshadow_hint,omitempty"`
	Required       bool   `json:"is_required,omitempty"`
}

// Located is a scene with its place in the structure.
type Located struct {
	Act     *Act
	Chapter *Chapter
	Scene   *Scene
}

// Parse decodes and indexes a campaign document.
func Parse(data []byte) (*Campaign, error) {
	var c Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode campaign: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile reads a campaign document from disk.
func LoadFile(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign: %w", err)
	}
	return Parse(data)
}

func (c *Campaign) index() error {
	if c.ID == "" {
		return errors.New("campaign has no id")
	}
	c.scenes = make(map[int]*Located)
	c.decisions = make(map[string]*Decision)
	c.npcs = make(map[string]*NPC)
	c.endings = make(map[string]*Ending)

	for ai := range c.Acts {
		a := &c.Acts[ai]
		for ci := range a.Chapters {
			ch := &a.Chapters[ci]
			for si := range ch.Scenes {
				s := &ch.Scenes[si]
				if _, dup := c.scenes[s.ID]; dup {
					return fmt.Errorf("campaign %s: duplicate scene %d", c.ID, s.ID)
				}
				c.scenes[s.ID] = &Located{Act: a, Chapter: ch, Scene: s}
			}
		}
	}
	for i := range c.Decisions {
		d := &c.Decisions[i]
		if _, dup := c.decisions[d.Code]; dup {
			return fmt.Errorf("campaign %s: duplicate decision %q", c.ID, d.Code)
		}
		c.decisions[d.Code] = d
	}
	for i := range c.NPCs {
		c.npcs[c.NPCs[i].Code] = &c.NPCs[i]
	}
	for i := range c.Endings {
		c.endings[c.Endings[i].Code] = &c.Endings[i]
	}
	return nil
}

// Scene finds a scene by ID.
func (c *Campaign) Scene(id int) (Located, bool) {
	l, ok := c.scenes[id]
	if !ok {
		return Located{}, false
	}
	return *l, true
}

// FirstScene returns the first scene of the first chapter of the first act.
func (c *Campaign) FirstScene() (Located, bool) {
	for ai := range c.Acts {
		for ci := range c.Acts[ai].Chapters {
			if ch := &c.Acts[ai].Chapters[ci]; len(ch.Scenes) > 0 {
				return Located{Act: &c.Acts[ai], Chapter: ch, Scene: &ch.Scenes[0]}, true
			}
		}
	}
	return Located{}, false
}

// Decision finds a decision by code.
func (c *Campaign) Decision(code string) (*Decision, bool) {
	d, ok := c.decisions[code]
	return d, ok
}

// SceneDecisions returns the decisions offered in a scene.
func (c *Campaign) SceneDecisions(sceneID int) []*Decision {
	var out []*Decision
	for i := range c.Decisions {
		if c.Decisions[i].SceneID == sceneID {
			out = append(out, &c.Decisions[i])
		}
	}
	return out
}

// NPC finds an NPC by code.
func (c *Campaign) NPC(code string) (*NPC, bool) {
	n, ok := c.npcs[code]
	return n, ok
}

// Ending finds an ending by code.
func (c *Campaign) Ending(code string) (*Ending, bool) {
	e, ok := c.endings[code]
	return e, ok
}

// Herrings returns the authored red herrings, plus one derived herring per
// uncovered twist when AutoHerrings is set.
func (c *Campaign) Herrings() []twist.RedHerring {
	out := slices.Clone(c.RedHerrings)
	if !c.AutoHerrings {
		return out
	}
	for _, t := range c.Twists {
		h, ok := twist.CreateRedHerring(t)
		if !ok || slices.ContainsFunc(out, func(x twist.RedHerring) bool { return x.ID == h.ID }) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Summary is the listing form of a campaign.
type Summary struct {
	ID         string `json:"id" db:"id"`
	Name       string `json:"name" db:"name"`
	Synopsis   string `json:"synopsis,omitempty" db:"synopsis"`
	Tone       string `json:"tone,omitempty" db:"tone"`
	Difficulty string `json:"difficulty,omitempty" db:"difficulty"`
	TotalActs  int    `json:"total_acts" db:"total_acts"`
}

// Summary returns the listing form of c.
func (c *Campaign) Summary() Summary {
	acts := c.TotalActs
	if acts == 0 {
		acts = len(c.Acts)
	}
	return Summary{c.ID, c.Name, c.Synopsis, c.Tone, c.Difficulty, acts}
}
