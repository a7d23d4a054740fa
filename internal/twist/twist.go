// Package twist schedules plot twist revelations, foreshadowing hints and
// red herring deployment for a room's story.
package twist

import (
	"cmp"
	"slices"
	"sync"

	"github.com/talgya/story-engine/internal/story"
)

// Defaults applied to twists loaded without these fields.
const (
	DefaultMinClues = 2
	DefaultPriority = 5
	DefaultAct      = 1

	// MaxHints is the most foreshadowing hints returned per scene.
	MaxHints = 3
)

// Element is one foreshadowing opportunity for a twist. An empty SceneType
// fits any scene.
type Element struct {
	ID        string `json:"id"`
	SceneType string `json:"scene_type,omitempty"`
	Hint      string `json:"subtle_hint"`
	NPC       string `json:"npc,omitempty"`
}

func (e Element) key(twistID string) string {
	id := e.ID
	if id == "" {
		id = "default"
	}
	return twistID + "_" + id
}

// Twist is a scheduled revelation.
type Twist struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	RevelationText string `json:"revelation_text"`

	RequiredClues []string `json:"required_clues,omitempty"`
	MinClues      int      `json:"min_clues"`
	RequiredFlags []string `json:"required_flags,omitempty"`
	RequiredAct   int      `json:"required_act"`

	Foreshadowing []Element `json:"foreshadowing,omitempty"`

	RelatedNPCs      []string `json:"related_npcs,omitempty"`
	RelatedDecisions []string `json:"related_decisions,omitempty"`

	Priority      int  `json:"priority"`
	AffectsEnding bool `json:"affects_ending"`
}

// RedHerring is a misleading clue deployed on a trigger.
type RedHerring struct {
	ID                string `json:"id"`
	Description       string `json:"description"`
	FalseConclusion   string `json:"false_conclusion"`
	RealTruth         string `json:"real_truth"`
	DeployAfterClue   string `json:"deploy_after_clue,omitempty"`
	DeployInAct       int    `json:"deploy_in_act,omitempty"`
	RevelationTrigger string `json:"revelation_trigger,omitempty"`
}

// Hint is a foreshadowing suggestion for the narrator.
type Hint struct {
	TwistID   string `json:"twist_id"`
	ElementID string `json:"element_id"`
	Hint      string `json:"hint"`
	Priority  int    `json:"priority"`
	NPC       string `json:"npc,omitempty"`
	Type      string `json:"type"`
}

// RevelationContext is what the narrator needs to stage a reveal.
type RevelationContext struct {
	TwistID        string   `json:"twist_id"`
	Title          string   `json:"title"`
	RevelationText string   `json:"revelation_text"`
	RelatedNPCs    []string `json:"related_npcs"`
	ImpactLevel    string   `json:"impact_level"`
	NarrationHints []string `json:"narration_hints"`
}

// Options tune the scheduler.
type Options struct {
	// RevealThreshold is the readiness a twist needs to be revealed.
	RevealThreshold float64
}

// DefaultOptions returns a reveal threshold of 0.7.
func DefaultOptions() Options {
	return Options{RevealThreshold: 0.7}
}

var tensionBonus = [story.NumTensionLevels]float64{
	story.TensionLow:      0,
	story.TensionNormal:   0.05,
	story.TensionHigh:     0.15,
	story.TensionCritical: 0.2,
}

// Scheduler holds a campaign's twists and red herrings plus one room's
// one-shot bookkeeping. It is safe for concurrent use.
type Scheduler struct {
	mu   sync.Mutex
	opts Options

	twists   []*Twist
	herrings []*RedHerring

	revealed     map[string]bool
	deployed     map[string]bool
	foreshadowed map[string]int
	usedElements map[string]bool
}

// NewScheduler returns an empty scheduler.
func NewScheduler(opts Options) *Scheduler {
	return &Scheduler{
		opts:         opts,
		revealed:     make(map[string]bool),
		deployed:     make(map[string]bool),
		foreshadowed: make(map[string]int),
		usedElements: make(map[string]bool),
	}
}

// Register adds a twist. Registration order breaks readiness ties.
// Re-registering an ID replaces the earlier twist in place.
func (s *Scheduler) Register(t Twist) {
	if t.MinClues <= 0 && len(t.RequiredClues) > 0 {
		t.MinClues = min(DefaultMinClues, len(t.RequiredClues))
	}
	if t.Priority == 0 {
		t.Priority = DefaultPriority
	}
	if t.RequiredAct == 0 {
		t.RequiredAct = DefaultAct
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, old := range s.twists {
		if old.ID == t.ID {
			s.twists[i] = &t
			return
		}
	}
	s.twists = append(s.twists, &t)
}

// RegisterHerring adds a red herring.
func (s *Scheduler) RegisterHerring(h RedHerring) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, old := range s.herrings {
		if old.ID == h.ID {
			s.herrings[i] = &h
			return
		}
	}
	s.herrings = append(s.herrings, &h)
}

// Load registers twists and herrings in order.
func (s *Scheduler) Load(twists []Twist, herrings []RedHerring) {
	for _, t := range twists {
		s.Register(t)
	}
	for _, h := range herrings {
		s.RegisterHerring(h)
	}
}

// Twist returns the registered twist with id.
func (s *Scheduler) Twist(id string) (Twist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.twists {
		if t.ID == id {
			return *t, true
		}
	}
	return Twist{}, false
}

// Restore replaces the bookkeeping with a saved log.
func (s *Scheduler) Restore(log story.TwistLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revealed = make(map[string]bool, len(log.Revealed))
	for _, id := range log.Revealed {
		s.revealed[id] = true
	}
	s.deployed = make(map[string]bool, len(log.Deployed))
	for _, id := range log.Deployed {
		s.deployed[id] = true
	}
	s.foreshadowed = make(map[string]int, len(log.Foreshadowed))
	for id, n := range log.Foreshadowed {
		s.foreshadowed[id] = n
	}
	s.usedElements = make(map[string]bool, len(log.UsedElements))
	for _, k := range log.UsedElements {
		s.usedElements[k] = true
	}
}

// Log returns the bookkeeping for storage, with sorted ID lists.
func (s *Scheduler) Log() story.TwistLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := story.TwistLog{
		Revealed:     sortedKeys(s.revealed),
		Deployed:     sortedKeys(s.deployed),
		Foreshadowed: make(map[string]int, len(s.foreshadowed)),
		UsedElements: sortedKeys(s.usedElements),
	}
	for id, n := range s.foreshadowed {
		log.Foreshadowed[id] = n
	}
	return log
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func cluesFound(t *Twist, st *story.State) int {
	n := 0
	for i, c := range t.RequiredClues {
		if slices.Contains(t.RequiredClues[:i], c) {
			continue
		}
		if st.HasClue(c) {
			n++
		}
	}
	return n
}

// readiness scores how ripe a twist is for revelation, in [0, 1].
func (s *Scheduler) readiness(t *Twist, found int, st *story.State) float64 {
	score := 0.0
	if len(t.RequiredClues) > 0 {
		score += float64(found) / float64(len(t.RequiredClues)) * 0.4
	} else {
		score += 0.3
	}
	score += min(float64(s.foreshadowed[t.ID])/3, 1) * 0.2
	if int(st.Tension) < story.NumTensionLevels {
		score += tensionBonus[st.Tension]
	} else {
		score += tensionBonus[story.TensionNormal]
	}
	if st.Act > t.RequiredAct {
		score += min(float64(st.Act-t.RequiredAct)*0.1, 0.2)
	}
	return score
}

// CheckRevelation returns the unrevealed twist most ready to be revealed,
// or false if none reaches the threshold. The caller marks it revealed.
func (s *Scheduler) CheckRevelation(st *story.State) (Twist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *Twist
	bestScore := 0.0
	for _, t := range s.twists {
		if s.revealed[t.ID] || st.Act < t.RequiredAct {
			continue
		}
		ready := true
		for _, f := range t.RequiredFlags {
			if !st.Flag(f) {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		found := cluesFound(t, st)
		if found < t.MinClues {
			continue
		}
		score := s.readiness(t, found, st)
		if score < s.opts.RevealThreshold {
			continue
		}
		if best == nil || score > bestScore {
			best, bestScore = t, score
		}
	}
	if best == nil {
		return Twist{}, false
	}
	return *best, true
}

// MarkRevealed retires a twist for good.
func (s *Scheduler) MarkRevealed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revealed[id] = true
}

// IsRevealed reports whether a twist was revealed.
func (s *Scheduler) IsRevealed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revealed[id]
}

// Foreshadowing returns up to MaxHints unused hints for twists due within
// two acts, best first. Hint priority grows with clue progress.
func (s *Scheduler) Foreshadowing(st *story.State, sceneType string) []Hint {
	s.mu.Lock()
	defer s.mu.Unlock()

	hints := []Hint{}
	for _, t := range s.twists {
		if s.revealed[t.ID] || t.RequiredAct > st.Act+2 {
			continue
		}
		total := max(len(t.RequiredClues), 1)
		progress := float64(cluesFound(t, st)) / float64(total)
		prio := int(float64(t.Priority) * (0.5 + progress*0.5))
		for _, e := range t.Foreshadowing {
			if e.SceneType != "" && e.SceneType != sceneType {
				continue
			}
			if s.usedElements[e.key(t.ID)] {
				continue
			}
			hints = append(hints, Hint{
				TwistID:   t.ID,
				ElementID: e.ID,
				Hint:      e.Hint,
				Priority:  prio,
				NPC:       e.NPC,
				Type:      "foreshadow",
			})
		}
	}
	slices.SortStableFunc(hints, func(a, b Hint) int { return cmp.Compare(b.Priority, a.Priority) })
	if len(hints) > MaxHints {
		hints = hints[:MaxHints]
	}
	return hints
}

// RecordForeshadowing marks a hint as delivered so it is not offered again
// and counts toward the twist's readiness.
func (s *Scheduler) RecordForeshadowing(twistID, elementID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usedElements[Element{ID: elementID}.key(twistID)] = true
	s.foreshadowed[twistID]++
}

// ForeshadowCount returns how many hints were delivered for a twist.
func (s *Scheduler) ForeshadowCount(twistID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foreshadowed[twistID]
}

// CheckHerrings returns the undeployed herrings whose clue or act trigger
// holds. The caller marks each deployed.
func (s *Scheduler) CheckHerrings(st *story.State) []RedHerring {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []RedHerring{}
	for _, h := range s.herrings {
		if s.deployed[h.ID] {
			continue
		}
		if h.DeployAfterClue != "" && st.HasClue(h.DeployAfterClue) {
			out = append(out, *h)
			continue
		}
		if h.DeployInAct > 0 && st.Act >= h.DeployInAct {
			out = append(out, *h)
		}
	}
	return out
}

// MarkHerringDeployed retires a herring for good.
func (s *Scheduler) MarkHerringDeployed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployed[id] = true
}

// CreateRedHerring derives a herring that points away from t, deploying
// after its first required clue. Twists without related NPCs get none.
func CreateRedHerring(t Twist) (RedHerring, bool) {
	if len(t.RelatedNPCs) == 0 {
		return RedHerring{}, false
	}
	h := RedHerring{
		ID:              "herring_" + t.ID,
		Description:     "Pista falsa relacionada con " + t.Title,
		FalseConclusion: "Las evidencias parecen apuntar a alguien más...",
		RealTruth:       t.RevelationText,
	}
	if len(t.RequiredClues) > 0 {
		h.DeployAfterClue = t.RequiredClues[0]
	}
	return h, true
}

// Revelation returns the narration payload for revealing t.
func Revelation(t Twist) RevelationContext {
	impact := "medium"
	if t.AffectsEnding {
		impact = "high"
	}
	npcs := t.RelatedNPCs
	if npcs == nil {
		npcs = []string{}
	}
	return RevelationContext{
		TwistID:        t.ID,
		Title:          t.Title,
		RevelationText: t.RevelationText,
		RelatedNPCs:    npcs,
		ImpactLevel:    impact,
		NarrationHints: []string{
			"Crear momento dramático",
			"Referenciar pistas anteriores",
			"Mostrar reacciones de NPCs presentes",
		},
	}
}
