package karma

import (
	"fmt"
	"slices"
)

// Bounds is an inclusive range; nil ends are open.
type Bounds struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// EndingRequirements gate an ending on karma and faction standings.
type EndingRequirements struct {
	KarmaMin *int              `json:"karma_min,omitempty"`
	KarmaMax *int              `json:"karma_max,omitempty"`
	Factions map[string]Bounds `json:"faction_requirements,omitempty"`
}

// CheckEndingRequirements reports whether karma and standings satisfy req,
// and describes each unmet bound. Missing standings count as DefaultStanding.
func (l *Ledger) CheckEndingRequirements(karma int, standings map[string]int, req EndingRequirements) (bool, []string) {
	missing := []string{}
	if req.KarmaMin != nil && karma < *req.KarmaMin {
		missing = append(missing, fmt.Sprintf("karma mínimo %d", *req.KarmaMin))
	}
	if req.KarmaMax != nil && karma > *req.KarmaMax {
		missing = append(missing, fmt.Sprintf("karma máximo %d", *req.KarmaMax))
	}

	codes := make([]string, 0, len(req.Factions))
	for code := range req.Factions {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		b := req.Factions[code]
		cur, ok := standings[code]
		if !ok {
			cur = DefaultStanding
		}
		if b.Min != nil && cur < *b.Min {
			missing = append(missing, fmt.Sprintf("%s mínimo %d", code, *b.Min))
		}
		if b.Max != nil && cur > *b.Max {
			missing = append(missing, fmt.Sprintf("%s máximo %d", code, *b.Max))
		}
	}
	return len(missing) == 0, missing
}

// OptionRequirements gate a dialogue option.
type OptionRequirements struct {
	KarmaMin   *int   `json:"karma_min,omitempty"`
	KarmaMax   *int   `json:"karma_max,omitempty"`
	Faction    string `json:"faction,omitempty"`
	FactionMin *int   `json:"faction_min,omitempty"`
}

// DialogueOption is a line the party may choose, subject to Requirements.
type DialogueOption struct {
	ID           string             `json:"id"`
	Text         string             `json:"text"`
	Requirements OptionRequirements `json:"requirements"`
}

// AvailableDialogueOptions keeps the options whose requirements hold. A
// faction requirement without a minimum needs DefaultStanding.
func (l *Ledger) AvailableDialogueOptions(karma int, standings map[string]int, options []DialogueOption) []DialogueOption {
	out := []DialogueOption{}
	for _, o := range options {
		r := o.Requirements
		if r.KarmaMin != nil && karma < *r.KarmaMin {
			continue
		}
		if r.KarmaMax != nil && karma > *r.KarmaMax {
			continue
		}
		if r.Faction != "" {
			need := DefaultStanding
			if r.FactionMin != nil {
				need = *r.FactionMin
			}
			cur, ok := standings[r.Faction]
			if !ok {
				cur = DefaultStanding
			}
			if cur < need {
				continue
			}
		}
		out = append(out, o)
	}
	return out
}
