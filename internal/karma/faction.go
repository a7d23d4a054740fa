package karma

import (
	"fmt"
	"maps"
)

// DefaultStanding is assumed for a faction missing from a standings map.
const DefaultStanding = 50

// Crossing is the direction in which a standing must move past a threshold
// for its event to fire.
type Crossing uint8

const (
	// Rising fires when old < value <= new.
	Rising Crossing = iota
	// Falling fires when old >= value > new.
	Falling
	// Reaching fires when old > value >= new.
	Reaching
)

func (c Crossing) crossed(old, next, value int) bool {
	switch c {
	case Rising:
		return old < value && value <= next
	case Falling:
		return old >= value && value > next
	case Reaching:
		return old > value && value >= next
	}
	return false
}

// Threshold is a standing value that fires Event when crossed.
type Threshold struct {
	Event    string   `json:"event"`
	Value    int      `json:"value"`
	Crossing Crossing `json:"crossing"`
}

// Relation carries a fraction of every change with one faction over to
// another.
type Relation struct {
	Faction string  `json:"faction"`
	Ratio   float64 `json:"ratio"`
}

// Faction is an in-world group the party holds standing with.
type Faction struct {
	Code       string      `json:"code"`
	Name       string      `json:"name"`
	Thresholds []Threshold `json:"thresholds"`
	Relations  []Relation  `json:"relations"`
}

// SeedFactions returns the standard faction catalog.
func SeedFactions() []*Faction {
	return []*Faction{
		{
			Code: "corona",
			Name: "La Corona",
			Thresholds: []Threshold{
				{"trust_gained", 60, Rising},
				{"trust_lost", 60, Falling},
				{"turned_hostile", 30, Falling},
				{"hero_status", 80, Rising},
			},
			Relations: []Relation{{"orden_llama", -0.5}},
		},
		{
			Code: "pueblo",
			Name: "El Pueblo",
			Thresholds: []Threshold{
				{"hero_status", 80, Rising},
				{"villain_status", 20, Falling},
			},
		},
		{
			Code: "orden_llama",
			Name: "La Orden de la Llama",
			Thresholds: []Threshold{
				{"recruitment_attempt", 40, Reaching},
			},
			Relations: []Relation{{"corona", -0.3}, {"pueblo", -0.2}},
		},
		{
			Code: "gremio_mercaderes",
			Name: "Gremio de Mercaderes",
			Thresholds: []Threshold{
				{"discount_unlocked", 70, Rising},
				{"banned", 20, Falling},
			},
		},
		{
			Code:      "rebeldes",
			Name:      "Los Rebeldes",
			Relations: []Relation{{"corona", -0.3}},
		},
	}
}

// Faction returns the catalog entry for code.
func (l *Ledger) Faction(code string) (*Faction, bool) {
	f, ok := l.factions[code]
	return f, ok
}

// UpdateStanding applies delta to one faction and returns the new standings
// with the threshold events it crossed, named "<faction>_<event>". Related
// factions already present in standings shift by a fraction of delta but
// never report events. The input map is not modified. An unknown faction is
// still updated, with no events and no propagation.
func (l *Ledger) UpdateStanding(standings map[string]int, faction string, delta int) (map[string]int, []string) {
	next := maps.Clone(standings)
	if next == nil {
		next = make(map[string]int)
	}
	old, ok := next[faction]
	if !ok {
		old = DefaultStanding
	}
	val := Clamp(old + delta)
	next[faction] = val

	events := []string{}
	f, ok := l.factions[faction]
	if !ok {
		return next, events
	}
	for _, th := range f.Thresholds {
		if th.Crossing.crossed(old, val, th.Value) {
			events = append(events, fmt.Sprintf("%s_%s", faction, th.Event))
		}
	}
	for _, rel := range f.Relations {
		cur, present := next[rel.Faction]
		if !present {
			continue
		}
		next[rel.Faction] = Clamp(cur + int(float64(delta)*rel.Ratio))
	}
	return next, events
}

// FactionContextForAI labels each standing for the narration payload.
func (l *Ledger) FactionContextForAI(standings map[string]int) map[string]string {
	out := make(map[string]string, len(standings))
	for code, v := range standings {
		var status, desc string
		switch {
		case v >= 80:
			status, desc = "aliado", "confían plenamente"
		case v >= 60:
			status, desc = "favorable", "son amigables"
		case v >= 40:
			status, desc = "neutral", "son cautelosos"
		case v >= 20:
			status, desc = "desfavorable", "desconfían"
		default:
			status, desc = "hostil", "son enemigos"
		}
		out[code] = fmt.Sprintf("%s (%s)", status, desc)
	}
	return out
}
