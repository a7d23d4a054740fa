// Package karma scores player morality and faction standings. Everything here
// is a pure function over integers and maps; nothing is stored.
package karma

import "slices"

// Karma bounds and the starting value for a new party.
const (
	Min     = 0
	Max     = 100
	Default = 50
)

// Clamp bounds a score to [Min, Max]. Every karma, standing, relationship
// and trust write goes through it.
func Clamp(v int) int {
	if v < Min {
		return Min
	}
	if v > Max {
		return Max
	}
	return v
}

// Level is a named karma band.
type Level struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Min         int    `json:"min"`
	Max         int    `json:"max"`
}

// Levels are ordered from best to worst and cover [0, 100] without overlap.
var Levels = []Level{
	{"heroico", "Leyenda viviente, símbolo de esperanza", 90, 100},
	{"honorable", "Respetado defensor del bien", 70, 89},
	{"neutral", "Pragmático, ni héroe ni villano", 50, 69},
	{"dudoso", "Cuestionable, motivos sospechosos", 30, 49},
	{"infame", "Temido y despreciado", 10, 29},
	{"villano", "Encarnación de la maldad", 0, 9},
}

// LevelOf returns the band containing karma, clamping it first.
func LevelOf(karma int) Level {
	karma = Clamp(karma)
	for _, l := range Levels {
		if karma >= l.Min && karma <= l.Max {
			return l
		}
	}
	return Levels[2]
}

// Action is a karma-affecting deed with its base amount.
type Action struct {
	Code   string
	Amount int
	Label  string
}

// Actions is the fixed deed table. Order matters for recovery suggestions.
var Actions = []Action{
	{"helped_innocent", 10, "Ayudar a inocentes"},
	{"showed_mercy", 15, "Mostrar misericordia"},
	{"kept_promise", 10, "Cumplir promesas"},
	{"donated_to_poor", 12, "Donar a los necesitados"},
	{"exposed_corruption", 20, "Exponer corrupción"},
	{"saved_life", 25, "Salvar vidas"},
	{"protected_weak", 15, "Proteger a los débiles"},
	{"told_truth", 5, "Decir la verdad"},
	{"forgave_enemy", 20, "Perdonar a un enemigo"},
	{"self_sacrifice", 30, "Sacrificarse por otros"},

	{"lied_for_gain", -5, "Mentir por beneficio"},
	{"stole", -8, "Robar"},
	{"killed_unarmed", -20, "Matar a un desarmado"},
	{"betrayed_ally", -30, "Traicionar a un aliado"},
	{"broke_promise", -15, "Romper una promesa"},
	{"tortured", -25, "Torturar"},
	{"killed_innocent", -40, "Matar a un inocente"},
	{"abandoned_ally", -20, "Abandonar a un aliado"},
	{"blackmailed", -15, "Chantajear"},
	{"poisoned", -20, "Envenenar"},
}

// ChangeContext modifies how much a deed moves karma.
type ChangeContext struct {
	Repeated        bool `json:"repeated_action"`
	Witnessed       bool `json:"witnessed"`
	TargetImportant bool `json:"target_important"`
}

// Change is the result of applying a karma delta.
type Change struct {
	Old          int  `json:"old"`
	New          int  `json:"new"`
	LevelChanged bool `json:"level_changed"`
}

// Ledger hosts the karma and faction rules. The zero value is not usable;
// call NewLedger.
type Ledger struct {
	amounts  map[string]int
	factions map[string]*Faction
}

// NewLedger returns a ledger over the deed table and the given factions.
// A nil catalog uses SeedFactions.
func NewLedger(factions []*Faction) *Ledger {
	if factions == nil {
		factions = SeedFactions()
	}
	l := &Ledger{
		amounts:  make(map[string]int, len(Actions)),
		factions: make(map[string]*Faction, len(factions)),
	}
	for _, a := range Actions {
		l.amounts[a.Code] = a.Amount
	}
	for _, f := range factions {
		l.factions[f.Code] = f
	}
	return l
}

// BaseAmount returns the table amount for a deed, or 0 if unknown.
func (l *Ledger) BaseAmount(code string) int {
	return l.amounts[code]
}

// CalculateChange prices a deed under ctx. Modifiers compose
// multiplicatively and the result truncates toward zero.
func (l *Ledger) CalculateChange(code string, ctx ChangeContext) int {
	base := l.amounts[code]
	mod := 1.0
	if ctx.Repeated {
		if base < 0 {
			mod *= 1.2
		} else {
			mod *= 0.8
		}
	}
	if ctx.Witnessed {
		mod *= 1.3
	}
	if ctx.TargetImportant {
		mod *= 1.5
	}
	return int(float64(base) * mod)
}

// Apply adds delta to current and reports whether the level changed.
func (l *Ledger) Apply(current, delta int) Change {
	next := Clamp(current + delta)
	return Change{
		Old:          current,
		New:          next,
		LevelChanged: LevelOf(current).Name != LevelOf(next).Name,
	}
}

var levelContexts = map[string]string{
	"heroico": "El grupo es conocido como héroes legendarios. La gente los reconoce, los ayuda voluntariamente, " +
		"y los enemigos los temen. Los NPCs ofrecen información y ayuda sin pedirla.",
	"honorable": "El grupo tiene buena reputación. La gente confía en ellos y está dispuesta a ayudar. " +
		"Los comerciantes ofrecen descuentos y los guardias son cordiales.",
	"neutral": "El grupo es relativamente desconocido o tiene reputación mixta. La gente los trata con cautela normal. " +
		"Deben ganarse la confianza de cada NPC individualmente.",
	"dudoso": "El grupo tiene mala fama. La gente desconfía de ellos, los precios son más altos, y los guardias los vigilan. " +
		"Algunos NPCs se niegan a hablar con ellos.",
	"infame": "El grupo es temido y odiado. Los ciudadanos huyen o llaman a los guardias. " +
		"Solo criminales y villanos tratan con ellos. Hay recompensas por su captura en algunas zonas.",
	"villano": "El grupo es considerado una amenaza pública. Son cazados activamente, " +
		"ningún NPC decente les ayudará, y solo los más depravados se asocian con ellos.",
}

// ContextForAI describes how the world treats a party with this karma.
func (l *Ledger) ContextForAI(karma int) string {
	return levelContexts[LevelOf(karma).Name]
}

var recoveryTargets = map[string]int{
	"heroico":   90,
	"honorable": 70,
	"neutral":   50,
}

// SuggestRecovery lists good deeds, largest first, until their sum covers
// the gap between karma and the target level. Unknown targets mean neutral.
func (l *Ledger) SuggestRecovery(karma int, targetLevel string) []string {
	target, ok := recoveryTargets[targetLevel]
	if !ok {
		target = recoveryTargets["neutral"]
	}
	gap := target - karma
	if gap <= 0 {
		return []string{"El karma ya está en el nivel deseado o superior"}
	}

	var good []Action
	for _, a := range Actions {
		if a.Amount > 0 {
			good = append(good, a)
		}
	}
	slices.SortStableFunc(good, func(a, b Action) int { return b.Amount - a.Amount })

	var out []string
	acc := 0
	for _, a := range good {
		if acc >= gap {
			break
		}
		out = append(out, a.Label)
		acc += a.Amount
	}
	return out
}
