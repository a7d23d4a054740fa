package narrative

import "regexp"

// All patterns run against folded text (see Fold): lower case, no accents.

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// actionRules score each action type by the fraction of its patterns that
// match. Types without patterns are never chosen by scoring.
var actionRules = [NumActionTypes][]*regexp.Regexp{
	ActionDialogue: compile(
		`\b(hablo|pregunto|digo|le digo|respondo|converso|menciono|susurro|grito)\b`,
		`\b(hablar|preguntar|decir|responder|conversar|mencionar)\b`,
		`^["“].*["”]$`,
	),
	ActionExploration: compile(
		`\b(exploro|examino|inspecciono|busco|miro|observo|registro)\b`,
		`\b(explorar|examinar|inspeccionar|buscar|mirar|observar)\b`,
		`\b(habitacion|cuarto|lugar|zona|area)\b`,
	),
	ActionCombat: compile(
		`\b(ataco|golpeo|disparo|lanzo|peleo|lucho|defiendo)\b`,
		`\b(atacar|golpear|disparar|lanzar|pelear|luchar|defender)\b`,
		`\b(espada|arco|hacha|daga|magia ofensiva)\b`,
	),
	ActionStealth: compile(
		`\b(me escondo|me oculto|sigilosamente|en las sombras|sin ser visto)\b`,
		`\b(esconder|ocultar|sigilo|sombras|infiltrar)\b`,
		`\b(robo|hurto|pickpocket)\b`,
	),
	ActionSocial: compile(
		`\b(persuado|intimido|engano|seduzco|negocio|convenzo)\b`,
		`\b(persuadir|intimidar|enganar|seducir|negociar|convencer)\b`,
	),
	ActionInvestigation: compile(
		`\b(investigo|analizo|estudio|descifro|leo)\b`,
		`\b(investigar|analizar|estudiar|descifrar|leer)\b`,
		`\b(pista|evidencia|prueba|documento|carta)\b`,
	),
	ActionItemUse: compile(
		`\b(uso|utilizo|aplico|bebo|como|equipo)\b.*\b(pocion|objeto|item|arma|armadura)\b`,
		`\b(saco|tomo|agarro|cojo)\b.*\b(de mi|del|de la)\b`,
	),
	ActionRest: compile(
		`\b(descanso|duermo|espero|me siento|acampo)\b`,
		`\b(descansar|dormir|esperar|sentarse|acampar)\b`,
	),
	ActionTravel: compile(
		`\b(voy|camino|viajo|me dirijo|corro|huyo)\b`,
		`\b(ir|caminar|viajar|dirigirse|correr|huir)\b`,
		`\b(hacia|hasta|al|a la|norte|sur|este|oeste)\b`,
	),
	ActionMagic: compile(
		`\b(lanzo un hechizo|uso magia|conjuro|invoco|canalizo)\b`,
		`\b(hechizo|magia|conjuro|invocacion|ritual)\b`,
	),
}

// alignmentRules score each alignment by its number of matching patterns.
var alignmentRules = [NumAlignments][]*regexp.Regexp{
	AlignHeroic: compile(
		`\b(salvo|protejo|defiendo|ayudo|sacrifico)\b`,
		`\b(inocente|debil|indefenso|necesitado)\b`,
		`\b(justicia|honor|verdad|bien)\b`,
	),
	AlignGood: compile(
		`\b(ayudo|comparto|dono|perdono|curo)\b`,
		`\b(amable|gentil|generoso|compasivo)\b`,
	),
	AlignSelfish: compile(
		`\b(robo|engano|miento|oculto|escondo)\b`,
		`\b(para mi|beneficio propio|mi ganancia)\b`,
		`\b(soborno|chantaje|extorsion)\b`,
	),
	AlignVillainous: compile(
		`\b(mato|asesino|torturo|destruyo|traiciono)\b`,
		`\b(inocente|indefenso|desarmado)\b`,
		`\b(crueldad|maldad|venganza ciega)\b`,
	),
}

type namedRule struct {
	name     string
	patterns []*regexp.Regexp
}

func (r namedRule) match(s string) bool {
	for _, p := range r.patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func firstMatch(rules []namedRule, s string) string {
	for _, r := range rules {
		if r.match(s) {
			return r.name
		}
	}
	return ""
}

// karmaRules map text to karma action codes. Each code is reported at most
// once per message, in table order.
var karmaRules = []namedRule{
	{"helped_innocent", compile(`\b(ayudo|salvo|protejo|defiendo)\b.*\b(inocente|civil|nino|anciano|debil)\b`)},
	{"showed_mercy", compile(
		`\b(perdono|dejo ir|muestro piedad|no mato)\b`,
		`\b(misericordia|clemencia|compasion)\b`,
	)},
	{"kept_promise", compile(`\b(cumplo|mantengo)\b.*\b(promesa|palabra|juramento)\b`)},
	{"donated_to_poor", compile(
		`\b(dono|doy|regalo|comparto)\b.*\b(pobre|necesitado|mendigo)\b`,
		`\b(caridad|limosna)\b`,
	)},
	{"lied_for_gain", compile(`\b(miento|engano)\b.*\b(para|conseguir|obtener|beneficio)\b`)},
	{"stole", compile(`\b(robo|hurto|me llevo)\b.*\b(sin|que no)\b`)},
	{"killed_unarmed", compile(`\b(mato|asesino)\b.*\b(desarmado|indefenso|rendido)\b`)},
	{"betrayed_ally", compile(`\b(traiciono|abandono|vendo)\b.*\b(aliado|companero|amigo)\b`)},
	{"broke_promise", compile(`\b(rompo|incumplo)\b.*\b(promesa|palabra|juramento)\b`)},
}

// styleRules classify how the player treats the targeted NPC. First match wins.
var styleRules = []namedRule{
	{StyleFriendly, compile(`\b(amablemente|cortesmente|con respeto|sonrio)\b`)},
	{StyleHostile, compile(`\b(amenaz\w*|intimid\w*|agresi\w*|hostil|con desprecio)\b`)},
	{StyleDeceptive, compile(`\b(miento|engano|oculto la verdad|disimulo)\b`)},
	{StyleConfrontation, compile(`\b(confronto|acuso|encaro|exijo)\b`)},
	{StyleSeductive, compile(`\b(seduz\w*|coquete\w*|encant\w*|atraigo)\b`)},
	{StyleProfessional, compile(`\b(formalmente|profesionalmente|negocios)\b`)},
}

var intentRules = []namedRule{
	{"interrogate", compile(`\b(pregunt\w*|interrog\w*|cuestion\w*)\b`)},
	{"persuade", compile(`\b(convenc\w*|persuad\w*|negoci\w*)\b`)},
	{"threaten", compile(`\b(amenaz\w*|intimid\w*|adviert\w*)\b`)},
	{"gather_info", compile(`\b(averig\w*|descubr\w*|investig\w*|busc\w*)\b.*\b(informacion|pistas|verdad)\b`)},
	{"help", compile(`\b(ayud\w*|asist\w*|socorr\w*)\b`)},
	{"attack", compile(`\b(atac\w*|golpe\w*|luch\w*|pele\w*)\b`)},
	{"hide", compile(`\b(escond\w*|ocult\w*)\b`)},
	{"observe", compile(`\b(observ\w*|mir\w*|examin\w*|estudi\w*)\b`)},
	{"negotiate", compile(`\b(negoci\w*|trat\w*|acuerd\w*|pacta\w*)\b`)},
	{"deceive", compile(`\b(engan\w*|mient\w*|ment\w*|fals\w*)\b`)},
}

var defaultIntents = [NumActionTypes]string{
	ActionDialogue:      "communicate",
	ActionCombat:        "attack",
	ActionStealth:       "hide",
	ActionExploration:   "explore",
	ActionInvestigation: "gather_info",
}

var decisionRules = []namedRule{
	{"confrontation", compile(`\b(acuso|confronto|encaro|exijo saber)\b`)},
	{"alliance", compile(`\b(me uno|acepto|hago trato|alianza)\b`)},
	{"betrayal", compile(`\b(traiciono|vendo|revelo secreto)\b`)},
	{"trust", compile(`\b(confio|creo|le doy)\b.*\b(en|a)\b`)},
	{"refuse", compile(`\b(rechazo|me niego|no acepto)\b`)},
}

var emotionRules = []namedRule{
	{"angry", compile(`\b(furioso|enfadado|rabioso|ira|grito)\b`)},
	{"sad", compile(`\b(triste|apenado|llorando|melancolia)\b`)},
	{"happy", compile(`\b(feliz|alegre|sonriente|contento)\b`)},
	{"fearful", compile(`\b(miedo|asustado|temeroso|temblando)\b`)},
	{"suspicious", compile(`\b(sospecho|desconfio|recelo)\b`)},
	{"confident", compile(`\b(seguro|confiado|decidido)\b`)},
	{"curious", compile(`\b(curioso|intrigado|interesado)\b`)},
}

// sceneExpected lists the action types that fit each known scene type.
var sceneExpected = map[SceneType][]ActionType{
	SceneNarrative:  {ActionDialogue, ActionExploration},
	SceneCombat:     {ActionCombat, ActionMagic},
	ScenePuzzle:     {ActionInvestigation, ActionItemUse},
	SceneSocial:     {ActionDialogue, ActionSocial},
	SceneRevelation: {ActionDialogue, ActionInvestigation},
	SceneDecision:   {ActionDialogue, ActionDecision},
}
