package npc

var agendas = map[string]string{
	"traitor":     "Secretamente trabaja contra los jugadores, busca ganarse su confianza para usarla después",
	"secret_ally": "Secretamente está de su lado, pero no puede revelarlo aún",
	"spy":         "Recopila información sobre los jugadores para alguien más",
	"manipulator": "Intenta dirigir a los jugadores hacia sus propios objetivos",
}

// SecretAgenda describes the hidden goal of an NPC for the narrator only.
// NPCs without a hidden role, or with an unlisted one, have no agenda.
func SecretAgenda(n *NPC) string {
	if !n.HasHiddenRole() {
		return ""
	}
	return agendas[n.TrueRole]
}

// BehaviorHints summarizes how the narrator should play an NPC given its
// personality, the relationship (nil if the party never met it) and the
// last interaction it remembers.
func BehaviorHints(n *NPC, rel *Relationship, lastInteraction Interaction) []string {
	hints := []string{}
	p := n.Personality
	if p.Cunning > 70 {
		hints = append(hints, "Responde con ambigüedad, nunca da información directa")
	}
	if p.Pride > 70 {
		hints = append(hints, "Se ofende fácilmente ante falta de respeto")
	}
	if p.Compassion > 70 {
		hints = append(hints, "Muestra preocupación genuina por los demás")
	}

	if rel != nil {
		switch {
		case rel.Score < 30:
			hints = append(hints, "Hostil, respuestas cortantes y desconfiadas")
		case rel.Score > 70:
			hints = append(hints, "Amigable, dispuesto a ayudar")
		}
		switch {
		case rel.Trust < 30:
			hints = append(hints, "Oculta información importante")
		case rel.Trust > 70:
			hints = append(hints, "Puede compartir información sensible")
		}
	}

	if lastInteraction == ActHostile {
		hints = append(hints, "Recuerda el último encuentro hostil, está en guardia")
	}
	return hints
}
