package campaign

import (
	"github.com/talgya/story-engine/internal/storygraph"
)

// BuildGraph lays a campaign out as a story graph. Scenes link to their
// default successor with certainty and to their branch targets with the
// trigger's probability. Decisions hang off their scene and lead to the
// scenes their options name.
func BuildGraph(c *Campaign, opts storygraph.Options) *storygraph.Graph {
	g := storygraph.New(opts)

	for ai := range c.Acts {
		a := &c.Acts[ai]
		for ci := range a.Chapters {
			ch := &a.Chapters[ci]
			for si := range ch.Scenes {
				s := &ch.Scenes[si]
				id := storygraph.SceneID(s.ID)
				g.AddNode(storygraph.Node{
					ID:      id,
					Type:    storygraph.NodeScene,
					Title:   s.Title,
					Act:     a.Number,
					Chapter: ch.Number,
					Scene:   s.Order,
					Data:    s,
				})
				if s.NextSceneDefault != 0 {
					g.AddEdge(storygraph.Edge{
						From:        id,
						To:          storygraph.SceneID(s.NextSceneDefault),
						Probability: 1.0,
					})
				}
				for _, b := range s.BranchTriggers {
					to, ok := b.target()
					if !ok {
						continue
					}
					p := storygraph.DefaultBranchProbability
					if b.Probability != nil {
						p = *b.Probability
					}
					g.AddEdge(storygraph.Edge{
						From:        id,
						To:          to,
						Condition:   storygraph.ParseCondition(b.Condition),
						Probability: p,
						Label:       b.Label,
					})
				}
			}
		}
	}

	for i := range c.Decisions {
		d := &c.Decisions[i]
		id := storygraph.DecisionID(d.Code)
		g.AddNode(storygraph.Node{
			ID:    id,
			Type:  storygraph.NodeDecision,
			Title: d.Title,
			Data:  d,
		})
		if d.SceneID != 0 {
			g.AddEdge(storygraph.Edge{
				From:        storygraph.SceneID(d.SceneID),
				To:          id,
				Probability: 1.0,
			})
		}
		for _, o := range d.Options {
			if o.NextScene == 0 {
				continue
			}
			g.AddEdge(storygraph.Edge{
				From:        id,
				To:          storygraph.SceneID(o.NextScene),
				Condition:   storygraph.ParseCondition("decision:" + d.Code + ":" + o.ID),
				Probability: 1.0,
				Label:       o.Label,
			})
		}
	}

	for i := range c.Endings {
		e := &c.Endings[i]
		g.AddNode(storygraph.Node{
			ID:    storygraph.EndingID(e.Code),
			Type:  storygraph.NodeEnding,
			Title: e.Title,
			Data:  e,
		})
	}
	return g
}

func (b BranchTrigger) target() (string, bool) {
	switch {
	case b.TargetScene != 0:
		return storygraph.SceneID(b.TargetScene), true
	case b.TargetDecision != "":
		return storygraph.DecisionID(b.TargetDecision), true
	case b.TargetEnding != "":
		return storygraph.EndingID(b.TargetEnding), true
	}
	return "", false
}
