// Package storygraph models a campaign as a directed graph of scenes,
// decisions and endings joined by conditional, weighted edges, and answers
// reachability and ending-probability queries over it.
package storygraph

import (
	"fmt"
	"math"
	"slices"
)

// NodeType is the kind of a story node.
type NodeType uint8

const (
	NodeScene NodeType = iota
	NodeDecision
	NodeEnding
)

var nodeTypeNames = [...]string{"scene", "decision", "ending"}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", uint8(t))
}

// MarshalText encodes the node type by name.
func (t NodeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a node type name. Unknown names decode to scene.
func (t *NodeType) UnmarshalText(b []byte) error {
	*t = NodeScene
	for i, n := range nodeTypeNames {
		if n == string(b) {
			*t = NodeType(i)
		}
	}
	return nil
}

// Node IDs are namespaced by kind.
func SceneID(id int) string { return fmt.Sprintf("scene_%d", id) }

func DecisionID(code string) string { return "decision_" + code }

func EndingID(code string) string { return "ending_" + code }

// DefaultBranchProbability weights branch edges that do not set one.
const DefaultBranchProbability = 0.5

// Node is a scene, decision or ending.
type Node struct {
	ID      string   `json:"id"`
	Type    NodeType `json:"node_type"`
	Title   string   `json:"title"`
	Act     int      `json:"act"`
	Chapter int      `json:"chapter"`
	Scene   int      `json:"scene"`
	Data    any      `json:"data,omitempty"`
}

// Edge leads from one node to another with a base probability, taken with
// a penalty when its condition does not hold.
type Edge struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Condition   Condition `json:"condition"`
	Probability float64   `json:"probability"`
	Label       string    `json:"label,omitempty"`
}

// Options tune probability queries.
type Options struct {
	// UnsatisfiedPenalty multiplies a path's weight for each traversed edge
	// whose condition does not hold.
	UnsatisfiedPenalty float64
}

// DefaultOptions returns a penalty of 0.1.
func DefaultOptions() Options {
	return Options{UnsatisfiedPenalty: 0.1}
}

// Graph is a story graph. Build it once, then query it; queries do not
// mutate it and may run concurrently with each other.
type Graph struct {
	opts Options

	order []string
	nodes map[string]*Node
	out   map[string][]*Edge
	in    map[string][]*Edge
}

// New returns an empty graph.
func New(opts Options) *Graph {
	return &Graph{
		opts:  opts,
		nodes: make(map[string]*Node),
		out:   make(map[string][]*Edge),
		in:    make(map[string][]*Edge),
	}
}

func (g *Graph) ensure(id string) *Node {
	n, ok := g.nodes[id]
	if !ok {
		n = &Node{ID: id}
		g.nodes[id] = n
		g.order = append(g.order, id)
	}
	return n
}

// AddNode adds a node, or updates it in place if an edge already named it.
func (g *Graph) AddNode(n Node) {
	*g.ensure(n.ID) = n
}

// AddEdge adds an edge, creating missing endpoints. A second edge between
// the same pair replaces the first.
func (g *Graph) AddEdge(e Edge) {
	g.ensure(e.From)
	g.ensure(e.To)
	edge := &e
	for i, old := range g.out[e.From] {
		if old.To == e.To {
			g.out[e.From][i] = edge
			for j, in := range g.in[e.To] {
				if in.From == e.From {
					g.in[e.To][j] = edge
				}
			}
			return
		}
	}
	g.out[e.From] = append(g.out[e.From], edge)
	g.in[e.To] = append(g.in[e.To], edge)
}

// Node returns the node with id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

func (g *Graph) ofType(t NodeType) []string {
	out := []string{}
	for _, id := range g.order {
		if g.nodes[id].Type == t {
			out = append(out, id)
		}
	}
	return out
}

// Endings returns ending node IDs in insertion order.
func (g *Graph) Endings() []string { return g.ofType(NodeEnding) }

// DecisionPoints returns decision node IDs in insertion order.
func (g *Graph) DecisionPoints() []string { return g.ofType(NodeDecision) }

// Branch is a neighbouring node seen across one edge.
type Branch struct {
	NodeID      string   `json:"node_id"`
	NodeType    NodeType `json:"node_type"`
	Title       string   `json:"title"`
	Condition   string   `json:"condition,omitempty"`
	Probability float64  `json:"probability"`
	Label       string   `json:"label,omitempty"`
}

// Successors lists the nodes reachable from id in one step.
func (g *Graph) Successors(id string) []Branch {
	out := []Branch{}
	for _, e := range g.out[id] {
		n := g.nodes[e.To]
		out = append(out, Branch{e.To, n.Type, n.Title, e.Condition.Raw, e.Probability, e.Label})
	}
	return out
}

// Predecessors lists the nodes that lead to id in one step.
func (g *Graph) Predecessors(id string) []Branch {
	out := []Branch{}
	for _, e := range g.in[id] {
		n := g.nodes[e.From]
		out = append(out, Branch{e.From, n.Type, n.Title, e.Condition.Raw, e.Probability, e.Label})
	}
	return out
}

// PathsToEndings enumerates every simple path from a node to each ending it
// can reach. Endings that cannot be reached are absent. A node that is
// itself an ending reaches itself by the one-node path.
func (g *Graph) PathsToEndings(from string) map[string][][]string {
	res := make(map[string][][]string)
	if _, ok := g.nodes[from]; !ok {
		return res
	}
	onPath := map[string]bool{from: true}
	path := []string{from}
	var walk func(id string)
	walk = func(id string) {
		if g.nodes[id].Type == NodeEnding {
			res[id] = append(res[id], slices.Clone(path))
		}
		for _, e := range g.out[id] {
			if onPath[e.To] {
				continue
			}
			onPath[e.To] = true
			path = append(path, e.To)
			walk(e.To)
			path = path[:len(path)-1]
			onPath[e.To] = false
		}
	}
	walk(from)
	return res
}

func (g *Graph) edge(from, to string) *Edge {
	for _, e := range g.out[from] {
		if e.To == to {
			return e
		}
	}
	return nil
}

// PathWeight multiplies the probabilities along path, penalizing each edge
// whose condition does not hold.
func (g *Graph) PathWeight(path []string, decisions map[string]string, flags map[string]any) float64 {
	w := 1.0
	for i := 0; i+1 < len(path); i++ {
		e := g.edge(path[i], path[i+1])
		if e == nil {
			return 0
		}
		w *= e.Probability
		if e.Condition.Conditional() && !e.Condition.Satisfied(decisions, flags) {
			w *= g.opts.UnsatisfiedPenalty
		}
	}
	return w
}

// EndingProbabilities estimates, as percentages rounded to one decimal, how
// likely each reachable ending is from current. An ending's weight is that
// of its best path. The result is empty when no ending is reachable, and
// all zero when every reachable ending has zero weight.
func (g *Graph) EndingProbabilities(current string, decisions map[string]string, flags map[string]any) map[string]float64 {
	paths := g.PathsToEndings(current)
	probs := make(map[string]float64, len(paths))
	total := 0.0
	for ending, ps := range paths {
		best := 0.0
		for _, p := range ps {
			best = max(best, g.PathWeight(p, decisions, flags))
		}
		probs[ending] = best
		total += best
	}
	if total <= 0 {
		return probs
	}
	for ending, w := range probs {
		probs[ending] = math.Round(w/total*1000) / 10
	}
	return probs
}

// MostLikelyEnding returns the ending with the highest probability, ties
// going to the ending added first.
func (g *Graph) MostLikelyEnding(probs map[string]float64) (string, float64) {
	best, bestP := "", -1.0
	for _, id := range g.Endings() {
		if p, ok := probs[id]; ok && p > bestP {
			best, bestP = id, p
		}
	}
	if best == "" {
		return "", 0
	}
	return best, bestP
}

// DecisionPoint is a decision reachable ahead of the current node.
type DecisionPoint struct {
	NodeID string `json:"node_id"`
	Title  string `json:"title"`
	Depth  int    `json:"depth"`
	Data   any    `json:"data,omitempty"`
}

// DecisionPointsAhead lists decisions within maxDepth steps of current,
// depth-first. Each node is visited once.
func (g *Graph) DecisionPointsAhead(current string, maxDepth int) []DecisionPoint {
	out := []DecisionPoint{}
	if _, ok := g.nodes[current]; !ok {
		return out
	}
	visited := make(map[string]bool)
	var explore func(id string, depth int)
	explore = func(id string, depth int) {
		if depth > maxDepth || visited[id] {
			return
		}
		visited[id] = true
		if n := g.nodes[id]; n.Type == NodeDecision {
			out = append(out, DecisionPoint{NodeID: id, Title: n.Title, Depth: depth, Data: n.Data})
		}
		for _, e := range g.out[id] {
			explore(e.To, depth+1)
		}
	}
	explore(current, 0)
	return out
}

// Cycles returns every elementary cycle, each starting at its earliest
// added node.
func (g *Graph) Cycles() [][]string {
	index := make(map[string]int, len(g.order))
	for i, id := range g.order {
		index[id] = i
	}
	var cycles [][]string
	for si, start := range g.order {
		onPath := map[string]bool{start: true}
		path := []string{start}
		var walk func(id string)
		walk = func(id string) {
			for _, e := range g.out[id] {
				switch {
				case e.To == start:
					cycles = append(cycles, slices.Clone(path))
				case index[e.To] > si && !onPath[e.To]:
					onPath[e.To] = true
					path = append(path, e.To)
					walk(e.To)
					path = path[:len(path)-1]
					onPath[e.To] = false
				}
			}
		}
		walk(start)
	}
	return cycles
}

// DeadEnds returns non-ending nodes without outgoing edges.
func (g *Graph) DeadEnds() []string {
	out := []string{}
	for _, id := range g.order {
		if g.nodes[id].Type != NodeEnding && len(g.out[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// ShortestPath returns a path with the fewest edges from one node to
// another, or nil if there is none.
func (g *Graph) ShortestPath(from, to string) []string {
	if _, ok := g.nodes[from]; !ok {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return nil
	}
	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == to {
			var path []string
			for at := to; at != ""; at = prev[at] {
				path = append(path, at)
				if at == from {
					break
				}
			}
			slices.Reverse(path)
			return path
		}
		for _, e := range g.out[id] {
			if _, seen := prev[e.To]; !seen {
				prev[e.To] = id
				queue = append(queue, e.To)
			}
		}
	}
	return nil
}

// BranchAnalysis summarizes the choices leaving a node.
type BranchAnalysis struct {
	NodeID           string   `json:"node_id"`
	BranchCount      int      `json:"branch_count"`
	Branches         []Branch `json:"branches"`
	HasConditional   bool     `json:"has_conditional_branches"`
	EndingsReachable []string `json:"endings_reachable"`
}

// AnalyzeBranches summarizes the branches leaving id.
func (g *Graph) AnalyzeBranches(id string) BranchAnalysis {
	succ := g.Successors(id)
	a := BranchAnalysis{
		NodeID:           id,
		BranchCount:      len(succ),
		Branches:         succ,
		EndingsReachable: []string{},
	}
	for _, b := range succ {
		if b.Condition != "" {
			a.HasConditional = true
		}
	}
	reach := g.PathsToEndings(id)
	for _, e := range g.Endings() {
		if _, ok := reach[e]; ok {
			a.EndingsReachable = append(a.EndingsReachable, e)
		}
	}
	return a
}

// Export is a serializable dump of the graph.
type Export struct {
	Nodes          []Node   `json:"nodes"`
	Edges          []Edge   `json:"edges"`
	Endings        []string `json:"endings"`
	DecisionPoints []string `json:"decision_points"`
}

// Export dumps nodes and edges in insertion order.
func (g *Graph) Export() Export {
	x := Export{
		Nodes:          make([]Node, 0, len(g.order)),
		Edges:          []Edge{},
		Endings:        g.Endings(),
		DecisionPoints: g.DecisionPoints(),
	}
	for _, id := range g.order {
		x.Nodes = append(x.Nodes, *g.nodes[id])
		for _, e := range g.out[id] {
			x.Edges = append(x.Edges, *e)
		}
	}
	return x
}
