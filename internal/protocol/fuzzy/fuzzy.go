// Package fuzzy estimates how far a traced graph can be trusted when the
// membership index answers with false positives.
package fuzzy

import (
	"bytes"
	"sort"

	"e2e_trace/internal/model"
)

type (
	// Estimator is safe for concurrent use.
	Estimator struct {
		memo memo
	}

	EdgeEstimate struct {
		model.Edge
		// FalsePositive is the probability that the match which discovered
		// this edge was spurious.
		FalsePositive float64 `json:"false_positive"`
	}

	// Estimate holds confidences on the 0 to 100 scale.
	Estimate struct {
		Nodes map[model.NodeID]float64 `json:"nodes"`
		Users map[model.UserID]float64 `json:"users"`
		Edges []EdgeEstimate           `json:"edges"`
	}

	// discovery is an edge oriented from the node whose query matched it to
	// the node it revealed.
	discovery struct {
		edge  model.Edge
		by    model.NodeID
		found model.NodeID
	}
)

func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) EdgeFalsePositive(k, n int, p float64) float64 {
	return e.memo.get(k, n, p)
}

// Estimate scores every node and user of g. p is the index false-positive
// rate and degrees the full social-graph degree of each user.
//
// Backward edges form the chain toward the origin and win over any forward
// edge between the same two nodes. A node is spurious only if every match
// that revealed it was spurious and every node it revealed further out is
// spurious too; nodes are resolved deepest first.
func (e *Estimator) Estimate(g *model.ForwardGraph, p float64, degrees map[model.UserID]int) *Estimate {
	found := split(g)

	backwardK := make(map[model.NodeID]int)
	forwardK := make(map[model.NodeID]int)
	for _, d := range found {
		if d.edge.Direction == model.Backward {
			backwardK[d.by]++
		} else {
			forwardK[d.by]++
		}
	}
	for id, n := range g.Nodes {
		if n.BackwardMatches > 0 {
			backwardK[id] = n.BackwardMatches
		}
		if n.ForwardMatches > 0 {
			forwardK[id] = n.ForwardMatches
		}
	}

	incoming := make(map[model.NodeID][]float64)
	revealed := make(map[model.NodeID][]model.NodeID)
	est := &Estimate{
		Nodes: make(map[model.NodeID]float64, len(g.Nodes)),
		Users: make(map[model.UserID]float64),
		Edges: make([]EdgeEstimate, 0, len(found)),
	}
	for _, d := range found {
		by := g.Nodes[d.by]
		k := forwardK[d.by]
		if d.edge.Direction == model.Backward {
			k = backwardK[d.by]
		}
		fp := e.EdgeFalsePositive(k, degrees[by.User], p)
		incoming[d.found] = append(incoming[d.found], fp)
		revealed[d.by] = append(revealed[d.by], d.found)
		est.Edges = append(est.Edges, EdgeEstimate{Edge: d.edge, FalsePositive: fp})
	}

	order := make([]*model.GraphNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		order = append(order, n)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].Depth != order[j].Depth {
			return order[i].Depth > order[j].Depth
		}
		return bytes.Compare(order[i].ID[:], order[j].ID[:]) < 0
	})

	spurious := make(map[model.NodeID]float64, len(order))
	for _, n := range order {
		if n.ID == g.Start {
			spurious[n.ID] = 0
			continue
		}
		fp := 1.0
		for _, v := range incoming[n.ID] {
			fp *= v
		}
		for _, c := range revealed[n.ID] {
			child, ok := g.Nodes[c]
			if !ok || child.Depth <= n.Depth {
				continue
			}
			fp *= spurious[c]
		}
		spurious[n.ID] = fp
	}

	userFP := make(map[model.UserID]float64)
	for _, n := range order {
		fp := spurious[n.ID]
		est.Nodes[n.ID] = (1 - fp) * 100
		if v, ok := userFP[n.User]; ok {
			userFP[n.User] = v * fp
		} else {
			userFP[n.User] = fp
		}
	}
	for u, fp := range userFP {
		est.Users[u] = (1 - fp) * 100
	}
	return est
}

// split drops forward edges that duplicate a backward edge in either
// orientation and orients the rest by discovery.
func split(g *model.ForwardGraph) []discovery {
	chain := make(map[[2]model.NodeID]struct{})
	for _, e := range g.Edges {
		if e.Direction == model.Backward {
			chain[[2]model.NodeID{e.From, e.To}] = struct{}{}
		}
	}
	out := make([]discovery, 0, len(g.Edges))
	for _, e := range g.Edges {
		switch e.Direction {
		case model.Backward:
			out = append(out, discovery{edge: e, by: e.To, found: e.From})
		case model.Forward:
			if _, ok := chain[[2]model.NodeID{e.From, e.To}]; ok {
				continue
			}
			if _, ok := chain[[2]model.NodeID{e.To, e.From}]; ok {
				continue
			}
			out = append(out, discovery{edge: e, by: e.From, found: e.To})
		}
	}
	return out
}
