package model

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// Direction tells which side of an edge a candidate tag tests.
type Direction int

const (
	// Backward tests "did this neighbor send to me, at my current key".
	Backward Direction = iota
	// Forward tests "did I send onward to this neighbor, at my advanced key".
	Forward
)

func (d Direction) String() string {
	switch d {
	case Backward:
		return "backward"
	case Forward:
		return "forward"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	switch string(b) {
	case "backward":
		*d = Backward
	case "forward":
		*d = Forward
	default:
		return fmt.Errorf("unknown direction %q", b)
	}
	return nil
}

// NodeID identifies one forwarding occurrence: hash(user, tag key).
type NodeID [16]byte

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

func (id NodeID) MarshalText() ([]byte, error) {
	return marshalHex(id[:]), nil
}

func (id *NodeID) UnmarshalText(b []byte) error {
	return unmarshalHex(id[:], b)
}

// SearchNode is a user together with the tag key it holds for the traced
// message. The same user reached with two different keys is two nodes.
type SearchNode struct {
	User UserID
	Key  TagKey
}

func (n SearchNode) ID() NodeID {
	h := sha3.New256()
	h.Write(n.Key[:])
	h.Write([]byte(n.User))
	var id NodeID
	copy(id[:], h.Sum(nil))
	return id
}

type (
	// GraphNode is a discovered search node and the bookkeeping the confidence
	// estimator needs about how it was found.
	GraphNode struct {
		ID    NodeID `json:"id"`
		User  UserID `json:"user"`
		Depth int    `json:"depth"`

		// ForwardMatches and BackwardMatches count every index match this node's
		// own queries produced, duplicates included.
		ForwardMatches  int `json:"forward_matches"`
		BackwardMatches int `json:"backward_matches"`

		key TagKey
	}

	// Edge is a confirmed forward of the traced message from Sender to Receiver.
	Edge struct {
		Sender    UserID    `json:"sender"`
		Receiver  UserID    `json:"receiver"`
		From      NodeID    `json:"from"`
		To        NodeID    `json:"to"`
		Direction Direction `json:"direction"`
		Round     int       `json:"round"`
	}

	// ForwardGraph is the result of one trace.
	ForwardGraph struct {
		Start     NodeID                `json:"start"`
		Nodes     map[NodeID]*GraphNode `json:"nodes"`
		Edges     []Edge                `json:"edges"`
		Ambiguous []NodeID              `json:"ambiguous,omitempty"`
		Rounds    int                   `json:"rounds"`

		edgeSet map[[2]NodeID]struct{}
	}
)

func NewForwardGraph(start SearchNode) *ForwardGraph {
	g := &ForwardGraph{
		Start:   start.ID(),
		Nodes:   make(map[NodeID]*GraphNode),
		edgeSet: make(map[[2]NodeID]struct{}),
	}
	g.AddNode(start, 0)
	return g
}

// AddNode registers n at the given depth unless it is already known, and
// returns the stored node.
func (g *ForwardGraph) AddNode(n SearchNode, depth int) *GraphNode {
	id := n.ID()
	if gn, ok := g.Nodes[id]; ok {
		return gn
	}
	gn := &GraphNode{ID: id, User: n.User, Depth: depth, key: n.Key}
	g.Nodes[id] = gn
	return gn
}

// AddEdge records sender -> receiver. It returns false when the same pair of
// nodes is already connected.
func (g *ForwardGraph) AddEdge(sender, receiver SearchNode, dir Direction, round int) bool {
	if g.edgeSet == nil {
		g.edgeSet = make(map[[2]NodeID]struct{})
		for _, e := range g.Edges {
			g.edgeSet[[2]NodeID{e.From, e.To}] = struct{}{}
		}
	}
	from, to := sender.ID(), receiver.ID()
	k := [2]NodeID{from, to}
	if _, ok := g.edgeSet[k]; ok {
		return false
	}
	g.edgeSet[k] = struct{}{}
	g.Edges = append(g.Edges, Edge{
		Sender:    sender.User,
		Receiver:  receiver.User,
		From:      from,
		To:        to,
		Direction: dir,
		Round:     round,
	})
	return true
}

func (g *ForwardGraph) Empty() bool {
	return len(g.Edges) == 0
}

// Users returns every distinct user in the graph.
func (g *ForwardGraph) Users() []UserID {
	seen := make(map[UserID]struct{}, len(g.Nodes))
	users := make([]UserID, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, ok := seen[n.User]; ok {
			continue
		}
		seen[n.User] = struct{}{}
		users = append(users, n.User)
	}
	return users
}

// Key returns the tag key the node held. It is not serialized.
func (n *GraphNode) Key() TagKey {
	return n.key
}
