package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"e2e_trace/internal/index"
	"e2e_trace/internal/model"
	"e2e_trace/internal/protocol/keychain"
	"e2e_trace/internal/protocol/tag"

	"github.com/stretchr/testify/require"
)

// network records forwards of one message the way the platform does.
type network struct {
	t         *testing.T
	message   []byte
	tags      *index.ExactSet
	neighbors *index.NeighborMap
	keys      *index.KeyMap
	identity  map[model.UserID]model.IdentityKey
}

func newNetwork(t *testing.T, message string) *network {
	return &network{
		t:         t,
		message:   []byte(message),
		tags:      index.NewExactSet(),
		neighbors: index.NewNeighborMap(),
		keys:      index.NewKeyMap(),
		identity:  make(map[model.UserID]model.IdentityKey),
	}
}

func (n *network) user(u model.UserID) model.IdentityKey {
	if ik, ok := n.identity[u]; ok {
		return ik
	}
	ik, err := keychain.NewIdentityKey()
	require.NoError(n.t, err)
	n.identity[u] = ik
	n.keys.Register(u, ik)
	return ik
}

// originate returns the seed an origin starts its chains from.
func (n *network) originate(u model.UserID) model.SearchNode {
	n.user(u)
	seed, err := keychain.NewSeed()
	require.NoError(n.t, err)
	return model.SearchNode{User: u, Key: seed}
}

// send forwards the message from node to peer and returns the node peer
// becomes.
func (n *network) send(from model.SearchNode, to model.UserID) model.SearchNode {
	n.user(to)
	s := keychain.DerivePairwiseSecret(n.user(from.User), to)
	next := keychain.AdvanceKey(from.Key, s)
	require.NoError(n.t, n.tags.Add(context.Background(), tag.MakeTraceTag(next, s, n.message)))
	n.befriend(from.User, to)
	return model.SearchNode{User: to, Key: next}
}

// befriend links two users without sending anything.
func (n *network) befriend(a, b model.UserID) {
	n.user(a)
	n.user(b)
	require.NoError(n.t, n.neighbors.Add(context.Background(), model.Link{Sender: a, Receiver: b}))
}

func (n *network) config() Config {
	return Config{Tags: n.tags, Neighbors: n.neighbors, Keys: n.keys, Workers: 4}
}

func (n *network) trace(cfg Config, at model.SearchNode) (*model.ForwardGraph, error) {
	s, err := New(cfg)
	require.NoError(n.t, err)
	return s.Trace(context.Background(), model.TraceReport{TagKey: at.Key, Message: n.message}, at.User)
}

// buildTree makes every node forward to branch new users, depth levels deep,
// and returns the leaves.
func (n *network) buildTree(root model.SearchNode, branch, depth int) []model.SearchNode {
	level := []model.SearchNode{root}
	for d := 0; d < depth; d++ {
		var next []model.SearchNode
		for _, parent := range level {
			for b := 0; b < branch; b++ {
				child := model.UserID(fmt.Sprintf("%s.%d", parent.User, b))
				next = append(next, n.send(parent, child))
			}
		}
		level = next
	}
	return level
}

type countingNeighbors struct {
	index.NeighborIndex
	mu      sync.Mutex
	queried map[model.UserID]int
}

func (c *countingNeighbors) Query(ctx context.Context, users []model.UserID) (map[model.UserID][]model.UserID, error) {
	c.mu.Lock()
	for _, u := range users {
		c.queried[u]++
	}
	c.mu.Unlock()
	return c.NeighborIndex.Query(ctx, users)
}

func (c *countingNeighbors) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sum := 0
	for _, v := range c.queried {
		sum += v
	}
	return sum
}

var errIndexDown = errors.New("index unavailable")

type failingTags struct {
	index.MembershipIndex
}

func (failingTags) MExists(context.Context, []model.TraceTag) ([]bool, error) {
	return nil, errIndexDown
}

func (failingTags) MExistsPack(context.Context, [][]model.TraceTag) ([][]bool, error) {
	return nil, errIndexDown
}
