// Package search reconstructs the forwarding graph of a reported message.
//
// A trace walks two ways at once. The backward chain follows the single
// sender of each hop toward the origin, one node per round. The forward
// frontier follows every onward forward of every discovered node, the whole
// frontier per round. Both consult the neighbor index for candidates and the
// membership index for confirmation; a round costs one membership request per
// direction regardless of how many neighbors are tested.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"e2e_trace/internal/index"
	"e2e_trace/internal/model"
	"e2e_trace/internal/protocol/tag"
	"e2e_trace/internal/utils/log"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrRoundBudget is returned when Config.MaxRounds is reached before the
	// search is done.
	ErrRoundBudget = errors.New("search: round budget exhausted")
	// ErrMissingIdentityKey is returned when a user the search must derive a
	// pairwise secret for has no identity key.
	ErrMissingIdentityKey = errors.New("search: missing identity key")
)

type Config struct {
	Tags      index.MembershipIndex
	Neighbors index.NeighborIndex
	Keys      index.IdentityKeyStore

	// Workers bounds the goroutines computing candidate tags. Zero means
	// GOMAXPROCS.
	Workers int
	// MaxRounds aborts a trace after that many rounds. Zero means unbounded.
	MaxRounds int
}

type Searcher struct {
	cfg Config
}

func New(cfg Config) (*Searcher, error) {
	switch {
	case cfg.Tags == nil:
		return nil, errors.New("search: membership index is required")
	case cfg.Neighbors == nil:
		return nil, errors.New("search: neighbor index is required")
	case cfg.Keys == nil:
		return nil, errors.New("search: identity key store is required")
	case cfg.MaxRounds < 0:
		return nil, fmt.Errorf("search: negative round budget %d", cfg.MaxRounds)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Searcher{cfg: cfg}, nil
}

// Trace runs the search for report as seen by reporter. A report whose tag
// key was never issued yields a graph holding only the start node. Any
// collaborator failure aborts the trace; no partial graph is returned.
func (s *Searcher) Trace(ctx context.Context, report model.TraceReport, reporter model.UserID) (*model.ForwardGraph, error) {
	t := newTrace(s, report, reporter)
	if err := t.run(ctx); err != nil {
		return nil, err
	}
	return t.graph, nil
}

type (
	trace struct {
		*Searcher
		message []byte
		graph   *model.ForwardGraph
		state   State
		round   int

		backward *model.SearchNode
		frontier []model.SearchNode

		// A node is visited once it is in both sets.
		forwardDone  map[model.NodeID]struct{}
		backwardDone map[model.NodeID]struct{}
	}

	backwardResult struct {
		node model.SearchNode
		// parents holds every neighbor whose backward tag matched, in
		// neighbor order.
		parents []tag.Candidate
		// children is empty unless expandedForward.
		children        []tag.Candidate
		expandedForward bool
	}

	forwardResult struct {
		node     model.SearchNode
		children []tag.Candidate
	}
)

func newTrace(s *Searcher, report model.TraceReport, reporter model.UserID) *trace {
	start := model.SearchNode{User: reporter, Key: report.TagKey}
	return &trace{
		Searcher:     s,
		message:      report.Message,
		graph:        model.NewForwardGraph(start),
		state:        Idle,
		backward:     &start,
		frontier:     []model.SearchNode{start},
		forwardDone:  make(map[model.NodeID]struct{}),
		backwardDone: make(map[model.NodeID]struct{}),
	}
}

func (t *trace) run(ctx context.Context) error {
	for {
		t.state = t.phase()
		if t.state == Done {
			break
		}
		if t.cfg.MaxRounds > 0 && t.round >= t.cfg.MaxRounds {
			return fmt.Errorf("%w after %d rounds", ErrRoundBudget, t.round)
		}
		t.round++
		log.Debug("search round",
			zap.Int("round", t.round),
			zap.Stringer("state", t.state),
			zap.Int("frontier", len(t.frontier)),
			zap.Int("edges", len(t.graph.Edges)),
		)
		if err := t.step(ctx); err != nil {
			return err
		}
	}
	t.graph.Rounds = t.round
	log.Debug("search done",
		zap.Int("rounds", t.round),
		zap.Int("nodes", len(t.graph.Nodes)),
		zap.Int("edges", len(t.graph.Edges)),
	)
	return nil
}

func (t *trace) phase() State {
	switch {
	case t.backward != nil:
		return ExpandingBackward
	case len(t.frontier) > 0:
		return ExpandingForward
	default:
		return Done
	}
}

// step runs one round: the backward node and the pending frontier are expanded
// concurrently, then their results are merged on the calling goroutine.
func (t *trace) step(ctx context.Context) error {
	var (
		bres *backwardResult
		fres []forwardResult
	)
	g, gctx := errgroup.WithContext(ctx)

	if t.backward != nil {
		node := *t.backward
		_, done := t.forwardDone[node.ID()]
		g.Go(func() error {
			var err error
			bres, err = t.expandBackward(gctx, node, !done)
			return err
		})
	}
	if pending := t.pendingFrontier(); len(pending) > 0 {
		g.Go(func() error {
			var err error
			fres, err = t.expandForward(gctx, pending)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	t.merge(bres, fres)
	return nil
}

// pendingFrontier drops frontier members the backward step already covers or
// that were forward-expanded before.
func (t *trace) pendingFrontier() []model.SearchNode {
	var skip model.NodeID
	if t.backward != nil {
		skip = t.backward.ID()
	}
	out := make([]model.SearchNode, 0, len(t.frontier))
	for _, n := range t.frontier {
		id := n.ID()
		if t.backward != nil && id == skip {
			continue
		}
		if _, ok := t.forwardDone[id]; ok {
			continue
		}
		out = append(out, n)
	}
	return out
}

// expandBackward tests every neighbor of node both as its sender and, when
// withForward is set, as a recipient of its onward forward, in one index call.
func (t *trace) expandBackward(ctx context.Context, node model.SearchNode, withForward bool) (*backwardResult, error) {
	res := &backwardResult{node: node, expandedForward: withForward}

	neighbors, err := t.cfg.Neighbors.Query(ctx, []model.UserID{node.User})
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}
	peers := neighbors[node.User]
	if len(peers) == 0 {
		return res, nil
	}

	users := peers
	if withForward {
		users = append([]model.UserID{node.User}, peers...)
	}
	keys, err := t.identityKeys(ctx, users)
	if err != nil {
		return nil, err
	}

	type pair struct {
		back, fwd tag.Candidate
	}
	pairs, err := scatter(ctx, t.cfg.Workers, len(peers), func(i int) pair {
		p := pair{back: tag.Probe(model.Backward, node, peers[i], keys[peers[i]], t.message)}
		if withForward {
			p.fwd = tag.Probe(model.Forward, node, peers[i], keys[node.User], t.message)
		}
		return p
	})
	if err != nil {
		return nil, err
	}

	stride := 1
	if withForward {
		stride = 2
	}
	tags := make([]model.TraceTag, 0, stride*len(pairs))
	for _, p := range pairs {
		tags = append(tags, p.back.Tag)
		if withForward {
			tags = append(tags, p.fwd.Tag)
		}
	}
	hits, err := t.cfg.Tags.MExists(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("query membership: %w", err)
	}
	if len(hits) != len(tags) {
		return nil, fmt.Errorf("query membership: %d answers for %d tags", len(hits), len(tags))
	}

	for i, p := range pairs {
		if hits[i*stride] {
			res.parents = append(res.parents, p.back)
		}
		if withForward && hits[i*stride+1] {
			res.children = append(res.children, p.fwd)
		}
	}
	return res, nil
}

// expandForward tests every neighbor of every node as a recipient. The
// per-node batches go to the index as one packed request.
func (t *trace) expandForward(ctx context.Context, nodes []model.SearchNode) ([]forwardResult, error) {
	users := distinctUsers(nodes)
	neighbors, err := t.cfg.Neighbors.Query(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}

	type task struct {
		node int
		peer model.UserID
	}
	var (
		tasks   []task
		senders []model.UserID
	)
	for i, n := range nodes {
		peers := neighbors[n.User]
		for _, p := range peers {
			tasks = append(tasks, task{node: i, peer: p})
		}
		if len(peers) > 0 {
			senders = append(senders, n.User)
		}
	}

	results := make([]forwardResult, len(nodes))
	for i, n := range nodes {
		results[i].node = n
	}
	if len(tasks) == 0 {
		return results, nil
	}

	keys, err := t.identityKeys(ctx, distinct(senders))
	if err != nil {
		return nil, err
	}
	cands, err := scatter(ctx, t.cfg.Workers, len(tasks), func(j int) tag.Candidate {
		n := nodes[tasks[j].node]
		return tag.Probe(model.Forward, n, tasks[j].peer, keys[n.User], t.message)
	})
	if err != nil {
		return nil, err
	}

	batches := make([][]model.TraceTag, len(nodes))
	owners := make([][]tag.Candidate, len(nodes))
	for j, tk := range tasks {
		batches[tk.node] = append(batches[tk.node], cands[j].Tag)
		owners[tk.node] = append(owners[tk.node], cands[j])
	}
	hits, err := t.cfg.Tags.MExistsPack(ctx, batches)
	if err != nil {
		return nil, fmt.Errorf("query membership: %w", err)
	}
	if len(hits) != len(batches) {
		return nil, fmt.Errorf("query membership: %d answers for %d batches", len(hits), len(batches))
	}
	for i := range nodes {
		if len(hits[i]) != len(batches[i]) {
			return nil, fmt.Errorf("query membership: %d answers for %d tags", len(hits[i]), len(batches[i]))
		}
		for j, ok := range hits[i] {
			if ok {
				results[i].children = append(results[i].children, owners[i][j])
			}
		}
	}
	return results, nil
}

func (t *trace) identityKeys(ctx context.Context, users []model.UserID) (map[model.UserID]model.IdentityKey, error) {
	keys, err := t.cfg.Keys.Query(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("query identity keys: %w", err)
	}
	for _, u := range users {
		if _, ok := keys[u]; !ok {
			return nil, fmt.Errorf("%w for user %q", ErrMissingIdentityKey, u)
		}
	}
	return keys, nil
}

// merge folds one round's results into the graph and picks the next backward
// node and frontier.
func (t *trace) merge(b *backwardResult, fwd []forwardResult) {
	var next *model.SearchNode

	if b != nil {
		id := b.node.ID()
		t.backwardDone[id] = struct{}{}
		gn := t.graph.AddNode(b.node, 0)
		gn.BackwardMatches += len(b.parents)

		if len(b.parents) > 1 {
			t.graph.Ambiguous = append(t.graph.Ambiguous, id)
			log.Warn("ambiguous backward parent",
				zap.String("user", string(b.node.User)),
				zap.Stringer("node", id),
				zap.Int("matches", len(b.parents)),
			)
		}
		if len(b.parents) > 0 {
			parent := b.parents[0].Peer
			t.graph.AddNode(parent, gn.Depth+1)
			t.graph.AddEdge(parent, b.node, model.Backward, t.round)
			if _, done := t.backwardDone[parent.ID()]; !done {
				next = &parent
			}
		}
		if b.expandedForward {
			t.forwardDone[id] = struct{}{}
			gn.ForwardMatches += len(b.children)
		}
	}
	for _, r := range fwd {
		gn := t.graph.AddNode(r.node, 0)
		gn.ForwardMatches += len(r.children)
		t.forwardDone[r.node.ID()] = struct{}{}
	}

	t.backward = next
	frontier := make([]model.SearchNode, 0, len(t.frontier))
	queued := make(map[model.NodeID]struct{})
	enqueue := func(from model.SearchNode, children []tag.Candidate) {
		depth := t.graph.Nodes[from.ID()].Depth + 1
		for _, c := range children {
			t.graph.AddNode(c.Peer, depth)
			t.graph.AddEdge(from, c.Peer, model.Forward, t.round)
			id := c.Peer.ID()
			if _, ok := t.forwardDone[id]; ok {
				continue
			}
			if _, ok := queued[id]; ok {
				continue
			}
			if next != nil && id == next.ID() {
				continue
			}
			queued[id] = struct{}{}
			frontier = append(frontier, c.Peer)
		}
	}
	if b != nil && b.expandedForward {
		enqueue(b.node, b.children)
	}
	for _, r := range fwd {
		enqueue(r.node, r.children)
	}
	t.frontier = frontier
}

func distinctUsers(nodes []model.SearchNode) []model.UserID {
	users := make([]model.UserID, len(nodes))
	for i, n := range nodes {
		users[i] = n.User
	}
	return distinct(users)
}

func distinct(users []model.UserID) []model.UserID {
	seen := make(map[model.UserID]struct{}, len(users))
	out := users[:0:0]
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
