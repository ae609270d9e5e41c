// Package platform is the call surface of the traceback protocol: the client
// side of sending and receiving, and the server side of recording, tracing
// and scoring.
package platform

import (
	"context"
	"errors"
	"fmt"
	"math"

	"e2e_trace/internal/index"
	"e2e_trace/internal/model"
	"e2e_trace/internal/protocol/fuzzy"
	"e2e_trace/internal/protocol/keychain"
	"e2e_trace/internal/protocol/search"
	"e2e_trace/internal/protocol/tag"
	"e2e_trace/internal/utils/log"

	"go.uber.org/zap"
)

// ErrInvalidRate is returned for a false-positive rate outside [0, 1].
var ErrInvalidRate = errors.New("platform: false-positive rate must be in [0, 1]")

type (
	Platform struct {
		tags      index.MembershipIndex
		neighbors index.NeighborIndex
		keys      index.IdentityKeyStore
		searcher  *search.Searcher
		estimator *fuzzy.Estimator
	}

	// Trace is a traced graph together with its confidence estimate. The
	// estimate is nil when the membership index is exact.
	Trace struct {
		Graph      *model.ForwardGraph `json:"graph"`
		Confidence *fuzzy.Estimate     `json:"confidence,omitempty"`
	}
)

func New(cfg search.Config) (*Platform, error) {
	s, err := search.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Platform{
		tags:      cfg.Tags,
		neighbors: cfg.Neighbors,
		keys:      cfg.Keys,
		searcher:  s,
		estimator: fuzzy.NewEstimator(),
	}, nil
}

// Send builds the packet for message over an edge with pairwise secret s and
// the trace tag the platform must record for it. prev is the key of the
// packet being forwarded, nil for a new message. An origin sending one
// message to several peers passes the same keychain.NewSeed value as prev to
// every call.
func Send(message []byte, prev *model.TagKey, s model.PairwiseSecret) (*model.MessagePacket, model.TraceTag, error) {
	p, err := tag.MakePacket(prev, s, message)
	if err != nil {
		return nil, model.TraceTag{}, err
	}
	return p, tag.MakeTraceTag(p.TagKey, s, message), nil
}

// SendTo is Send with the pairwise secret derived from the sender's identity
// key and the recipient.
func SendTo(message []byte, prev *model.TagKey, sender model.IdentityKey, to model.UserID) (*model.MessagePacket, model.TraceTag, error) {
	return Send(message, prev, keychain.DerivePairwiseSecret(sender, to))
}

// Receive reports whether the packet's tag key is bound to its payload.
func Receive(p *model.MessagePacket) bool {
	return tag.VerifyPacket(p)
}

// Record stores the tag of a relayed packet and the contact it travelled
// over.
func (p *Platform) Record(ctx context.Context, link model.Link, t model.TraceTag) error {
	if err := p.tags.Add(ctx, t); err != nil {
		return fmt.Errorf("record tag: %w", err)
	}
	if err := p.neighbors.Add(ctx, link); err != nil {
		return fmt.Errorf("record contact: %w", err)
	}
	return nil
}

func (p *Platform) Report(ctx context.Context, report model.TraceReport, reporter model.UserID) (*model.ForwardGraph, error) {
	g, err := p.searcher.Trace(ctx, report, reporter)
	if err != nil {
		return nil, err
	}
	log.Info("trace finished",
		zap.String("reporter", string(reporter)),
		zap.Int("edges", len(g.Edges)),
		zap.Int("rounds", g.Rounds),
	)
	return g, nil
}

// EstimateConfidence scores g for false-positive rate fpr and the full
// social-graph degree of each user.
func (p *Platform) EstimateConfidence(g *model.ForwardGraph, fpr float64, degrees map[model.UserID]int) (*fuzzy.Estimate, error) {
	if math.IsNaN(fpr) || fpr < 0 || fpr > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRate, fpr)
	}
	return p.estimator.Estimate(g, fpr, degrees), nil
}

// Degrees counts the contacts of every user in g.
func (p *Platform) Degrees(ctx context.Context, g *model.ForwardGraph) (map[model.UserID]int, error) {
	peers, err := p.neighbors.Query(ctx, g.Users())
	if err != nil {
		return nil, fmt.Errorf("query neighbors: %w", err)
	}
	out := make(map[model.UserID]int, len(peers))
	for u, ps := range peers {
		out[u] = len(ps)
	}
	return out, nil
}

// Trace runs Report and, when the membership index is approximate, scores the
// result with the index's own false-positive rate.
func (p *Platform) Trace(ctx context.Context, report model.TraceReport, reporter model.UserID) (*Trace, error) {
	g, err := p.Report(ctx, report, reporter)
	if err != nil {
		return nil, err
	}
	out := &Trace{Graph: g}
	fpr := p.tags.FalsePositiveRate()
	if fpr <= 0 {
		return out, nil
	}
	degrees, err := p.Degrees(ctx, g)
	if err != nil {
		return nil, err
	}
	if out.Confidence, err = p.EstimateConfidence(g, fpr, degrees); err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyReport checks the single edge sender -> reporter for a report without
// running a trace.
func (p *Platform) VerifyReport(ctx context.Context, report model.TraceReport, sender, reporter model.UserID) (bool, error) {
	keys, err := p.keys.Query(ctx, []model.UserID{sender})
	if err != nil {
		return false, fmt.Errorf("query identity keys: %w", err)
	}
	ik, ok := keys[sender]
	if !ok {
		return false, fmt.Errorf("%w for user %q", search.ErrMissingIdentityKey, sender)
	}
	s := keychain.DerivePairwiseSecret(ik, reporter)
	return p.tags.Exists(ctx, tag.MakeTraceTag(report.TagKey, s, report.Message))
}
