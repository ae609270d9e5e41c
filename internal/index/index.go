// Package index declares the storage collaborators the traceback protocol
// depends on and provides in-memory implementations of them.
package index

import (
	"context"

	"e2e_trace/internal/model"
)

type (
	// MembershipIndex is the append-only trace tag store. Implementations are
	// either exact or have a bounded false-positive rate; they never report
	// false negatives.
	MembershipIndex interface {
		Add(ctx context.Context, tags ...model.TraceTag) error
		Exists(ctx context.Context, tag model.TraceTag) (bool, error)
		// MExists answers for every tag, preserving order.
		MExists(ctx context.Context, tags []model.TraceTag) ([]bool, error)
		// MExistsPack answers several MExists batches in one request.
		MExistsPack(ctx context.Context, batches [][]model.TraceTag) ([][]bool, error)
		// FalsePositiveRate is the nominal rate; zero for exact indexes.
		FalsePositiveRate() float64
		// Clear drops every tag. Test use only.
		Clear(ctx context.Context) error
	}

	// NeighborIndex maps users to the users they have exchanged messages with.
	NeighborIndex interface {
		// Add registers each link in both directions.
		Add(ctx context.Context, links ...model.Link) error
		Query(ctx context.Context, users []model.UserID) (map[model.UserID][]model.UserID, error)
	}

	// IdentityKeyStore resolves users to their identity keys. Users without a
	// key are absent from the result.
	IdentityKeyStore interface {
		Query(ctx context.Context, users []model.UserID) (map[model.UserID]model.IdentityKey, error)
	}
)

// PackEach implements MExistsPack on top of MExists for indexes without a
// native pipelined form.
func PackEach(ctx context.Context, idx MembershipIndex, batches [][]model.TraceTag) ([][]bool, error) {
	out := make([][]bool, len(batches))
	for i, b := range batches {
		res, err := idx.MExists(ctx, b)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}
