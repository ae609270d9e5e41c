package index

import (
	"context"
	"crypto/rand"
	"testing"

	"e2e_trace/internal/model"

	"github.com/stretchr/testify/require"
)

func randomTags(n int) []model.TraceTag {
	tags := make([]model.TraceTag, n)
	for i := range tags {
		rand.Read(tags[i][:])
	}
	return tags
}

func TestExactSet(t *testing.T) {
	ctx := context.Background()
	s := NewExactSet()
	tags := randomTags(4)

	require.NoError(t, s.Add(ctx, tags[0], tags[2]))

	ok, err := s.Exists(ctx, tags[0])
	require.NoError(t, err)
	require.True(t, ok)

	res, err := s.MExists(ctx, tags)
	require.NoError(t, err)
	require.Equal(t, []bool{true, false, true, false}, res)

	packed, err := s.MExistsPack(ctx, [][]model.TraceTag{tags[:2], nil, tags[2:]})
	require.NoError(t, err)
	require.Equal(t, [][]bool{{true, false}, {}, {true, false}}, packed)

	require.Zero(t, s.FalsePositiveRate())
	require.NoError(t, s.Clear(ctx))
	require.Zero(t, s.Len())
}

func TestBloomHasNoFalseNegatives(t *testing.T) {
	ctx := context.Background()
	b := NewBloom(1000, 0.01)
	tags := randomTags(500)
	require.NoError(t, b.Add(ctx, tags...))

	res, err := b.MExists(ctx, tags)
	require.NoError(t, err)
	for i, ok := range res {
		require.True(t, ok, "tag %d", i)
	}

	misses, err := b.MExists(ctx, randomTags(2000))
	require.NoError(t, err)
	fp := 0
	for _, ok := range misses {
		if ok {
			fp++
		}
	}
	// generous bound over the nominal 1%
	require.Less(t, fp, 100)
	require.Equal(t, 0.01, b.FalsePositiveRate())

	require.NoError(t, b.Clear(ctx))
	ok, err := b.Exists(ctx, tags[0])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNeighborMapRegistersBothDirections(t *testing.T) {
	ctx := context.Background()
	m := NewNeighborMap()
	require.NoError(t, m.Add(ctx,
		model.Link{Sender: "a", Receiver: "b"},
		model.Link{Sender: "a", Receiver: "c"},
		model.Link{Sender: "b", Receiver: "a"},
		model.Link{Sender: "a", Receiver: "a"},
	))

	res, err := m.Query(ctx, []model.UserID{"a", "b", "c", "z"})
	require.NoError(t, err)
	require.Equal(t, []model.UserID{"b", "c"}, res["a"])
	require.Equal(t, []model.UserID{"a"}, res["b"])
	require.Equal(t, []model.UserID{"a"}, res["c"])
	_, ok := res["z"]
	require.False(t, ok)
}

func TestKeyMap(t *testing.T) {
	m := NewKeyMap()
	m.Register("a", model.IdentityKey{1})

	res, err := m.Query(context.Background(), []model.UserID{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, map[model.UserID]model.IdentityKey{"a": {1}}, res)
}
