package platform

import (
	"context"
	"math"
	"testing"

	"e2e_trace/internal/index"
	"e2e_trace/internal/model"
	"e2e_trace/internal/protocol/keychain"
	"e2e_trace/internal/protocol/search"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t        *testing.T
	platform *Platform
	keys     *index.KeyMap
	identity map[model.UserID]model.IdentityKey
}

func newFixture(t *testing.T, tags index.MembershipIndex) *fixture {
	keys := index.NewKeyMap()
	p, err := New(search.Config{Tags: tags, Neighbors: index.NewNeighborMap(), Keys: keys})
	require.NoError(t, err)
	return &fixture{t: t, platform: p, keys: keys, identity: make(map[model.UserID]model.IdentityKey)}
}

func (f *fixture) register(users ...model.UserID) {
	for _, u := range users {
		ik, err := keychain.NewIdentityKey()
		require.NoError(f.t, err)
		f.identity[u] = ik
		f.keys.Register(u, ik)
	}
}

// relay sends message from -> to the way a client does and records it the
// way the server does.
func (f *fixture) relay(message []byte, prev *model.TagKey, from, to model.UserID) *model.MessagePacket {
	p, tg, err := SendTo(message, prev, f.identity[from], to)
	require.NoError(f.t, err)
	require.NoError(f.t, f.platform.Record(context.Background(), model.Link{Sender: from, Receiver: to}, tg))
	require.True(f.t, Receive(p))
	return p
}

func TestSendReceiveReportExact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, index.NewExactSet())
	f.register("alice", "bob", "carol", "dave", "erin")
	msg := []byte("did you hear")

	seed, err := keychain.NewSeed()
	require.NoError(t, err)
	toBob := f.relay(msg, &seed, "alice", "bob")
	f.relay(msg, &seed, "alice", "carol")
	toDave := f.relay(msg, &toBob.TagKey, "bob", "dave")
	f.relay(msg, &toDave.TagKey, "dave", "erin")
	// an unrelated message over an existing contact
	f.relay([]byte("lunch?"), nil, "carol", "erin")

	report := model.TraceReport{TagKey: toDave.TagKey, Message: msg}
	tr, err := f.platform.Trace(ctx, report, "dave")
	require.NoError(t, err)
	require.Len(t, tr.Graph.Edges, 4)
	require.Nil(t, tr.Confidence)

	ok, err := f.platform.VerifyReport(ctx, report, "bob", "dave")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.platform.VerifyReport(ctx, report, "carol", "dave")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = f.platform.VerifyReport(ctx, report, "mallory", "dave")
	require.ErrorIs(t, err, search.ErrMissingIdentityKey)
}

func TestReceiveRejectsTamperedPayload(t *testing.T) {
	f := newFixture(t, index.NewExactSet())
	f.register("a", "b")
	p := f.relay([]byte("original"), nil, "a", "b")
	p.Payload = []byte("edited")
	require.False(t, Receive(p))
}

func TestTraceWithApproximateIndexScoresUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, index.NewBloom(10000, 0.01))
	f.register("a", "b", "c")
	msg := []byte("m")

	toB := f.relay(msg, nil, "a", "b")
	toC := f.relay(msg, &toB.TagKey, "b", "c")

	tr, err := f.platform.Trace(ctx, model.TraceReport{TagKey: toC.TagKey, Message: msg}, "c")
	require.NoError(t, err)
	require.NotNil(t, tr.Confidence)
	require.GreaterOrEqual(t, len(tr.Graph.Edges), 2)

	assert.Equal(t, 100.0, tr.Confidence.Users["c"])
	for _, u := range []model.UserID{"a", "b"} {
		assert.Greater(t, tr.Confidence.Users[u], 0.0)
		assert.Less(t, tr.Confidence.Users[u], 100.0)
	}

	degrees, err := f.platform.Degrees(ctx, tr.Graph)
	require.NoError(t, err)
	assert.Equal(t, 2, degrees["b"])
	assert.Equal(t, 1, degrees["a"])
}

type nanRate struct {
	*index.ExactSet
}

func (nanRate) FalsePositiveRate() float64 { return math.NaN() }

func TestEstimateConfidenceRejectsInvalidRate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nanRate{index.NewExactSet()})
	f.register("a", "b")
	msg := []byte("m")
	toB := f.relay(msg, nil, "a", "b")

	g, err := f.platform.Report(ctx, model.TraceReport{TagKey: toB.TagKey, Message: msg}, "b")
	require.NoError(t, err)
	for _, fpr := range []float64{math.NaN(), -0.1, 1.5, math.Inf(1)} {
		_, err := f.platform.EstimateConfidence(g, fpr, nil)
		assert.ErrorIs(t, err, ErrInvalidRate, "fpr %v", fpr)
	}

	est, err := f.platform.EstimateConfidence(g, 1, map[model.UserID]int{"a": 1, "b": 1})
	require.NoError(t, err)
	for _, c := range est.Users {
		assert.False(t, math.IsNaN(c))
	}

	_, err = f.platform.Trace(ctx, model.TraceReport{TagKey: toB.TagKey, Message: msg}, "b")
	require.ErrorIs(t, err, ErrInvalidRate)
}
