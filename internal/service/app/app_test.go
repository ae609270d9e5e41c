package app

import (
	"testing"

	"e2e_trace/internal/model"
	"e2e_trace/internal/protocol/fuzzy"
	"e2e_trace/internal/protocol/keychain"
	"e2e_trace/internal/service/platform"

	"github.com/stretchr/testify/require"
)

func TestRenderTrace(t *testing.T) {
	a := model.SearchNode{User: "alice", Key: model.TagKey{1}}
	b := model.SearchNode{User: "bob", Key: model.TagKey{2}}
	g := model.NewForwardGraph(b)
	g.AddNode(a, 1)
	g.AddEdge(a, b, model.Backward, 1)
	g.Rounds = 2

	out := renderTrace(&platform.Trace{Graph: g})
	require.Equal(t, "trace: 1 edges in 2 rounds\n  alice -> bob (backward, round 1)", out)

	out = renderTrace(&platform.Trace{
		Graph: g,
		Confidence: &fuzzy.Estimate{Users: map[model.UserID]float64{
			"bob":   100,
			"alice": 87.5,
		}},
	})
	require.Contains(t, out, "confidence:\n  alice 87.50%\n  bob 100.00%")
}

func TestRenderEmptyTrace(t *testing.T) {
	g := model.NewForwardGraph(model.SearchNode{User: "bob"})
	require.Equal(t, "trace: no forwards found", renderTrace(&platform.Trace{Graph: g}))
}

func TestReceivedLine(t *testing.T) {
	line, ok := receivedLine(&model.Envelope{From: "alice"})
	require.False(t, ok)
	require.Equal(t, "[green]alice:[-] [red]empty message[-]", line)

	line, ok = receivedLine(nil)
	require.False(t, ok)
	require.Contains(t, line, "empty message")

	ik, err := keychain.NewIdentityKey()
	require.NoError(t, err)
	p, _, err := platform.SendTo([]byte("hi"), nil, ik, "bob")
	require.NoError(t, err)

	line, ok = receivedLine(&model.Envelope{From: "alice", To: "bob", Packet: p})
	require.True(t, ok)
	require.Equal(t, "[green]alice:[-] hi ([green]verified[-])", line)

	p.Payload = []byte("bye")
	line, ok = receivedLine(&model.Envelope{From: "alice", To: "bob", Packet: p})
	require.False(t, ok)
	require.Equal(t, "[green]alice:[-] bye ([red]unverified[-])", line)
}
