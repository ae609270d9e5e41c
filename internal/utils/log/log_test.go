package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetRoutesGlobalCalls(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := L()
	Set(zap.New(core))
	t.Cleanup(func() { Set(prev) })

	Debug("one")
	Warn("two", zap.String("k", "v"))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "two", entries[1].Message)
	require.Equal(t, "v", entries[1].ContextMap()["k"])
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	require.Error(t, Init("loud", false))
}
