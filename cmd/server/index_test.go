package main

import (
	"context"
	"testing"

	"e2e_trace/internal/config"
	"e2e_trace/internal/index"
	"e2e_trace/internal/model"

	"github.com/stretchr/testify/require"
)

func TestNewTagIndexInMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Index

	tags, err := newTagIndex(ctx, cfg, nil, true)
	require.NoError(t, err)
	require.IsType(t, &index.ExactSet{}, tags)
	require.Zero(t, tags.FalsePositiveRate())

	cfg.Mode = "bloom"
	cfg.Capacity = 1000
	cfg.ErrorRate = 0.01
	tags, err = newTagIndex(ctx, cfg, nil, true)
	require.NoError(t, err)
	require.IsType(t, &index.Bloom{}, tags)
	require.Equal(t, 0.01, tags.FalsePositiveRate())

	tag := model.TraceTag{1, 2, 3}
	require.NoError(t, tags.Add(ctx, tag))
	ok, err := tags.Exists(ctx, tag)
	require.NoError(t, err)
	require.True(t, ok)
}
