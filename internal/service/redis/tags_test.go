package redis

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"testing"
	"time"

	"e2e_trace/internal/index"
	"e2e_trace/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var _ index.MembershipIndex = (*TagIndex)(nil)

func testClient(t *testing.T) *redis.Client {
	addr := os.Getenv("TRACE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRACE_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func randomTags(n int) []model.TraceTag {
	tags := make([]model.TraceTag, n)
	for i := range tags {
		rand.Read(tags[i][:])
	}
	return tags
}

func testTagIndex(t *testing.T, opts TagIndexOptions) {
	ctx := context.Background()
	rdb := testClient(t)
	opts.Key = fmt.Sprintf("test:tags:%s:%d", opts.Mode, time.Now().UnixNano())

	idx, err := NewTagIndex(ctx, rdb, opts)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Del(context.Background(), opts.Key) })

	tags := randomTags(6)
	require.NoError(t, idx.Add(ctx, tags[0], tags[1], tags[4]))

	ok, err := idx.Exists(ctx, tags[1])
	require.NoError(t, err)
	require.True(t, ok)

	res, err := idx.MExists(ctx, tags[:3])
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, false}, res)

	packed, err := idx.MExistsPack(ctx, [][]model.TraceTag{tags[:2], {}, tags[3:5]})
	require.NoError(t, err)
	require.Equal(t, [][]bool{{true, true}, {}, {false, true}}, packed)

	require.NoError(t, idx.Clear(ctx))
	ok, err = idx.Exists(ctx, tags[0])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTagIndexExact(t *testing.T) {
	testTagIndex(t, TagIndexOptions{Mode: ModeExact})
}

func TestTagIndexBloom(t *testing.T) {
	if os.Getenv("TRACE_TEST_REDIS_BLOOM") == "" {
		t.Skip("TRACE_TEST_REDIS_BLOOM not set")
	}
	testTagIndex(t, TagIndexOptions{Mode: ModeBloom, ErrorRate: 0.001, Capacity: 1000})
}

func TestNewTagIndexValidates(t *testing.T) {
	ctx := context.Background()
	_, err := NewTagIndex(ctx, nil, TagIndexOptions{Mode: ModeExact})
	require.Error(t, err)
	_, err = NewTagIndex(ctx, nil, TagIndexOptions{Key: "k", Mode: "cuckoo"})
	require.Error(t, err)
	_, err = NewTagIndex(ctx, nil, TagIndexOptions{Key: "k", Mode: ModeBloom, ErrorRate: 0, Capacity: 10})
	require.Error(t, err)
	_, err = NewTagIndex(ctx, nil, TagIndexOptions{Key: "k", Mode: ModeBloom, ErrorRate: 0.01})
	require.Error(t, err)

	idx, err := NewTagIndex(ctx, nil, TagIndexOptions{Key: "k", Mode: ModeExact})
	require.NoError(t, err)
	require.Zero(t, idx.FalsePositiveRate())
}

func TestDrain(t *testing.T) {
	ctx := context.Background()
	svc := NewRedis(testClient(t))
	key := fmt.Sprintf("test:drain:%d", time.Now().UnixNano())
	require.NoError(t, svc.Ping(ctx))

	require.NoError(t, svc.RPush(ctx, key, "a", "b"))
	vals, err := svc.Drain(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, vals)

	vals, err = svc.Drain(ctx, key)
	require.NoError(t, err)
	require.Empty(t, vals)

	v, err := svc.Get(ctx, key)
	require.NoError(t, err)
	require.Empty(t, v)
}
