package redis

import (
	"context"
	"fmt"
	"strings"

	"e2e_trace/internal/model"

	"github.com/redis/go-redis/v9"
)

const (
	// ModeExact keeps tags in a plain set.
	ModeExact = "exact"
	// ModeBloom keeps tags in a RedisBloom filter.
	ModeBloom = "bloom"
)

type (
	TagIndexOptions struct {
		Key  string
		Mode string
		// ErrorRate and Capacity size the filter in bloom mode.
		ErrorRate float64
		Capacity  int64
	}

	// TagIndex is a membership index stored under one redis key.
	TagIndex struct {
		rdb  *redis.Client
		opts TagIndexOptions
	}
)

func NewTagIndex(ctx context.Context, rdb *redis.Client, opts TagIndexOptions) (*TagIndex, error) {
	if opts.Key == "" {
		return nil, fmt.Errorf("tag index: empty key")
	}
	switch opts.Mode {
	case ModeExact:
	case ModeBloom:
		if opts.ErrorRate <= 0 || opts.ErrorRate >= 1 {
			return nil, fmt.Errorf("tag index: error rate %v out of (0, 1)", opts.ErrorRate)
		}
		if opts.Capacity <= 0 {
			return nil, fmt.Errorf("tag index: capacity must be positive")
		}
	default:
		return nil, fmt.Errorf("tag index: unknown mode %q", opts.Mode)
	}
	idx := &TagIndex{rdb: rdb, opts: opts}
	if err := idx.reserve(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (t *TagIndex) reserve(ctx context.Context) error {
	if t.opts.Mode != ModeBloom {
		return nil
	}
	err := t.rdb.BFReserve(ctx, t.opts.Key, t.opts.ErrorRate, t.opts.Capacity).Err()
	if err != nil && !strings.Contains(err.Error(), "exists") {
		return fmt.Errorf("reserve bloom filter: %w", err)
	}
	return nil
}

func members(tags []model.TraceTag) []any {
	out := make([]any, len(tags))
	for i := range tags {
		out[i] = tags[i][:]
	}
	return out
}

func (t *TagIndex) Add(ctx context.Context, tags ...model.TraceTag) error {
	if len(tags) == 0 {
		return nil
	}
	if t.opts.Mode == ModeBloom {
		return t.rdb.BFMAdd(ctx, t.opts.Key, members(tags)...).Err()
	}
	return t.rdb.SAdd(ctx, t.opts.Key, members(tags)...).Err()
}

func (t *TagIndex) Exists(ctx context.Context, tag model.TraceTag) (bool, error) {
	if t.opts.Mode == ModeBloom {
		return t.rdb.BFExists(ctx, t.opts.Key, tag[:]).Result()
	}
	return t.rdb.SIsMember(ctx, t.opts.Key, tag[:]).Result()
}

func (t *TagIndex) MExists(ctx context.Context, tags []model.TraceTag) ([]bool, error) {
	if len(tags) == 0 {
		return []bool{}, nil
	}
	return t.mexists(ctx, t.rdb, tags).Result()
}

// MExistsPack sends every batch in one pipeline.
func (t *TagIndex) MExistsPack(ctx context.Context, batches [][]model.TraceTag) ([][]bool, error) {
	cmds := make([]*redis.BoolSliceCmd, len(batches))
	pipe := t.rdb.Pipeline()
	queued := 0
	for i, b := range batches {
		if len(b) == 0 {
			continue
		}
		cmds[i] = t.mexists(ctx, pipe, b)
		queued++
	}
	if queued > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
	}
	out := make([][]bool, len(batches))
	for i, cmd := range cmds {
		if cmd == nil {
			out[i] = []bool{}
			continue
		}
		out[i] = cmd.Val()
	}
	return out, nil
}

func (t *TagIndex) mexists(ctx context.Context, c redis.Cmdable, tags []model.TraceTag) *redis.BoolSliceCmd {
	if t.opts.Mode == ModeBloom {
		return c.BFMExists(ctx, t.opts.Key, members(tags)...)
	}
	return c.SMIsMember(ctx, t.opts.Key, members(tags)...)
}

func (t *TagIndex) FalsePositiveRate() float64 {
	if t.opts.Mode == ModeBloom {
		return t.opts.ErrorRate
	}
	return 0
}

func (t *TagIndex) Clear(ctx context.Context) error {
	if err := t.rdb.Del(ctx, t.opts.Key).Err(); err != nil {
		return err
	}
	return t.reserve(ctx)
}
