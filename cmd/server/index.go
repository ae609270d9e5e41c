package main

import (
	"context"

	"e2e_trace/internal/config"
	"e2e_trace/internal/index"
	redisSvc "e2e_trace/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

// newTagIndex builds the membership index. In memory the index mode still
// picks between an exact set and a bloom filter sized from the config.
func newTagIndex(ctx context.Context, cfg config.IndexConfig, rdb *redis.Client, inMemory bool) (index.MembershipIndex, error) {
	if inMemory {
		if cfg.Mode == redisSvc.ModeBloom {
			return index.NewBloom(uint(cfg.Capacity), cfg.ErrorRate), nil
		}
		return index.NewExactSet(), nil
	}

	return redisSvc.NewTagIndex(ctx, rdb, redisSvc.TagIndexOptions{
		Key:       cfg.Key,
		Mode:      cfg.Mode,
		ErrorRate: cfg.ErrorRate,
		Capacity:  cfg.Capacity,
	})
}
