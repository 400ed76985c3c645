package lsh

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/xhad/sift/pkg/retry"
)

// bucketEntry is one chunk's signature ready to be written.
type bucketEntry struct {
	id     int64
	values []uint64
}

// RedisBuckets stores band signatures as Redis sets keyed by
// prefix:band:<index>:<pattern>. Set membership makes writes idempotent:
// re-indexing a chunk adds nothing new.
type RedisBuckets struct {
	client *redis.Client
	prefix string
	policy retry.Policy
}

func NewRedisBuckets(client *redis.Client, prefix string, policy retry.Policy) *RedisBuckets {
	if prefix == "" {
		prefix = "sift:lsh"
	}
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return &RedisBuckets{
		client: client,
		prefix: prefix,
		policy: policy,
	}
}

func (b *RedisBuckets) key(band int, value uint64) string {
	return fmt.Sprintf("%s:band:%d:%016x", b.prefix, band, value)
}

// AddBatch writes every entry's band memberships in one pipeline round trip.
func (b *RedisBuckets) AddBatch(ctx context.Context, entries []bucketEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return b.policy.Do(ctx, func() error {
		pipe := b.client.Pipeline()
		for _, e := range entries {
			for band, value := range e.values {
				pipe.SAdd(ctx, b.key(band, value), e.id)
			}
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to write bucket entries: %w", err)
		}
		return nil
	})
}

// Candidates returns up to limit chunk IDs colliding with the query on at
// least one band, most-collisions first, ties by ascending ID. The limit
// is the fixed over-fetch size, independent of the caller's topK.
func (b *RedisBuckets) Candidates(ctx context.Context, values []uint64, limit int) ([]int64, error) {
	if limit <= 0 {
		return []int64{}, nil
	}

	var members [][]string
	err := b.policy.Do(ctx, func() error {
		pipe := b.client.Pipeline()
		cmds := make([]*redis.StringSliceCmd, len(values))
		for band, value := range values {
			cmds[band] = pipe.SMembers(ctx, b.key(band, value))
		}
		if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read buckets: %w", err)
		}

		members = members[:0]
		for _, cmd := range cmds {
			members = append(members, cmd.Val())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	collisions := make(map[int64]int)
	for _, set := range members {
		for _, raw := range set {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed bucket member %q: %w", raw, err)
			}
			collisions[id]++
		}
	}
	if len(collisions) == 0 {
		return []int64{}, nil
	}

	ids := make([]int64, 0, len(collisions))
	for id := range collisions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if collisions[ids[i]] != collisions[ids[j]] {
			return collisions[ids[i]] > collisions[ids[j]]
		}
		return ids[i] < ids[j]
	})

	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
