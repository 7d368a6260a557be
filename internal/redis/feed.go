package redisclient

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Change marks that availability for Date (YYYY-MM-DD) changed at ChangedAt.
type Change struct {
	Date      string
	ChangedAt time.Time
}

// ChangeFeed stores last-write markers per scope. It is a hint for polling
// clients, never a source of truth.
type ChangeFeed interface {
	MarkChanged(ctx context.Context, scope, date string, at time.Time) error
	ChangesSince(ctx context.Context, scope string, since time.Time) ([]Change, error)
}

type redisChangeFeed struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisChangeFeed keeps one sorted set per scope: member = date, score =
// change time in unix milliseconds. Markers older than retention are trimmed.
func NewRedisChangeFeed(client *redis.Client, retention time.Duration) ChangeFeed {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &redisChangeFeed{client: client, retention: retention}
}

func feedKey(scope string) string {
	return "feed:" + scope
}

func (f *redisChangeFeed) MarkChanged(ctx context.Context, scope, date string, at time.Time) error {
	key := feedKey(scope)
	cutoff := at.Add(-f.retention).UnixMilli()

	pipe := f.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: date})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, f.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark changed %s/%s: %w", scope, date, err)
	}
	return nil
}

func (f *redisChangeFeed) ChangesSince(ctx context.Context, scope string, since time.Time) ([]Change, error) {
	zs, err := f.client.ZRangeByScoreWithScores(ctx, feedKey(scope), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("changes since for %s: %w", scope, err)
	}

	out := make([]Change, 0, len(zs))
	for _, z := range zs {
		date, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, Change{Date: date, ChangedAt: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return out, nil
}

// MemoryChangeFeed is the in-process feed used when Redis is not configured.
type MemoryChangeFeed struct {
	mu      sync.Mutex
	markers map[string]map[string]time.Time
}

func NewMemoryChangeFeed() *MemoryChangeFeed {
	return &MemoryChangeFeed{markers: make(map[string]map[string]time.Time)}
}

func (f *MemoryChangeFeed) MarkChanged(_ context.Context, scope, date string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dates, ok := f.markers[scope]
	if !ok {
		dates = make(map[string]time.Time)
		f.markers[scope] = dates
	}
	if prev, ok := dates[date]; !ok || at.After(prev) {
		dates[date] = at
	}
	return nil
}

func (f *MemoryChangeFeed) ChangesSince(_ context.Context, scope string, since time.Time) ([]Change, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Change
	for date, at := range f.markers[scope] {
		if at.After(since) {
			out = append(out, Change{Date: date, ChangedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ChangedAt.Before(out[j].ChangedAt)
	})
	return out, nil
}
