package redisclient

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryChangeFeed_ChangesSince(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryChangeFeed()
	base := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	_ = feed.MarkChanged(ctx, "provider:p1", "2026-10-20", base)
	_ = feed.MarkChanged(ctx, "provider:p1", "2026-10-21", base.Add(time.Minute))
	_ = feed.MarkChanged(ctx, "provider:p2", "2026-10-20", base.Add(2*time.Minute))

	got, err := feed.ChangesSince(ctx, "provider:p1", base)
	if err != nil {
		t.Fatalf("ChangesSince error: %v", err)
	}
	if len(got) != 1 || got[0].Date != "2026-10-21" {
		t.Fatalf("changes = %+v, want only 2026-10-21", got)
	}

	got, _ = feed.ChangesSince(ctx, "provider:p1", base.Add(-time.Second))
	if len(got) != 2 || got[0].Date != "2026-10-20" {
		t.Fatalf("changes = %+v, want both dates oldest first", got)
	}
}

func TestMemoryChangeFeed_KeepsLatestMarker(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryChangeFeed()
	late := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

	_ = feed.MarkChanged(ctx, "s", "2026-10-20", late)
	_ = feed.MarkChanged(ctx, "s", "2026-10-20", late.Add(-time.Hour))

	got, _ := feed.ChangesSince(ctx, "s", late.Add(-time.Minute))
	if len(got) != 1 || !got[0].ChangedAt.Equal(late) {
		t.Fatalf("changes = %+v, want marker at %s", got, late)
	}
}

func TestNoopLocker_RunsFn(t *testing.T) {
	var calls int32
	err := NoopLocker{}.WithSlotLock(context.Background(), "k", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	if err != nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRedisIntegration_LockAndFeed(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("SLOTBOOKING_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("SLOTBOOKING_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := NewRedisClient(ctx, Options{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisClient error: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	locker := NewRedisSlotLocker(rdb, 2*time.Second)
	key := "test:" + uuid.NewString()

	err = locker.WithSlotLock(ctx, key, func(ctx context.Context) error {
		inner := locker.WithSlotLock(ctx, key, func(context.Context) error { return nil })
		if !errors.Is(inner, ErrLockNotAcquired) {
			t.Errorf("nested lock error = %v, want %v", inner, ErrLockNotAcquired)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithSlotLock error: %v", err)
	}
	if err := locker.WithSlotLock(ctx, key, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("lock not released: %v", err)
	}

	feed := NewRedisChangeFeed(rdb, time.Hour)
	scope := "test:" + uuid.NewString()
	t.Cleanup(func() { _ = rdb.Del(context.Background(), feedKey(scope)).Err() })

	now := time.Now()
	if err := feed.MarkChanged(ctx, scope, "2026-10-20", now); err != nil {
		t.Fatalf("MarkChanged error: %v", err)
	}
	changes, err := feed.ChangesSince(ctx, scope, now.Add(-time.Second))
	if err != nil {
		t.Fatalf("ChangesSince error: %v", err)
	}
	if len(changes) != 1 || changes[0].Date != "2026-10-20" {
		t.Fatalf("changes = %+v", changes)
	}
	changes, _ = feed.ChangesSince(ctx, scope, now)
	if len(changes) != 0 {
		t.Fatalf("changes after marker = %+v, want none", changes)
	}
}
