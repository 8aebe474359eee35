package locks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func TestRedisLockExcludesSecondHolder(t *testing.T) {
	l, mr := newTestRedis(t)
	const key = "agent-1|2025-01-06|09:00|09:30"

	unlock, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !mr.Exists("slotlock:" + key) {
		t.Fatal("expected lock key in redis")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, key); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired while held, got %v", err)
	}

	unlock()
	if mr.Exists("slotlock:" + key) {
		t.Fatal("expected unlock to delete the key")
	}
	again, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	again()
}

func TestRedisUnlockKeepsOtherHoldersLock(t *testing.T) {
	l, mr := newTestRedis(t)
	const key = "agent-1|2025-01-06|10:00|10:30"

	stale, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	mr.FastForward(2 * time.Second)

	fresh, err := l.Lock(context.Background(), key)
	if err != nil {
		t.Fatalf("expected lock after ttl expiry, got %v", err)
	}
	stale()
	if !mr.Exists("slotlock:" + key) {
		t.Fatal("expected expired holder's unlock to leave the new lock in place")
	}
	fresh()
	if mr.Exists("slotlock:" + key) {
		t.Fatal("expected current holder's unlock to delete the key")
	}
}
