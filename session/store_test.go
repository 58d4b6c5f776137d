package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *testClock) Store

func newMemoryStoreTest(t *testing.T, clock *testClock) Store {
	t.Helper()
	return NewMemoryStore(StoreOptions{Now: clock.Now})
}

func newRedisStoreTest(t *testing.T, clock *testClock) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "test", StoreOptions{Now: clock.Now})
}

var storeFactories = map[string]storeFactory{
	"memory": newMemoryStoreTest,
	"redis":  newRedisStoreTest,
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store, clock *testClock)) {
	for name, factory := range storeFactories {
		t.Run(name, func(t *testing.T) {
			clock := newTestClock()
			fn(t, factory(t, clock), clock)
		})
	}
}

func testSession(clock *testClock, id, userID, refresh string) *Session {
	now := clock.Now()
	return &Session{
		ID:           id,
		UserID:       userID,
		Email:        userID + "@example.com",
		Role:         "member",
		AccessToken:  "access-" + id,
		RefreshToken: refresh,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(time.Hour),
		IsActive:     true,
		UserAgent:    "test-agent",
		IPAddress:    "127.0.0.1",
		Metadata:     map[string]string{"device": "laptop"},
	}
}

func TestStoreSaveAndLookupByAllIndices(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		sess := testSession(clock, "s1", "u1", "r1")
		if err := store.Save(ctx, sess); err != nil {
			t.Fatalf("save: %v", err)
		}

		byID, err := store.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("find by id: %v", err)
		}
		if byID.UserID != "u1" || byID.RefreshToken != "r1" || byID.Metadata["device"] != "laptop" {
			t.Fatalf("unexpected session: %+v", byID)
		}
		if !byID.ExpiresAt.Equal(sess.ExpiresAt) {
			t.Fatalf("expected expiresAt %v, got %v", sess.ExpiresAt, byID.ExpiresAt)
		}

		byRefresh, err := store.FindByRefreshToken(ctx, "r1")
		if err != nil || byRefresh.ID != "s1" {
			t.Fatalf("find by refresh: %v %+v", err, byRefresh)
		}

		list, err := store.FindByUserID(ctx, "u1")
		if err != nil || len(list) != 1 {
			t.Fatalf("find by user: %v %d", err, len(list))
		}

		if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if _, err := store.FindByRefreshToken(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})
}

func TestStoreSaveReplacesRefreshIndex(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		sess := testSession(clock, "s1", "u1", "r1")
		if err := store.Save(ctx, sess); err != nil {
			t.Fatalf("save: %v", err)
		}

		sess.RefreshToken = "r2"
		if err := store.Save(ctx, sess); err != nil {
			t.Fatalf("save rotated: %v", err)
		}

		if _, err := store.FindByRefreshToken(ctx, "r1"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected old refresh token to be unindexed, got %v", err)
		}
		got, err := store.FindByRefreshToken(ctx, "r2")
		if err != nil || got.ID != "s1" {
			t.Fatalf("expected new refresh token to resolve s1: %v", err)
		}
	})
}

func TestStoreReplaceIsCompareAndSwap(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		if err := store.Save(ctx, testSession(clock, "s1", "u1", "r1")); err != nil {
			t.Fatalf("save: %v", err)
		}

		a, _ := store.FindByID(ctx, "s1")
		b, _ := store.FindByID(ctx, "s1")

		a.RefreshToken = "ra"
		if err := store.Replace(ctx, a); err != nil {
			t.Fatalf("first replace: %v", err)
		}
		b.RefreshToken = "rb"
		if err := store.Replace(ctx, b); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}

		got, _ := store.FindByID(ctx, "s1")
		if got.RefreshToken != "ra" {
			t.Fatalf("expected winner token ra, got %q", got.RefreshToken)
		}
		if _, err := store.FindByRefreshToken(ctx, "rb"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected loser token unindexed, got %v", err)
		}

		ghost := testSession(clock, "ghost", "u1", "rg")
		if err := store.Replace(ctx, ghost); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound for missing session, got %v", err)
		}
	})
}

func TestStoreDeleteIdempotentAndDropsUserIndex(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		if err := store.Save(ctx, testSession(clock, "s1", "u1", "r1")); err != nil {
			t.Fatalf("save: %v", err)
		}

		if err := store.Delete(ctx, "s1"); err != nil {
			t.Fatalf("first delete: %v", err)
		}
		if err := store.Delete(ctx, "s1"); err != nil {
			t.Fatalf("second delete: %v", err)
		}

		if _, err := store.FindByRefreshToken(ctx, "r1"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected refresh index removed, got %v", err)
		}
		list, err := store.FindByUserID(ctx, "u1")
		if err != nil || len(list) != 0 {
			t.Fatalf("expected empty user index, got %d (%v)", len(list), err)
		}
		count, err := store.UserSessionCount(ctx, "u1")
		if err != nil || count != 0 {
			t.Fatalf("expected count 0, got %d (%v)", count, err)
		}
	})
}

func TestMemoryStoreDropsEmptyUserSet(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore(StoreOptions{Now: clock.Now})
	ctx := context.Background()
	if err := store.Save(ctx, testSession(clock, "s1", "u1", "r1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.byUser["u1"]; ok {
		t.Fatal("expected empty user set to be removed")
	}
}

func TestRedisStoreDeleteRemovesAllKeys(t *testing.T) {
	clock := newTestClock()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	store := NewRedisStore(rdb, "test", StoreOptions{Now: clock.Now})
	ctx := context.Background()

	if err := store.Save(ctx, testSession(clock, "s1", "u1", "r1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, key := range []string{store.sessionKey("s1"), store.metaKey("s1"), store.refreshPrefix() + refreshHash("r1")} {
		if mr.Exists(key) {
			t.Fatalf("expected %s removed", key)
		}
	}
	if n, _ := rdb.SCard(ctx, store.userKey("u1")).Result(); n != 0 {
		t.Fatalf("expected empty user set, got %d", n)
	}
}

func TestStoreUserSessionCountTracksActiveOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		for _, id := range []string{"s1", "s2", "s3"} {
			if err := store.Save(ctx, testSession(clock, id, "u1", "r-"+id)); err != nil {
				t.Fatalf("save %s: %v", id, err)
			}
		}
		if err := store.Save(ctx, testSession(clock, "other", "u2", "r-other")); err != nil {
			t.Fatalf("save other: %v", err)
		}

		count, _ := store.UserSessionCount(ctx, "u1")
		if count != 3 {
			t.Fatalf("expected 3, got %d", count)
		}

		s2, _ := store.FindByID(ctx, "s2")
		s2.IsActive = false
		if err := store.Save(ctx, s2); err != nil {
			t.Fatalf("save inactive: %v", err)
		}
		count, _ = store.UserSessionCount(ctx, "u1")
		if count != 2 {
			t.Fatalf("expected 2 after deactivation, got %d", count)
		}
	})
}

func TestStoreInvalidateAllByUserID(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		for _, id := range []string{"s1", "s2"} {
			if err := store.Save(ctx, testSession(clock, id, "u1", "r-"+id)); err != nil {
				t.Fatalf("save %s: %v", id, err)
			}
		}
		if err := store.Save(ctx, testSession(clock, "keep", "u2", "r-keep")); err != nil {
			t.Fatalf("save keep: %v", err)
		}

		n, err := store.InvalidateAllByUserID(ctx, "u1")
		if err != nil {
			t.Fatalf("invalidate all: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 flipped, got %d", n)
		}

		for _, id := range []string{"s1", "s2"} {
			sess, err := store.FindByID(ctx, id)
			if err != nil {
				t.Fatalf("find %s: %v", id, err)
			}
			if sess.IsActive {
				t.Fatalf("expected %s inactive", id)
			}
		}
		count, _ := store.UserSessionCount(ctx, "u1")
		if count != 0 {
			t.Fatalf("expected user count 0, got %d", count)
		}
		list, _ := store.FindByUserID(ctx, "u1")
		if len(list) != 0 {
			t.Fatalf("expected cleared user index, got %d", len(list))
		}
		keep, _ := store.FindByID(ctx, "keep")
		if !keep.IsActive {
			t.Fatal("expected other user's session untouched")
		}
	})
}

func TestStoreCleanupExpiredRemovesExpiredAndInactive(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		live := testSession(clock, "live", "u1", "r-live")
		live.ExpiresAt = clock.Now().Add(3 * time.Hour)
		short := testSession(clock, "short", "u1", "r-short")
		dead := testSession(clock, "dead", "u1", "r-dead")
		dead.IsActive = false
		for _, s := range []*Session{live, short, dead} {
			if err := store.Save(ctx, s); err != nil {
				t.Fatalf("save %s: %v", s.ID, err)
			}
		}

		clock.Advance(2 * time.Hour)
		removed, err := store.CleanupExpired(ctx)
		if err != nil {
			t.Fatalf("cleanup: %v", err)
		}
		if removed != 2 {
			t.Fatalf("expected 2 removed, got %d", removed)
		}
		if _, err := store.FindByID(ctx, "live"); err != nil {
			t.Fatalf("expected live session kept: %v", err)
		}
		if _, err := store.FindByRefreshToken(ctx, "r-short"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected swept session unindexed, got %v", err)
		}
	})
}

func TestStoreStats(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		old := testSession(clock, "old", "u1", "r-old")
		old.ExpiresAt = clock.Now().Add(90 * time.Minute)
		if err := store.Save(ctx, old); err != nil {
			t.Fatalf("save old: %v", err)
		}

		clock.Advance(2 * time.Hour)
		a := testSession(clock, "a", "u1", "r-a")
		b := testSession(clock, "b", "u2", "r-b")
		for _, s := range []*Session{a, b} {
			if err := store.Save(ctx, s); err != nil {
				t.Fatalf("save %s: %v", s.ID, err)
			}
		}
		clock.Advance(10 * time.Minute)

		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.TotalActive != 2 {
			t.Fatalf("expected 2 active, got %d", stats.TotalActive)
		}
		if stats.ActiveByUser["u1"] != 1 || stats.ActiveByUser["u2"] != 1 {
			t.Fatalf("unexpected per-user counts: %v", stats.ActiveByUser)
		}
		if stats.AverageSessionAge != 10*time.Minute {
			t.Fatalf("expected average age 10m, got %v", stats.AverageSessionAge)
		}
		if stats.CreatedLastHour != 2 {
			t.Fatalf("expected 2 created in last hour, got %d", stats.CreatedLastHour)
		}
		if stats.ExpiredLastHour != 1 {
			t.Fatalf("expected 1 expired in last hour, got %d", stats.ExpiredLastHour)
		}
	})
}

func TestStoreReturnsCopies(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store, clock *testClock) {
		ctx := context.Background()
		sess := testSession(clock, "s1", "u1", "r1")
		if err := store.Save(ctx, sess); err != nil {
			t.Fatalf("save: %v", err)
		}
		sess.Metadata["device"] = "mutated"

		got, _ := store.FindByID(ctx, "s1")
		got.Metadata["device"] = "mutated-again"
		got.IsActive = false

		again, _ := store.FindByID(ctx, "s1")
		if again.Metadata["device"] != "laptop" || !again.IsActive {
			t.Fatalf("expected stored record isolated from caller mutation: %+v", again)
		}
	})
}

func TestMemoryStoreSweepRuns(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryStore(StoreOptions{Now: clock.Now, CleanupInterval: 5 * time.Millisecond})
	ctx := context.Background()
	sess := testSession(clock, "s1", "u1", "r1")
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}
	clock.Advance(2 * time.Hour)

	store.Start()
	defer store.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := store.FindByID(ctx, "s1"); errors.Is(err, ErrSessionNotFound) {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("expected sweep to remove expired session")
}
