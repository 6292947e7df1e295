package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisTest(t *testing.T) (*Redis, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return NewRedis(rdb, RedisOptions{Prefix: "test:"}), mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func recv(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("watch channel closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func expectNone(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func exerciseShared(t *testing.T, a, b Shared) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fromB, err := a.Watch(ctx, "token")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	fromA, err := b.Watch(ctx, "token")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := a.Set(ctx, "token", "blob"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	c := recv(t, fromA)
	if c.Key != "token" || c.Value != "blob" || c.Removed {
		t.Fatalf("unexpected change %+v", c)
	}
	expectNone(t, fromB)

	v, ok, err := b.Get(ctx, "token")
	if err != nil || !ok || v != "blob" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	if err := a.Set(ctx, "other", "x"); err != nil {
		t.Fatalf("Set other: %v", err)
	}
	expectNone(t, fromA)

	if err := b.Remove(ctx, "token"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	c = recv(t, fromB)
	if !c.Removed || c.Key != "token" {
		t.Fatalf("expected removal, got %+v", c)
	}

	if _, ok, _ := a.Get(ctx, "token"); ok {
		t.Fatal("token should be gone")
	}
	if err := a.Remove(ctx, "missing"); err != nil {
		t.Fatalf("removing a missing key must not fail: %v", err)
	}
}

func TestMemoryTabsSeeEachOther(t *testing.T) {
	m := NewMemory()
	exerciseShared(t, m.Tab(), m.Tab())
}

func TestRedisTabsSeeEachOther(t *testing.T) {
	r, _, done := newRedisTest(t)
	defer done()
	exerciseShared(t, r, r.Tab())
}

func TestMemoryWatchClosesOnCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := m.Tab().Watch(ctx, "")
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}

	// Writes after cancellation must not block or panic.
	_ = m.Set(context.Background(), "k", "v")
}

func TestMemoryExternalWriteReachesAllTabs(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, _ := m.Tab().Watch(ctx, "k")
	ch2, _ := m.Tab().Watch(ctx, "k")
	_ = m.Remove(ctx, "k")
	expectNone(t, ch1)

	_ = m.Set(ctx, "k", "v")
	recv(t, ch1)
	recv(t, ch2)
}

func TestRedisGetUnavailable(t *testing.T) {
	r, mr, done := newRedisTest(t)
	defer done()
	mr.Close()

	_, _, err := r.Get(context.Background(), "k")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRedisIgnoresMalformedChange(t *testing.T) {
	r, mr, done := newRedisTest(t)
	defer done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := r.Watch(ctx, "")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	mr.Publish("test:changes", "not json")
	if err := r.Tab().Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if c := recv(t, ch); c.Key != "k" {
		t.Fatalf("unexpected change %+v", c)
	}
}

func TestRedisNoopWritesAreSilent(t *testing.T) {
	r, _, done := newRedisTest(t)
	defer done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other := r.Tab()
	ch, err := other.Watch(ctx, "token")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := r.Remove(ctx, "token"); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
	expectNone(t, ch)

	if err := r.Set(ctx, "token", "blob"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	recv(t, ch)
	if err := r.Set(ctx, "token", "blob"); err != nil {
		t.Fatalf("Set same: %v", err)
	}
	expectNone(t, ch)
}
