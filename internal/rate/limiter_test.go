package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestLimiterBlocksAfterBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 3, Window: time.Minute})
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if err := l.RecordFailure(ctx, "rep@adwood.test", "10.0.0.1"); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if err := l.CheckLogin(ctx, "rep@adwood.test", "10.0.0.1"); err != nil {
			t.Fatalf("check after %d: %v", i, err)
		}
	}
	if err := l.RecordFailure(ctx, "rep@adwood.test", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third failure: %v", err)
	}
	if err := l.CheckLogin(ctx, " REP@adwood.test ", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("normalized email not limited: %v", err)
	}
	if n, err := l.Attempts(ctx, "rep@adwood.test"); err != nil || n != 3 {
		t.Fatalf("Attempts() = %d, %v", n, err)
	}
}

func TestLimiterWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 1, Window: time.Minute})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "rep@adwood.test", "")
	if err := l.CheckLogin(ctx, "rep@adwood.test", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limit, got %v", err)
	}
	wait, err := l.RetryAfter(ctx, "rep@adwood.test")
	if err != nil || wait <= 0 || wait > time.Minute {
		t.Fatalf("RetryAfter() = %s, %v", wait, err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.CheckLogin(ctx, "rep@adwood.test", ""); err != nil {
		t.Fatalf("window did not expire: %v", err)
	}
	if wait, _ := l.RetryAfter(ctx, "rep@adwood.test"); wait != 0 {
		t.Fatalf("RetryAfter() after expiry = %s", wait)
	}
}

func TestLimiterPerIPSpansEmails(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 2, Window: time.Minute, PerIP: true})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "a@adwood.test", "10.0.0.1")
	_ = l.RecordFailure(ctx, "b@adwood.test", "10.0.0.1")
	if err := l.CheckLogin(ctx, "c@adwood.test", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("address not limited: %v", err)
	}
	if err := l.CheckLogin(ctx, "c@adwood.test", "10.0.0.2"); err != nil {
		t.Fatalf("other address limited: %v", err)
	}
}

func TestLimiterResetClearsCounters(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 1, Window: time.Minute, PerIP: true})
	ctx := context.Background()

	_ = l.RecordFailure(ctx, "rep@adwood.test", "10.0.0.1")
	if err := l.Reset(ctx, "rep@adwood.test", "10.0.0.1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if err := l.CheckLogin(ctx, "rep@adwood.test", "10.0.0.1"); err != nil {
		t.Fatalf("after reset: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("keys left: %v", keys)
	}
}

func TestLimiterRedisDown(t *testing.T) {
	l, mr := newTestLimiter(t, DefaultConfig())
	mr.Close()

	if err := l.CheckLogin(context.Background(), "rep@adwood.test", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
