package limiters

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrResetRateLimited is returned when reset e-mails for an address are requested too often.
	ErrResetRateLimited = errors.New("reset rate limited")
)

// ResetConfig throttles password-reset requests per e-mail address.
type ResetConfig struct {
	Enabled bool
	// Every is the sustained interval between allowed requests.
	Every time.Duration
	Burst int
}

// ResetThrottle limits how often a reset e-mail can be requested for one
// address from this client. Addresses whose limiter has refilled are
// pruned, so the table only holds recently throttled addresses.
type ResetThrottle struct {
	config ResetConfig

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
}

// NewResetThrottle creates a reset throttle.
func NewResetThrottle(cfg ResetConfig) *ResetThrottle {
	return &ResetThrottle{
		config:   cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes one request for email at now. Nil or disabled throttles
// always allow.
func (t *ResetThrottle) Allow(email string, now time.Time) error {
	if t == nil || !t.config.Enabled {
		return nil
	}
	key := strings.ToLower(strings.TrimSpace(email))

	t.mu.Lock()
	t.sweepLocked(now)
	lim, ok := t.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.config.Every), t.config.Burst)
		t.limiters[key] = lim
	}
	t.mu.Unlock()

	if !lim.AllowN(now, 1) {
		return ErrResetRateLimited
	}
	return nil
}

// Len returns how many addresses are tracked.
func (t *ResetThrottle) Len() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}

// sweepLocked drops limiters that are full again, at most once per refill
// period. A full limiter behaves exactly like a new one.
func (t *ResetThrottle) sweepLocked(now time.Time) {
	refill := t.config.Every * time.Duration(t.config.Burst)
	if now.Sub(t.lastSweep) < refill {
		return
	}
	t.lastSweep = now
	for key, lim := range t.limiters {
		if lim.TokensAt(now) >= float64(t.config.Burst) {
			delete(t.limiters, key)
		}
	}
}
