package limiters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Alijah8/adwood-crm/storage"
)

// LockoutConfig holds the per-device login lockout policy.
type LockoutConfig struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	// Key is the device storage key holding the record.
	Key string
}

var (
	// ErrLockoutUnavailable indicates the lockout record could not be read or written.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutRecord is the persisted per-device state. LockedUntil is unix
// milliseconds; zero means not locked.
type LockoutRecord struct {
	Attempts    int   `json:"attempts"`
	LockedUntil int64 `json:"lockedUntil"`
}

// LockoutStatus is the evaluated lockout state at a point in time.
type LockoutStatus struct {
	Attempts    int
	LockedUntil time.Time
	Remaining   time.Duration
}

// Locked reports whether login attempts must be rejected.
func (s LockoutStatus) Locked() bool {
	return s.Remaining > 0
}

// RemainingSeconds rounds the remaining wait up to whole seconds.
func (s LockoutStatus) RemainingSeconds() int64 {
	if s.Remaining <= 0 {
		return 0
	}
	return int64((s.Remaining + time.Second - 1) / time.Second)
}

// Lockout tracks failed logins for one device. The key is per device, not
// per account: every account tried from the device shares one counter, and a
// second device starts from zero.
//
// The record is re-read from storage on every call because other tabs write
// it too.
type Lockout struct {
	store  storage.Storage
	config LockoutConfig
	clock  clockwork.Clock
}

// NewLockout creates a lockout tracker over store.
func NewLockout(store storage.Storage, cfg LockoutConfig, clock clockwork.Clock) *Lockout {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Lockout{store: store, config: cfg, clock: clock}
}

// Window returns the lockout duration applied after the given number of
// consecutive failures: zero below MaxAttempts, then Base doubling per extra
// failure, never above Cap.
func (c LockoutConfig) Window(attempts int) time.Duration {
	if c.MaxAttempts <= 0 || attempts < c.MaxAttempts {
		return 0
	}
	window := c.Base
	for i := c.MaxAttempts; i < attempts; i++ {
		if window >= c.Cap || window > c.Cap/2 {
			return c.Cap
		}
		window *= 2
	}
	if window > c.Cap {
		return c.Cap
	}
	return window
}

// Status returns the current lockout state. A nil tracker is never locked.
func (l *Lockout) Status(ctx context.Context) (LockoutStatus, error) {
	if l == nil {
		return LockoutStatus{}, nil
	}
	rec, err := l.load(ctx)
	if err != nil {
		return LockoutStatus{}, err
	}
	return l.evaluate(rec), nil
}

// RecordFailure counts one failed login and returns the resulting state.
func (l *Lockout) RecordFailure(ctx context.Context) (LockoutStatus, error) {
	if l == nil {
		return LockoutStatus{}, nil
	}
	rec, err := l.load(ctx)
	if err != nil {
		return LockoutStatus{}, err
	}

	rec.Attempts++
	if window := l.config.Window(rec.Attempts); window > 0 {
		rec.LockedUntil = l.clock.Now().Add(window).UnixMilli()
	}

	if err := l.save(ctx, rec); err != nil {
		return LockoutStatus{}, err
	}
	return l.evaluate(rec), nil
}

// Reset clears the record after a successful login.
func (l *Lockout) Reset(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.store.Remove(ctx, l.config.Key); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

func (l *Lockout) evaluate(rec LockoutRecord) LockoutStatus {
	st := LockoutStatus{Attempts: rec.Attempts}
	if rec.LockedUntil <= 0 {
		return st
	}
	st.LockedUntil = time.UnixMilli(rec.LockedUntil)
	if remaining := st.LockedUntil.Sub(l.clock.Now()); remaining > 0 {
		st.Remaining = remaining
	}
	return st
}

// load reads the record. A record that does not parse is treated as absent,
// since any tab or the user can overwrite device storage.
func (l *Lockout) load(ctx context.Context) (LockoutRecord, error) {
	raw, ok, err := l.store.Get(ctx, l.config.Key)
	if err != nil {
		return LockoutRecord{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if !ok || raw == "" {
		return LockoutRecord{}, nil
	}
	var rec LockoutRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Attempts < 0 {
		return LockoutRecord{}, nil
	}
	return rec, nil
}

func (l *Lockout) save(ctx context.Context, rec LockoutRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := l.store.Set(ctx, l.config.Key, string(raw)); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}
