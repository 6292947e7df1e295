package adwoodcrm

import (
	"context"
	"strconv"
	"time"

	"github.com/Alijah8/adwood-crm/internal/flows"
	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

// Login signs in with email and password.
//
// The device lockout is checked first; while it is engaged the provider is
// not contacted and a *LockoutError is returned. Wrong credentials return
// ErrInvalidCredentials whether or not the account exists, and count toward
// the lockout. A missing or inactive profile signs the provider session out
// again and returns ErrAccountDeactivated. On success the lockout is reset
// and the CRM data reload starts in the background. A Logout that overtakes
// the sign-in wins: the new session is signed out again and ErrSuperseded
// returned.
func (e *Engine) Login(ctx context.Context, email, password string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	e.store.ClearError()
	gen := e.store.Generation()

	deps := flows.LoginDeps{
		Errors: flows.LoginErrors{
			InvalidEmail:       ErrInvalidEmail,
			PasswordTooShort:   ErrPasswordTooShort,
			InvalidCredentials: ErrInvalidCredentials,
			Deactivated:        ErrAccountDeactivated,
			Unavailable:        ErrProviderUnavailable,
			LockoutUnavailable: ErrLockoutUnavailable,
			Locked: func(remaining time.Duration) error {
				return &LockoutError{Remaining: remaining}
			},
		},
		LockoutRemaining: func(ctx context.Context) (time.Duration, error) {
			st, err := e.lockout.Status(ctx)
			return st.Remaining, err
		},
		RecordFailure: func(ctx context.Context) (time.Duration, error) {
			st, err := e.lockout.RecordFailure(ctx)
			return st.Remaining, err
		},
		ResetLockout: e.lockout.Reset,
		SignIn: func(ctx context.Context, email, password string) (*session.Session, error) {
			done := e.expect(provider.AuthSignedIn)
			defer done()
			start := e.clock.Now()
			defer e.observeProvider(start)
			return e.identity.SignInWithPassword(ctx, email, password)
		},
		SignOut: func(ctx context.Context) error {
			err := e.signOut(ctx)
			// The old session is gone remotely (or abandoned); drop it locally
			// so the new sign-in starts from a clean generation.
			if st := e.store.Snapshot(); st.Status == StatusAuthenticated && st.Generation == gen {
				gen = e.store.Clear(nil)
				e.metricInc(MetricSessionCleared)
			}
			return err
		},
		GetProfile: e.getProfile,
		Warn:       e.warn,
	}

	res, err := flows.RunLogin(ctx, email, password, deps)
	e.recordLogin(ctx, res, err)
	if err != nil {
		if res.Outcome == flows.LoginDeactivated {
			e.store.Clear(err)
		} else {
			e.store.SetError(err)
		}
		return err
	}

	if !e.store.Set(gen, res.Session, res.Profile) {
		// A logout ran while the provider was signing in.
		e.discardSuperseded(ctx, res.Session)
		return ErrSuperseded
	}
	e.reloadData(gen)
	return nil
}

func (e *Engine) recordLogin(ctx context.Context, res flows.LoginResult, err error) {
	subject := subjectOf(res.Session)
	switch res.Outcome {
	case flows.LoginSucceeded:
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, subject, nil, nil)
		return
	case flows.LoginInvalidInput:
		e.metricInc(MetricLoginInvalidInput)
	case flows.LoginLocked:
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, "", err, nil)
		return
	case flows.LoginDeactivated:
		e.metricInc(MetricLoginDeactivated)
	default:
		e.metricInc(MetricLoginFailure)
	}
	e.emitAudit(ctx, auditEventLoginFailure, false, subject, err, nil)

	if res.LockedFor > 0 {
		e.metricInc(MetricLockoutEngaged)
		e.emitAudit(ctx, auditEventLockoutEngaged, true, "", nil, func() map[string]string {
			return map[string]string{
				"locked_for_seconds": strconv.FormatInt(int64((res.LockedFor+time.Second-1)/time.Second), 10),
			}
		})
	}
}

// Logout ends the session. Local state is cleared first and unconditionally;
// the provider sign-out is best effort and the persisted token is removed
// whether or not it succeeded. Logout never fails and is safe to repeat.
func (e *Engine) Logout(ctx context.Context) {
	if e == nil || e.store == nil {
		return
	}
	prev := e.store.Snapshot()
	e.store.Clear(nil)
	if prev.Status == StatusAuthenticated {
		e.metricInc(MetricSessionCleared)
	}
	e.metricInc(MetricLogout)

	res := flows.RunLogout(ctx, flows.LogoutDeps{
		SignOut:     e.signOut,
		RemoveToken: e.removeToken,
		Warn:        e.warn,
	})
	e.emitAudit(ctx, auditEventLogout, res.RemoteErr == nil, subjectOf(prev.Session), res.RemoteErr, nil)
}

// LockoutStatus reads the device lockout record.
func (e *Engine) LockoutStatus(ctx context.Context) (LockoutStatus, error) {
	if !e.ready() {
		return LockoutStatus{}, ErrEngineNotReady
	}
	st, err := e.lockout.Status(ctx)
	if err != nil {
		return LockoutStatus{}, err
	}
	return LockoutStatus{
		Attempts:    st.Attempts,
		LockedUntil: st.LockedUntil,
		Remaining:   st.Remaining,
	}, nil
}

// RecordActivity postpones the inactivity timeout. It reports whether the
// signal was counted; signals are ignored while no session is held.
func (e *Engine) RecordActivity(sig ActivitySignal) bool {
	if !e.ready() {
		return false
	}
	return e.monitor.Touch(sig)
}
