package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

// LoginOutcome classifies how a login attempt ended.
type LoginOutcome uint8

const (
	LoginSucceeded LoginOutcome = iota
	LoginInvalidInput
	LoginLocked
	LoginLockoutUnavailable
	LoginBadCredentials
	LoginDeactivated
	LoginUnavailable
)

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	InvalidEmail       error
	PasswordTooShort   error
	InvalidCredentials error
	Deactivated        error
	Unavailable        error
	LockoutUnavailable error
	// Locked builds the host lockout error for the remaining wait.
	Locked func(remaining time.Duration) error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Errors LoginErrors

	// LockoutRemaining re-reads the device lockout record.
	LockoutRemaining func(context.Context) (time.Duration, error)
	// RecordFailure counts a credential failure and returns the lock now in
	// force, zero when none.
	RecordFailure func(context.Context) (time.Duration, error)
	ResetLockout  func(context.Context) error

	SignIn     func(ctx context.Context, email, password string) (*session.Session, error)
	SignOut    func(context.Context) error
	GetProfile func(ctx context.Context, id string) (*session.Profile, error)

	// Warn reports a best-effort step that failed without failing the flow.
	Warn func(op string, err error)
}

// LoginResult is the flow-local login response shape.
type LoginResult struct {
	Outcome LoginOutcome
	Email   string
	Session *session.Session
	Profile *session.Profile
	// LockedFor is the lock engaged by this attempt's failure, if any.
	LockedFor time.Duration
}

// RunLogin performs one password login. The lockout record is consulted
// before anything else so a locked device never reaches the provider.
func RunLogin(ctx context.Context, email, password string, deps LoginDeps) (LoginResult, error) {
	res := LoginResult{Email: NormalizeEmail(email)}

	remaining, err := deps.LockoutRemaining(ctx)
	if err != nil {
		res.Outcome = LoginLockoutUnavailable
		return res, fmt.Errorf("%w: %v", deps.Errors.LockoutUnavailable, err)
	}
	if remaining > 0 {
		res.Outcome = LoginLocked
		return res, deps.Errors.Locked(remaining)
	}

	if !ValidEmail(res.Email) {
		res.Outcome = LoginInvalidInput
		return res, deps.Errors.InvalidEmail
	}
	if len(password) < MinPasswordLength {
		res.Outcome = LoginInvalidInput
		return res, deps.Errors.PasswordTooShort
	}

	// A half-dead previous session must not interfere with the new one.
	if err := deps.SignOut(ctx); err != nil {
		warn(deps.Warn, "login.stale_sign_out", err)
	}

	sess, err := deps.SignIn(ctx, res.Email, password)
	if err != nil {
		if errors.Is(err, provider.ErrInvalidCredentials) {
			res.Outcome = LoginBadCredentials
			lockedFor, lerr := deps.RecordFailure(ctx)
			if lerr != nil {
				warn(deps.Warn, "login.record_failure", lerr)
			}
			res.LockedFor = lockedFor
			return res, deps.Errors.InvalidCredentials
		}
		res.Outcome = LoginUnavailable
		return res, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}
	if sess == nil {
		res.Outcome = LoginUnavailable
		return res, fmt.Errorf("%w: provider returned no session", deps.Errors.Unavailable)
	}

	prof, err := deps.GetProfile(ctx, sess.SubjectID)
	switch {
	case errors.Is(err, provider.ErrProfileNotFound), err == nil && (prof == nil || !prof.Active):
		// No usable profile: the provider session must not linger.
		if serr := deps.SignOut(ctx); serr != nil {
			warn(deps.Warn, "login.deactivated_sign_out", serr)
		}
		res.Outcome = LoginDeactivated
		return res, deps.Errors.Deactivated
	case err != nil:
		if serr := deps.SignOut(ctx); serr != nil {
			warn(deps.Warn, "login.profile_sign_out", serr)
		}
		res.Outcome = LoginUnavailable
		return res, fmt.Errorf("%w: %v", deps.Errors.Unavailable, err)
	}

	if err := deps.ResetLockout(ctx); err != nil {
		warn(deps.Warn, "login.reset_lockout", err)
	}

	res.Outcome = LoginSucceeded
	res.Session = sess
	res.Profile = prof
	return res, nil
}

func warn(fn func(string, error), op string, err error) {
	if fn != nil {
		fn(op, err)
	}
}
