package flows

import (
	"context"
	"errors"
	"fmt"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

// BootstrapOutcome classifies how session restore ended.
type BootstrapOutcome uint8

const (
	BootstrapNoSession BootstrapOutcome = iota
	BootstrapRestored
	BootstrapRefreshFailed
	BootstrapDeactivated
	BootstrapUnavailable
)

// BootstrapErrors carries host-level sentinels used by the bootstrap flow.
type BootstrapErrors struct {
	Deactivated error
	Unavailable error
}

// BootstrapDeps captures the collaborators of session restore and
// re-validation.
type BootstrapDeps struct {
	Errors BootstrapErrors

	GetPersisted func(context.Context) (*session.Session, error)
	Refresh      func(context.Context) (*session.Session, error)
	GetProfile   func(ctx context.Context, id string) (*session.Profile, error)
	SignOut      func(context.Context) error
	RemoveToken  func(context.Context) error
	Warn         func(op string, err error)
}

// BootstrapResult is the state bootstrap resolved to. Err is the
// user-visible error to record, nil for a silent unauthenticated state.
type BootstrapResult struct {
	Outcome BootstrapOutcome
	Session *session.Session
	Profile *session.Profile
	Err     error
}

// RunBootstrap restores a persisted session. A cached access token is never
// trusted: the session is always refreshed first, and a failed refresh drops
// the persisted token so the next start does not retry it.
func RunBootstrap(ctx context.Context, deps BootstrapDeps) BootstrapResult {
	persisted, err := deps.GetPersisted(ctx)
	if err != nil {
		return BootstrapResult{
			Outcome: BootstrapUnavailable,
			Err:     fmt.Errorf("%w: %v", deps.Errors.Unavailable, err),
		}
	}
	if persisted == nil {
		return BootstrapResult{Outcome: BootstrapNoSession}
	}

	sess, err := deps.Refresh(ctx)
	if err != nil || sess == nil {
		if err == nil {
			err = errors.New("refresh returned no session")
		}
		warn(deps.Warn, "bootstrap.refresh", err)
		if rerr := deps.RemoveToken(ctx); rerr != nil {
			warn(deps.Warn, "bootstrap.remove_token", rerr)
		}
		return BootstrapResult{Outcome: BootstrapRefreshFailed}
	}

	return ValidateProfile(ctx, sess, deps)
}

// ValidateProfile fetches the profile for sess and resolves the pair. It is
// shared by bootstrap, pushed sign-ins and token refreshes.
func ValidateProfile(ctx context.Context, sess *session.Session, deps BootstrapDeps) BootstrapResult {
	prof, err := deps.GetProfile(ctx, sess.SubjectID)
	switch {
	case errors.Is(err, provider.ErrProfileNotFound), err == nil && (prof == nil || !prof.Active):
		if serr := deps.SignOut(ctx); serr != nil {
			warn(deps.Warn, "bootstrap.deactivated_sign_out", serr)
		}
		if rerr := deps.RemoveToken(ctx); rerr != nil {
			warn(deps.Warn, "bootstrap.remove_token", rerr)
		}
		return BootstrapResult{Outcome: BootstrapDeactivated, Err: deps.Errors.Deactivated}
	case err != nil:
		return BootstrapResult{
			Outcome: BootstrapUnavailable,
			Err:     fmt.Errorf("%w: %v", deps.Errors.Unavailable, err),
		}
	}
	return BootstrapResult{Outcome: BootstrapRestored, Session: sess, Profile: prof}
}
