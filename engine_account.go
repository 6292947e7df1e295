package adwoodcrm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Alijah8/adwood-crm/internal/flows"
	"github.com/Alijah8/adwood-crm/provider"
)

// ResetPasswordRequest asks the provider to e-mail a reset link pointing at
// the configured reset page. Provider errors are returned, not swallowed.
func (e *Engine) ResetPasswordRequest(ctx context.Context, email string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	e.store.ClearError()

	email = flows.NormalizeEmail(email)
	if !flows.ValidEmail(email) {
		return ErrInvalidEmail
	}
	if err := e.resets.Allow(email, e.clock.Now()); err != nil {
		e.metricInc(MetricPasswordResetRateLimited)
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetRequest)
	start := e.clock.Now()
	err := e.identity.ResetPasswordForEmail(ctx, email, e.config.App.ResetRedirect())
	e.observeProvider(start)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", err, nil)
		return err
	}
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, "", nil, nil)
	return nil
}

// UpdatePassword sets a new password for the signed-in user.
func (e *Engine) UpdatePassword(ctx context.Context, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	st := e.store.Snapshot()
	if !st.Authenticated() {
		return ErrNotAuthenticated
	}
	e.store.ClearError()
	if len(newPassword) < flows.MinPasswordLength {
		return ErrPasswordTooShort
	}

	start := e.clock.Now()
	err := e.identity.UpdateUserPassword(ctx, newPassword)
	e.observeProvider(start)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		e.emitAudit(ctx, auditEventPasswordUpdate, false, st.Session.SubjectID, err, nil)
		return err
	}
	e.metricInc(MetricPasswordUpdate)
	e.emitAudit(ctx, auditEventPasswordUpdate, true, st.Session.SubjectID, nil, nil)
	return nil
}

// UpdateProfile saves the user-editable fields of in for the signed-in
// user and returns the stored row, which replaces the held profile. Role
// and active flag are never sent.
func (e *Engine) UpdateProfile(ctx context.Context, in ProfileUpdate) (*Profile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	st := e.store.Snapshot()
	if !st.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	e.store.ClearError()
	gen := st.Generation

	patch, dropped := flows.BuildProfilePatch(in, e.clock.Now())
	if len(dropped) > 0 {
		e.logger.Warn("crmauth: dropped protected profile fields",
			"subject", st.Session.SubjectID, "fields", strings.Join(dropped, ","))
	}

	start := e.clock.Now()
	prof, err := e.profiles.UpdateProfile(ctx, st.Profile.ID, patch)
	e.observeProvider(start)
	if err != nil {
		e.metricInc(MetricProfileUpdateFailure)
		if errors.Is(err, provider.ErrProfileNotFound) {
			return nil, e.deactivate(ctx, gen, st.Session.SubjectID)
		}
		err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		e.emitAudit(ctx, auditEventProfileUpdate, false, st.Session.SubjectID, err, nil)
		return nil, err
	}
	if prof == nil || !prof.Active {
		e.metricInc(MetricProfileUpdateFailure)
		return nil, e.deactivate(ctx, gen, st.Session.SubjectID)
	}
	if !e.store.ReplaceProfile(gen, prof) {
		return nil, ErrSuperseded
	}

	e.metricInc(MetricProfileUpdateSuccess)
	e.emitAudit(ctx, auditEventProfileUpdate, true, st.Session.SubjectID, nil, func() map[string]string {
		if len(dropped) == 0 {
			return nil
		}
		return map[string]string{"dropped": strings.Join(dropped, ",")}
	})
	return prof.Clone(), nil
}

// deactivate ends a session whose profile turned out to be gone or inactive.
func (e *Engine) deactivate(ctx context.Context, gen uint64, subject string) error {
	if e.store.ClearIf(gen, ErrAccountDeactivated) {
		e.metricInc(MetricSessionCleared)
	}
	flows.RunLogout(ctx, flows.LogoutDeps{
		SignOut:     e.signOut,
		RemoveToken: e.removeToken,
		Warn:        e.warn,
	})
	e.emitAudit(ctx, auditEventProfileUpdate, false, subject, ErrAccountDeactivated, nil)
	return ErrAccountDeactivated
}
