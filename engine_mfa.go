package adwoodcrm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Alijah8/adwood-crm/internal/flows"
	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

// engineMFA marks factor verification, which rotates the session, as the
// engine's own refresh.
type engineMFA struct {
	provider.MFA
	e *Engine
}

func (m engineMFA) Verify(ctx context.Context, factorID, challengeID, code string) (*session.Session, error) {
	done := m.e.expect(provider.AuthTokenRefreshed)
	defer done()
	return m.MFA.Verify(ctx, factorID, challengeID, code)
}

func (e *Engine) stepUpDeps() flows.StepUpDeps {
	return flows.StepUpDeps{
		Errors: flows.StepUpErrors{
			InvalidCode: ErrMFAInvalid,
			NotEnrolled: ErrMFANotEnrolled,
			Unavailable: ErrProviderUnavailable,
		},
		MFA:     engineMFA{MFA: e.identity.MFA(), e: e},
		Refresh: e.refreshSession,
		Warn:    e.warn,
	}
}

// mfaError maps a raw provider MFA error onto the engine taxonomy.
func mfaError(err error) error {
	switch {
	case errors.Is(err, provider.ErrNoSession):
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	case errors.Is(err, provider.ErrFactorNotFound):
		return fmt.Errorf("%w: %v", ErrMFANotEnrolled, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// ListFactors returns the second factors of the signed-in user.
func (e *Engine) ListFactors(ctx context.Context) ([]Factor, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if !e.store.Snapshot().Authenticated() {
		return nil, ErrNotAuthenticated
	}
	factors, err := e.identity.MFA().ListFactors(ctx)
	if err != nil {
		return nil, mfaError(err)
	}
	return factors, nil
}

// EnrollTOTP starts enrolling an authenticator app. The returned secret and
// QR code are shown once; the factor stays unverified until
// [Engine.ConfirmEnrollment] succeeds.
func (e *Engine) EnrollTOTP(ctx context.Context, friendlyName string) (*Enrollment, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	st := e.store.Snapshot()
	if !st.Authenticated() {
		return nil, ErrNotAuthenticated
	}
	friendlyName = strings.TrimSpace(friendlyName)
	if friendlyName == "" {
		friendlyName = "Authenticator app"
	}
	enrollment, err := e.identity.MFA().Enroll(ctx, friendlyName)
	if err != nil {
		err = mfaError(err)
		e.emitAudit(ctx, auditEventMFAEnroll, false, st.Session.SubjectID, err, nil)
		return nil, err
	}
	e.emitAudit(ctx, auditEventMFAEnroll, true, st.Session.SubjectID, nil, func() map[string]string {
		return map[string]string{"factor_id": enrollment.FactorID, "stage": "started"}
	})
	return enrollment, nil
}

// ConfirmEnrollment verifies the first code of a new factor. On success the
// factor is verified and the session is raised to aal2.
func (e *Engine) ConfirmEnrollment(ctx context.Context, factorID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	st := e.store.Snapshot()
	if !st.Authenticated() {
		return ErrNotAuthenticated
	}
	e.metricInc(MetricMFAChallenge)
	res, err := flows.RunConfirmEnrollment(ctx, factorID, code, e.stepUpDeps())
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAEnroll, false, st.Session.SubjectID, err, nil)
		return err
	}
	if err := e.installRefreshed(ctx, st.Generation, res.Session); err != nil {
		e.emitAudit(ctx, auditEventMFAEnroll, false, st.Session.SubjectID, err, nil)
		return err
	}
	e.metricInc(MetricMFAEnrolled)
	e.emitAudit(ctx, auditEventMFAEnroll, true, st.Session.SubjectID, nil, func() map[string]string {
		return map[string]string{"factor_id": res.FactorID, "stage": "verified"}
	})
	return nil
}

// VerifyStepUp checks a 6-digit code against the first verified TOTP factor
// and raises the session to aal2. A bad code leaves the session untouched.
// The raised session is installed only if the profile is still active.
func (e *Engine) VerifyStepUp(ctx context.Context, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	st := e.store.Snapshot()
	if !st.Authenticated() {
		return ErrNotAuthenticated
	}
	e.metricInc(MetricMFAChallenge)
	res, err := flows.RunStepUp(ctx, code, e.stepUpDeps())
	if err != nil {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditEventMFAVerify, false, st.Session.SubjectID, err, nil)
		return err
	}
	if err := e.installRefreshed(ctx, st.Generation, res.Session); err != nil {
		e.emitAudit(ctx, auditEventMFAVerify, false, st.Session.SubjectID, err, nil)
		return err
	}
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFAVerify, true, st.Session.SubjectID, nil, func() map[string]string {
		return map[string]string{"factor_id": res.FactorID}
	})
	return nil
}

// Unenroll removes a factor.
func (e *Engine) Unenroll(ctx context.Context, factorID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	st := e.store.Snapshot()
	if !st.Authenticated() {
		return ErrNotAuthenticated
	}
	if err := e.identity.MFA().Unenroll(ctx, factorID); err != nil {
		err = mfaError(err)
		e.emitAudit(ctx, auditEventMFAUnenroll, false, st.Session.SubjectID, err, nil)
		return err
	}
	e.metricInc(MetricMFAUnenrolled)
	e.emitAudit(ctx, auditEventMFAUnenroll, true, st.Session.SubjectID, nil, func() map[string]string {
		return map[string]string{"factor_id": factorID}
	})
	return nil
}
