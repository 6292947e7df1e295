package adwoodcrm

import (
	"context"
	"errors"

	"github.com/Alijah8/adwood-crm/provider"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginLocked          = "login_locked"
	auditEventLockoutEngaged       = "lockout_engaged"
	auditEventLogout               = "logout"
	auditEventSessionRestored      = "session_restored"
	auditEventRefresh              = "session_refresh"
	auditEventInactivityExpired    = "inactivity_expired"
	auditEventTabSyncLogout        = "tabsync_logout"
	auditEventPasswordResetRequest = "password_reset_request"
	auditEventPasswordUpdate       = "password_update"
	auditEventProfileUpdate        = "profile_update"
	auditEventMFAEnroll            = "mfa_enroll"
	auditEventMFAUnenroll          = "mfa_unenroll"
	auditEventMFAVerify            = "mfa_verify"
	auditEventRouteDenied          = "route_denied"
)

// AuditErrorCode is the stable error label carried by audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidInput       AuditErrorCode = "invalid_input"
	auditErrLocked             AuditErrorCode = "locked"
	auditErrDeactivated        AuditErrorCode = "account_deactivated"
	auditErrRefreshFailed      AuditErrorCode = "refresh_failed"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrMFANotEnrolled     AuditErrorCode = "mfa_not_enrolled"
	auditErrNotAuthenticated   AuditErrorCode = "not_authenticated"
	auditErrSuperseded         AuditErrorCode = "superseded"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

var errRefreshFailed = errors.New("refresh failed")

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subjectID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.clock.Now().UTC(),
		EventType: eventType,
		SubjectID: subjectID,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}
	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrPasswordTooShort):
		return auditErrInvalidInput
	case errors.Is(err, ErrLoginLocked):
		return auditErrLocked
	case errors.Is(err, ErrAccountDeactivated):
		return auditErrDeactivated
	case errors.Is(err, errRefreshFailed), errors.Is(err, provider.ErrInvalidRefreshToken):
		return auditErrRefreshFailed
	case errors.Is(err, ErrResetRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrMFAInvalid):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFANotEnrolled):
		return auditErrMFANotEnrolled
	case errors.Is(err, ErrNotAuthenticated):
		return auditErrNotAuthenticated
	case errors.Is(err, ErrSuperseded):
		return auditErrSuperseded
	case errors.Is(err, ErrProviderUnavailable),
		errors.Is(err, ErrLockoutUnavailable),
		errors.Is(err, provider.ErrUnavailable):
		return auditErrUnavailable
	}
	return auditErrInternal
}
