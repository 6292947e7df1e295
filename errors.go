package adwoodcrm

import (
	"errors"
	"fmt"
	"time"

	"github.com/Alijah8/adwood-crm/internal/limiters"
)

var (
	// ErrInvalidCredentials is returned for a wrong email or password. It never
	// says which one was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrLoginLocked is matched by every *LockoutError.
	ErrLoginLocked = errors.New("login locked")
	// ErrLockoutUnavailable means the device lockout record could not be read;
	// login fails closed.
	ErrLockoutUnavailable = limiters.ErrLockoutUnavailable
	// ErrAccountDeactivated is returned when the profile is missing or inactive.
	ErrAccountDeactivated = errors.New("account deactivated")
	// ErrSessionExpired is recorded when the inactivity timeout ends a session.
	ErrSessionExpired = errors.New("session expired due to inactivity")
	// ErrProviderUnavailable wraps transport or backend failures of a collaborator.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrInvalidEmail is returned when the email is not shaped like an address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrPasswordTooShort is returned for passwords under the minimum length.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrResetRateLimited is returned when reset e-mails are requested too often.
	ErrResetRateLimited = limiters.ErrResetRateLimited
	// ErrMFAInvalid is returned for a malformed or rejected second-factor code.
	ErrMFAInvalid = errors.New("invalid verification code")
	// ErrMFANotEnrolled is returned when no verified TOTP factor exists.
	ErrMFANotEnrolled = errors.New("no verified totp factor")
	// ErrNotAuthenticated is returned by operations that need a session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrEngineNotReady is returned by a nil or closed engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrSuperseded means the session changed while the operation was running
	// and its result was discarded.
	ErrSuperseded = errors.New("superseded by a newer session change")
)

// LockoutError reports an active device lockout and how long it lasts.
type LockoutError struct {
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("login locked for %s", e.Remaining.Round(time.Second))
}

// Is makes errors.Is(err, ErrLoginLocked) hold.
func (e *LockoutError) Is(target error) bool {
	return target == ErrLoginLocked
}

// RemainingSeconds rounds the remaining wait up to whole seconds.
func (e *LockoutError) RemainingSeconds() int64 {
	if e == nil || e.Remaining <= 0 {
		return 0
	}
	return int64((e.Remaining + time.Second - 1) / time.Second)
}

// UserMessage returns the copy shown to a user for err. Nil yields "".
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var lockErr *LockoutError
	switch {
	case errors.As(err, &lockErr):
		return fmt.Sprintf("Too many failed attempts. Try again in %s.", humanWait(lockErr.Remaining))
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrAccountDeactivated):
		return "Your account has been deactivated. Contact your administrator."
	case errors.Is(err, ErrSessionExpired):
		return "Session expired due to inactivity. Please log in again."
	case errors.Is(err, ErrInvalidEmail):
		return "Please enter a valid email address"
	case errors.Is(err, ErrPasswordTooShort):
		return "Password must be at least 8 characters"
	case errors.Is(err, ErrMFAInvalid):
		return "Invalid verification code. Please try again."
	case errors.Is(err, ErrMFANotEnrolled):
		return "No authenticator app is set up for this account."
	case errors.Is(err, ErrResetRateLimited):
		return "Too many reset requests. Please wait before trying again."
	case errors.Is(err, ErrNotAuthenticated):
		return "Please log in to continue."
	}
	return "Something went wrong. Please check your connection and try again."
}

func humanWait(d time.Duration) string {
	if d <= 0 {
		return "a moment"
	}
	minutes := int64((d + time.Minute - 1) / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := minutes / 60
	rest := minutes % 60
	if rest == 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, rest)
}
