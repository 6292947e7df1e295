// Package provider defines the contracts of the external collaborators the
// auth core drives: the hosted identity provider (password sign-in, token
// refresh, second factor) and the profiles table.
//
// Implementations live in sub-packages: provider/memory is an in-process
// reference provider used by tests and the demo server, provider/gotrue talks
// to a hosted GoTrue-compatible auth service. Profiles backed by Postgres
// live in profile/pgstore.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/Alijah8/adwood-crm/session"
)

var (
	// ErrInvalidCredentials is returned by sign-in for a wrong e-mail or
	// password. Implementations must not distinguish the two.
	ErrInvalidCredentials = errors.New("invalid_credentials")
	// ErrNoSession is returned when an operation needs a signed-in session
	// and none is held.
	ErrNoSession = errors.New("no session")
	// ErrInvalidRefreshToken is returned when the refresh token was revoked
	// or has expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrProfileNotFound is returned when no profile row exists for a subject.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrFactorNotFound is returned for an unknown MFA factor id.
	ErrFactorNotFound = errors.New("factor not found")
	// ErrChallengeInvalid is returned for an unknown, expired or mismatched
	// challenge.
	ErrChallengeInvalid = errors.New("challenge invalid")
	// ErrInvalidCode is returned when a second-factor code does not verify.
	ErrInvalidCode = errors.New("invalid code")
	// ErrUnavailable marks transport failures: the provider could not be
	// reached or answered with a server error.
	ErrUnavailable = errors.New("provider unavailable")
)

// AuthChangeKind classifies a pushed auth state change.
type AuthChangeKind uint8

const (
	// AuthInitialSession is emitted once when a client restores a persisted
	// session on startup.
	AuthInitialSession AuthChangeKind = iota + 1
	// AuthSignedIn is emitted after a new password sign-in.
	AuthSignedIn
	// AuthSignedOut is emitted after sign-out, local or remote.
	AuthSignedOut
	// AuthTokenRefreshed is emitted after the access token was rotated.
	AuthTokenRefreshed
)

func (k AuthChangeKind) String() string {
	switch k {
	case AuthInitialSession:
		return "INITIAL_SESSION"
	case AuthSignedIn:
		return "SIGNED_IN"
	case AuthSignedOut:
		return "SIGNED_OUT"
	case AuthTokenRefreshed:
		return "TOKEN_REFRESHED"
	}
	return "UNKNOWN"
}

// AuthChange is one pushed event. Session is nil for AuthSignedOut.
type AuthChange struct {
	Kind    AuthChangeKind
	Session *session.Session
}

// Identity is the identity provider client of one browsing context.
type Identity interface {
	// GetPersistedSession returns the session found in device storage, or
	// nil when there is none. It does not validate or refresh it.
	GetPersistedSession(ctx context.Context) (*session.Session, error)
	// RefreshSession exchanges the held refresh token for a new session.
	RefreshSession(ctx context.Context) (*session.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error)
	// SignOut revokes the session remotely and removes the persisted token.
	SignOut(ctx context.Context) error
	// OnAuthStateChange registers fn and returns a function removing it.
	OnAuthStateChange(fn func(AuthChange)) func()
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	UpdateUserPassword(ctx context.Context, newPassword string) error
	MFA() MFA
}

// FactorStatus is the verification state of a factor.
type FactorStatus string

const (
	FactorUnverified FactorStatus = "unverified"
	FactorVerified   FactorStatus = "verified"
)

// FactorTOTP is the only factor type in use.
const FactorTOTP = "totp"

// Factor is an enrolled second factor.
type Factor struct {
	ID           string       `json:"id"`
	Type         string       `json:"factor_type"`
	Status       FactorStatus `json:"status"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Enrollment carries the secret material of a new TOTP factor. It is only
// available from Enroll and must not be persisted by the caller.
type Enrollment struct {
	FactorID string `json:"id"`
	Secret   string `json:"secret"`
	// URI is the otpauth:// provisioning URI.
	URI string `json:"uri"`
	// QRCode is a PNG rendering of URI, if the provider produced one.
	QRCode []byte `json:"-"`
}

// Challenge is an open second-factor challenge.
type Challenge struct {
	ID        string    `json:"id"`
	FactorID  string    `json:"factor_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AssuranceLevels reports the level held by the current session and the
// level it could reach with the factors enrolled.
type AssuranceLevels struct {
	Current session.AAL
	Next    session.AAL
}

// StepUpRequired reports whether an enrolled factor has not been satisfied
// in the current session.
func (l AssuranceLevels) StepUpRequired() bool {
	return l.Next == session.AAL2 && l.Current != session.AAL2
}

// MFA is the second-factor API of an [Identity].
type MFA interface {
	ListFactors(ctx context.Context) ([]Factor, error)
	Enroll(ctx context.Context, friendlyName string) (*Enrollment, error)
	Challenge(ctx context.Context, factorID string) (*Challenge, error)
	// Verify checks code against the challenge. On success the returned
	// session carries aal2.
	Verify(ctx context.Context, factorID, challengeID, code string) (*session.Session, error)
	Unenroll(ctx context.Context, factorID string) error
	GetAssuranceLevel(ctx context.Context) (AssuranceLevels, error)
}

// ProfilePatch is the set of profile columns a user may change on their own
// record. Role and the active flag are deliberately not representable.
type ProfilePatch struct {
	Name *string
	// Phone set to the empty string clears the column.
	Phone     *string
	AvatarURL *string
	UpdatedAt time.Time
}

// Empty reports whether no user-editable field is set.
func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.Phone == nil && p.AvatarURL == nil
}

// Fields returns the column/value pairs to write. updated_at is always
// present; nil values write NULL.
func (p ProfilePatch) Fields() map[string]any {
	out := map[string]any{"updated_at": p.UpdatedAt.UTC()}
	if p.Name != nil {
		out["name"] = *p.Name
	}
	if p.Phone != nil {
		if *p.Phone == "" {
			out["phone"] = nil
		} else {
			out["phone"] = *p.Phone
		}
	}
	if p.AvatarURL != nil {
		if *p.AvatarURL == "" {
			out["avatar_url"] = nil
		} else {
			out["avatar_url"] = *p.AvatarURL
		}
	}
	return out
}

// Apply returns a copy of prof with the patch applied.
func (p ProfilePatch) Apply(prof *session.Profile) *session.Profile {
	out := prof.Clone()
	if out == nil {
		return nil
	}
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Phone != nil {
		out.Phone = optional(*p.Phone)
	}
	if p.AvatarURL != nil {
		out.AvatarURL = optional(*p.AvatarURL)
	}
	out.UpdatedAt = p.UpdatedAt.UTC()
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Profiles reads and writes rows of the profiles table.
type Profiles interface {
	GetProfile(ctx context.Context, id string) (*session.Profile, error)
	// UpdateProfile writes patch and returns the row as stored.
	UpdateProfile(ctx context.Context, id string, patch ProfilePatch) (*session.Profile, error)
}

// DataReloader reloads the CRM collections after a sign-in.
type DataReloader interface {
	ReloadAll(ctx context.Context) error
}

// DataReloaderFunc adapts a function to [DataReloader].
type DataReloaderFunc func(ctx context.Context) error

// ReloadAll calls f.
func (f DataReloaderFunc) ReloadAll(ctx context.Context) error { return f(ctx) }
