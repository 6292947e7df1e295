package adwoodcrm

import (
	"time"

	"github.com/Alijah8/adwood-crm/internal/flows"
	"github.com/Alijah8/adwood-crm/internal/inactivity"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
)

// State is an immutable snapshot of the engine's session store.
type State = session.State

// Status is the authentication status carried by a [State].
type Status = session.Status

const (
	StatusLoading         = session.StatusLoading
	StatusUnauthenticated = session.StatusUnauthenticated
	StatusAuthenticated   = session.StatusAuthenticated
)

// Session and Profile are the records held while authenticated.
type (
	Session = session.Session
	Profile = session.Profile
)

// Role is a staff role.
type Role = permission.Role

const (
	RoleAdmin   = permission.RoleAdmin
	RoleManager = permission.RoleManager
	RoleSales   = permission.RoleSales
	RoleSupport = permission.RoleSupport
)

// IdentityProvider, ProfileStore and DataReloader are the collaborators the
// engine is built over.
type (
	IdentityProvider = provider.Identity
	ProfileStore     = provider.Profiles
	DataReloader     = provider.DataReloader
	DataReloaderFunc = provider.DataReloaderFunc
)

// Factor and Enrollment describe second-factor records.
type (
	Factor     = provider.Factor
	Enrollment = provider.Enrollment
)

// ProfileUpdate is a profile edit as submitted by a form. Only name, phone
// and avatar_url are ever sent; role and is_active are dropped.
type ProfileUpdate = flows.ProfileInput

// Decision is the guard outcome for one navigation.
type Decision = flows.Decision

// DecisionKind classifies a [Decision].
type DecisionKind = flows.DecisionKind

const (
	DecisionLoading       = flows.DecisionLoading
	DecisionRedirectLogin = flows.DecisionRedirectLogin
	DecisionRedirectMFA   = flows.DecisionRedirectMFA
	DecisionRedirectHome  = flows.DecisionRedirectHome
	DecisionRender        = flows.DecisionRender
)

// ActivitySignal is a user interaction that postpones the inactivity timeout.
type ActivitySignal = inactivity.Signal

const (
	ActivityPointerDown = inactivity.PointerDown
	ActivityKeyDown     = inactivity.KeyDown
	ActivityScroll      = inactivity.Scroll
	ActivityTouchStart  = inactivity.TouchStart
)

// LockoutStatus is the device lockout as seen now.
type LockoutStatus struct {
	Attempts    int
	LockedUntil time.Time
	Remaining   time.Duration
}

// Locked reports whether login is currently refused.
func (s LockoutStatus) Locked() bool {
	return s.Remaining > 0
}

// NoticeKind classifies a [Notice].
type NoticeKind uint8

const (
	// NoticeInactivityWarning fires once per idle period, Remaining before expiry.
	NoticeInactivityWarning NoticeKind = iota + 1
	// NoticeSessionExpired fires when the inactivity timeout ends the session.
	NoticeSessionExpired
	// NoticeSignedOutElsewhere fires when another tab removed the token.
	NoticeSignedOutElsewhere
	// NoticeDataReloadFailed fires when the post-login data reload failed.
	NoticeDataReloadFailed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeInactivityWarning:
		return "inactivity_warning"
	case NoticeSessionExpired:
		return "session_expired"
	case NoticeSignedOutElsewhere:
		return "signed_out_elsewhere"
	case NoticeDataReloadFailed:
		return "data_reload_failed"
	}
	return "unknown"
}

// Notice is a transient, non-state event for the UI (toasts, banners).
type Notice struct {
	Kind      NoticeKind
	Remaining time.Duration
	Err       error
}

// Preferences is the persisted UI preference blob.
type Preferences struct {
	SidebarOpen bool `json:"sidebarOpen"`
	DarkMode    bool `json:"darkMode"`
}
