package session

import (
	"time"

	"github.com/Alijah8/adwood-crm/permission"
)

// AAL is an authenticator assurance level reported by the identity provider.
type AAL string

const (
	AAL1 AAL = "aal1"
	AAL2 AAL = "aal2"
)

// Session is the provider-issued authentication record for one signed-in
// subject. Instances are treated as immutable once handed to the [Store].
type Session struct {
	SubjectID    string    `json:"sub"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	AAL          AAL       `json:"aal"`
}

// Expired reports whether the access token has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Profile is the application-side staff record for a subject.
type Profile struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Role      permission.Role `json:"role"`
	Phone     *string         `json:"phone"`
	AvatarURL *string         `json:"avatar_url"`
	Active    bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	if p.Phone != nil {
		v := *p.Phone
		c.Phone = &v
	}
	if p.AvatarURL != nil {
		v := *p.AvatarURL
		c.AvatarURL = &v
	}
	return &c
}
