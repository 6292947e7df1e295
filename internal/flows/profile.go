package flows

import (
	"strings"
	"time"

	"github.com/Alijah8/adwood-crm/provider"
)

// ProfileInput is a profile change as submitted by a form. Role and Active
// are accepted only so they can be dropped.
type ProfileInput struct {
	Name      *string `json:"name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
	Role      *string `json:"role,omitempty"`
	Active    *bool   `json:"is_active,omitempty"`
}

// BuildProfilePatch keeps the user-editable fields of in, stamps updated_at
// and names every field it dropped.
func BuildProfilePatch(in ProfileInput, now time.Time) (provider.ProfilePatch, []string) {
	patch := provider.ProfilePatch{UpdatedAt: now.UTC()}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		patch.Name = &name
	}
	if in.Phone != nil {
		phone := strings.TrimSpace(*in.Phone)
		patch.Phone = &phone
	}
	if in.AvatarURL != nil {
		avatar := strings.TrimSpace(*in.AvatarURL)
		patch.AvatarURL = &avatar
	}

	var dropped []string
	if in.Role != nil {
		dropped = append(dropped, "role")
	}
	if in.Active != nil {
		dropped = append(dropped, "is_active")
	}
	return patch, dropped
}
