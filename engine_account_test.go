package adwoodcrm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/provider/memory"
	"github.com/Alijah8/adwood-crm/session"
)

// recordingProfiles captures every patch sent to the profile table.
type recordingProfiles struct {
	inner provider.Profiles

	mu      sync.Mutex
	patches []map[string]any
}

func (r *recordingProfiles) GetProfile(ctx context.Context, id string) (*session.Profile, error) {
	return r.inner.GetProfile(ctx, id)
}

func (r *recordingProfiles) UpdateProfile(ctx context.Context, id string, patch provider.ProfilePatch) (*session.Profile, error) {
	r.mu.Lock()
	r.patches = append(r.patches, patch.Fields())
	r.mu.Unlock()
	return r.inner.UpdateProfile(ctx, id, patch)
}

func strPtr(s string) *string { return &s }

func TestUpdateProfileNeverSendsRoleOrActive(t *testing.T) {
	h := newHarness(t)
	id := h.addUser(testEmail, RoleSales, true)
	rec := &recordingProfiles{inner: h.backend}
	tb := h.signedInTab(testConfig(), func(b *Builder) { b.WithProfileStore(rec) })

	active := false
	h.clock.Advance(time.Minute)
	prof, err := tb.engine.UpdateProfile(context.Background(), ProfileUpdate{
		Name:   strPtr("  Dana Rep "),
		Phone:  strPtr("+1 555 0100"),
		Role:   strPtr("admin"),
		Active: &active,
	})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if prof.Name != "Dana Rep" || prof.Role != RoleSales || !prof.Active {
		t.Fatalf("returned profile = %+v", prof)
	}

	if len(rec.patches) != 1 {
		t.Fatalf("patches = %d", len(rec.patches))
	}
	fields := rec.patches[0]
	for _, forbidden := range []string{"role", "is_active", "active"} {
		if _, ok := fields[forbidden]; ok {
			t.Fatalf("patch carried %q: %v", forbidden, fields)
		}
	}
	if _, ok := fields["updated_at"]; !ok {
		t.Fatalf("patch missing updated_at: %v", fields)
	}

	stored, _ := h.backend.Profile(id)
	if stored.Role != RoleSales || !stored.Active {
		t.Fatalf("stored profile escalated: %+v", stored)
	}
	if got := tb.engine.State().Profile; got.Name != "Dana Rep" || !got.UpdatedAt.Equal(h.clock.Now().UTC()) {
		t.Fatalf("held profile = %+v", got)
	}
}

func TestUpdateProfileOfDeactivatedAccountSignsOut(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.signedInTab(testConfig(), func(b *Builder) {
		b.WithProfileStore(deactivatingProfiles{h.backend})
	})

	_, err := tb.engine.UpdateProfile(context.Background(), ProfileUpdate{Name: strPtr("x")})
	if !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("expected ErrAccountDeactivated, got %v", err)
	}
	st := tb.engine.State()
	if st.Authenticated() || !errors.Is(st.Err, ErrAccountDeactivated) {
		t.Fatalf("state = %+v", st)
	}
	if h.tokenPresent() {
		t.Fatal("token kept")
	}
}

// deactivatingProfiles reports every updated row as inactive, as happens
// when an administrator deactivates the account mid-session.
type deactivatingProfiles struct{ *memory.Backend }

func (d deactivatingProfiles) UpdateProfile(ctx context.Context, id string, patch provider.ProfilePatch) (*session.Profile, error) {
	prof, err := d.Backend.UpdateProfile(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	prof.Active = false
	return prof, nil
}

func TestUpdateProfileRequiresSession(t *testing.T) {
	h := newHarness(t)
	tb := h.openTab(testConfig())
	_ = tb.engine.Initialize(context.Background())

	if _, err := tb.engine.UpdateProfile(context.Background(), ProfileUpdate{Name: strPtr("x")}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestResetPasswordRequest(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.openTab(testConfig())
	ctx := context.Background()

	if err := tb.engine.ResetPasswordRequest(ctx, "nope"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if err := tb.engine.ResetPasswordRequest(ctx, " REP@adwood.test "); err != nil {
		t.Fatalf("ResetPasswordRequest: %v", err)
	}
	reqs := h.backend.ResetRequests()
	if len(reqs) != 1 || reqs[0].Email != testEmail || reqs[0].RedirectTo != "http://localhost:5173/reset-password" {
		t.Fatalf("reset requests = %+v", reqs)
	}

	// Unknown addresses look the same to the caller.
	if err := tb.engine.ResetPasswordRequest(ctx, "ghost@adwood.test"); err != nil {
		t.Fatalf("unknown address: %v", err)
	}
}

func TestResetPasswordRequestThrottled(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.openTab(testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tb.engine.ResetPasswordRequest(ctx, testEmail); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := tb.engine.ResetPasswordRequest(ctx, testEmail); !errors.Is(err, ErrResetRateLimited) {
		t.Fatalf("expected ErrResetRateLimited, got %v", err)
	}
	if got := h.backend.Calls(memory.OpResetPassword); got != 3 {
		t.Fatalf("provider calls = %d", got)
	}

	h.clock.Advance(time.Minute)
	if err := tb.engine.ResetPasswordRequest(ctx, testEmail); err != nil {
		t.Fatalf("after interval: %v", err)
	}
}

func TestResetPasswordRequestSurfacesProviderError(t *testing.T) {
	h := newHarness(t)
	tb := h.openTab(testConfig())
	h.backend.SetFailure(memory.OpResetPassword, errors.New("smtp down"))

	if err := tb.engine.ResetPasswordRequest(context.Background(), testEmail); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestUpdatePassword(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.signedInTab(testConfig())
	ctx := context.Background()

	if err := tb.engine.UpdatePassword(ctx, "short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := tb.engine.UpdatePassword(ctx, "battery-staple"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}

	tb.engine.Logout(ctx)
	if err := tb.engine.Login(ctx, testEmail, testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still works: %v", err)
	}
	if err := tb.engine.Login(ctx, testEmail, "battery-staple"); err != nil {
		t.Fatalf("new password: %v", err)
	}
}
