package adwoodcrm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/provider/memory"
)

func TestInitializeWithoutTokenIsUnauthenticated(t *testing.T) {
	h := newHarness(t)
	tb := h.openTab(testConfig())

	if st := tb.engine.State(); st.Status != StatusLoading {
		t.Fatalf("fresh engine status = %v", st.Status)
	}
	if err := tb.engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st := tb.engine.State()
	if st.Status != StatusUnauthenticated || st.Err != nil {
		t.Fatalf("state = %+v", st)
	}
	if h.backend.Calls(memory.OpRefresh) != 0 {
		t.Fatal("refresh attempted without a token")
	}
}

func TestInitializeRestoresThroughRefresh(t *testing.T) {
	h := newHarness(t)
	id := h.addUser(testEmail, RoleManager, true)
	first := h.signedInTab(testConfig())
	before := first.engine.State().Session.AccessToken
	h.clock.Advance(time.Second)

	second := h.openTab(testConfig())
	if err := second.engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	st := second.engine.State()
	if !st.Authenticated() || st.Profile.ID != id || st.Profile.Role != RoleManager {
		t.Fatalf("not restored: %+v", st)
	}
	if h.backend.Calls(memory.OpRefresh) != 1 {
		t.Fatalf("refresh calls = %d", h.backend.Calls(memory.OpRefresh))
	}
	if st.Session.AccessToken == before {
		t.Fatal("cached access token was trusted")
	}
	if got := second.engine.MetricsSnapshot().Counters[MetricSessionRestored]; got != 1 {
		t.Fatalf("restored counter = %d", got)
	}
}

func TestInitializeDropsTokenWhenRefreshFails(t *testing.T) {
	h := newHarness(t)
	id := h.addUser(testEmail, RoleSales, true)
	first := h.signedInTab(testConfig())
	first.engine.Close()
	h.backend.RevokeSessions(id)

	tb := h.openTab(testConfig())
	ctx := context.Background()
	if err := tb.engine.Initialize(ctx); err != nil {
		t.Fatalf("refresh failure surfaced: %v", err)
	}
	st := tb.engine.State()
	if st.Status != StatusUnauthenticated || st.Err != nil {
		t.Fatalf("state = %+v", st)
	}
	if h.tokenPresent() {
		t.Fatal("dead token kept")
	}

	refreshes := h.backend.Calls(memory.OpRefresh)
	if err := tb.engine.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if tb.engine.State().Status != StatusUnauthenticated {
		t.Fatal("second Initialize changed state")
	}
	if h.backend.Calls(memory.OpRefresh) != refreshes {
		t.Fatal("second Initialize retried the dead token")
	}
}

func TestInitializeDeactivatedAccount(t *testing.T) {
	h := newHarness(t)
	id := h.addUser(testEmail, RoleSales, true)
	first := h.signedInTab(testConfig())
	first.engine.Close()
	h.backend.SetActive(id, false)

	tb := h.openTab(testConfig())
	err := tb.engine.Initialize(context.Background())
	if !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("expected ErrAccountDeactivated, got %v", err)
	}
	st := tb.engine.State()
	if st.Authenticated() || !errors.Is(st.Err, ErrAccountDeactivated) {
		t.Fatalf("state = %+v", st)
	}
	if h.tokenPresent() || h.backend.ActiveSessions() != 0 {
		t.Fatal("deactivated session not torn down")
	}
}

func TestInitializeProviderOutageKeepsToken(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	first := h.signedInTab(testConfig())
	first.engine.Close()
	h.backend.SetFailure(memory.OpGetProfile, errors.New("timeout"))

	tb := h.openTab(testConfig())
	err := tb.engine.Initialize(context.Background())
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if tb.engine.State().Authenticated() {
		t.Fatal("authenticated without a profile")
	}
	if !h.tokenPresent() {
		t.Fatal("token removed on a transient failure")
	}
}

func TestInactivityWarnsThenExpires(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.signedInTab(testConfig())
	notices := recordNotices(tb.engine)

	h.clock.Advance(25 * time.Minute)
	eventually(t, func() bool { return notices.count(NoticeInactivityWarning) == 1 })
	if n, _ := notices.first(NoticeInactivityWarning); n.Remaining != 5*time.Minute {
		t.Fatalf("warning remaining = %s", n.Remaining)
	}
	if !tb.engine.State().Authenticated() {
		t.Fatal("expired at warning time")
	}

	h.clock.Advance(5 * time.Minute)
	eventually(t, func() bool { return tb.engine.State().Status == StatusUnauthenticated })
	st := tb.engine.State()
	if !errors.Is(st.Err, ErrSessionExpired) {
		t.Fatalf("state error = %v", st.Err)
	}
	eventually(t, func() bool { return notices.count(NoticeSessionExpired) == 1 })
	if h.tokenPresent() {
		t.Fatal("token kept after inactivity expiry")
	}
	if h.backend.ActiveSessions() != 0 {
		t.Fatal("provider session kept after inactivity expiry")
	}
}

func TestActivityPostponesExpiry(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.signedInTab(testConfig())

	h.clock.Advance(30*time.Minute - time.Second)
	if !tb.engine.RecordActivity(ActivityPointerDown) {
		t.Fatal("activity ignored while signed in")
	}
	h.clock.Advance(time.Second)
	never(t, func() bool { return !tb.engine.State().Authenticated() })

	h.clock.Advance(30 * time.Minute)
	eventually(t, func() bool { return tb.engine.State().Status == StatusUnauthenticated })
}

func TestActivityIgnoredWhileSignedOut(t *testing.T) {
	h := newHarness(t)
	tb := h.openTab(testConfig())
	_ = tb.engine.Initialize(context.Background())

	if tb.engine.RecordActivity(ActivityKeyDown) {
		t.Fatal("activity counted without a session")
	}
	if tb.engine.RecordActivity(ActivitySignal("mousemove")) {
		t.Fatal("unknown signal counted")
	}
}

func TestLogoutInOneTabSignsOutTheOther(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	a := h.signedInTab(testConfig())

	b := h.openTab(testConfig())
	if err := b.engine.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !b.engine.State().Authenticated() {
		t.Fatal("second tab not restored")
	}
	notices := recordNotices(b.engine)

	a.engine.Logout(context.Background())
	eventually(t, func() bool { return b.engine.State().Status == StatusUnauthenticated })

	if err := b.engine.State().Err; err != nil {
		t.Fatalf("cross-tab logout set error %v", err)
	}
	eventually(t, func() bool { return notices.count(NoticeSignedOutElsewhere) == 1 })
	if got := h.backend.Calls(memory.OpSignOut); got != 1 {
		t.Fatalf("sign-out calls = %d, want only the initiating tab", got)
	}
	if got := b.engine.MetricsSnapshot().Counters[MetricTabSyncLogout]; got != 1 {
		t.Fatalf("tab sync counter = %d", got)
	}
}

func TestProviderSignedOutEventClearsState(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.signedInTab(testConfig())

	tb.client.Emit(provider.AuthChange{Kind: provider.AuthSignedOut})
	st := tb.engine.State()
	if st.Status != StatusUnauthenticated || st.Err != nil {
		t.Fatalf("state = %+v", st)
	}
}

func TestProviderRefreshEventRevalidatesProfile(t *testing.T) {
	h := newHarness(t)
	id := h.addUser(testEmail, RoleSales, true)
	tb := h.signedInTab(testConfig())
	sess := tb.engine.State().Session

	h.backend.SetActive(id, false)
	tb.client.Emit(provider.AuthChange{Kind: provider.AuthTokenRefreshed, Session: sess})

	eventually(t, func() bool { return !tb.engine.State().Authenticated() })
	if err := tb.engine.State().Err; !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("state error = %v", err)
	}
}

func TestInitialSessionEventIgnored(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.signedInTab(testConfig())
	lookups := h.backend.Calls(memory.OpGetProfile)

	tb.client.Emit(provider.AuthChange{Kind: provider.AuthInitialSession, Session: tb.engine.State().Session})
	never(t, func() bool { return h.backend.Calls(memory.OpGetProfile) != lookups })
}

func TestAutoRefreshRenewsBeforeExpiry(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	cfg := testConfig()
	cfg.Refresh.AutoRefresh = true
	cfg.Inactivity.Timeout = 0
	tb := h.signedInTab(cfg)
	expires := tb.engine.State().Session.ExpiresAt

	h.clock.Advance(59 * time.Minute)
	eventually(t, func() bool {
		st := tb.engine.State()
		return st.Authenticated() && st.Session.ExpiresAt.After(expires)
	})
	if h.backend.Calls(memory.OpRefresh) != 1 {
		t.Fatalf("refresh calls = %d", h.backend.Calls(memory.OpRefresh))
	}
}

func TestAutoRefreshWithRevokedTokenSignsOut(t *testing.T) {
	h := newHarness(t)
	id := h.addUser(testEmail, RoleSales, true)
	cfg := testConfig()
	cfg.Refresh.AutoRefresh = true
	cfg.Inactivity.Timeout = 0
	tb := h.signedInTab(cfg)

	h.backend.RevokeSessions(id)
	h.clock.Advance(59 * time.Minute)
	eventually(t, func() bool { return tb.engine.State().Status == StatusUnauthenticated })
	if h.tokenPresent() {
		t.Fatal("revoked token kept")
	}
}

func TestAutoRefreshRevalidatesProfile(t *testing.T) {
	h := newHarness(t)
	id := h.addUser(testEmail, RoleSales, true)
	cfg := testConfig()
	cfg.Refresh.AutoRefresh = true
	cfg.Inactivity.Timeout = 0
	tb := h.signedInTab(cfg)
	lookups := h.backend.Calls(memory.OpGetProfile)

	h.backend.SetActive(id, false)
	h.clock.Advance(59 * time.Minute)
	eventually(t, func() bool { return tb.engine.State().Status == StatusUnauthenticated })

	if err := tb.engine.State().Err; !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("state error = %v", err)
	}
	if got := h.backend.Calls(memory.OpRefresh); got != 1 {
		t.Fatalf("refresh calls = %d", got)
	}
	if got := h.backend.Calls(memory.OpGetProfile); got != lookups+1 {
		t.Fatalf("profile lookups = %d, want %d", got, lookups+1)
	}
	if h.tokenPresent() {
		t.Fatal("token kept for a deactivated account")
	}
	if n := h.backend.ActiveSessions(); n != 0 {
		t.Fatalf("remote sessions = %d, want 0", n)
	}
}

func TestExternalSignOutAppliedDuringPasswordUpdate(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	update := newGate()
	tb := h.openTabWith(testConfig(), func(c *memory.Client) provider.Identity {
		return &gatedIdentity{Client: c, updatePassword: update}
	})
	ctx := context.Background()
	if err := tb.engine.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := tb.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tb.engine.UpdatePassword(ctx, "battery-staple")
	}()
	<-update.entered

	tb.client.Emit(provider.AuthChange{Kind: provider.AuthSignedOut})
	st := tb.engine.State()
	close(update.release)
	<-done

	if st.Status != StatusUnauthenticated {
		t.Fatalf("status during password update = %v", st.Status)
	}
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.openTab(testConfig())
	tb.engine.Close()
	tb.engine.Close()

	if err := tb.engine.Login(context.Background(), testEmail, testPassword); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	var nilEngine *Engine
	if err := nilEngine.Initialize(context.Background()); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("nil engine: %v", err)
	}
	nilEngine.Logout(context.Background())
	if nilEngine.State().Status != StatusLoading {
		t.Fatal("nil engine state")
	}
}
