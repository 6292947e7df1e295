package adwoodcrm

import (
	"context"
	"strings"
	"testing"
	"time"
)

func nextEvent(t *testing.T, sink *ChannelSink) AuditEvent {
	t.Helper()
	select {
	case ev := <-sink.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no audit event")
	}
	return AuditEvent{}
}

func TestAuditRecordsLoginOutcomes(t *testing.T) {
	h := newHarness(t)
	id := h.addUser(testEmail, RoleSales, true)
	sink := NewChannelSink(64)
	tb := h.openTab(testConfig(), func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()
	_ = tb.engine.Initialize(ctx)

	_ = tb.engine.Login(ctx, testEmail, "wrong-password")
	ev := nextEvent(t, sink)
	if ev.EventType != auditEventLoginFailure || ev.Success || ev.Error != string(auditErrInvalidCredentials) {
		t.Fatalf("failure event = %+v", ev)
	}
	if ev.ID == "" || !ev.Timestamp.Equal(h.clock.Now().UTC()) {
		t.Fatalf("event id/timestamp not set: %+v", ev)
	}

	if err := tb.engine.Login(ctx, testEmail, testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	ev = nextEvent(t, sink)
	if ev.EventType != auditEventLoginSuccess || !ev.Success || ev.SubjectID != id {
		t.Fatalf("success event = %+v", ev)
	}
	for k, v := range ev.Metadata {
		if strings.Contains(v, testPassword) {
			t.Fatalf("metadata %q leaks the password", k)
		}
	}

	tb.engine.Logout(ctx)
	ev = nextEvent(t, sink)
	if ev.EventType != auditEventLogout || ev.SubjectID != id {
		t.Fatalf("logout event = %+v", ev)
	}
}

func TestAuditRecordsLockoutEngaged(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	sink := NewChannelSink(64)
	tb := h.openTab(testConfig(), func(b *Builder) { b.WithAuditSink(sink) })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = tb.engine.Login(ctx, testEmail, "wrong-password")
	}
	for i := 0; i < 5; i++ {
		if ev := nextEvent(t, sink); ev.EventType != auditEventLoginFailure {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
	ev := nextEvent(t, sink)
	if ev.EventType != auditEventLockoutEngaged || ev.Metadata["locked_for_seconds"] != "300" {
		t.Fatalf("lockout event = %+v", ev)
	}

	_ = tb.engine.Login(ctx, testEmail, testPassword)
	ev = nextEvent(t, sink)
	if ev.EventType != auditEventLoginLocked || ev.Error != string(auditErrLocked) {
		t.Fatalf("locked event = %+v", ev)
	}
}

func TestAuditDisabledByDefault(t *testing.T) {
	h := newHarness(t)
	h.addUser(testEmail, RoleSales, true)
	tb := h.signedInTab(testConfig())
	if tb.engine.audit != nil {
		t.Fatal("audit dispatcher created without a sink or config")
	}
	if tb.engine.AuditDropped() != 0 {
		t.Fatal("dropped count without dispatcher")
	}
}

func TestAuditErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want AuditErrorCode
	}{
		{nil, ""},
		{ErrInvalidCredentials, auditErrInvalidCredentials},
		{ErrPasswordTooShort, auditErrInvalidInput},
		{&LockoutError{Remaining: time.Minute}, auditErrLocked},
		{ErrAccountDeactivated, auditErrDeactivated},
		{ErrResetRateLimited, auditErrRateLimited},
		{ErrMFAInvalid, auditErrMFAInvalid},
		{ErrProviderUnavailable, auditErrUnavailable},
		{ErrLockoutUnavailable, auditErrUnavailable},
		{context.Canceled, auditErrInternal},
	}
	for _, tt := range tests {
		if got := auditErrorCode(tt.err); got != tt.want {
			t.Errorf("auditErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
