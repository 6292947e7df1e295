package adwoodcrm

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Alijah8/adwood-crm/password"
	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/provider/memory"
	"github.com/Alijah8/adwood-crm/session"
	"github.com/Alijah8/adwood-crm/storage"
)

const (
	testPassword = "correct-horse"
	testEmail    = "rep@adwood.test"
)

// harness is one identity backend and one device shared by any number of
// tabs, all on a fake clock.
type harness struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	backend *memory.Backend
	device  *storage.Memory
	logger  *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	cfg := memory.DefaultConfig()
	cfg.Clock = clock
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	backend, err := memory.NewBackend(cfg)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return &harness{
		t:       t,
		clock:   clock,
		backend: backend,
		device:  storage.NewMemory(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (h *harness) addUser(email string, role Role, active bool) string {
	h.t.Helper()
	id, err := h.backend.AddUser(memory.UserSpec{
		Email:    email,
		Password: testPassword,
		Name:     "Staff Member",
		Role:     role,
		Active:   active,
	})
	if err != nil {
		h.t.Fatalf("AddUser: %v", err)
	}
	return id
}

// testConfig is the default configuration with proactive refresh off, so
// advancing the clock only fires the timers a test is about.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Refresh.AutoRefresh = false
	return cfg
}

type tab struct {
	engine  *Engine
	client  *memory.Client
	storage *storage.MemoryTab
}

// openTab builds an engine over a fresh tab of the shared device.
func (h *harness) openTab(cfg Config, opts ...func(*Builder)) *tab {
	h.t.Helper()
	return h.openTabWith(cfg, nil, opts...)
}

// openTabWith is openTab with the tab's provider client wrapped by wrap.
func (h *harness) openTabWith(cfg Config, wrap func(*memory.Client) provider.Identity, opts ...func(*Builder)) *tab {
	h.t.Helper()
	st := h.device.Tab()
	client := h.backend.Client(st, cfg.Storage.TokenKey, h.logger)
	var identity provider.Identity = client
	if wrap != nil {
		identity = wrap(client)
	}
	b := New().
		WithConfig(cfg).
		WithIdentityProvider(identity).
		WithProfileStore(h.backend).
		WithStorage(st).
		WithClock(h.clock).
		WithLogger(h.logger)
	for _, opt := range opts {
		opt(b)
	}
	e, err := b.Build()
	if err != nil {
		h.t.Fatalf("Build: %v", err)
	}
	h.t.Cleanup(e.Close)
	return &tab{engine: e, client: client, storage: st}
}

// signedInTab opens an initialized tab and logs testEmail in.
func (h *harness) signedInTab(cfg Config, opts ...func(*Builder)) *tab {
	h.t.Helper()
	tb := h.openTab(cfg, opts...)
	if err := tb.engine.Initialize(context.Background()); err != nil {
		h.t.Fatalf("Initialize: %v", err)
	}
	if err := tb.engine.Login(context.Background(), testEmail, testPassword); err != nil {
		h.t.Fatalf("Login: %v", err)
	}
	return tb
}

func (h *harness) tokenPresent() bool {
	h.t.Helper()
	_, ok, err := h.device.Get(context.Background(), defaultTokenKey)
	if err != nil {
		h.t.Fatalf("Get token: %v", err)
	}
	return ok
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func recordNotices(e *Engine) *noticeRecorder {
	r := &noticeRecorder{}
	e.OnNotice(func(n Notice) {
		r.mu.Lock()
		r.notices = append(r.notices, n)
		r.mu.Unlock()
	})
	return r
}

func (r *noticeRecorder) count(kind NoticeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, notice := range r.notices {
		if notice.Kind == kind {
			n++
		}
	}
	return n
}

func (r *noticeRecorder) first(kind NoticeKind) (Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, notice := range r.notices {
		if notice.Kind == kind {
			return notice, true
		}
	}
	return Notice{}, false
}

// Fake clock timers run their callbacks on new goroutines.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met")
}

func never(t *testing.T, cond func() bool) {
	t.Helper()
	time.Sleep(30 * time.Millisecond)
	if cond() {
		t.Fatal("unexpected condition")
	}
}

// gate parks a provider call until release is closed.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gate) pass() {
	if g == nil {
		return
	}
	g.entered <- struct{}{}
	<-g.release
}

// gatedIdentity holds selected calls of a memory client at a gate.
type gatedIdentity struct {
	*memory.Client
	signIn         *gate
	updatePassword *gate
}

func (g *gatedIdentity) SignInWithPassword(ctx context.Context, email, password string) (*session.Session, error) {
	g.signIn.pass()
	return g.Client.SignInWithPassword(ctx, email, password)
}

func (g *gatedIdentity) UpdateUserPassword(ctx context.Context, newPassword string) error {
	g.updatePassword.pass()
	return g.Client.UpdateUserPassword(ctx, newPassword)
}
