package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	adwoodcrm "github.com/Alijah8/adwood-crm"
	"github.com/Alijah8/adwood-crm/internal/rate"
	promexport "github.com/Alijah8/adwood-crm/metrics/export/prometheus"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/provider/memory"
	"github.com/Alijah8/adwood-crm/storage"
)

const (
	demoEmail    = "rep@adwood.test"
	demoPassword = "correct-horse"
)

type demo struct {
	t   *testing.T
	srv *server
	ts  *httptest.Server
}

func newDemo(t *testing.T, limit rate.Config) *demo {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backend, err := memory.NewBackend(memory.DefaultConfig())
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if _, err := backend.AddUser(memory.UserSpec{
		Email:    demoEmail,
		Password: demoPassword,
		Name:     "Dana Rep",
		Role:     permission.RoleSales,
		Active:   true,
	}); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	cfg := adwoodcrm.DefaultConfig()
	cfg.Refresh.AutoRefresh = false
	cfg.Metrics.Enabled = true
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := newServer(serverDeps{
		Config: cfg,
		Redis:  client,
		Identity: func(store storage.Storage) (adwoodcrm.IdentityProvider, error) {
			return backend.Client(store, cfg.Storage.TokenKey, logger), nil
		},
		Profiles: backend,
		Limiter:  rate.New(client, limit),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	if _, err := promexport.Register(reg, tabTotals{srv}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ts := httptest.NewServer(srv.routes(map[string]http.Handler{"/metrics": promexport.Handler(reg)}))
	t.Cleanup(ts.Close)
	return &demo{t: t, srv: srv, ts: ts}
}

// browser is one cookie jar, i.e. one device.
func (d *demo) browser() *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		d.t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (d *demo) do(c *http.Client, method, path, tabID string, body any) (*http.Response, map[string]any) {
	d.t.Helper()
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, d.ts.URL+path, r)
	if err != nil {
		d.t.Fatalf("NewRequest: %v", err)
	}
	if tabID != "" {
		req.Header.Set(tabHeader, tabID)
	}
	resp, err := c.Do(req)
	if err != nil {
		d.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (d *demo) openTab(c *http.Client) string {
	d.t.Helper()
	resp, out := d.do(c, http.MethodPost, "/api/tabs", "", nil)
	if resp.StatusCode != http.StatusCreated {
		d.t.Fatalf("open tab: %d", resp.StatusCode)
	}
	id, _ := out["tab"].(string)
	if id == "" {
		d.t.Fatalf("open tab returned %v", out)
	}
	return id
}

func (d *demo) login(c *http.Client, tabID, password string) (*http.Response, map[string]any) {
	return d.do(c, http.MethodPost, "/api/login", tabID, map[string]string{
		"email":    demoEmail,
		"password": password,
	})
}

func TestLoginAndGuardedPages(t *testing.T) {
	d := newDemo(t, rate.DefaultConfig())
	c := d.browser()
	tabID := d.openTab(c)

	resp, _ := d.do(c, http.MethodGet, "/contacts", tabID, nil)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login?redirect=%2Fcontacts" {
		t.Fatalf("signed out: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, out := d.login(c, tabID, demoPassword)
	if resp.StatusCode != http.StatusOK || out["status"] != "authenticated" {
		t.Fatalf("login: %d %v", resp.StatusCode, out)
	}

	resp, out = d.do(c, http.MethodGet, "/contacts", tabID, nil)
	if resp.StatusCode != http.StatusOK || out["role"] != "sales" {
		t.Fatalf("contacts: %d %v", resp.StatusCode, out)
	}
	resp, _ = d.do(c, http.MethodGet, "/staff", tabID, nil)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("staff: %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestUnknownTabRejected(t *testing.T) {
	d := newDemo(t, rate.DefaultConfig())
	c := d.browser()

	if resp, _ := d.do(c, http.MethodGet, "/api/state", "nope", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("state: %d", resp.StatusCode)
	}
	if resp, _ := d.do(c, http.MethodGet, "/contacts", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("page: %d", resp.StatusCode)
	}
}

func TestLogoutReachesOtherTabsOfTheDevice(t *testing.T) {
	d := newDemo(t, rate.DefaultConfig())
	c := d.browser()
	first := d.openTab(c)
	if resp, _ := d.login(c, first, demoPassword); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: %d", resp.StatusCode)
	}

	second := d.openTab(c)
	if _, out := d.do(c, http.MethodGet, "/api/state", second, nil); out["status"] != "authenticated" {
		t.Fatalf("second tab not restored: %v", out)
	}

	if resp, _ := d.do(c, http.MethodPost, "/api/logout", first, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: %d", resp.StatusCode)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, out := d.do(c, http.MethodGet, "/api/state", second, nil)
		if out["status"] == "unauthenticated" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second tab still %v", out["status"])
		}
		time.Sleep(10 * time.Millisecond)
	}

	// A different device keeps its own session state.
	other := d.browser()
	third := d.openTab(other)
	if _, out := d.do(other, http.MethodGet, "/api/state", third, nil); out["status"] != "unauthenticated" {
		t.Fatalf("fresh device state: %v", out)
	}
}

func TestLoginRateLimitedAcrossDevices(t *testing.T) {
	d := newDemo(t, rate.Config{MaxAttempts: 2, Window: time.Minute})

	a := d.browser()
	tabA := d.openTab(a)
	for i := 0; i < 2; i++ {
		if resp, _ := d.login(a, tabA, "wrong-password"); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("failure %d: %d", i, resp.StatusCode)
		}
	}

	b := d.browser()
	tabB := d.openTab(b)
	resp, out := d.login(b, tabB, demoPassword)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %v", resp.StatusCode, out)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestDeviceLockoutReturnsRetryAfter(t *testing.T) {
	d := newDemo(t, rate.Config{MaxAttempts: 100, Window: time.Minute})
	c := d.browser()
	tabID := d.openTab(c)

	for i := 0; i < 5; i++ {
		d.login(c, tabID, "wrong-password")
	}
	resp, out := d.login(c, tabID, demoPassword)
	if resp.StatusCode != http.StatusTooManyRequests || resp.Header.Get("Retry-After") != "300" {
		t.Fatalf("locked login: %d %q %v", resp.StatusCode, resp.Header.Get("Retry-After"), out)
	}
	msg, _ := out["error"].(string)
	if !strings.Contains(msg, "5 minutes") {
		t.Fatalf("message = %q", msg)
	}

	_, out = d.do(c, http.MethodGet, "/api/lockout", tabID, nil)
	if out["locked"] != true {
		t.Fatalf("lockout = %v", out)
	}
}

func TestPreferencesAndProfile(t *testing.T) {
	d := newDemo(t, rate.DefaultConfig())
	c := d.browser()
	tabID := d.openTab(c)
	d.login(c, tabID, demoPassword)

	if resp, _ := d.do(c, http.MethodPut, "/api/preferences", tabID, adwoodcrm.Preferences{DarkMode: true}); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("save preferences: %d", resp.StatusCode)
	}
	if _, out := d.do(c, http.MethodGet, "/api/preferences", tabID, nil); out["darkMode"] != true {
		t.Fatalf("preferences = %v", out)
	}

	resp, out := d.do(c, http.MethodPatch, "/api/profile", tabID, map[string]any{
		"name": "Dana R.",
		"role": "admin",
	})
	if resp.StatusCode != http.StatusOK || out["name"] != "Dana R." || out["role"] != "sales" {
		t.Fatalf("profile: %d %v", resp.StatusCode, out)
	}
}

func TestMetricsAndSecurityReport(t *testing.T) {
	d := newDemo(t, rate.DefaultConfig())
	c := d.browser()
	tabID := d.openTab(c)
	d.login(c, tabID, "wrong-password")

	_, out := d.do(c, http.MethodGet, "/api/security-report", tabID, nil)
	if out["cross_tab_sync"] != true || out["shared_storage"] != "redis" {
		t.Fatalf("report = %v", out)
	}

	resp, err := c.Get(d.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "crmauth_login_failure_total 1") {
		t.Fatalf("metrics body missing login failure:\n%s", raw)
	}
}
