package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	adwoodcrm "github.com/Alijah8/adwood-crm"
	"github.com/Alijah8/adwood-crm/internal/rate"
	"github.com/Alijah8/adwood-crm/middleware"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/storage"
)

const (
	deviceCookie = "crm_device"
	tabHeader    = "X-CRM-Tab"
)

// IdentityFactory returns the identity client of one tab persisting into store.
type IdentityFactory func(store storage.Storage) (adwoodcrm.IdentityProvider, error)

// serverDeps wires the demo server.
type serverDeps struct {
	Config   adwoodcrm.Config
	Redis    redis.UniversalClient
	Identity IdentityFactory
	Profiles adwoodcrm.ProfileStore
	Limiter  *rate.Limiter
	Routes   *permission.RouteTable
	Audit    adwoodcrm.AuditSink
	Logger   *slog.Logger
}

type tab struct {
	id     string
	device string
	engine *adwoodcrm.Engine
}

// server hosts one engine per browser tab. Tabs opened with the same
// device cookie share a Redis-backed device store, so lockout, token and
// preferences are common to them and a logout in one reaches the rest.
type server struct {
	deps serverDeps

	mu      sync.Mutex
	devices map[string]*storage.Redis
	tabs    map[string]*tab
}

func newServer(deps serverDeps) (*server, error) {
	if deps.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if deps.Identity == nil || deps.Profiles == nil {
		return nil, errors.New("identity factory and profile store are required")
	}
	if deps.Routes == nil {
		deps.Routes = permission.DefaultRouteTable()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &server{
		deps:    deps,
		devices: make(map[string]*storage.Redis),
		tabs:    make(map[string]*tab),
	}, nil
}

/*
====================================
TABS
====================================
*/

func (s *server) openTab(ctx context.Context, deviceID string) (*tab, error) {
	s.mu.Lock()
	device, ok := s.devices[deviceID]
	if !ok {
		device = storage.NewRedis(s.deps.Redis, storage.RedisOptions{
			Prefix: "crm:device:" + deviceID + ":",
			Logger: s.deps.Logger,
		})
		s.devices[deviceID] = device
	}
	store := device.Tab()
	s.mu.Unlock()

	identity, err := s.deps.Identity(store)
	if err != nil {
		return nil, fmt.Errorf("identity client: %w", err)
	}
	b := adwoodcrm.New().
		WithConfig(s.deps.Config).
		WithIdentityProvider(identity).
		WithProfileStore(s.deps.Profiles).
		WithStorage(store).
		WithRouteTable(s.deps.Routes).
		WithLogger(s.deps.Logger.With("device", deviceID))
	if s.deps.Audit != nil {
		b.WithAuditSink(s.deps.Audit)
	}
	engine, err := b.Build()
	if err != nil {
		return nil, err
	}

	t := &tab{id: uuid.NewString(), device: deviceID, engine: engine}
	engine.OnNotice(func(n adwoodcrm.Notice) {
		s.deps.Logger.Info("notice", "tab", t.id, "kind", n.Kind.String(), "remaining", n.Remaining)
	})
	if err := engine.Initialize(ctx); err != nil {
		s.deps.Logger.Warn("tab restore failed", "tab", t.id, "error", err)
	}

	s.mu.Lock()
	s.tabs[t.id] = t
	s.mu.Unlock()
	return t, nil
}

func (s *server) lookupTab(r *http.Request) *tab {
	id := r.Header.Get(tabHeader)
	if id == "" {
		id = r.URL.Query().Get("tab")
	}
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tabs[id]
}

func (s *server) closeTab(id string) {
	s.mu.Lock()
	t, ok := s.tabs[id]
	delete(s.tabs, id)
	s.mu.Unlock()
	if ok {
		t.engine.Close()
	}
}

func (s *server) engines() []*adwoodcrm.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*adwoodcrm.Engine, 0, len(s.tabs))
	for _, t := range s.tabs {
		out = append(out, t.engine)
	}
	return out
}

// Close shuts every tab down.
func (s *server) Close() {
	s.mu.Lock()
	tabs := s.tabs
	s.tabs = make(map[string]*tab)
	s.mu.Unlock()
	for _, t := range tabs {
		t.engine.Close()
	}
}

// authorizer adapts the tab lookup to [middleware.Resolver].
func (s *server) authorizer(r *http.Request) middleware.Authorizer {
	if t := s.lookupTab(r); t != nil {
		return t.engine
	}
	return nil
}

/*
====================================
ROUTER
====================================
*/

// routes builds the router. ops adds unguarded GET endpoints such as
// /metrics.
func (s *server) routes(ops map[string]http.Handler) http.Handler {
	r := chi.NewRouter()
	for path, h := range ops {
		r.Method(http.MethodGet, path, h)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/tabs", s.handleOpenTab)

		r.Group(func(r chi.Router) {
			r.Use(s.requireTab)
			r.Delete("/tabs", s.handleCloseTab)
			r.Get("/state", s.handleState)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
			r.Post("/activity", s.handleActivity)
			r.Get("/lockout", s.handleLockout)
			r.Post("/password/reset", s.handleResetRequest)
			r.Put("/password", s.handleUpdatePassword)
			r.Patch("/profile", s.handleUpdateProfile)
			r.Get("/preferences", s.handleGetPreferences)
			r.Put("/preferences", s.handleSavePreferences)
			r.Get("/security-report", s.handleSecurityReport)

			r.Get("/mfa/factors", s.handleListFactors)
			r.Post("/mfa/factors", s.handleEnroll)
			r.Post("/mfa/factors/{id}/confirm", s.handleConfirm)
			r.Delete("/mfa/factors/{id}", s.handleUnenroll)
			r.Post("/mfa/verify", s.handleStepUp)
		})
	})

	cfg := s.deps.Config.App
	r.Get(cfg.LoginPath, s.handlePage)
	r.Get(cfg.MFAPath, s.handlePage)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(s.authorizer))
		for _, rule := range s.deps.Routes.Rules() {
			r.Get(rule.Path, s.handlePage)
		}
	})
	return r
}

func (s *server) requireTab(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.lookupTab(r) == nil {
			writeError(w, http.StatusUnauthorized, "unknown tab")
			return
		}
		next.ServeHTTP(w, r)
	})
}

/*
====================================
HANDLERS
====================================
*/

type stateView struct {
	Status  string             `json:"status"`
	Profile *adwoodcrm.Profile `json:"profile,omitempty"`
	AAL     string             `json:"aal,omitempty"`
	Routes  []string           `json:"routes,omitempty"`
	Error   string             `json:"error,omitempty"`
}

func viewOf(e *adwoodcrm.Engine) stateView {
	st := e.State()
	v := stateView{
		Status:  st.Status.String(),
		Profile: st.Profile,
		Routes:  e.VisibleRoutes(),
		Error:   adwoodcrm.UserMessage(st.Err),
	}
	if st.Session != nil {
		v.AAL = string(st.Session.AAL)
	}
	return v
}

func (s *server) handleOpenTab(w http.ResponseWriter, r *http.Request) {
	deviceID := ""
	if c, err := r.Cookie(deviceCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			deviceID = c.Value
		}
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     deviceCookie,
			Value:    deviceID,
			Path:     "/",
			MaxAge:   int((365 * 24 * time.Hour).Seconds()),
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}

	t, err := s.openTab(r.Context(), deviceID)
	if err != nil {
		s.deps.Logger.Error("open tab", "error", err)
		writeError(w, http.StatusInternalServerError, "could not open tab")
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Tab string `json:"tab"`
		stateView
	}{Tab: t.id, stateView: viewOf(t.engine)})
}

func (s *server) handleCloseTab(w http.ResponseWriter, r *http.Request) {
	s.closeTab(s.lookupTab(r).id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.lookupTab(r).engine))
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	engine := s.lookupTab(r).engine
	ctx := r.Context()
	ip := clientIP(r)

	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.CheckLogin(ctx, body.Email, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				if wait, werr := s.deps.Limiter.RetryAfter(ctx, body.Email); werr == nil && wait > 0 {
					w.Header().Set("Retry-After", fmt.Sprint(int((wait+time.Second-1)/time.Second)))
				}
				writeError(w, http.StatusTooManyRequests, "Too many failed attempts. Try again later.")
				return
			}
			// Redis trouble leaves the device lockout as the only throttle.
			s.deps.Logger.Warn("login rate check failed", "error", err)
		}
	}

	err := engine.Login(ctx, body.Email, body.Password)
	if s.deps.Limiter != nil {
		switch {
		case err == nil:
			_ = s.deps.Limiter.Reset(ctx, body.Email, ip)
		case errors.Is(err, adwoodcrm.ErrInvalidCredentials):
			_ = s.deps.Limiter.RecordFailure(ctx, body.Email, ip)
		}
	}
	if err != nil {
		var lockErr *adwoodcrm.LockoutError
		if errors.As(err, &lockErr) {
			w.Header().Set("Retry-After", fmt.Sprint(lockErr.RemainingSeconds()))
		}
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(engine))
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	engine := s.lookupTab(r).engine
	engine.Logout(r.Context())
	writeJSON(w, http.StatusOK, viewOf(engine))
}

func (s *server) handleActivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Signal string `json:"signal"`
	}
	if !decode(w, r, &body) {
		return
	}
	counted := s.lookupTab(r).engine.RecordActivity(adwoodcrm.ActivitySignal(body.Signal))
	writeJSON(w, http.StatusOK, map[string]bool{"counted": counted})
}

func (s *server) handleLockout(w http.ResponseWriter, r *http.Request) {
	st, err := s.lookupTab(r).engine.LockoutStatus(r.Context())
	if err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts":          st.Attempts,
		"locked":            st.Locked(),
		"remaining_seconds": int(st.Remaining.Seconds()),
	})
}

func (s *server) handleResetRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.lookupTab(r).engine.ResetPasswordRequest(r.Context(), body.Email); err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &body) {
		return
	}
	if err := s.lookupTab(r).engine.UpdatePassword(r.Context(), body.Password); err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body adwoodcrm.ProfileUpdate
	if !decode(w, r, &body) {
		return
	}
	prof, err := s.lookupTab(r).engine.UpdateProfile(r.Context(), body)
	if err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (s *server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lookupTab(r).engine.Preferences(r.Context()))
}

func (s *server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	var body adwoodcrm.Preferences
	if !decode(w, r, &body) {
		return
	}
	if err := s.lookupTab(r).engine.SavePreferences(r.Context(), body); err != nil {
		writeError(w, http.StatusServiceUnavailable, adwoodcrm.UserMessage(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSecurityReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.lookupTab(r).engine.SecurityReport())
}

func (s *server) handleListFactors(w http.ResponseWriter, r *http.Request) {
	factors, err := s.lookupTab(r).engine.ListFactors(r.Context())
	if err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, factors)
}

func (s *server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FriendlyName string `json:"friendly_name"`
	}
	if !decode(w, r, &body) {
		return
	}
	enrollment, err := s.lookupTab(r).engine.EnrollTOTP(r.Context(), body.FriendlyName)
	if err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      enrollment.FactorID,
		"secret":  enrollment.Secret,
		"uri":     enrollment.URI,
		"qr_code": enrollment.QRCode,
	})
}

func (s *server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	engine := s.lookupTab(r).engine
	if err := engine.ConfirmEnrollment(r.Context(), chi.URLParam(r, "id"), body.Code); err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(engine))
}

func (s *server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	if err := s.lookupTab(r).engine.Unenroll(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleStepUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &body) {
		return
	}
	engine := s.lookupTab(r).engine
	if err := engine.VerifyStepUp(r.Context(), body.Code); err != nil {
		writeError(w, statusOf(err), adwoodcrm.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(engine))
}

func (s *server) handlePage(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"page": r.URL.Path}
	if t := s.lookupTab(r); t != nil {
		if role, ok := t.engine.Role(); ok {
			out["role"] = role
		}
	}
	writeJSON(w, http.StatusOK, out)
}

/*
====================================
HELPERS
====================================
*/

func statusOf(err error) int {
	switch {
	case errors.Is(err, adwoodcrm.ErrLoginLocked), errors.Is(err, adwoodcrm.ErrResetRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, adwoodcrm.ErrInvalidEmail), errors.Is(err, adwoodcrm.ErrPasswordTooShort):
		return http.StatusBadRequest
	case errors.Is(err, adwoodcrm.ErrInvalidCredentials),
		errors.Is(err, adwoodcrm.ErrNotAuthenticated),
		errors.Is(err, adwoodcrm.ErrMFAInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, adwoodcrm.ErrAccountDeactivated):
		return http.StatusForbidden
	case errors.Is(err, adwoodcrm.ErrMFANotEnrolled):
		return http.StatusNotFound
	case errors.Is(err, adwoodcrm.ErrProviderUnavailable):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
