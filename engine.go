package adwoodcrm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	internalaudit "github.com/Alijah8/adwood-crm/internal/audit"
	"github.com/Alijah8/adwood-crm/internal/flows"
	"github.com/Alijah8/adwood-crm/internal/inactivity"
	"github.com/Alijah8/adwood-crm/internal/limiters"
	internalmetrics "github.com/Alijah8/adwood-crm/internal/metrics"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/provider"
	"github.com/Alijah8/adwood-crm/session"
	"github.com/Alijah8/adwood-crm/storage"
	"github.com/Alijah8/adwood-crm/tabsync"
)

// refreshRetryDelay is how long a failed background refresh waits before
// trying again.
const refreshRetryDelay = 15 * time.Second

// Engine owns the session lifecycle of one browsing context. It is safe for
// concurrent use.
type Engine struct {
	config   Config
	logger   *slog.Logger
	clock    clockwork.Clock
	identity provider.Identity
	profiles provider.Profiles
	reloader provider.DataReloader
	storage  storage.Storage
	routes   *permission.RouteTable

	store    *session.Store
	lockout  *limiters.Lockout
	resets   *limiters.ResetThrottle
	monitor  *inactivity.Monitor
	listener *tabsync.Listener
	audit    *internalaudit.Dispatcher
	metrics  *internalmetrics.Metrics

	refreshGroup singleflight.Group
	// ownCalls counts provider calls in flight per event kind they raise.
	// Such events are the engine's own and are not re-applied.
	ownCalls [provider.AuthTokenRefreshed + 1]atomic.Int64

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgMu     sync.Mutex
	bg       sync.WaitGroup

	lifeMu       sync.Mutex
	authed       bool
	refreshTimer clockwork.Timer
	refreshFor   time.Time

	noticeMu   sync.Mutex
	notices    map[uint64]func(Notice)
	nextNotice uint64

	unsubscribeStore    func()
	unsubscribeProvider func()
	closed              atomic.Bool
	closeOnce           sync.Once
}

// Initialize restores a persisted session. The cached access token is never
// trusted: the session is refreshed first and its profile re-read. A refresh
// that fails drops the persisted token and leaves the engine
// unauthenticated without an error. Calling Initialize again re-runs the
// same resolution.
func (e *Engine) Initialize(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	gen := e.store.Generation()
	res := flows.RunBootstrap(ctx, e.bootstrapDeps())
	applied := e.applyResolved(gen, res, true)

	switch res.Outcome {
	case flows.BootstrapRestored:
		e.emitAudit(ctx, auditEventSessionRestored, applied, subjectOf(res.Session), nil, nil)
	case flows.BootstrapRefreshFailed:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventSessionRestored, false, "", errRefreshFailed, nil)
	case flows.BootstrapDeactivated:
		e.emitAudit(ctx, auditEventSessionRestored, false, subjectOf(res.Session), res.Err, nil)
	case flows.BootstrapUnavailable:
		e.emitAudit(ctx, auditEventSessionRestored, false, "", res.Err, nil)
	}

	if e.listener != nil {
		if err := e.listener.Start(e.bgCtx); err != nil {
			e.warn("tabsync.start", err)
		}
	}

	if res.Err != nil {
		return res.Err
	}
	if res.Outcome == flows.BootstrapRestored && !applied {
		return ErrSuperseded
	}
	return nil
}

// State returns the current session snapshot.
func (e *Engine) State() State {
	if e == nil || e.store == nil {
		return State{Status: StatusLoading}
	}
	return e.store.Snapshot()
}

// Subscribe registers fn for every state change. The returned function
// removes it. fn must not call back into state-changing engine methods.
func (e *Engine) Subscribe(fn func(State)) func() {
	if e == nil || e.store == nil {
		return func() {}
	}
	return e.store.Subscribe(fn)
}

// OnNotice registers fn for transient notices such as the inactivity warning.
func (e *Engine) OnNotice(fn func(Notice)) func() {
	if e == nil || fn == nil {
		return func() {}
	}
	e.noticeMu.Lock()
	id := e.nextNotice
	e.nextNotice++
	e.notices[id] = fn
	e.noticeMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.noticeMu.Lock()
			delete(e.notices, id)
			e.noticeMu.Unlock()
		})
	}
}

// ClearError resets the user-visible error.
func (e *Engine) ClearError() {
	if e == nil || e.store == nil {
		return
	}
	e.store.ClearError()
}

// Close stops timers, the cross-tab listener and the audit dispatcher.
// The session itself is left as is.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closeOnce.Do(func() {
		e.bgMu.Lock()
		e.closed.Store(true)
		e.bgMu.Unlock()
		if e.unsubscribeProvider != nil {
			e.unsubscribeProvider()
		}
		e.bgCancel()
		e.listener.Stop()
		e.monitor.Stop()

		e.lifeMu.Lock()
		e.stopRefreshLocked()
		e.lifeMu.Unlock()

		e.bg.Wait()
		if e.unsubscribeStore != nil {
			e.unsubscribeStore()
		}
		if e.audit != nil {
			e.audit.Close()
		}
	})
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) observeProvider(start time.Time) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(MetricProviderLatency, e.clock.Since(start))
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && !e.closed.Load()
}

// expect marks a provider call about to raise kind as the engine's own.
func (e *Engine) expect(kind provider.AuthChangeKind) func() {
	e.ownCalls[kind].Add(1)
	return func() { e.ownCalls[kind].Add(-1) }
}

func (e *Engine) expected(kind provider.AuthChangeKind) bool {
	return int(kind) < len(e.ownCalls) && e.ownCalls[kind].Load() > 0
}

func (e *Engine) warn(op string, err error) {
	e.logger.Warn("crmauth: best-effort step failed", "op", op, "err", err)
}

func (e *Engine) notify(n Notice) {
	e.noticeMu.Lock()
	fns := make([]func(Notice), 0, len(e.notices))
	for _, fn := range e.notices {
		fns = append(fns, fn)
	}
	e.noticeMu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// track registers background work Close must wait for. It fails once the
// engine is closing.
func (e *Engine) track() bool {
	e.bgMu.Lock()
	defer e.bgMu.Unlock()
	if e.closed.Load() {
		return false
	}
	e.bg.Add(1)
	return true
}

// goBackground runs fn on the engine's background context.
func (e *Engine) goBackground(fn func(ctx context.Context)) {
	if !e.track() {
		return
	}
	go func() {
		defer e.bg.Done()
		fn(e.bgCtx)
	}()
}

/*
====================================
SESSION RESOLUTION
====================================
*/

func (e *Engine) bootstrapDeps() flows.BootstrapDeps {
	return flows.BootstrapDeps{
		Errors: flows.BootstrapErrors{
			Deactivated: ErrAccountDeactivated,
			Unavailable: ErrProviderUnavailable,
		},
		GetPersisted: e.identity.GetPersistedSession,
		Refresh:      e.refreshSession,
		GetProfile:   e.getProfile,
		SignOut:      e.signOut,
		RemoveToken:  e.removeToken,
		Warn:         e.warn,
	}
}

// applyResolved installs the outcome of bootstrap or re-validation if gen is
// still current. It reports whether an authenticated pair was installed.
func (e *Engine) applyResolved(gen uint64, res flows.BootstrapResult, reload bool) bool {
	if res.Outcome == flows.BootstrapRestored {
		if !e.store.Set(gen, res.Session, res.Profile) {
			return false
		}
		e.metricInc(MetricSessionRestored)
		if reload {
			e.reloadData(gen)
		}
		return true
	}
	if e.store.ClearIf(gen, res.Err) {
		e.metricInc(MetricSessionCleared)
	}
	return false
}

// handleAuthChange applies provider pushes not caused by the engine itself.
// Only the provider call that raised an event suppresses it; events arriving
// during unrelated engine operations are applied.
func (e *Engine) handleAuthChange(change provider.AuthChange) {
	if e.closed.Load() || e.expected(change.Kind) {
		return
	}
	switch change.Kind {
	case provider.AuthSignedOut:
		st := e.store.Snapshot()
		if st.Status == StatusAuthenticated && e.store.ClearIf(st.Generation, nil) {
			e.metricInc(MetricSessionCleared)
		}
	case provider.AuthSignedIn, provider.AuthTokenRefreshed:
		if change.Session == nil {
			return
		}
		gen := e.store.Generation()
		sess := change.Session.Clone()
		reload := change.Kind == provider.AuthSignedIn
		e.goBackground(func(ctx context.Context) {
			res := flows.ValidateProfile(ctx, sess, e.bootstrapDeps())
			if !e.applyResolved(gen, res, reload) && res.Outcome == flows.BootstrapRestored {
				e.discardSuperseded(ctx, sess)
			}
		})
	}
}

// installRefreshed re-reads the profile of a refreshed session and installs
// the pair. An inactive or missing profile ends the session; a profile
// outage keeps the refreshed session next to the held profile.
func (e *Engine) installRefreshed(ctx context.Context, gen uint64, sess *session.Session) error {
	if held := e.store.Snapshot().Session; held != nil && held.SubjectID != sess.SubjectID {
		return ErrSuperseded
	}
	res := flows.ValidateProfile(ctx, sess, e.bootstrapDeps())
	switch res.Outcome {
	case flows.BootstrapRestored:
		if !e.applyResolved(gen, res, false) {
			e.discardSuperseded(ctx, sess)
			return ErrSuperseded
		}
		return nil
	case flows.BootstrapUnavailable:
		e.warn("session.refresh_profile", res.Err)
		if !e.store.ReplaceSession(gen, sess) {
			e.discardSuperseded(ctx, sess)
			return ErrSuperseded
		}
		return nil
	}
	e.applyResolved(gen, res, false)
	return res.Err
}

// discardSuperseded signs sess out and removes its token after a logout
// overtook the operation that produced it. A session installed since is left
// alone, as is a persisted token that belongs to another session.
func (e *Engine) discardSuperseded(ctx context.Context, sess *session.Session) {
	if sess == nil || e.store.Snapshot().Authenticated() {
		return
	}
	persisted, err := e.identity.GetPersistedSession(ctx)
	switch {
	case err != nil:
		e.warn("session.superseded_lookup", err)
	case persisted != nil && persisted.RefreshToken != sess.RefreshToken:
		return
	}
	e.logger.Info("crmauth: signing out superseded session", "subject", sess.SubjectID)
	flows.RunLogout(ctx, flows.LogoutDeps{
		SignOut:     e.signOut,
		RemoveToken: e.removeToken,
		Warn:        e.warn,
	})
}

// reloadData runs the bulk CRM reload in the background.
func (e *Engine) reloadData(gen uint64) {
	if e.reloader == nil {
		return
	}
	e.goBackground(func(ctx context.Context) {
		if e.store.Generation() != gen {
			return
		}
		if err := e.reloader.ReloadAll(ctx); err != nil {
			e.metricInc(MetricDataReloadFailure)
			e.warn("data.reload", err)
			e.notify(Notice{Kind: NoticeDataReloadFailed, Err: err})
		}
	})
}

/*
====================================
PROVIDER WRAPPERS
====================================
*/

func (e *Engine) getProfile(ctx context.Context, id string) (*session.Profile, error) {
	start := e.clock.Now()
	defer e.observeProvider(start)
	return e.profiles.GetProfile(ctx, id)
}

func (e *Engine) signOut(ctx context.Context) error {
	done := e.expect(provider.AuthSignedOut)
	defer done()
	start := e.clock.Now()
	defer e.observeProvider(start)
	err := e.identity.SignOut(ctx)
	if err != nil {
		e.metricInc(MetricRemoteSignOutFailure)
	}
	return err
}

func (e *Engine) removeToken(ctx context.Context) error {
	return e.storage.Remove(ctx, e.config.Storage.TokenKey)
}

// refreshSession refreshes through the provider, collapsing concurrent
// callers into one call so a rotating refresh token is spent once.
func (e *Engine) refreshSession(ctx context.Context) (*session.Session, error) {
	v, err, _ := e.refreshGroup.Do("refresh", func() (any, error) {
		done := e.expect(provider.AuthTokenRefreshed)
		defer done()
		start := e.clock.Now()
		defer e.observeProvider(start)
		return e.identity.RefreshSession(ctx)
	})
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	sess, _ := v.(*session.Session)
	if sess == nil {
		e.metricInc(MetricRefreshFailure)
		return nil, fmt.Errorf("%w: refresh returned no session", ErrProviderUnavailable)
	}
	e.metricInc(MetricRefreshSuccess)
	return sess.Clone(), nil
}

/*
====================================
LIFECYCLE HOOKS
====================================
*/

// onStateChange starts and stops the per-session machinery. It runs inside
// store notification and must not write to the store.
func (e *Engine) onStateChange(st State) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closed.Load() {
		return
	}

	authed := st.Authenticated()
	switch {
	case authed && !e.authed:
		e.monitor.Start()
	case !authed && e.authed:
		e.monitor.Stop()
	}
	e.authed = authed

	if !authed {
		e.stopRefreshLocked()
		return
	}
	if e.config.Refresh.AutoRefresh {
		e.armRefreshLocked(st.Session.ExpiresAt, st.Generation)
	}
}

func (e *Engine) armRefreshLocked(expiresAt time.Time, gen uint64) {
	if expiresAt.IsZero() || (e.refreshTimer != nil && expiresAt.Equal(e.refreshFor)) {
		return
	}
	e.stopRefreshLocked()
	delay := e.clock.Until(expiresAt) - e.config.Refresh.Margin
	if delay < 0 {
		delay = 0
	}
	e.refreshFor = expiresAt
	e.refreshTimer = e.clock.AfterFunc(delay, func() { e.autoRefresh(gen) })
}

func (e *Engine) stopRefreshLocked() {
	if e.refreshTimer != nil {
		e.refreshTimer.Stop()
		e.refreshTimer = nil
	}
	e.refreshFor = time.Time{}
}

// autoRefresh renews the session ahead of expiry and re-reads the profile.
// A dead refresh token or a deactivated account ends the session; a
// transient failure is retried while the access token is still valid.
func (e *Engine) autoRefresh(gen uint64) {
	if !e.track() {
		return
	}
	defer e.bg.Done()

	e.lifeMu.Lock()
	e.refreshTimer = nil
	e.refreshFor = time.Time{}
	e.lifeMu.Unlock()
	if e.store.Generation() != gen {
		return
	}

	sess, err := e.refreshSession(e.bgCtx)
	if err == nil {
		if ierr := e.installRefreshed(e.bgCtx, gen, sess); ierr != nil {
			if !errors.Is(ierr, ErrSuperseded) {
				e.emitAudit(e.bgCtx, auditEventRefresh, false, sess.SubjectID, ierr, nil)
			}
			return
		}
		e.emitAudit(e.bgCtx, auditEventRefresh, true, sess.SubjectID, nil, nil)
		return
	}

	e.warn("session.auto_refresh", err)
	e.emitAudit(e.bgCtx, auditEventRefresh, false, "", err, nil)
	st := e.store.Snapshot()
	if st.Generation != gen || st.Status != StatusAuthenticated {
		return
	}
	if errors.Is(err, provider.ErrInvalidRefreshToken) || errors.Is(err, provider.ErrNoSession) ||
		st.Session.Expired(e.clock.Now()) {
		if rerr := e.removeToken(e.bgCtx); rerr != nil {
			e.warn("session.remove_token", rerr)
		}
		if e.store.ClearIf(gen, nil) {
			e.metricInc(MetricSessionCleared)
		}
		return
	}

	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.closed.Load() || e.store.Generation() != gen {
		return
	}
	e.stopRefreshLocked()
	e.refreshFor = st.Session.ExpiresAt
	e.refreshTimer = e.clock.AfterFunc(refreshRetryDelay, func() { e.autoRefresh(gen) })
}

func (e *Engine) onInactivityWarning(remaining time.Duration) {
	e.metricInc(MetricInactivityWarning)
	e.notify(Notice{Kind: NoticeInactivityWarning, Remaining: remaining})
}

// onInactivityExpired ends an idle session: provider sign-out, then the token
// key is removed regardless of how sign-out went.
func (e *Engine) onInactivityExpired() {
	if !e.track() {
		return
	}
	defer e.bg.Done()

	st := e.store.Snapshot()
	e.store.Clear(ErrSessionExpired)
	e.metricInc(MetricInactivityExpired)
	e.metricInc(MetricSessionCleared)

	flows.RunLogout(e.bgCtx, flows.LogoutDeps{
		SignOut:     e.signOut,
		RemoveToken: e.removeToken,
		Warn:        e.warn,
	})
	e.emitAudit(e.bgCtx, auditEventInactivityExpired, true, subjectOf(st.Session), nil, nil)
	e.notify(Notice{Kind: NoticeSessionExpired, Err: ErrSessionExpired})
}

// onTokenRemovedElsewhere drops local state after another tab logged out.
// No provider call is made.
func (e *Engine) onTokenRemovedElsewhere() {
	st := e.store.Snapshot()
	if st.Status != StatusAuthenticated {
		return
	}
	if !e.store.ClearIf(st.Generation, nil) {
		return
	}
	e.metricInc(MetricTabSyncLogout)
	e.metricInc(MetricSessionCleared)
	e.emitAudit(e.bgCtx, auditEventTabSyncLogout, true, subjectOf(st.Session), nil, nil)
	e.notify(Notice{Kind: NoticeSignedOutElsewhere})
}

func subjectOf(s *session.Session) string {
	if s == nil {
		return ""
	}
	return s.SubjectID
}
