package adwoodcrm

import (
	"context"
	"errors"
	"slices"

	"github.com/Alijah8/adwood-crm/internal/flows"
	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/session"
)

// Authorize evaluates one navigation to path. It is re-evaluated on every
// call and never cached. The stages run in order: loading, unauthenticated
// (redirect to login with the path to return to), deactivated (redirect to
// login, no return path), step-up required (redirect to the MFA page) and
// finally the role table (redirect home or render).
func (e *Engine) Authorize(ctx context.Context, path string) Decision {
	if e == nil || e.store == nil {
		return Decision{Kind: DecisionLoading}
	}
	st := e.store.Snapshot()
	authed := st.Authenticated()
	path = permission.NormalizePath(path)

	d := flows.Decide(flows.GuardInput{
		Path:          path,
		Loading:       st.Status == StatusLoading,
		Authenticated: authed,
		Deactivated:   !authed && errors.Is(st.Err, ErrAccountDeactivated),
		LoginPath:     e.config.App.LoginPath,
		MFAPath:       e.config.App.MFAPath,
		HomePath:      e.routes.Home(),
		StepUpRequired: func() bool {
			return e.stepUpRequired(ctx, st.Session)
		},
		Allowed: func() bool {
			return e.routes.HasAccess(st.Profile.Role, path)
		},
	})

	switch d.Kind {
	case DecisionRedirectMFA:
		e.metricInc(MetricStepUpRequired)
	case DecisionRedirectHome:
		e.metricInc(MetricRouteDenied)
		e.emitAudit(ctx, auditEventRouteDenied, false, subjectOf(st.Session), nil, func() map[string]string {
			return map[string]string{"path": path, "role": string(st.Profile.Role)}
		})
	}
	return d
}

// stepUpRequired asks the provider whether a stronger assurance level is
// available than the session holds. Errors fail closed.
func (e *Engine) stepUpRequired(ctx context.Context, sess *session.Session) bool {
	if !e.config.MFA.Enforce {
		return false
	}
	if sess != nil && sess.AAL == session.AAL2 {
		return false
	}
	start := e.clock.Now()
	levels, err := e.identity.MFA().GetAssuranceLevel(ctx)
	e.observeProvider(start)
	if err != nil {
		e.warn("guard.assurance_level", err)
		return true
	}
	return levels.StepUpRequired()
}

// CanAccess reports whether the signed-in role may open path. It is the role
// check alone; use [Engine.Authorize] for navigation.
func (e *Engine) CanAccess(path string) bool {
	role, ok := e.Role()
	if !ok {
		return false
	}
	return e.routes.HasAccess(role, permission.NormalizePath(path))
}

// Role returns the signed-in user's role.
func (e *Engine) Role() (Role, bool) {
	if e == nil || e.store == nil {
		return "", false
	}
	st := e.store.Snapshot()
	if !st.Authenticated() {
		return "", false
	}
	return st.Profile.Role, true
}

// HasRole reports whether the signed-in user holds one of roles.
func (e *Engine) HasRole(roles ...Role) bool {
	role, ok := e.Role()
	if !ok {
		return false
	}
	return slices.Contains(roles, role)
}

// VisibleRoutes lists the pages the navigation should show, in table order.
func (e *Engine) VisibleRoutes() []string {
	role, ok := e.Role()
	if !ok {
		return nil
	}
	return e.routes.AllowedPaths(role)
}
