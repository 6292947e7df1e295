package middleware

import (
	"context"
	"net/http"
	"net/url"

	adwoodcrm "github.com/Alijah8/adwood-crm"
)

// Authorizer is the part of [adwoodcrm.Engine] the guard needs.
type Authorizer interface {
	Authorize(ctx context.Context, path string) adwoodcrm.Decision
}

// Resolver finds the authorizer for a request. A nil result is treated as
// an unknown caller.
type Resolver func(r *http.Request) Authorizer

// ReturnParam is the query parameter carrying the originally requested path
// on a login redirect.
const ReturnParam = "redirect"

type decisionContextKey struct{}

// DecisionFromContext returns the decision that let the request through.
func DecisionFromContext(ctx context.Context) (adwoodcrm.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(adwoodcrm.Decision)
	return d, ok
}

// Guard gates next behind the resolved authorizer.
func Guard(resolve Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var a Authorizer
			if resolve != nil {
				a = resolve(r)
			}
			if a == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			d := a.Authorize(r.Context(), r.URL.Path)
			switch d.Kind {
			case adwoodcrm.DecisionRender:
				ctx := context.WithValue(r.Context(), decisionContextKey{}, d)
				next.ServeHTTP(w, r.WithContext(ctx))
			case adwoodcrm.DecisionRedirectLogin:
				http.Redirect(w, r, loginTarget(d), http.StatusSeeOther)
			case adwoodcrm.DecisionRedirectMFA, adwoodcrm.DecisionRedirectHome:
				http.Redirect(w, r, d.Target, http.StatusSeeOther)
			default:
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session loading", http.StatusServiceUnavailable)
			}
		})
	}
}

func loginTarget(d adwoodcrm.Decision) string {
	if d.ReturnTo == "" {
		return d.Target
	}
	return d.Target + "?" + url.Values{ReturnParam: {d.ReturnTo}}.Encode()
}
