// Package middleware adapts route authorization decisions to HTTP.
//
// [Guard] resolves the caller's engine (one per browser tab in the demo
// server), asks it for a [adwoodcrm.Decision] on the request path and turns
// the decision into a response:
//
//   - Loading: 503 with Retry-After, the session has not been resolved yet.
//   - RedirectLogin: 303 to the login page with ?redirect=<path>.
//   - RedirectMFA, RedirectHome: 303 to the decision target.
//   - Render: the wrapped handler runs with the decision in the context.
//
// # What this package must NOT do
//
//   - Decide access itself; every outcome comes from the engine.
//   - Read or write the stored session token.
package middleware
