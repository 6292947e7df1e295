// Package limiters provides the client-side attempt limiters used by the
// authentication engine.
//
// # Limiters
//
//   - [Lockout]: per-device failed-login counter with exponential backoff,
//     persisted in device storage so every tab sees the same record.
//   - [ResetThrottle]: per-address token bucket for password-reset e-mails.
//
// Both are nil-safe: calling any method on a nil receiver allows the action.
//
// # What this package must NOT do
//
//   - Import the root package or call the identity provider.
//   - Decide what a lockout means for the user; the engine maps states to errors.
package limiters
