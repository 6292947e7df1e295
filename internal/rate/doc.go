// Package rate implements the server-side login throttle used by the demo
// server in front of [adwoodcrm.Engine.Login].
//
// The engine's lockout tracker lives in device storage and can be cleared by
// whoever controls the device. This package keeps per-email and per-IP
// failure counters in Redis, where the client cannot reach them.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes
// (after the configured namespace):
//   - login:  failures per normalized email
//   - ip:     failures per client address
//
// # What this package must NOT do
//
//   - Replace the device lockout schedule (that lives in internal/limiters).
//   - Reveal whether an email belongs to an account.
package rate
