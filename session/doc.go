// Package session holds the signed-in Session/Profile pair of one browsing
// context and the persisted token blob format.
//
// # Generations
//
// The [Store] keeps a generation counter that advances on every clear
// (logout, inactivity expiry, tab sync, deactivation). Async work captures the
// generation before it starts and passes it to the guarded setters; a result
// that arrives after a clear is discarded instead of resurrecting the session.
//
// # Token blob
//
// [Encode] and [Decode] read and write the provider's persisted token blob.
// The format is versioned JSON; older versions are upgraded on read.
//
// # What this package must NOT do
//
//   - Call the identity provider or touch device storage.
//   - Decide whether a profile may stay signed in beyond the active flag.
package session
