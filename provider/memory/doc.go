// Package memory is an in-process identity provider with the same contract
// as the hosted one: password sign-in with Argon2id hashes, HS256 access
// tokens carrying the assurance level, rotating refresh tokens, TOTP factors
// and a profiles table.
//
// A [Backend] plays the server. Each tab gets its own [Client] over the tab's
// device storage, so signing out in one tab removes the token blob every
// other tab reads. Call counters and failure injection make it usable as a
// test double.
package memory
