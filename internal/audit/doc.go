// Package audit implements async event dispatching for session lifecycle
// operations: logins, logouts, lockouts, inactivity expiry, tab sync and
// step-up.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op, fan-out).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with id, timestamp, type, subject and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit; the engine does.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import the root package or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
