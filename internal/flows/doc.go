// Package flows contains the orchestration steps behind every Engine
// operation: bootstrap, login, logout, step-up verification, profile patch
// building and the navigation guard.
//
// Each flow takes a typed dependency struct of closures and host sentinel
// errors and returns a result plus an outcome classification. The Engine
// owns the collaborators and applies results to the session store under its
// generation guard; flows never touch the store.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package.
//   - Emit metrics or audit events; outcomes are returned for the Engine to record.
package flows
