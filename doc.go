// Package adwoodcrm is the authentication and authorization core of the
// Adwood CRM client: who is signed in, whether that session is still
// trustworthy, and which pages the signed-in role may open.
//
// An [Engine] is built once per browsing context through [Builder] and is
// safe for concurrent use. It owns a single session snapshot ([State]) and
// drives it through sign-in, restore, refresh, step-up MFA, inactivity
// expiry, cross-tab logout and sign-out. Consumers read the snapshot with
// [Engine.State] or [Engine.Subscribe] and gate navigation with
// [Engine.Authorize].
//
// # Architecture boundaries
//
// adwoodcrm is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Orchestration lives in internal/flows as closures over
// small dependency structs, so the flows never import this package.
// The hosted identity provider and the profile table sit behind
// [IdentityProvider] and [ProfileStore]; provider/memory is the in-process
// implementation used by tests and the demo, provider/gotrue talks to a
// hosted GoTrue server and profile/pgstore keeps profiles in Postgres.
//
// # What this package must NOT do
//
//   - Trust a persisted access token without refreshing it first.
//   - Send role or active flag in a profile update.
//   - Contact the provider while the device lockout is engaged.
//   - Treat route checks as a security boundary; the data backend enforces
//     the same table.
//
// # Concurrency
//
// Every state write carries the generation it was computed against. A
// sign-out or a newer sign-in bumps the generation, and late results from
// the old one are dropped instead of resurrecting a dead session.
package adwoodcrm
