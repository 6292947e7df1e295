// Package password hashes and verifies staff passwords with Argon2id for the
// in-process identity provider.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes made with weaker parameters so the
// caller can re-hash after a successful sign-in.
package password
