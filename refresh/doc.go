// Package refresh implements opaque rotating refresh tokens for the
// in-process identity provider.
//
// # Token format
//
// Base64url of a 16-byte session id followed by a 32-byte random secret.
// Tokens are never stored in plaintext; the issuer keeps only the secret hash
// and replaces it on every refresh.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Implement rotation policy or reuse detection; the issuer does.
package refresh
