// Package jwt issues and verifies access tokens carrying the subject, session
// id and authenticator assurance level (aal1/aal2).
package jwt
