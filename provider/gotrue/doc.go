// Package gotrue is the [provider.Identity] adapter for a hosted
// GoTrue-compatible auth service (the API behind Supabase Auth).
//
// Like the browser client it replaces, a [Client] persists the session blob
// in device storage under the token key, so tabs sharing the storage share
// the session and the cross-tab listener sees removals. Assurance levels are
// read from the access token's aal claim; the token is not verified here,
// the service verifies it on every call.
package gotrue
