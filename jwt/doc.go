// Package jwt mints and verifies the typed tokens used by authcore: short-lived
// access tokens, long-lived refresh tokens and purpose-scoped tokens. The "typ"
// claim is enforced on every verification so a refresh token can never be
// accepted where an access token is expected.
package jwt
