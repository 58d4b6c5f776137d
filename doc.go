// Package authcore is an authentication engine: registration, login with
// brute-force lockout, JWT access tokens with rotating refresh tokens,
// tracked sessions with per-user limits, email verification and password
// reset tokens, and role-based permission checks.
//
// Build an [Engine] with [New] and [Builder.Build]. Engine methods are safe
// to call from multiple goroutines.
//
// # Architecture boundaries
//
// authcore is the public surface: [Engine], [Builder], [Config] and the
// request and result types. The state machines live in the session,
// lockout and verification packages; flow orchestration and audit dispatch
// live under internal/ and are not exported.
//
// # Storage
//
// Sessions and lockout records live in memory by default and in Redis
// after [Builder.WithRedis]. Users are supplied through [UserStore];
// store/memory and store/postgres provide implementations.
//
// # Errors
//
// Business outcomes are sentinel or typed errors ([ErrInvalidCredentials],
// [*LockoutError], [*ValidationError], ...). [HTTPStatus] maps them to
// status codes. Failures of best-effort side effects such as mail delivery
// or last-login updates are logged and never fail the primary operation.
package authcore
