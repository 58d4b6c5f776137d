// Package session owns authenticated sessions: the [Session] model, the [Store]
// contract with in-memory and Redis implementations, and the [Manager] that
// enforces per-user limits, validates sessions and rotates refresh tokens.
//
// # Concurrency
//
// Every read-modify-write goes through [Store.Replace], a compare-and-swap on
// [Session.Version]. Refresh rotation is therefore linearizable: of several
// concurrent refreshes presenting the same token exactly one succeeds, and a
// concurrent validation can never write back a rotated-out token.
//
// # Redis layout
//
// [RedisStore] keeps a compact binary blob per session (see [Encode]) plus a
// meta hash and three indices, all mutated by Lua scripts.
//
// This package does not import jwt; token minting is injected via [TokenIssuer].
package session
