// Package postgres stores authcore users, verification tokens and audit
// events in PostgreSQL through a pgx connection pool.
//
// Run Migrate once at startup to create the schema. TokenStore keeps only a
// SHA-256 digest of each token and implements verification.AtomicVerifier,
// so consuming a verification token and marking the user verified commit
// together.
package postgres
