// Package verification issues and consumes single-use email tokens: email
// verification links and password reset links.
//
// A token is created for a user, delivered by a [Mailer], and consumed exactly
// once. Consuming an email verification token and marking its user verified
// happen as one unit: stores that implement [AtomicVerifier] do both in one
// transaction, otherwise the token is consumed first and released again if
// the user update fails.
package verification
