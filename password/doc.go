// Package password hashes and verifies user passwords.
//
// Two algorithms are provided: bcrypt ([Bcrypt], the default) and Argon2id
// ([Argon2], PHC string format). [New] builds one from a [Config]. Both
// report through NeedsRehash when a stored hash was produced with weaker
// parameters or a different algorithm, so callers can re-hash after the next
// successful login.
//
// Plaintext is hashed as the raw bytes supplied; no Unicode normalization is
// applied. Length policy beyond the byte bounds enforced here belongs to the
// caller.
package password
