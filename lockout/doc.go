// Package lockout tracks failed login attempts per identifier and locks the
// identifier out once a threshold is reached.
//
// A record moves through three states: clean (no record), warning
// (0 < count < threshold) and locked (LockedUntil in the future). A success
// clears the record. When a lockout expires the count is kept, so a single
// further failure locks the identifier again; a periodic sweep drops records
// whose lockout has expired.
package lockout
