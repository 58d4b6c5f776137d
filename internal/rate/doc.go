// Package rate implements a fixed-window request counter in Redis. The
// first hit in a window sets the key TTL; INCR and PEXPIRE run in one
// script so a crash between them cannot leave a key without expiry.
package rate
