// Package audit buffers audit events and delivers them to a [Sink] off the
// request path.
//
// The package decides nothing about which events exist; the engine and the
// flows choose actions and descriptions. Sinks provided here cover tests
// (channel), files (JSON lines) and structured logs (slog). A Postgres sink
// lives in store/postgres.
package audit
