// Package otel registers authcore metrics as OpenTelemetry observable
// instruments. Counters map one to one; each latency histogram becomes a
// bucket gauge keyed by an "le" attribute plus a count gauge. The caller
// owns the MeterProvider.
package otel
