// Package prometheus serves authcore counters, latency histograms and
// session gauges in the Prometheus text format. Mount Exporter.Handler on
// a route of your choosing; nothing is registered globally.
package prometheus
