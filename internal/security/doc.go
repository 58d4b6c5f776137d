// Package security summarizes the security posture of a configured engine.
// It is pure: callers gather a ReportInput and BuildReport derives flags and
// warnings from it.
package security
