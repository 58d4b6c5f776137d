// Package memory provides an in-process UserStore for tests and development.
package memory
