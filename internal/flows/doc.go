// Package flows holds the orchestration behind each Engine operation.
//
// Every flow takes a dependency struct of plain functions and collaborators
// and keeps no state between calls. The root package builds the structs once
// and owns every resource; flows only sequence the calls, pick the audit
// description and map outcomes onto the host's sentinel errors.
package flows
