// Package internal contains helpers private to authcore: secure random
// identifiers and token hashing.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: orchestration behind every Engine operation
//   - rate: fixed-window Redis counters used by the rate limit middleware
//   - security: posture report behind Engine.SecurityReport
//   - sweep: stoppable periodic background jobs
//
// Nothing here is part of the public authcore API.
package internal
