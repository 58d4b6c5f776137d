// Package middleware adapts an authcore.Engine to net/http.
//
// Guard, RequireStrict and RequireJWTOnly authenticate bearer access tokens
// and attach an *authcore.AuthResult to the request context.
// RequirePermission checks the authenticated role. ClientInfo feeds IP and
// User-Agent into the engine, RateLimit throttles endpoints such as login,
// and RequestID and SecurityHeaders cover the response envelope.
//
// Every constructor returns func(http.Handler) http.Handler, so the chain
// composes with chi or any other router that speaks that shape.
package middleware
