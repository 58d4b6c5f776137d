package middleware

import (
	"net/http"

	"github.com/MrEthical07/authcore"
)

// RequireStrict checks the token and the session behind it on every request.
func RequireStrict(engine *authcore.Engine) func(http.Handler) http.Handler {
	return Guard(engine, true)
}
