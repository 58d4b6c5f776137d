package verification

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailAlreadyVerified = errors.New("email already verified")
	ErrTokenLimitExceeded   = errors.New("too many outstanding tokens")
	ErrTokenNotFound        = errors.New("token not found")
	ErrTokenUsed            = errors.New("token already used")
	ErrTokenExpired         = errors.New("token expired")
	// ErrTokenInvalid is returned when a token is presented for the wrong
	// email address or the wrong purpose.
	ErrTokenInvalid = errors.New("token invalid")
)
