package authcore

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/verification"
)

var (
	// ErrInvalidCredentials is returned for unknown users, wrong passwords and
	// inactive accounts alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountExists is returned by Register when the email is taken.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned by user stores for missing rows.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountLocked matches every *LockoutError.
	ErrAccountLocked = errors.New("account locked")
	// ErrSessionLimitExceeded is returned by Login when the user holds the
	// maximum number of active sessions.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized is returned by ValidateAccess for tokens that do not
	// map to a live session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrEngineNotReady is returned when a nil or partially built Engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrSessionsNotRevoked is returned by ResetPassword when the new password
	// was stored but existing sessions could not be revoked.
	ErrSessionsNotRevoked = flows.ErrSessionsNotRevoked
)

// LockoutError reports a login rejected because the identifier is locked.
type LockoutError struct {
	Remaining time.Duration
}

func (e *LockoutError) Error() string {
	minutes := int((e.Remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("account locked, try again in %d minute(s)", minutes)
}

func (e *LockoutError) Is(target error) bool { return target == ErrAccountLocked }

// ValidationError lists the request fields that failed validation, keyed by
// field name with the failed rule as value.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Fields[name])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// HTTPStatus maps an engine error to the status code an HTTP layer should
// answer with. Nil maps to 200 and unknown errors to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrSessionsNotRevoked):
		return http.StatusInternalServerError
	case errors.Is(err, ErrValidation),
		errors.Is(err, password.ErrPasswordTooShort),
		errors.Is(err, password.ErrPasswordTooLong),
		errors.Is(err, verification.ErrTokenUsed),
		errors.Is(err, verification.ErrTokenExpired),
		errors.Is(err, verification.ErrTokenInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrAccountLocked):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrSessionLimitExceeded),
		errors.Is(err, session.ErrSessionLimitExceeded),
		errors.Is(err, ErrAccountExists),
		errors.Is(err, verification.ErrTokenLimitExceeded),
		errors.Is(err, verification.ErrEmailAlreadyVerified):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, session.ErrTokenRotation),
		errors.Is(err, session.ErrUserMismatch),
		errors.Is(err, session.ErrSessionInactive),
		errors.Is(err, session.ErrSessionExpired),
		errors.Is(err, jwt.ErrTokenInvalid),
		errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenTypeMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, verification.ErrTokenNotFound),
		errors.Is(err, verification.ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
