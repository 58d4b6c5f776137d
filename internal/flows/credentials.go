package flows

import (
	"context"
	"errors"
)

// CredentialOutcome classifies a credential check.
type CredentialOutcome int

const (
	CredentialsValid CredentialOutcome = iota
	CredentialsUnknownUser
	CredentialsBadPassword
	CredentialsInactive
)

// String returns the audit description for the outcome.
func (o CredentialOutcome) String() string {
	switch o {
	case CredentialsValid:
		return "login successful"
	case CredentialsUnknownUser:
		return "user not found"
	case CredentialsBadPassword:
		return "invalid password"
	case CredentialsInactive:
		return "account inactive"
	default:
		return "unknown"
	}
}

// CredentialDeps captures the user lookup and password check.
type CredentialDeps struct {
	FindCredentials func(ctx context.Context, email string) (UserRecord, error)
	VerifyPassword  func(plaintext, hash string) (bool, error)
	// DummyHash is verified against when the user does not exist so unknown
	// addresses cost the same as wrong passwords.
	DummyHash    string
	UserNotFound error
}

// CredentialResult carries the outcome and, when found, the user.
type CredentialResult struct {
	Outcome CredentialOutcome
	User    UserRecord
}

// ValidateCredentials looks up email and checks password. The error return is
// reserved for store failures; a missing user is an outcome.
func ValidateCredentials(ctx context.Context, email, password string, deps CredentialDeps) (CredentialResult, error) {
	user, err := deps.FindCredentials(ctx, email)
	if err != nil {
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			if deps.DummyHash != "" {
				_, _ = deps.VerifyPassword(password, deps.DummyHash)
			}
			return CredentialResult{Outcome: CredentialsUnknownUser}, nil
		}
		return CredentialResult{}, err
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return CredentialResult{Outcome: CredentialsBadPassword, User: user}, nil
	}
	if !user.IsActive {
		return CredentialResult{Outcome: CredentialsInactive, User: user}, nil
	}
	return CredentialResult{Outcome: CredentialsValid, User: user}, nil
}
