package apperrors

import (
	"errors"
)

var (
	ErrValidation = errors.New("validation error")

	ErrAccountExists     = errors.New("account already exists")
	ErrAccountNotFound   = errors.New("account not found")
	ErrMissingIdentifier = errors.New("username or email is required")

	// Coarse on purpose: callers must not learn which check failed
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")

	ErrMissingToken = errors.New("refresh token is missing")
	ErrInvalidToken = errors.New("token is invalid")
	ErrStaleToken   = errors.New("refresh token is used or revoked")

	ErrInternal = errors.New("internal failure")
)

// Kind of error as it is exposed to API clients
type Kind string

const (
	KindValidation         Kind = "validation_error"
	KindMissingIdentifier  Kind = "missing_identifier"
	KindAccountExists      Kind = "account_exists"
	KindAccountNotFound    Kind = "account_not_found"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUnauthorized       Kind = "unauthorized"
	KindMissingToken       Kind = "missing_token"
	KindInvalidToken       Kind = "invalid_token"
	KindStaleToken         Kind = "stale_token"
	KindInternal           Kind = "internal_failure"
)

// Order matters: the first match wins
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrMissingIdentifier, KindMissingIdentifier},
	{ErrAccountExists, KindAccountExists},
	{ErrAccountNotFound, KindAccountNotFound},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrUnauthorized, KindUnauthorized},
	{ErrMissingToken, KindMissingToken},
	{ErrInvalidToken, KindInvalidToken},
	{ErrStaleToken, KindStaleToken},
}

// KindOf returns the kind of well known error
// Any unknown error is an internal failure
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}
