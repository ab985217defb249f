package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrAccountLocked      = errors.New("account locked")
	ErrNotFound           = errors.New("identity not found")
	ErrUnavailable        = errors.New("backend unavailable")
	ErrInvalidRequest     = errors.New("invalid request")

	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenInvalid   = errors.New("token invalid")
)
