package relay

import "errors"

var (
	ErrInvalidUsername   = errors.New("relay: invalid username")
	ErrUsernameEmpty     = errors.New("relay: username empty")
	ErrUsernameTooLong   = errors.New("relay: username too long")
	ErrUsernameUppercase = errors.New("relay: username has uppercase characters")
	ErrUsernameReserved  = errors.New("relay: username reserved")
	ErrUsernameTaken     = errors.New("relay: username taken")
	ErrUsernameEncoding  = errors.New("relay: username not valid utf-8")
	ErrAlreadyRegistered = errors.New("relay: connection already registered")
	ErrServiceStopped    = errors.New("relay: service stopped")
)
