package registry

import "errors"

var (
	ErrUnknownToken = errors.New("registry: unknown token")
	ErrUnauthorized = errors.New("registry: unauthorized")
	ErrWrongOwner   = errors.New("registry: from is not the current owner")
	ErrZeroAddress  = errors.New("registry: zero address")
)
