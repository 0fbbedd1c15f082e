package model

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation error")
	ErrConflict       = errors.New("conflict")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUnavailable    = errors.New("unavailable")
	ErrMalformedEvent = errors.New("malformed event")
)
