package domain

import "errors"

var (
	ErrNotFound          = errors.New("export job not found")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrMalformedRequest  = errors.New("malformed render request")
	ErrRenderTimeout     = errors.New("render attempt timed out")
)
