package model

import "errors"

// Error categories. Services wrap them with context, handlers match them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrNotActive  = errors.New("device not active")
)
