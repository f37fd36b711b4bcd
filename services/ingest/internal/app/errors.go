package app

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNotFound        = errors.New("not found")
	ErrQueueDisabled   = errors.New("re-index queue not configured")
)
