package app

import "errors"

var (
	ErrOwnerRequired = errors.New("owner key required")
	ErrTitleRequired = errors.New("session title required")
)
