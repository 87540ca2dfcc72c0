package access

import "errors"

var (
	ErrPermissionDenied = errors.New("access: permission denied")
	ErrNotFound         = errors.New("access: not found")
	ErrInvalidInput     = errors.New("access: invalid input")
)
