package access

import "errors"

var (
	// ErrUnauthorized means no valid identity could be resolved for the request.
	ErrUnauthorized = errors.New("access: unauthorized")
	// ErrForbidden means the caller is known but the target is outside its scope.
	ErrForbidden = errors.New("access: forbidden")
)
