package domain

import "errors"

var (
	// ErrNotFound means a board, list or card id did not resolve.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the acting user lacks the required board role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument means the request was malformed: a missing title, a
	// negative order index or a cross-board move target.
	ErrInvalidArgument = errors.New("invalid argument")
)
