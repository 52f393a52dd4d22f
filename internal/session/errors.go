package session

import "errors"

var (
	// ErrNotFound reports an unknown visitor id, session token or page.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument reports input the caller must correct.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState reports an action that the visitor's current state
	// does not allow, such as advancing a rotation that is not running.
	ErrInvalidState = errors.New("invalid state")

	// ErrDuplicate is returned by Store.Create when the session token is
	// already registered.
	ErrDuplicate = errors.New("duplicate session")
)
