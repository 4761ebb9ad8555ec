package chat

import (
	"errors"
	"fmt"
)

// ErrUnauthorized rejects a send targeting a channel the sender does not
// belong to. Membership lookups that fail resolve to this error as well, so
// authorization fails closed.
var ErrUnauthorized = errors.New("sender is not a channel member")

// AuthError reports an identity claim that could not be verified on a
// pending connection.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// PersistenceError wraps a failed durable append. Nothing was delivered and
// the caller may retry.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("message append failed: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
