package conversation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("conversation not found")
	ErrNoActiveConversation = errors.New("no active conversation")
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrProviderError        = errors.New("reply provider error")
	ErrInvalidRole          = errors.New("invalid role")
	ErrInvalidContent       = errors.New("message content must not be blank")
)

// NotFoundError reports a reference to a conversation that does not exist.
type NotFoundError struct {
	ID ID
}

func (e *NotFoundError) Error() string {
	if e == nil || e.ID.IsZero() {
		return ErrNotFound.Error()
	}
	return fmt.Sprintf("%s: %q", ErrNotFound, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// BackendError reports an I/O failure of a persistence backend. The local
// collection is left as it was before the failed call.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	if e == nil {
		return ErrBackendUnavailable.Error()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", ErrBackendUnavailable, e.Op)
	}
	return fmt.Sprintf("%s (%s): %v", ErrBackendUnavailable, e.Op, e.Err)
}

func (e *BackendError) Is(target error) bool { return target == ErrBackendUnavailable }

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type InvalidRoleError struct {
	Role string
}

func (e *InvalidRoleError) Error() string {
	if e == nil {
		return ErrInvalidRole.Error()
	}
	return fmt.Sprintf("%s: %q", ErrInvalidRole, e.Role)
}

func (e *InvalidRoleError) Is(target error) bool { return target == ErrInvalidRole }

// InvalidContentError rejects a message whose content is empty or only
// whitespace. Retrying the same content cannot succeed.
type InvalidContentError struct {
	Content string
}

func (e *InvalidContentError) Error() string {
	return ErrInvalidContent.Error()
}

func (e *InvalidContentError) Is(target error) bool { return target == ErrInvalidContent }

// AsBackendError classifies an arbitrary failure of a backend call. Errors that
// already carry a taxonomy (not found, invalid input, backend) pass through.
func AsBackendError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBackendUnavailable) || errors.Is(err, ErrInvalidRole) ||
		errors.Is(err, ErrInvalidContent) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
