package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/saravenpi/unimatch/internal/store"
)

var (
	// ErrAccessDenied ends the session: the actor is not a participant.
	ErrAccessDenied = errors.New("access denied")
	// ErrPermissionDenied is a store-level refusal of one write.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransient covers network and upload failures the user may retry.
	ErrTransient = errors.New("temporary failure")
	// ErrValidation rejects input before any store call.
	ErrValidation = errors.New("invalid input")
	// ErrModeConflict rejects a transition the current interaction mode does not allow.
	ErrModeConflict = errors.New("not allowed in current mode")
	ErrClosed       = errors.New("session closed")
)

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrPermissionDenied) {
		return fmt.Errorf("%s: %w: %w", op, ErrPermissionDenied, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// BatchError reports the messages a batch delete could not delete. The rest were deleted.
type BatchError struct {
	Failed []string
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d message(s) could not be deleted: %v", len(e.Failed), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Describe turns an action error into the line shown to the user.
func Describe(err error) string {
	var batch *BatchError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &batch):
		return fmt.Sprintf("%d message(s) could not be deleted.", len(batch.Failed))
	case errors.Is(err, ErrAccessDenied):
		return "You don't have access to this conversation."
	case errors.Is(err, ErrPermissionDenied):
		return "You don't have permission to do that."
	case errors.Is(err, ErrValidation):
		msg := err.Error()
		if i := strings.Index(msg, ErrValidation.Error()+": "); i >= 0 {
			msg = msg[i+len(ErrValidation.Error())+2:]
		}
		if msg == "" {
			return "Invalid input."
		}
		return strings.ToUpper(msg[:1]) + msg[1:] + "."
	case errors.Is(err, ErrModeConflict):
		return "Finish or cancel the current action first."
	case errors.Is(err, ErrClosed):
		return "This conversation is closed."
	}
	return "Something went wrong. Please try again."
}
