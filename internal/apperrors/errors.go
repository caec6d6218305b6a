package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument marks malformed or out-of-range input. Not retryable without a caller fix.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates that a requested account, wallet or chain link does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecordState marks data that exists but violates a required precondition.
	ErrInvalidRecordState = errors.New("invalid record state")

	// ErrAlreadyExists indicates a duplicate account, wallet or row.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidState is a contract violation on an in-memory value, e.g. relinking a chain stamp.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotOwner indicates the caller does not own the target account.
	ErrNotOwner = errors.New("not owner of account")

	// ErrServerError covers unexpected affected-row counts and unclassified store failures.
	ErrServerError = errors.New("server error")

	// ErrPartialCommit indicates the relational transaction committed but at least one block
	// could not be written to the append-only store.
	ErrPartialCommit = errors.New("partial commit")
)

// InvalidArgument wraps ErrInvalidArgument with a formatted message.
func InvalidArgument(format string, args ...any) error {
	return wrap(ErrInvalidArgument, format, args...)
}

// NotFound wraps ErrNotFound with a formatted message.
func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// InvalidRecordState wraps ErrInvalidRecordState with a formatted message.
func InvalidRecordState(format string, args ...any) error {
	return wrap(ErrInvalidRecordState, format, args...)
}

// AlreadyExists wraps ErrAlreadyExists with a formatted message.
func AlreadyExists(format string, args ...any) error {
	return wrap(ErrAlreadyExists, format, args...)
}

// InvalidState wraps ErrInvalidState with a formatted message.
func InvalidState(format string, args ...any) error {
	return wrap(ErrInvalidState, format, args...)
}

// ServerError wraps ErrServerError with a formatted message.
func ServerError(format string, args ...any) error {
	return wrap(ErrServerError, format, args...)
}

func wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// PartialCommitError reports blocks whose relational effects are durable but which are missing
// from the append-only store. BlockIDs are the replay keys for the repair process.
type PartialCommitError struct {
	BlockIDs []string
	Err      error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("partial commit: blocks [%s] not persisted: %v", strings.Join(e.BlockIDs, ","), e.Err)
}

// Is reports ErrPartialCommit so callers can branch with errors.Is.
func (e *PartialCommitError) Is(target error) bool {
	return target == ErrPartialCommit
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

// Classified reports whether err already belongs to the taxonomy.
func Classified(err error) bool {
	for _, kind := range []error{
		ErrInvalidArgument, ErrNotFound, ErrInvalidRecordState, ErrAlreadyExists,
		ErrInvalidState, ErrNotOwner, ErrServerError, ErrPartialCommit,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
