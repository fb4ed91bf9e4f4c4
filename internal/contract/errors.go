package contract

import (
	"errors"
	"fmt"
)

// ErrCorruptSnapshot matches every SnapshotError via errors.Is.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// SnapshotErrorCode categorizes why a snapshot could not be restored.
type SnapshotErrorCode string

const (
	ErrCodeInvalidIndex      SnapshotErrorCode = "INVALID_INDEX"
	ErrCodeUnknownDifficulty SnapshotErrorCode = "UNKNOWN_DIFFICULTY"
	ErrCodeNoTasks           SnapshotErrorCode = "NO_TASKS"
	ErrCodeInvalidCompletion SnapshotErrorCode = "INVALID_COMPLETION"
	ErrCodeInvalidTask       SnapshotErrorCode = "INVALID_TASK"
)

// SnapshotError reports a snapshot that cannot be turned back into a
// contract.
type SnapshotError struct {
	Code    SnapshotErrorCode
	Message string
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SnapshotError) Is(target error) bool {
	return target == ErrCorruptSnapshot
}

func corrupt(code SnapshotErrorCode, format string, args ...any) *SnapshotError {
	return &SnapshotError{Code: code, Message: fmt.Sprintf(format, args...)}
}
