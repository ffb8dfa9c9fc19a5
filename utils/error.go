package utils

import (
	"errors"
	"fmt"
)

// ErrorRecordNotFound covers both genuinely missing rows and rows owned by
// another workspace. The two cases are deliberately indistinguishable to the
// caller so existence is never leaked across tenants.
var ErrorRecordNotFound = errors.New("record not found")

// ErrorWorkspaceRequired is returned when the context lacks a workspace id.
var ErrorWorkspaceRequired = errors.New("workspace id is required")

// BusinessRuleError marks a movement or status transition the ledger rejects:
// negative quantity, a decrease that would drive the balance negative, a
// delivery against a non-confirmed order, and the like. Always recoverable
// by the caller.
type BusinessRuleError struct {
	Msg string
}

func (e *BusinessRuleError) Error() string { return e.Msg }

func NewBusinessRuleError(format string, args ...any) error {
	return &BusinessRuleError{Msg: fmt.Sprintf(format, args...)}
}

func IsBusinessRuleError(err error) bool {
	var bre *BusinessRuleError
	return errors.As(err, &bre)
}

// StorageError wraps an unexpected infrastructure fault from the store.
// It must bubble up and roll the caller's transaction back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage: %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

func WrapStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
