package orm

import (
	"errors"
	"fmt"
)

var (
	// ErrEntityNotFound is matched by every EntityNotFoundError
	ErrEntityNotFound = errors.New("entity not found")

	// ErrTransactionsUnsupported is returned in TxRequired mode when the
	// adapter cannot open transactions
	ErrTransactionsUnsupported = errors.New("adapter does not support transactions")
)

// EntityNotFoundError is returned when no row matches a requested key
type EntityNotFoundError struct {
	Type string
	Key  any
}

// Error returns the error message for EntityNotFoundError.
func (e *EntityNotFoundError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("no %s matches the query", e.Type)
	}
	return fmt.Sprintf("%s with key %v not found", e.Type, e.Key)
}

// Is lets errors.Is(err, ErrEntityNotFound) match.
func (e *EntityNotFoundError) Is(target error) bool {
	return target == ErrEntityNotFound
}

// IsNotFound checks if an error is an EntityNotFoundError
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// TypeMismatchError is returned when an entity is handed to the mapper of another type
type TypeMismatchError struct {
	Expected string
	Actual   string
}

// Error returns the error message for TypeMismatchError.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("mapper for %s cannot handle a %s entity", e.Expected, e.Actual)
}
