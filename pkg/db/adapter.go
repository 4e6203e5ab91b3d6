package db

import (
	"context"
	"errors"
	"fmt"
)

// DefaultConnection is the name used when no connection name is given
const DefaultConnection = "default"

var (
	// ErrUnknownConnection is returned by drivers asked for a connection they do not hold
	ErrUnknownConnection = errors.New("db: unknown connection")

	// ErrEmptyValues is returned when an insert or update carries no columns
	ErrEmptyValues = errors.New("db: no column values")
)

// Adapter executes table-level statements against one connection.
// Predicates are condition trees; a nil group matches every row.
type Adapter interface {
	// Select returns the matching rows keyed by column name
	Select(ctx context.Context, table string, where *ConditionGroup) ([]map[string]any, error)

	// Insert writes one row and returns the generated value of keyColumn,
	// or nil when the store produced none.
	Insert(ctx context.Context, table, keyColumn string, values map[string]any) (any, error)

	// Update writes values to the matching rows and returns the affected count
	Update(ctx context.Context, table string, where *ConditionGroup, values map[string]any) (int64, error)

	// Delete removes the matching rows and returns the affected count
	Delete(ctx context.Context, table string, where *ConditionGroup) (int64, error)
}

// Tx is an adapter bound to an open transaction
type Tx interface {
	Adapter
	Commit() error
	Rollback() error
}

// Transactional is implemented by adapters able to open transactions
type Transactional interface {
	Begin(ctx context.Context) (Tx, error)
}

// Driver hands out adapters for its named connections
type Driver interface {
	Connection(name string) (Adapter, error)
}

func unknownConnection(name string) error {
	return fmt.Errorf("%w: %q", ErrUnknownConnection, name)
}

// IsUnknownConnection checks if the error is an unknown connection error
func IsUnknownConnection(err error) bool {
	return errors.Is(err, ErrUnknownConnection)
}
