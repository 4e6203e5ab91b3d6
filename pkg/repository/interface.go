package repository

import (
	"context"

	"github.com/ammar0144/mapper4go/pkg/db"
)

// Repository defines the generic repository interface
type Repository[T Record] interface {
	// Queries
	New() T
	FindByID(ctx context.Context, id any) (T, error)
	FindAll(ctx context.Context) ([]T, error)
	FindWhere(ctx context.Context, where *db.ConditionGroup) ([]T, error)
	First(ctx context.Context, where *db.ConditionGroup) (T, error)
	Count(ctx context.Context, where *db.ConditionGroup) (int, error)
	Exists(ctx context.Context, id any) (bool, error)

	// Commands
	Create(ctx context.Context, record T) error
	Update(ctx context.Context, record T) error
	Delete(ctx context.Context, record T) error

	// Batch operations run in one transaction
	CreateBatch(ctx context.Context, records []T) error
	UpdateBatch(ctx context.Context, records []T) error
}
