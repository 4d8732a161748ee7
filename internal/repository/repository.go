package repository

import (
	"context"

	"gorm.io/gorm"
)

// BaseRepository is a thin generic wrapper over gorm for the two operations
// JobStore actually needs on the Job table (insert-by-id and fetch-by-id);
// every other Job/Chunk access goes through JobStore's purpose-specific
// methods directly against gorm, since they need WHERE/ORDER/UPDATE clauses
// a generic CRUD interface can't express cleanly.
type BaseRepository[T any] struct {
	db *gorm.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository[T any](db *gorm.DB) *BaseRepository[T] {
	return &BaseRepository[T]{db: db}
}

func (r *BaseRepository[T]) Create(ctx context.Context, entity *T) error {
	return r.db.WithContext(ctx).Create(entity).Error
}

func (r *BaseRepository[T]) FindByID(ctx context.Context, id interface{}) (*T, error) {
	var entity T
	err := r.db.WithContext(ctx).First(&entity, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

