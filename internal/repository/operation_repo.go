package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/courseops/gradebook-api/internal/models"
)

// OperationRepository persists bulk CSV operations for history and
// error-report replay.
type OperationRepository interface {
	Create(ctx context.Context, operation *models.BulkOperation) error
	Update(ctx context.Context, operation *models.BulkOperation) error
	GetByID(ctx context.Context, id string) (models.BulkOperation, error)
	ListCommitted(ctx context.Context, kind, uniquePath string) ([]models.BulkOperation, error)
}

type operationRepository struct {
	db *gorm.DB
}

// NewOperationRepository constructs the operation repository.
func NewOperationRepository(db *gorm.DB) OperationRepository {
	return &operationRepository{db: db}
}

func (r *operationRepository) Create(ctx context.Context, operation *models.BulkOperation) error {
	return r.db.WithContext(ctx).Create(operation).Error
}

func (r *operationRepository) Update(ctx context.Context, operation *models.BulkOperation) error {
	return r.db.WithContext(ctx).Save(operation).Error
}

func (r *operationRepository) GetByID(ctx context.Context, id string) (models.BulkOperation, error) {
	var operation models.BulkOperation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&operation).Error
	if err != nil {
		return models.BulkOperation{}, err
	}
	return operation, nil
}

func (r *operationRepository) ListCommitted(ctx context.Context, kind, uniquePath string) ([]models.BulkOperation, error) {
	var operations []models.BulkOperation
	err := r.db.WithContext(ctx).
		Where("kind = ? AND unique_path = ? AND committed = ?", kind, uniquePath, true).
		Order("created_at DESC").
		Find(&operations).Error
	if err != nil {
		return nil, err
	}
	return operations, nil
}
