package operators

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
)

// Repository exposes super admin persistence operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an operators repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a super admin.
func (r *Repository) Create(ctx context.Context, op *models.Operator) error {
	return r.db.WithContext(ctx).Create(op).Error
}

// FindByUsername retrieves the operator with the provided username.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*models.Operator, error) {
	var op models.Operator
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&op).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// FindByID loads an operator by id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Operator, error) {
	var op models.Operator
	if err := r.db.WithContext(ctx).First(&op, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &op, nil
}

// UpdateLastLogin stamps last_login_at.
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		UpdateColumn("last_login_at", at).Error
}

// UpdatePasswordHash replaces the stored hash, used when upgrading legacy bcrypt hashes.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.Operator{}).
		Where("id = ?", id).
		UpdateColumn("password_hash", hash).Error
}
