package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
)

// Repository persists location history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, record *models.LocationRecord) error
	ListSince(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]models.LocationRecord, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a location history repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, record *models.LocationRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// ListSince returns samples recorded at or after since, newest first.
func (r *repository) ListSince(ctx context.Context, deviceID uuid.UUID, since time.Time) ([]models.LocationRecord, error) {
	var rows []models.LocationRecord
	err := r.db.WithContext(ctx).
		Where("device_id = ? AND recorded_at >= ?", deviceID, since).
		Order("recorded_at DESC").
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("recorded_at < ?", cutoff).
		Delete(&models.LocationRecord{})
	return res.RowsAffected, res.Error
}
