package licenses

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

const bulkInsertBatchSize = 500

// Repository exposes license persistence operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	BulkCreate(ctx context.Context, rows []models.License) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindOldestAvailable(ctx context.Context, resellerID uuid.UUID) (*models.License, error)
	FindBoundForUpdate(ctx context.Context, imei string, resellerID uuid.UUID) (*models.License, error)
	UpdateBinding(ctx context.Context, id uuid.UUID, status enums.LicenseStatus, imei *string, activatedAt *time.Time) error
	CountByStatus(ctx context.Context, resellerID *uuid.UUID) (StatusCounts, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository constructs a license repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// BulkCreate inserts rows with parameterized multi-row INSERT statements.
func (r *repository) BulkCreate(ctx context.Context, rows []models.License) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&rows, bulkInsertBatchSize).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var license models.License
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&license).Error; err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.License, error) {
	var license models.License
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&license).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repository) FindOldestAvailable(ctx context.Context, resellerID uuid.UUID) (*models.License, error) {
	var license models.License
	err := r.db.WithContext(ctx).
		Where("reseller_id = ? AND status = ?", resellerID, enums.LicenseStatusAvailable).
		Order("created_at ASC").
		Order("id ASC").
		First(&license).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repository) FindBoundForUpdate(ctx context.Context, imei string, resellerID uuid.UUID) (*models.License, error) {
	var license models.License
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("device_imei = ? AND reseller_id = ? AND status = ?", imei, resellerID, enums.LicenseStatusBound).
		Order("created_at ASC").
		First(&license).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repository) UpdateBinding(ctx context.Context, id uuid.UUID, status enums.LicenseStatus, imei *string, activatedAt *time.Time) error {
	updates := map[string]any{
		"status":      status,
		"device_imei": imei,
		"updated_at":  time.Now().UTC(),
	}
	if activatedAt != nil {
		updates["activated_at"] = *activatedAt
	}
	res := r.db.WithContext(ctx).Model(&models.License{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountByStatus aggregates licenses per status, optionally scoped to one reseller.
func (r *repository) CountByStatus(ctx context.Context, resellerID *uuid.UUID) (StatusCounts, error) {
	type row struct {
		Status enums.LicenseStatus
		Total  int64
	}
	query := r.db.WithContext(ctx).Model(&models.License{}).Select("status, COUNT(*) AS total")
	if resellerID != nil {
		query = query.Where("reseller_id = ?", *resellerID)
	}
	var rows []row
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return StatusCounts{}, err
	}

	var counts StatusCounts
	for _, rr := range rows {
		counts.Total += rr.Total
		switch rr.Status {
		case enums.LicenseStatusAvailable:
			counts.Available = rr.Total
		case enums.LicenseStatusInUse:
			counts.InUse = rr.Total
		case enums.LicenseStatusBound:
			counts.Bound = rr.Total
		}
	}
	return counts, nil
}
