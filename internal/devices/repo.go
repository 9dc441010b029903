package devices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgpagination "github.com/mdmvenezuela/mdm-backend/pkg/pagination"
)

// Repository persists device rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, device *models.Device) error
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Device, error)
	FindByIMEIForUpdate(ctx context.Context, imei string) (*models.Device, error)
	FindView(ctx context.Context, id uuid.UUID, resellerID *uuid.UUID) (*Row, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	List(ctx context.Context, opts listQuery) ([]Row, error)
	Counts(ctx context.Context, resellerID *uuid.UUID) (Counts, error)
	MarkOfflineBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Row is a device joined with its license and reseller.
type Row struct {
	models.Device
	LicenseKey    *string
	LicenseStatus *enums.LicenseStatus
	ResellerName  *string
}

type listQuery struct {
	resellerID *uuid.UUID
	status     *enums.DeviceStatus
	limit      int
	cursor     *pkgpagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a device repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, device *models.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repository) FindByIMEIForUpdate(ctx context.Context, imei string) (*models.Device, error) {
	var device models.Device
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("imei = ?", imei).
		First(&device).Error
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repository) joined(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.Device{}).
		Select("devices.*, licenses.license_key AS license_key, licenses.status AS license_status, resellers.business_name AS reseller_name").
		Joins("LEFT JOIN licenses ON licenses.id = devices.license_id").
		Joins("LEFT JOIN resellers ON resellers.id = devices.reseller_id")
}

// FindView loads one joined device row. A non-nil resellerID restricts the
// lookup to devices that reseller owns.
func (r *repository) FindView(ctx context.Context, id uuid.UUID, resellerID *uuid.UUID) (*Row, error) {
	query := r.joined(ctx).Where("devices.id = ?", id)
	if resellerID != nil {
		query = query.Where("devices.reseller_id = ?", *resellerID)
	}
	var rows []Row
	if err := query.Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &rows[0], nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// List returns devices newest enrollment first using cursor pagination.
func (r *repository) List(ctx context.Context, opts listQuery) ([]Row, error) {
	query := r.joined(ctx)
	if opts.resellerID != nil {
		query = query.Where("devices.reseller_id = ?", *opts.resellerID)
	}
	if opts.status != nil {
		query = query.Where("devices.status = ?", *opts.status)
	}

	var rows []Row
	err := query.
		Scopes(pkgpagination.Keyset(opts.cursor, "devices.enrolled_at", "devices.id", opts.limit)).
		Scan(&rows).Error
	return rows, err
}

func (r *repository) Counts(ctx context.Context, resellerID *uuid.UUID) (Counts, error) {
	type row struct {
		Status enums.DeviceStatus
		Total  int64
		Online int64
	}
	query := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Select("status, COUNT(*) AS total, SUM(CASE WHEN is_online THEN 1 ELSE 0 END) AS online")
	if resellerID != nil {
		query = query.Where("reseller_id = ?", *resellerID)
	}
	var rows []row
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return Counts{}, err
	}

	var counts Counts
	for _, rr := range rows {
		counts.Total += rr.Total
		counts.Online += rr.Online
		switch rr.Status {
		case enums.DeviceStatusActive:
			counts.Active = rr.Total
		case enums.DeviceStatusLocked:
			counts.Locked = rr.Total
		case enums.DeviceStatusReleased:
			counts.Released = rr.Total
		}
	}
	return counts, nil
}

// MarkOfflineBefore flips is_online off for devices not seen since cutoff.
func (r *repository) MarkOfflineBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("is_online = ? AND (last_connection IS NULL OR last_connection < ?)", true, cutoff).
		Updates(map[string]any{"is_online": false})
	return res.RowsAffected, res.Error
}
