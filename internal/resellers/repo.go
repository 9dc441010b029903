package resellers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// Repository exposes reseller persistence operations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reseller *models.Reseller) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Reseller, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Reseller, error)
	FindByUsername(ctx context.Context, username string) (*models.Reseller, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	ListSummaries(ctx context.Context) ([]Summary, error)
	IncrementTotalLicenses(ctx context.Context, id uuid.UUID, quantity int) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	CountActive(ctx context.Context) (total int64, active int64, err error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to reseller operations.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reseller *models.Reseller) error {
	return r.db.WithContext(ctx).Create(reseller).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Reseller, error) {
	var reseller models.Reseller
	if err := r.db.WithContext(ctx).First(&reseller, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reseller, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Reseller, error) {
	var reseller models.Reseller
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&reseller).Error
	if err != nil {
		return nil, err
	}
	return &reseller, nil
}

func (r *repository) FindByUsername(ctx context.Context, username string) (*models.Reseller, error) {
	var reseller models.Reseller
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&reseller).Error; err != nil {
		return nil, err
	}
	return &reseller, nil
}

func (r *repository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reseller{}).
		Where("username = ? OR email = ?", username, email).
		Count(&count).Error
	return count > 0, err
}

// ListSummaries returns every reseller with its license and device tallies,
// newest account first.
func (r *repository) ListSummaries(ctx context.Context) ([]Summary, error) {
	var rows []Summary
	err := r.db.WithContext(ctx).
		Table("resellers AS r").
		Select(`r.id, r.business_name, r.username, r.email, r.phone, r.total_licenses, r.is_active, r.created_at,
			(SELECT COUNT(*) FROM licenses l WHERE l.reseller_id = r.id AND l.status = ?) AS licenses_available,
			(SELECT COUNT(*) FROM licenses l WHERE l.reseller_id = r.id AND l.status = ?) AS licenses_in_use,
			(SELECT COUNT(*) FROM licenses l WHERE l.reseller_id = r.id AND l.status = ?) AS licenses_linked,
			(SELECT COUNT(*) FROM devices d WHERE d.reseller_id = r.id) AS total_devices`,
			enums.LicenseStatusAvailable, enums.LicenseStatusInUse, enums.LicenseStatusBound).
		Order("r.created_at DESC").
		Order("r.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) IncrementTotalLicenses(ctx context.Context, id uuid.UUID, quantity int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Reseller{}).
		Where("id = ?", id).
		UpdateColumn("total_licenses", gorm.Expr("total_licenses + ?", quantity))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Reseller{}).
		Where("id = ?", id).
		UpdateColumn("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.db.WithContext(ctx).
		Model(&models.Reseller{}).
		Where("id = ?", id).
		UpdateColumn("password_hash", hash).Error
}

func (r *repository) CountActive(ctx context.Context) (int64, int64, error) {
	var row struct {
		Total  int64
		Active int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Reseller{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_active THEN 1 ELSE 0 END), 0) AS active").
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Active, nil
}
