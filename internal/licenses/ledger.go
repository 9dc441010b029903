package licenses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
)

// ErrTransactionRequired is returned when a ledger mutation is invoked
// outside a caller-owned transaction.
var ErrTransactionRequired = errors.New("license ledger requires a transaction")

// StatusCounts summarizes licenses per status.
type StatusCounts struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	InUse     int64 `json:"in_use"`
	Bound     int64 `json:"bound"`
}

// Ledger owns license status transitions. Every mutation runs on the
// transaction handed in by the caller; the ledger never opens its own.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

// NewLedger builds a ledger over repo. A nil clock defaults to time.Now.
func NewLedger(repo Repository, now func() time.Time) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("license repository required")
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{repo: repo, now: now}, nil
}

// MarkInUse claims licenseID for imei. AVAILABLE licenses are claimed
// outright; BOUND licenses only reactivate for the IMEI they are bound to.
func (l *Ledger) MarkInUse(ctx context.Context, tx *gorm.DB, licenseID uuid.UUID, imei string) (*models.License, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}
	if imei == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "imei is required")
	}
	repo := l.repo.WithTx(tx)

	license, err := l.lockLicense(ctx, repo, licenseID)
	if err != nil {
		return nil, err
	}
	if license.Status == enums.LicenseStatusBound && !boundTo(license, imei) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "license is bound to a different imei")
	}

	next, err := license.Status.Next(enums.LicenseEventActivate)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "license cannot be activated")
	}

	now := l.now().UTC()
	if err := repo.UpdateBinding(ctx, license.ID, next, &imei, &now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "activate license")
	}
	license.Status = next
	license.DeviceIMEI = &imei
	license.ActivatedAt = &now
	return license, nil
}

// MarkBound ties an IN_USE license to imei permanently so only the same
// physical unit can reactivate it.
func (l *Ledger) MarkBound(ctx context.Context, tx *gorm.DB, licenseID uuid.UUID, imei string) (*models.License, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}
	if imei == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "imei is required")
	}
	repo := l.repo.WithTx(tx)

	license, err := l.lockLicense(ctx, repo, licenseID)
	if err != nil {
		return nil, err
	}
	next, err := license.Status.Next(enums.LicenseEventRelease)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "license cannot be released")
	}

	if err := repo.UpdateBinding(ctx, license.ID, next, &imei, nil); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind license")
	}
	license.Status = next
	license.DeviceIMEI = &imei
	return license, nil
}

// FindLinkedLicense returns the BOUND license owned by resellerID whose bound
// IMEI equals imei, locking it for the rest of tx. It returns nil, nil when
// no such license exists.
func (l *Ledger) FindLinkedLicense(ctx context.Context, tx *gorm.DB, imei string, resellerID uuid.UUID) (*models.License, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}
	license, err := l.repo.WithTx(tx).FindBoundForUpdate(ctx, imei, resellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup linked license")
	}
	return license, nil
}

// OldestAvailable returns the reseller's longest-waiting AVAILABLE license
// without locking or mutating it, or nil when none is left.
func (l *Ledger) OldestAvailable(ctx context.Context, tx *gorm.DB, resellerID uuid.UUID) (*models.License, error) {
	license, err := l.repo.WithTx(tx).FindOldestAvailable(ctx, resellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup available license")
	}
	return license, nil
}

// Provision creates quantity AVAILABLE licenses for resellerID in one batched insert.
func (l *Ledger) Provision(ctx context.Context, tx *gorm.DB, resellerID uuid.UUID, quantity int) ([]models.License, error) {
	if tx == nil {
		return nil, ErrTransactionRequired
	}
	if quantity <= 0 {
		return nil, nil
	}
	rows := make([]models.License, quantity)
	for i := range rows {
		rows[i] = models.License{
			LicenseKey: GenerateKey(),
			ResellerID: resellerID,
			Status:     enums.LicenseStatusAvailable,
		}
	}
	if err := l.repo.WithTx(tx).BulkCreate(ctx, rows); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create licenses")
	}
	return rows, nil
}

// Counts reports license totals per status; a nil reseller covers every reseller.
func (l *Ledger) Counts(ctx context.Context, resellerID *uuid.UUID) (StatusCounts, error) {
	counts, err := l.repo.CountByStatus(ctx, resellerID)
	if err != nil {
		return StatusCounts{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count licenses")
	}
	return counts, nil
}

func (l *Ledger) lockLicense(ctx context.Context, repo Repository, id uuid.UUID) (*models.License, error) {
	license, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "license not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup license")
	}
	return license, nil
}

func boundTo(license *models.License, imei string) bool {
	return license.DeviceIMEI != nil && *license.DeviceIMEI == imei
}
