package licenses

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/dbtest"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
)

const testIMEI = "123456789012345"

func newTestLedger(t *testing.T) (*Ledger, *db.Client, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger, err := NewLedger(NewRepository(conn), func() time.Time { return fixed })
	require.NoError(t, err)
	return ledger, db.FromConn(conn), conn
}

func reload(t *testing.T, conn *gorm.DB, id uuid.UUID) models.License {
	t.Helper()
	var row models.License
	require.NoError(t, conn.Where("id = ?", id).First(&row).Error)
	return row
}

func assertInvariant(t *testing.T, row models.License) {
	t.Helper()
	if row.Status.RequiresIMEI() {
		require.NotNil(t, row.DeviceIMEI, "status %s requires an imei", row.Status)
		assert.NotEmpty(t, *row.DeviceIMEI)
	} else {
		assert.Nil(t, row.DeviceIMEI, "available licenses carry no imei")
	}
}

func TestLedgerRequiresTransaction(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.MarkInUse(ctx, nil, uuid.New(), testIMEI)
	assert.ErrorIs(t, err, ErrTransactionRequired)
	_, err = ledger.MarkBound(ctx, nil, uuid.New(), testIMEI)
	assert.ErrorIs(t, err, ErrTransactionRequired)
	_, err = ledger.FindLinkedLicense(ctx, nil, testIMEI, uuid.New())
	assert.ErrorIs(t, err, ErrTransactionRequired)
}

func TestLedgerLifecycle(t *testing.T) {
	ledger, client, conn := newTestLedger(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, conn, "r1")
	license := dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusAvailable, "")
	assertInvariant(t, reload(t, conn, license.ID))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := ledger.MarkInUse(ctx, tx, license.ID, testIMEI)
		return err
	}))
	row := reload(t, conn, license.ID)
	assert.Equal(t, enums.LicenseStatusInUse, row.Status)
	assert.Equal(t, testIMEI, *row.DeviceIMEI)
	require.NotNil(t, row.ActivatedAt)
	assertInvariant(t, row)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := ledger.MarkBound(ctx, tx, license.ID, testIMEI)
		return err
	}))
	row = reload(t, conn, license.ID)
	assert.Equal(t, enums.LicenseStatusBound, row.Status)
	assertInvariant(t, row)

	var linked *models.License
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		linked, err = ledger.FindLinkedLicense(ctx, tx, testIMEI, reseller.ID)
		return err
	}))
	require.NotNil(t, linked)
	assert.Equal(t, license.ID, linked.ID)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := ledger.MarkInUse(ctx, tx, license.ID, testIMEI)
		return err
	}))
	row = reload(t, conn, license.ID)
	assert.Equal(t, enums.LicenseStatusInUse, row.Status)
	assertInvariant(t, row)
}

func TestLedgerRejectsUndefinedTransitions(t *testing.T) {
	ledger, client, conn := newTestLedger(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, conn, "r1")
	available := dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusAvailable, "")
	inUse := dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusInUse, testIMEI)
	bound := dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusBound, "999999999999999")

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := ledger.MarkBound(ctx, tx, available.ID, testIMEI)
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := ledger.MarkInUse(ctx, tx, inUse.ID, testIMEI)
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := ledger.MarkInUse(ctx, tx, bound.ID, testIMEI)
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "bound license must only reactivate for its own imei: %v", err)
	assert.Equal(t, enums.LicenseStatusBound, reload(t, conn, bound.ID).Status)

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := ledger.MarkInUse(ctx, tx, uuid.New(), testIMEI)
		return err
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestFindLinkedLicenseScopesByReseller(t *testing.T) {
	ledger, client, conn := newTestLedger(t)
	ctx := context.Background()
	owner := dbtest.SeedReseller(t, conn, "owner")
	other := dbtest.SeedReseller(t, conn, "other")
	dbtest.SeedLicense(t, conn, owner.ID, enums.LicenseStatusBound, testIMEI)
	dbtest.SeedLicense(t, conn, other.ID, enums.LicenseStatusInUse, "555555555555555")

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		linked, err := ledger.FindLinkedLicense(ctx, tx, testIMEI, other.ID)
		require.NoError(t, err)
		assert.Nil(t, linked)

		linked, err = ledger.FindLinkedLicense(ctx, tx, "555555555555555", other.ID)
		require.NoError(t, err)
		assert.Nil(t, linked, "in-use licenses are not linked")
		return nil
	}))
}

func TestProvisionAndCounts(t *testing.T) {
	ledger, client, conn := newTestLedger(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, conn, "bulk")

	var created []models.License
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = ledger.Provision(ctx, tx, reseller.ID, 1200)
		return err
	}))
	require.Len(t, created, 1200)

	keyPattern := regexp.MustCompile(`^LIC-[0-9A-F]{8}-[0-9A-F]{4}-[0-9A-F]{4}$`)
	seen := make(map[string]struct{}, len(created))
	for _, row := range created {
		assert.Regexp(t, keyPattern, row.LicenseKey)
		_, dup := seen[row.LicenseKey]
		assert.False(t, dup)
		seen[row.LicenseKey] = struct{}{}
	}

	dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusBound, testIMEI)

	counts, err := ledger.Counts(ctx, &reseller.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCounts{Total: 1201, Available: 1200, Bound: 1}, counts)

	none, err := ledger.Provision(ctx, conn, reseller.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFindOldestAvailableIsDeterministic(t *testing.T) {
	_, _, conn := newTestLedger(t)
	repo := NewRepository(conn)
	reseller := dbtest.SeedReseller(t, conn, "order")
	first := dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusAvailable, "")
	dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusAvailable, "")

	got, err := repo.FindOldestAvailable(context.Background(), reseller.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestOldestAvailableReturnsNilWhenExhausted(t *testing.T) {
	ledger, _, conn := newTestLedger(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, conn, "empty")
	dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusInUse, testIMEI)

	got, err := ledger.OldestAvailable(ctx, nil, reseller.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	available := dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusAvailable, "")
	got, err = ledger.OldestAvailable(ctx, nil, reseller.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, available.ID, got.ID)
	assert.Equal(t, enums.LicenseStatusAvailable, reload(t, conn, available.ID).Status)
}
