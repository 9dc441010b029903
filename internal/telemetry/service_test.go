package telemetry

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/dbtest"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

var fixedNow = time.Date(2026, 5, 10, 15, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (Service, *gorm.DB, models.Device) {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(conn),
		Devices:    devices.NewRepository(conn),
		Tx:         db.FromConn(conn),
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)

	reseller := dbtest.SeedReseller(t, conn, "r1")
	license := dbtest.SeedLicense(t, conn, reseller.ID, enums.LicenseStatusInUse, "123456789012345")
	device := dbtest.SeedDevice(t, conn, reseller.ID, license.ID, "123456789012345", enums.DeviceStatusActive)
	require.NoError(t, conn.Model(&models.Device{}).Where("id = ?", device.ID).Update("is_online", false).Error)
	return svc, conn, device
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func loadDevice(t *testing.T, conn *gorm.DB, id uuid.UUID) models.Device {
	t.Helper()
	var row models.Device
	require.NoError(t, conn.Where("id = ?", id).First(&row).Error)
	return row
}

func countHistory(t *testing.T, conn *gorm.DB, id uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.LocationRecord{}).Where("device_id = ?", id).Count(&n).Error)
	return n
}

func TestReportLocationUpdatesSnapshotAndHistory(t *testing.T) {
	svc, conn, device := newTestService(t)
	sample := LocationSample{
		DeviceID:     device.ID,
		Latitude:     10.4806,
		Longitude:    -66.9036,
		BatteryLevel: intPtr(80),
		NetworkType:  strPtr("4G"),
	}

	require.NoError(t, svc.ReportLocation(context.Background(), sample))

	row := loadDevice(t, conn, device.ID)
	assert.True(t, row.IsOnline)
	require.NotNil(t, row.LastLocationLat)
	assert.InDelta(t, 10.4806, *row.LastLocationLat, 1e-9)
	assert.InDelta(t, -66.9036, *row.LastLocationLon, 1e-9)
	assert.Equal(t, 80, *row.BatteryLevel)
	assert.Equal(t, "4G", *row.NetworkType)
	assert.Equal(t, int64(1), countHistory(t, conn, device.ID))
}

func TestReportLocationTwiceKeepsSnapshot(t *testing.T) {
	svc, conn, device := newTestService(t)
	ctx := context.Background()
	sample := LocationSample{DeviceID: device.ID, Latitude: 1.5, Longitude: 2.5, BatteryLevel: intPtr(50)}

	require.NoError(t, svc.ReportLocation(ctx, sample))
	first := loadDevice(t, conn, device.ID)
	require.NoError(t, svc.ReportLocation(ctx, sample))
	second := loadDevice(t, conn, device.ID)

	assert.Equal(t, int64(2), countHistory(t, conn, device.ID))
	assert.Equal(t, *first.LastLocationLat, *second.LastLocationLat)
	assert.Equal(t, *first.LastLocationLon, *second.LastLocationLon)
	assert.Equal(t, *first.BatteryLevel, *second.BatteryLevel)
	assert.True(t, first.LastConnection.Equal(*second.LastConnection))
	assert.Equal(t, first.IsOnline, second.IsOnline)
}

func TestReportLocationRejectsBadInput(t *testing.T) {
	svc, conn, device := newTestService(t)
	ctx := context.Background()
	cases := map[string]LocationSample{
		"missing device": {Latitude: 1, Longitude: 1},
		"latitude":       {DeviceID: device.ID, Latitude: 91, Longitude: 1},
		"longitude":      {DeviceID: device.ID, Latitude: 1, Longitude: -181},
		"battery":        {DeviceID: device.ID, Latitude: 1, Longitude: 1, BatteryLevel: intPtr(101)},
	}
	for name, sample := range cases {
		t.Run(name, func(t *testing.T) {
			err := svc.ReportLocation(ctx, sample)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
	assert.Zero(t, countHistory(t, conn, device.ID))
}

func TestReportLocationUnknownDevice(t *testing.T) {
	svc, conn, _ := newTestService(t)
	err := svc.ReportLocation(context.Background(), LocationSample{DeviceID: uuid.New(), Latitude: 1, Longitude: 1})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	var n int64
	require.NoError(t, conn.Model(&models.LocationRecord{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestHeartbeatLeavesHistoryAlone(t *testing.T) {
	svc, conn, device := newTestService(t)

	require.NoError(t, svc.Heartbeat(context.Background(), device.ID, intPtr(33)))

	row := loadDevice(t, conn, device.ID)
	assert.True(t, row.IsOnline)
	assert.Equal(t, 33, *row.BatteryLevel)
	require.NotNil(t, row.LastConnection)
	assert.True(t, row.LastConnection.Equal(fixedNow))
	assert.Zero(t, countHistory(t, conn, device.ID))

	err := svc.Heartbeat(context.Background(), uuid.New(), nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestHistoryWindowAndScope(t *testing.T) {
	svc, conn, device := newTestService(t)
	ctx := context.Background()
	for _, at := range []time.Time{fixedNow.AddDate(0, 0, -10), fixedNow.Add(-2 * time.Hour), fixedNow.Add(-time.Hour)} {
		require.NoError(t, conn.Create(&models.LocationRecord{DeviceID: device.ID, Latitude: 1, Longitude: 1, RecordedAt: at}).Error)
	}
	owner := types.Actor{ID: device.ResellerID, Role: enums.RoleReseller}

	rows, err := svc.History(ctx, owner, device.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].RecordedAt.After(rows[1].RecordedAt))

	rows, err = svc.History(ctx, owner, device.ID, 30)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	_, err = svc.History(ctx, owner, device.ID, 91)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	stranger := types.Actor{ID: uuid.New(), Role: enums.RoleReseller}
	_, err = svc.History(ctx, stranger, device.ID, 7)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestRepositoryDeleteBefore(t *testing.T) {
	_, conn, device := newTestService(t)
	repo := NewRepository(conn)
	require.NoError(t, conn.Create(&models.LocationRecord{DeviceID: device.ID, RecordedAt: fixedNow.AddDate(0, 0, -100)}).Error)
	require.NoError(t, conn.Create(&models.LocationRecord{DeviceID: device.ID, RecordedAt: fixedNow}).Error)

	deleted, err := repo.DeleteBefore(context.Background(), fixedNow.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, int64(1), countHistory(t, conn, device.ID))
}
