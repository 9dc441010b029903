package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// SeedReseller inserts an active reseller with a throwaway password hash.
func SeedReseller(t testing.TB, conn *gorm.DB, username string) models.Reseller {
	t.Helper()
	row := models.Reseller{
		BusinessName: "Business " + username,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		IsActive:     true,
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed reseller: %v", err)
	}
	return row
}

// SeedLicense inserts a license for resellerID. A non-empty imei is stored as
// the bound IMEI, as required for IN_USE and BOUND rows.
func SeedLicense(t testing.TB, conn *gorm.DB, resellerID uuid.UUID, status enums.LicenseStatus, imei string) models.License {
	t.Helper()
	row := models.License{
		LicenseKey: fmt.Sprintf("LIC-%s", uuid.NewString()[:18]),
		ResellerID: resellerID,
		Status:     status,
	}
	if imei != "" {
		row.DeviceIMEI = &imei
		now := time.Now().UTC()
		row.ActivatedAt = &now
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed license: %v", err)
	}
	return row
}

// SeedDevice inserts a device bound to licenseID.
func SeedDevice(t testing.TB, conn *gorm.DB, resellerID, licenseID uuid.UUID, imei string, status enums.DeviceStatus) models.Device {
	t.Helper()
	now := time.Now().UTC()
	row := models.Device{
		IMEI:           imei,
		ResellerID:     resellerID,
		LicenseID:      &licenseID,
		Status:         status,
		IsOnline:       true,
		LastConnection: &now,
		EnrolledAt:     now,
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed device: %v", err)
	}
	return row
}

// SeedToken inserts an enrollment token expiring at expiresAt.
func SeedToken(t testing.TB, conn *gorm.DB, resellerID, licenseID uuid.UUID, token string, expiresAt time.Time) models.EnrollmentToken {
	t.Helper()
	row := models.EnrollmentToken{
		Token:      token,
		ResellerID: resellerID,
		LicenseID:  licenseID,
		ExpiresAt:  expiresAt,
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed token: %v", err)
	}
	return row
}
