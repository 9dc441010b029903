package resellers

import (
	"time"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/licenses"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
)

// CreateInput carries the fields needed to open a reseller account.
type CreateInput struct {
	BusinessName  string  `json:"business_name" validate:"required,max=255"`
	Username      string  `json:"username" validate:"required,min=3,max=100"`
	Email         string  `json:"email" validate:"required,email"`
	Password      string  `json:"password" validate:"required,min=6"`
	Phone         *string `json:"phone" validate:"omitempty,max=50"`
	TotalLicenses int     `json:"total_licenses" validate:"gte=0,lte=10000"`
}

// AddLicensesInput grows a reseller's license pool.
type AddLicensesInput struct {
	Quantity int `json:"quantity" validate:"required,gte=1,lte=10000"`
}

// ResellerDTO is the public reseller profile.
type ResellerDTO struct {
	ID            uuid.UUID `json:"id"`
	BusinessName  string    `json:"business_name"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Phone         *string   `json:"phone,omitempty"`
	TotalLicenses int       `json:"total_licenses"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// FromModel maps a reseller row to its public profile.
func FromModel(m *models.Reseller) *ResellerDTO {
	if m == nil {
		return nil
	}
	return &ResellerDTO{
		ID:            m.ID,
		BusinessName:  m.BusinessName,
		Username:      m.Username,
		Email:         m.Email,
		Phone:         m.Phone,
		TotalLicenses: m.TotalLicenses,
		IsActive:      m.IsActive,
		CreatedAt:     m.CreatedAt,
	}
}

// CreateResult is returned after a reseller is opened with its initial pool.
type CreateResult struct {
	Reseller        *ResellerDTO `json:"reseller"`
	LicensesCreated int          `json:"licenses_created"`
}

// AddLicensesResult reports the pool growth.
type AddLicensesResult struct {
	ResellerID    uuid.UUID `json:"reseller_id"`
	Added         int       `json:"added"`
	TotalLicenses int       `json:"total_licenses"`
}

// Summary is one row of the operator's reseller listing.
type Summary struct {
	ID                uuid.UUID `json:"id"`
	BusinessName      string    `json:"business_name"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	Phone             *string   `json:"phone,omitempty"`
	TotalLicenses     int       `json:"total_licenses"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	LicensesAvailable int64     `json:"licenses_available"`
	LicensesInUse     int64     `json:"licenses_in_use"`
	LicensesLinked    int64     `json:"licenses_linked"`
	TotalDevices      int64     `json:"total_devices"`
}

// ResellerCounts is the reseller tally shown to operators.
type ResellerCounts struct {
	Total  int64 `json:"total"`
	Active int64 `json:"active"`
}

// AdminDashboard aggregates platform-wide figures.
type AdminDashboard struct {
	Resellers ResellerCounts        `json:"resellers"`
	Licenses  licenses.StatusCounts `json:"licenses"`
	Devices   devices.Counts        `json:"devices"`
}

// ResellerDashboard is what a reseller sees about its own account.
type ResellerDashboard struct {
	Reseller *ResellerDTO          `json:"reseller"`
	Licenses licenses.StatusCounts `json:"licenses"`
	Devices  devices.Counts        `json:"devices"`
}
