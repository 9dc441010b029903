package enums

import (
	"fmt"
	"slices"
)

// LicenseStatus maps to the license_status enum in Postgres.
type LicenseStatus string

const (
	LicenseStatusAvailable LicenseStatus = "AVAILABLE"
	LicenseStatusInUse     LicenseStatus = "IN_USE"
	LicenseStatusBound     LicenseStatus = "BOUND"
)

var validLicenseStatuses = []LicenseStatus{
	LicenseStatusAvailable,
	LicenseStatusInUse,
	LicenseStatusBound,
}

// String implements fmt.Stringer.
func (l LicenseStatus) String() string {
	return string(l)
}

// IsValid reports whether the value matches the canonical license_status enum.
func (l LicenseStatus) IsValid() bool {
	return slices.Contains(validLicenseStatuses, l)
}

// ParseLicenseStatus converts raw input into LicenseStatus.
func ParseLicenseStatus(value string) (LicenseStatus, error) {
	return parse(value, validLicenseStatuses, "license status")
}

// RequiresIMEI reports whether a license in this status must carry a bound IMEI.
func (l LicenseStatus) RequiresIMEI() bool {
	return l == LicenseStatusInUse || l == LicenseStatusBound
}

// LicenseEvent names the ledger operations that move a license between statuses.
type LicenseEvent string

const (
	LicenseEventActivate LicenseEvent = "activate"
	LicenseEventRelease  LicenseEvent = "release"
)

var licenseTransitions = map[LicenseStatus]map[LicenseEvent]LicenseStatus{
	LicenseStatusAvailable: {LicenseEventActivate: LicenseStatusInUse},
	LicenseStatusInUse:     {LicenseEventRelease: LicenseStatusBound},
	LicenseStatusBound:     {LicenseEventActivate: LicenseStatusInUse},
}

// Next returns the status reached by applying event, or an error when the
// ledger defines no such edge.
func (l LicenseStatus) Next(event LicenseEvent) (LicenseStatus, error) {
	if next, ok := licenseTransitions[l][event]; ok {
		return next, nil
	}
	return l, &TransitionError{Entity: "license", From: string(l), Event: string(event)}
}

// TransitionError reports an undefined (status, event) pair.
type TransitionError struct {
	Entity string
	From   string
	Event  string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s cannot %s from status %s", e.Entity, e.Event, e.From)
}
