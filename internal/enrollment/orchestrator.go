package enrollment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox/payloads"
)

// Conflict reasons carried in error details.
const (
	ReasonInvalidToken       = "invalid_or_expired_token"
	ReasonNoLicenseAvailable = "no_license_available"
	ReasonLicenseUnavailable = "license_unavailable"
	ReasonAlreadyRegistered  = "device_already_registered"
)

var imeiPattern = regexp.MustCompile(`^[0-9]{14,17}$`)

type licenseLedger interface {
	MarkInUse(ctx context.Context, tx *gorm.DB, licenseID uuid.UUID, imei string) (*models.License, error)
	FindLinkedLicense(ctx context.Context, tx *gorm.DB, imei string, resellerID uuid.UUID) (*models.License, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// RedeemInput is a device's registration request.
type RedeemInput struct {
	Token       string
	IMEI        string
	ClientName  *string
	ClientPhone *string
}

// RedeemResult describes the enrolled device.
type RedeemResult struct {
	DeviceID   uuid.UUID          `json:"device_id"`
	ResellerID uuid.UUID          `json:"reseller_id"`
	LicenseID  uuid.UUID          `json:"license_id"`
	Status     enums.DeviceStatus `json:"status"`
	Reenrolled bool               `json:"reenrolled"`
}

// OrchestratorParams wires the enrollment transaction.
type OrchestratorParams struct {
	Tokens   TokenRepository
	Devices  devices.Repository
	Licenses licenseLedger
	Outbox   outboxPublisher
	Tx       txRunner
	Metrics  *metrics.EnrollmentMetrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// Orchestrator redeems enrollment tokens.
type Orchestrator struct {
	tokens   TokenRepository
	devices  devices.Repository
	licenses licenseLedger
	outbox   outboxPublisher
	tx       txRunner
	metrics  *metrics.EnrollmentMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewOrchestrator validates params and builds an Orchestrator.
func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Tokens == nil {
		return nil, fmt.Errorf("token repository required")
	}
	if params.Devices == nil {
		return nil, fmt.Errorf("device repository required")
	}
	if params.Licenses == nil {
		return nil, fmt.Errorf("license ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		tokens:   params.Tokens,
		devices:  params.Devices,
		licenses: params.Licenses,
		outbox:   params.Outbox,
		tx:       params.Tx,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// RedeemEnrollment spends token to register the device identified by imei.
//
// It runs as one transaction holding row locks on the token, the device row
// for imei and the license being claimed:
//   - no device with imei: claim the token's AVAILABLE license and create the device.
//   - device exists and the token's reseller holds a license BOUND to imei:
//     reactivate that license and the device.
//   - device exists otherwise: reject as already registered.
//
// Every rejection happens before any write, and any later failure rolls the
// whole transaction back, leaving the token redeemable.
func (o *Orchestrator) RedeemEnrollment(ctx context.Context, input RedeemInput) (*RedeemResult, error) {
	input.Token = strings.TrimSpace(input.Token)
	input.IMEI = strings.TrimSpace(input.IMEI)
	if err := validateRedeem(input); err != nil {
		return nil, err
	}

	now := o.now().UTC()
	var result *RedeemResult
	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		tokens := o.tokens.WithTx(tx)
		token, err := tokens.FindByTokenForUpdate(ctx, input.Token)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return conflict(ReasonInvalidToken, "invalid or expired enrollment token")
			}
			return err
		}
		if !token.Usable(now) {
			return conflict(ReasonInvalidToken, "invalid or expired enrollment token")
		}

		deviceRepo := o.devices.WithTx(tx)
		existing, err := deviceRepo.FindByIMEIForUpdate(ctx, input.IMEI)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if existing == nil {
			result, err = o.enrollNew(ctx, tx, deviceRepo, token, input, now)
		} else {
			result, err = o.reenroll(ctx, tx, deviceRepo, existing, token, input, now)
		}
		if err != nil {
			return err
		}

		if err := tokens.MarkUsed(ctx, token.ID, now); err != nil {
			if errors.Is(err, ErrTokenSpent) {
				return conflict(ReasonInvalidToken, "invalid or expired enrollment token")
			}
			return err
		}
		return o.emit(ctx, tx, result, input.IMEI, now)
	})
	if err != nil {
		return nil, o.fail(ctx, input, err)
	}

	outcome := metrics.OutcomeEnrolled
	if result.Reenrolled {
		outcome = metrics.OutcomeReenrolled
	}
	o.metrics.RecordRedemption(outcome, "")
	logCtx := o.logg.WithFields(ctx, map[string]any{
		"reseller_id": result.ResellerID.String(),
		"device_id":   result.DeviceID.String(),
		"imei":        input.IMEI,
		"reenrolled":  result.Reenrolled,
	})
	o.logg.Info(logCtx, "device enrolled")
	return result, nil
}

func (o *Orchestrator) enrollNew(ctx context.Context, tx *gorm.DB, repo devices.Repository, token *models.EnrollmentToken, input RedeemInput, now time.Time) (*RedeemResult, error) {
	license, err := o.licenses.MarkInUse(ctx, tx, token.LicenseID, input.IMEI)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, conflict(ReasonLicenseUnavailable, "license is no longer available")
		}
		return nil, err
	}

	device := &models.Device{
		IMEI:           input.IMEI,
		ResellerID:     token.ResellerID,
		LicenseID:      &license.ID,
		Status:         enums.DeviceStatusActive,
		IsOnline:       true,
		LastConnection: &now,
		ClientName:     input.ClientName,
		ClientPhone:    input.ClientPhone,
		EnrolledAt:     now,
	}
	if err := repo.Create(ctx, device); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, conflict(ReasonAlreadyRegistered, "device already registered")
		}
		return nil, err
	}
	return &RedeemResult{
		DeviceID:   device.ID,
		ResellerID: device.ResellerID,
		LicenseID:  license.ID,
		Status:     device.Status,
	}, nil
}

func (o *Orchestrator) reenroll(ctx context.Context, tx *gorm.DB, repo devices.Repository, device *models.Device, token *models.EnrollmentToken, input RedeemInput, now time.Time) (*RedeemResult, error) {
	linked, err := o.licenses.FindLinkedLicense(ctx, tx, input.IMEI, token.ResellerID)
	if err != nil {
		return nil, err
	}
	if linked == nil {
		return nil, conflict(ReasonAlreadyRegistered, "device already registered")
	}
	next, err := device.Status.Next(enums.DeviceEventReenroll)
	if err != nil {
		return nil, conflict(ReasonAlreadyRegistered, "device already registered")
	}

	license, err := o.licenses.MarkInUse(ctx, tx, linked.ID, input.IMEI)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{
		"status":          next,
		"license_id":      license.ID,
		"reseller_id":     token.ResellerID,
		"is_online":       true,
		"last_connection": now,
		"enrolled_at":     now,
		"client_name":     input.ClientName,
		"client_phone":    input.ClientPhone,
	}
	if err := repo.Update(ctx, device.ID, updates); err != nil {
		return nil, err
	}
	return &RedeemResult{
		DeviceID:   device.ID,
		ResellerID: token.ResellerID,
		LicenseID:  license.ID,
		Status:     next,
		Reenrolled: true,
	}, nil
}

func (o *Orchestrator) emit(ctx context.Context, tx *gorm.DB, result *RedeemResult, imei string, now time.Time) error {
	eventType := enums.EventDeviceEnrolled
	if result.Reenrolled {
		eventType = enums.EventDeviceReenrolled
	}
	return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDevice,
		AggregateID:   result.DeviceID,
		OccurredAt:    now,
		Data: payloads.DeviceEnrolledEvent{
			DeviceID:   result.DeviceID,
			ResellerID: result.ResellerID,
			LicenseID:  result.LicenseID,
			IMEI:       imei,
			Reenrolled: result.Reenrolled,
		},
	})
}

// fail classifies a rolled back redemption. Typed rejections pass through;
// anything else becomes a retryable enrollment failure.
func (o *Orchestrator) fail(ctx context.Context, input RedeemInput, err error) error {
	logCtx := o.logg.WithField(ctx, "imei", input.IMEI)
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeConflict, pkgerrors.CodeValidation, pkgerrors.CodeNotFound:
			o.metrics.RecordRedemption(metrics.OutcomeRejected, typed.Reason())
			o.logg.Warn(o.logg.WithField(logCtx, "reason", typed.Reason()), "enrollment rejected")
			return typed
		}
	}
	o.metrics.RecordRedemption(metrics.OutcomeFailed, "")
	o.logg.Error(logCtx, "enrollment failed", err)
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enrollment failed")
}

func validateRedeem(input RedeemInput) error {
	if input.Token == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "token is required")
	}
	if !imeiPattern.MatchString(input.IMEI) {
		return pkgerrors.New(pkgerrors.CodeValidation, "imei must be 14 to 17 digits").
			WithDetails(map[string]string{"field": "imei"})
	}
	return nil
}

func conflict(reason, message string) error {
	return pkgerrors.Rejected(reason, message)
}
