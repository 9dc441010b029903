package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

const (
	DefaultHistoryDays = 7
	MaxHistoryDays     = 90
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// LocationSample is one position report pushed by a device.
type LocationSample struct {
	DeviceID     uuid.UUID
	Latitude     float64
	Longitude    float64
	BatteryLevel *int
	NetworkType  *string
}

// LocationDTO is a history entry as returned to operators.
type LocationDTO struct {
	ID           uuid.UUID `json:"id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	BatteryLevel *int      `json:"battery_level,omitempty"`
	NetworkType  *string   `json:"network_type,omitempty"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Service is the device telemetry sink. Both writes are safe to retry: a
// repeated sample adds a history row and rewrites the same snapshot.
type Service interface {
	ReportLocation(ctx context.Context, sample LocationSample) error
	Heartbeat(ctx context.Context, deviceID uuid.UUID, batteryLevel *int) error
	History(ctx context.Context, actor types.Actor, deviceID uuid.UUID, days int) ([]LocationDTO, error)
}

// ServiceParams wires the telemetry dependencies.
type ServiceParams struct {
	Repository Repository
	Devices    devices.Repository
	Tx         txRunner
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo    Repository
	devices devices.Repository
	tx      txRunner
	logg    *logger.Logger
	now     func() time.Time
}

// NewService validates params and builds the telemetry service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("location repository required")
	}
	if params.Devices == nil {
		return nil, fmt.Errorf("device repository required")
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
	return &service{
		repo:    params.Repository,
		devices: params.Devices,
		tx:      params.Tx,
		logg:    params.Logger,
		now:     now,
	}, nil
}

func (s *service) ReportLocation(ctx context.Context, sample LocationSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}
	now := s.now().UTC()
	networkType := normalizeNetwork(sample.NetworkType)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		snapshot := map[string]any{
			"last_location_lat": sample.Latitude,
			"last_location_lon": sample.Longitude,
			"is_online":         true,
			"last_connection":   now,
		}
		if sample.BatteryLevel != nil {
			snapshot["battery_level"] = *sample.BatteryLevel
		}
		if networkType != nil {
			snapshot["network_type"] = *networkType
		}
		if err := s.touch(ctx, tx, sample.DeviceID, snapshot); err != nil {
			return err
		}

		record := &models.LocationRecord{
			DeviceID:     sample.DeviceID,
			Latitude:     sample.Latitude,
			Longitude:    sample.Longitude,
			BatteryLevel: sample.BatteryLevel,
			NetworkType:  networkType,
			RecordedAt:   now,
		}
		if err := s.repo.WithTx(tx).Append(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append location")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logg.Debug(s.logg.WithDeviceID(ctx, sample.DeviceID.String()), "location recorded")
	return nil
}

func (s *service) Heartbeat(ctx context.Context, deviceID uuid.UUID, batteryLevel *int) error {
	if deviceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "device_id is required")
	}
	if batteryLevel != nil && (*batteryLevel < 0 || *batteryLevel > 100) {
		return pkgerrors.New(pkgerrors.CodeValidation, "battery_level must be between 0 and 100")
	}
	updates := map[string]any{
		"is_online":       true,
		"last_connection": s.now().UTC(),
	}
	if batteryLevel != nil {
		updates["battery_level"] = *batteryLevel
	}
	return s.touch(ctx, nil, deviceID, updates)
}

// History returns the samples of the last days days, newest first.
func (s *service) History(ctx context.Context, actor types.Actor, deviceID uuid.UUID, days int) ([]LocationDTO, error) {
	if days == 0 {
		days = DefaultHistoryDays
	}
	if days < 1 || days > MaxHistoryDays {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "days must be between 1 and %d", MaxHistoryDays).
			WithDetails(map[string]any{"days": days})
	}
	if _, err := s.devices.FindView(ctx, deviceID, actor.ResellerScope()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}

	since := s.now().UTC().AddDate(0, 0, -days)
	rows, err := s.repo.ListSince(ctx, deviceID, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list locations")
	}
	out := make([]LocationDTO, 0, len(rows))
	for _, row := range rows {
		out = append(out, LocationDTO{
			ID:           row.ID,
			Latitude:     row.Latitude,
			Longitude:    row.Longitude,
			BatteryLevel: row.BatteryLevel,
			NetworkType:  row.NetworkType,
			RecordedAt:   row.RecordedAt,
		})
	}
	return out, nil
}

func (s *service) touch(ctx context.Context, tx *gorm.DB, deviceID uuid.UUID, updates map[string]any) error {
	if err := s.devices.WithTx(tx).Update(ctx, deviceID, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update device snapshot")
	}
	return nil
}

func validateSample(sample LocationSample) error {
	if sample.DeviceID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "device_id is required")
	}
	if sample.Latitude < -90 || sample.Latitude > 90 {
		return pkgerrors.New(pkgerrors.CodeValidation, "latitude out of range")
	}
	if sample.Longitude < -180 || sample.Longitude > 180 {
		return pkgerrors.New(pkgerrors.CodeValidation, "longitude out of range")
	}
	if sample.BatteryLevel != nil && (*sample.BatteryLevel < 0 || *sample.BatteryLevel > 100) {
		return pkgerrors.New(pkgerrors.CodeValidation, "battery_level must be between 0 and 100")
	}
	return nil
}

func normalizeNetwork(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
