package devices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox/payloads"
	pkgpagination "github.com/mdmvenezuela/mdm-backend/pkg/pagination"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

// DefaultLockMessage is shown on the device when the operator gives none.
const DefaultLockMessage = "Dispositivo bloqueado por el administrador"

const releaseNote = "the license stays bound to this IMEI and can only be reactivated by the same device"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type commandQueue interface {
	Enqueue(ctx context.Context, tx *gorm.DB, deviceID uuid.UUID, cmdType enums.CommandType, payload any) (*models.PendingCommand, error)
}

type licenseBinder interface {
	MarkBound(ctx context.Context, tx *gorm.DB, licenseID uuid.UUID, imei string) (*models.License, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service exposes operator-facing device operations. Every call is scoped by
// the actor: resellers only reach their own devices and get NOT_FOUND for
// anything else.
type Service interface {
	Get(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*DeviceDTO, error)
	List(ctx context.Context, actor types.Actor, input ListInput) (*ListResult, error)
	Counts(ctx context.Context, resellerID *uuid.UUID) (Counts, error)
	Lock(ctx context.Context, actor types.Actor, deviceID uuid.UUID, message string) (*CommandResult, error)
	Unlock(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*CommandResult, error)
	Release(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*ReleaseResult, error)
}

// ListInput filters a device listing.
type ListInput struct {
	Status *enums.DeviceStatus
	pkgpagination.Params
}

// ServiceParams wires the device service dependencies.
type ServiceParams struct {
	Repository Repository
	Tx         txRunner
	Commands   commandQueue
	Licenses   licenseBinder
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	commands commandQueue
	licenses licenseBinder
	outbox   outboxPublisher
	logg     *logger.Logger
	now      func() time.Time
}

// NewService validates params and builds the device service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("device repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Commands == nil {
		return nil, fmt.Errorf("command queue required")
	}
	if params.Licenses == nil {
		return nil, fmt.Errorf("license ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repository,
		tx:       params.Tx,
		commands: params.Commands,
		licenses: params.Licenses,
		outbox:   params.Outbox,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) Get(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*DeviceDTO, error) {
	row, err := s.repo.FindView(ctx, deviceID, actor.ResellerScope())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}
	dto := toDTO(*row)
	return &dto, nil
}

func (s *service) List(ctx context.Context, actor types.Actor, input ListInput) (*ListResult, error) {
	if input.Status != nil && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	cursor, err := pkgpagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, listQuery{
		resellerID: actor.ResellerScope(),
		status:     input.Status,
		limit:      pkgpagination.LimitWithBuffer(input.Limit),
		cursor:     cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list devices")
	}

	page, next := pkgpagination.Trim(rows, input.Limit, func(row Row) pkgpagination.Cursor {
		return pkgpagination.Cursor{At: row.EnrolledAt, ID: row.ID}
	})
	result := &ListResult{Devices: make([]DeviceDTO, 0, len(page)), NextCursor: next}
	for _, row := range page {
		result.Devices = append(result.Devices, toDTO(row))
	}
	return result, nil
}

func (s *service) Counts(ctx context.Context, resellerID *uuid.UUID) (Counts, error) {
	counts, err := s.repo.Counts(ctx, resellerID)
	if err != nil {
		return Counts{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count devices")
	}
	return counts, nil
}

func (s *service) Lock(ctx context.Context, actor types.Actor, deviceID uuid.UUID, message string) (*CommandResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = DefaultLockMessage
	}
	return s.issueCommand(ctx, actor, deviceID, enums.DeviceEventLock, enums.CommandTypeLock, map[string]string{"message": message}, message)
}

func (s *service) Unlock(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*CommandResult, error) {
	return s.issueCommand(ctx, actor, deviceID, enums.DeviceEventUnlock, enums.CommandTypeUnlock, struct{}{}, "")
}

// issueCommand applies event to the device and queues cmdType in one
// transaction. Re-issuing a command the device already reflects still
// queues it again.
func (s *service) issueCommand(ctx context.Context, actor types.Actor, deviceID uuid.UUID, event enums.DeviceEvent, cmdType enums.CommandType, payload any, message string) (*CommandResult, error) {
	var result *CommandResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		device, err := s.lockScoped(ctx, repo, actor, deviceID)
		if err != nil {
			return err
		}

		next, err := device.Status.Next(event)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, fmt.Sprintf("device cannot %s", event))
		}
		if next != device.Status {
			if err := repo.Update(ctx, device.ID, map[string]any{"status": next}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update device status")
			}
		}

		cmd, err := s.commands.Enqueue(ctx, tx, device.ID, cmdType, payload)
		if err != nil {
			return err
		}

		eventType := enums.EventDeviceLocked
		if cmdType == enums.CommandTypeUnlock {
			eventType = enums.EventDeviceUnlocked
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateDevice,
			AggregateID:   device.ID,
			Actor:         actorRef(actor),
			OccurredAt:    s.now().UTC(),
			Data: payloads.DeviceCommandEvent{
				DeviceID:    device.ID,
				ResellerID:  device.ResellerID,
				CommandID:   cmd.ID,
				CommandType: cmdType,
				Status:      next,
				Message:     message,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit device event")
		}

		result = &CommandResult{DeviceID: device.ID, Status: next, CommandID: cmd.ID, Message: message}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithDeviceID(ctx, deviceID.String())
	s.logg.Info(s.logg.WithField(logCtx, "command", cmdType), "device command queued")
	return result, nil
}

// Release ends service for an ACTIVE device and binds its license to the
// device IMEI so the same unit can re-enroll later.
func (s *service) Release(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*ReleaseResult, error) {
	var result *ReleaseResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		device, err := s.lockScoped(ctx, repo, actor, deviceID)
		if err != nil {
			return err
		}

		next, err := device.Status.Next(enums.DeviceEventRelease)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "only active devices can be released")
		}
		if device.LicenseID == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "device has no license to release")
		}

		license, err := s.licenses.MarkBound(ctx, tx, *device.LicenseID, device.IMEI)
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, device.ID, map[string]any{"status": next}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update device status")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeviceReleased,
			AggregateType: enums.AggregateLicense,
			AggregateID:   license.ID,
			Actor:         actorRef(actor),
			OccurredAt:    s.now().UTC(),
			Data: payloads.DeviceReleasedEvent{
				DeviceID:   device.ID,
				ResellerID: device.ResellerID,
				LicenseID:  license.ID,
				IMEI:       device.IMEI,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit release event")
		}

		result = &ReleaseResult{DeviceID: device.ID, IMEI: device.IMEI, LicenseID: license.ID, Note: releaseNote}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithDeviceID(ctx, deviceID.String()), "device released")
	return result, nil
}

func (s *service) lockScoped(ctx context.Context, repo Repository, actor types.Actor, deviceID uuid.UUID) (*models.Device, error) {
	device, err := repo.FindByIDForUpdate(ctx, deviceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}
	if scope := actor.ResellerScope(); scope != nil && device.ResellerID != *scope {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
	}
	return device, nil
}

func actorRef(actor types.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{ID: actor.ID, Role: actor.Role.String()}
}
