package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Command is the wire shape handed to a device on pull.
type Command struct {
	ID          uuid.UUID         `json:"id"`
	CommandType enums.CommandType `json:"command_type"`
	CommandData json.RawMessage   `json:"command_data"`
	CreatedAt   time.Time         `json:"created_at"`
}

// MailboxParams wires the mailbox dependencies.
type MailboxParams struct {
	Repository Repository
	Tx         txRunner
	Logger     *logger.Logger
	Now        func() time.Time
}

// Mailbox is the per-device command queue.
//
// Delivery is at-most-once: Pull flips PENDING rows to SENT in the same
// transaction that reads them, so a response lost in transit loses those
// commands. There is no acknowledgment step.
type Mailbox struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

// NewMailbox validates params and builds a Mailbox.
func NewMailbox(params MailboxParams) (*Mailbox, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("command repository required")
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
	return &Mailbox{repo: params.Repository, tx: params.Tx, logg: params.Logger, now: now}, nil
}

// Enqueue adds a PENDING command on the caller's transaction so it commits
// together with the status change that produced it.
func (m *Mailbox) Enqueue(ctx context.Context, tx *gorm.DB, deviceID uuid.UUID, cmdType enums.CommandType, payload any) (*models.PendingCommand, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if !cmdType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown command type")
	}
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode command payload")
	}

	cmd := &models.PendingCommand{
		DeviceID:    deviceID,
		CommandType: cmdType,
		CommandData: datatypes.JSON(data),
		Status:      enums.CommandStatusPending,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.repo.WithTx(tx).Create(ctx, cmd); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue command")
	}
	return cmd, nil
}

// Pull returns every PENDING command for deviceID in creation order and marks
// them SENT. A second pull returns nothing until new commands are queued.
func (m *Mailbox) Pull(ctx context.Context, deviceID uuid.UUID) ([]Command, error) {
	if deviceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "device_id is required")
	}

	out := []Command{}
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		rows, err := repo.ListPendingForUpdate(ctx, deviceID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending commands")
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
			out = append(out, toCommand(row))
		}
		if err := repo.MarkSent(ctx, ids, m.now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark commands sent")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(out) > 0 {
		logCtx := m.logg.WithDeviceID(ctx, deviceID.String())
		m.logg.Info(m.logg.WithField(logCtx, "count", len(out)), "commands delivered")
	}
	return out, nil
}

func toCommand(row models.PendingCommand) Command {
	data := json.RawMessage(row.CommandData)
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return Command{
		ID:          row.ID,
		CommandType: row.CommandType,
		CommandData: data,
		CreatedAt:   row.CreatedAt,
	}
}
