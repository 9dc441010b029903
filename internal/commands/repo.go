package commands

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
)

// Repository persists pending commands.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, cmd *models.PendingCommand) error
	ListPendingForUpdate(ctx context.Context, deviceID uuid.UUID) ([]models.PendingCommand, error)
	MarkSent(ctx context.Context, ids []uuid.UUID, sentAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a command repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, cmd *models.PendingCommand) error {
	return r.db.WithContext(ctx).Create(cmd).Error
}

func (r *repository) ListPendingForUpdate(ctx context.Context, deviceID uuid.UUID) ([]models.PendingCommand, error) {
	var rows []models.PendingCommand
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("device_id = ? AND status = ?", deviceID, enums.CommandStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkSent(ctx context.Context, ids []uuid.UUID, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.PendingCommand{}).
		Where("id IN ? AND status = ?", ids, enums.CommandStatusPending).
		Updates(map[string]any{
			"status":  enums.CommandStatusSent,
			"sent_at": sentAt,
		}).Error
}
