package enrollment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
)

// ErrTokenSpent is returned by MarkUsed when the token was already consumed.
var ErrTokenSpent = errors.New("enrollment token already used")

// TokenRepository persists enrollment tokens.
type TokenRepository interface {
	WithTx(tx *gorm.DB) TokenRepository
	Create(ctx context.Context, token *models.EnrollmentToken) error
	FindByTokenForUpdate(ctx context.Context, value string) (*models.EnrollmentToken, error)
	MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository builds a token repository bound to db.
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) WithTx(tx *gorm.DB) TokenRepository {
	if tx == nil {
		return r
	}
	return &tokenRepository{db: tx}
}

func (r *tokenRepository) Create(ctx context.Context, token *models.EnrollmentToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

func (r *tokenRepository) FindByTokenForUpdate(ctx context.Context, value string) (*models.EnrollmentToken, error) {
	var token models.EnrollmentToken
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("token = ?", value).
		First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// MarkUsed flips is_used once. The is_used guard keeps the flag monotonic
// even if a caller skipped the row lock.
func (r *tokenRepository) MarkUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.EnrollmentToken{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]any{"is_used": true, "used_at": usedAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokenSpent
	}
	return nil
}
