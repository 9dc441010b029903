package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgAuth "github.com/mdmvenezuela/mdm-backend/pkg/auth"
	"github.com/mdmvenezuela/mdm-backend/pkg/auth/session"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/security"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

const invalidCredentialsMessage = "invalid credentials"

// Service defines the behavior needed by the auth controller.
type Service interface {
	OperatorLogin(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	ResellerLogin(ctx context.Context, req LoginRequest) (*LoginResponse, error)
}

type operatorRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.Operator, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

type resellerRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.Reseller, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

type sessionManager interface {
	Generate(ctx context.Context, accessID string, actor types.Actor) (string, error)
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	Operators      operatorRepository
	Resellers      resellerRepository
	SessionManager sessionManager
	JWTConfig      config.JWTConfig
	Password       config.PasswordConfig
	Logger         *logger.Logger
	Now            func() time.Time
}

type service struct {
	operators operatorRepository
	resellers resellerRepository
	session   sessionManager
	jwtCfg    config.JWTConfig
	password  config.PasswordConfig
	logg      *logger.Logger
	now       func() time.Time
}

// NewService constructs a login service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Operators == nil {
		return nil, fmt.Errorf("operator repository is required")
	}
	if params.Resellers == nil {
		return nil, fmt.Errorf("reseller repository is required")
	}
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		operators: params.Operators,
		resellers: params.Resellers,
		session:   params.SessionManager,
		jwtCfg:    params.JWTConfig,
		password:  params.Password,
		logg:      params.Logger,
		now:       now,
	}, nil
}

func (s *service) OperatorLogin(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	op, err := s.operators.FindByUsername(ctx, username)
	if err != nil {
		return nil, lookupFailure(err, "lookup operator")
	}
	if err := s.checkPassword(req.Password, op.PasswordHash); err != nil {
		return nil, err
	}
	s.upgradeHash(ctx, req.Password, op.PasswordHash, func(hash string) error {
		return s.operators.UpdatePasswordHash(ctx, op.ID, hash)
	})

	now := s.now().UTC()
	if err := s.operators.UpdateLastLogin(ctx, op.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update last login")
	}

	principal := Principal{ID: op.ID, Username: op.Username, Email: op.Email, Role: enums.RoleSuperAdmin}
	return s.issue(ctx, now, principal)
}

// ResellerLogin authenticates a reseller. Inactive accounts are reported as
// bad credentials so the endpoint does not reveal which usernames exist.
func (s *service) ResellerLogin(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	reseller, err := s.resellers.FindByUsername(ctx, username)
	if err != nil {
		return nil, lookupFailure(err, "lookup reseller")
	}
	if !reseller.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	if err := s.checkPassword(req.Password, reseller.PasswordHash); err != nil {
		return nil, err
	}
	s.upgradeHash(ctx, req.Password, reseller.PasswordHash, func(hash string) error {
		return s.resellers.UpdatePasswordHash(ctx, reseller.ID, hash)
	})

	businessName := reseller.BusinessName
	principal := Principal{
		ID:           reseller.ID,
		Username:     reseller.Username,
		Email:        reseller.Email,
		Role:         enums.RoleReseller,
		BusinessName: &businessName,
	}
	return s.issue(ctx, s.now().UTC(), principal)
}

func (s *service) issue(ctx context.Context, now time.Time, principal Principal) (*LoginResponse, error) {
	accessID := session.NewAccessID()
	accessToken, err := pkgAuth.MintAccessToken(s.jwtCfg, now, pkgAuth.AccessTokenPayload{
		SubjectID: principal.ID,
		Role:      principal.Role,
		Username:  principal.Username,
		JTI:       accessID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	refreshToken, err := s.session.Generate(ctx, accessID, types.Actor{ID: principal.ID, Role: principal.Role})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store refresh token")
	}

	if s.logg != nil {
		logCtx := s.logg.WithActorID(ctx, principal.ID.String())
		s.logg.Info(s.logg.WithActorRole(logCtx, principal.Role.String()), "login succeeded")
	}
	return &LoginResponse{AccessToken: accessToken, RefreshToken: refreshToken, User: principal}, nil
}

func (s *service) checkPassword(password, encoded string) error {
	valid, err := security.VerifyPassword(password, encoded)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return nil
}

// upgradeHash swaps a verified legacy hash for Argon2id. Failures only log;
// the login itself already succeeded.
func (s *service) upgradeHash(ctx context.Context, password, encoded string, store func(string) error) {
	if !security.NeedsRehash(encoded, s.password) {
		return
	}
	hash, err := security.HashPassword(password, s.password)
	if err == nil {
		err = store(hash)
	}
	if err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "password rehash failed")
	}
}

func lookupFailure(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
