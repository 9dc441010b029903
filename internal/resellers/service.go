package resellers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/licenses"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/security"
)

const duplicateAccountMessage = "username or email already registered"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type licensePool interface {
	Provision(ctx context.Context, tx *gorm.DB, resellerID uuid.UUID, quantity int) ([]models.License, error)
	Counts(ctx context.Context, resellerID *uuid.UUID) (licenses.StatusCounts, error)
}

type deviceCounter interface {
	Counts(ctx context.Context, resellerID *uuid.UUID) (devices.Counts, error)
}

// Service covers reseller account management and the dashboards built on it.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*CreateResult, error)
	List(ctx context.Context) ([]Summary, error)
	AddLicenses(ctx context.Context, resellerID uuid.UUID, quantity int) (*AddLicensesResult, error)
	Toggle(ctx context.Context, resellerID uuid.UUID) (*ResellerDTO, error)
	AdminDashboard(ctx context.Context) (*AdminDashboard, error)
	ResellerDashboard(ctx context.Context, resellerID uuid.UUID) (*ResellerDashboard, error)
}

// ServiceParams wires the reseller service.
type ServiceParams struct {
	Repository Repository
	Tx         txRunner
	Licenses   licensePool
	Devices    deviceCounter
	Password   config.PasswordConfig
	Logger     *logger.Logger
}

type service struct {
	repo     Repository
	tx       txRunner
	licenses licensePool
	devices  deviceCounter
	password config.PasswordConfig
	logg     *logger.Logger
}

// NewService validates params and builds the reseller service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("reseller repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Licenses == nil {
		return nil, fmt.Errorf("license pool required")
	}
	if params.Devices == nil {
		return nil, fmt.Errorf("device counter required")
	}
	return &service{
		repo:     params.Repository,
		tx:       params.Tx,
		licenses: params.Licenses,
		devices:  params.Devices,
		password: params.Password,
		logg:     params.Logger,
	}, nil
}

// Create opens a reseller and provisions its initial AVAILABLE licenses in
// the same transaction.
func (s *service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	input.BusinessName = strings.TrimSpace(input.BusinessName)
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	if input.BusinessName == "" || input.Username == "" || input.Email == "" || input.Password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business_name, username, email and password are required")
	}
	if input.TotalLicenses < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total_licenses must be zero or greater")
	}

	hash, err := security.HashPassword(input.Password, s.password)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}

	reseller := &models.Reseller{
		BusinessName:  input.BusinessName,
		Username:      input.Username,
		Email:         input.Email,
		PasswordHash:  hash,
		Phone:         input.Phone,
		TotalLicenses: input.TotalLicenses,
		IsActive:      true,
	}

	var created int
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		exists, err := repo.ExistsByUsernameOrEmail(ctx, input.Username, input.Email)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check reseller uniqueness")
		}
		if exists {
			return pkgerrors.New(pkgerrors.CodeConflict, duplicateAccountMessage)
		}
		if err := repo.Create(ctx, reseller); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, duplicateAccountMessage)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reseller")
		}
		rows, err := s.licenses.Provision(ctx, tx, reseller.ID, input.TotalLicenses)
		if err != nil {
			return err
		}
		created = len(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithResellerID(ctx, reseller.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "licenses", created), "reseller created")
	}
	return &CreateResult{Reseller: FromModel(reseller), LicensesCreated: created}, nil
}

func (s *service) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.repo.ListSummaries(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list resellers")
	}
	if rows == nil {
		rows = []Summary{}
	}
	return rows, nil
}

// AddLicenses grows the pool and total_licenses together under the reseller row lock.
func (s *service) AddLicenses(ctx context.Context, resellerID uuid.UUID, quantity int) (*AddLicensesResult, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	var total int
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reseller, err := s.lockReseller(ctx, repo, resellerID)
		if err != nil {
			return err
		}
		if _, err := s.licenses.Provision(ctx, tx, reseller.ID, quantity); err != nil {
			return err
		}
		if err := repo.IncrementTotalLicenses(ctx, reseller.ID, quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update total licenses")
		}
		total = reseller.TotalLicenses + quantity
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithResellerID(ctx, resellerID.String())
		s.logg.Info(s.logg.WithField(logCtx, "added", quantity), "licenses added")
	}
	return &AddLicensesResult{ResellerID: resellerID, Added: quantity, TotalLicenses: total}, nil
}

// Toggle flips is_active. Deactivated resellers can no longer log in.
func (s *service) Toggle(ctx context.Context, resellerID uuid.UUID) (*ResellerDTO, error) {
	var out *models.Reseller
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reseller, err := s.lockReseller(ctx, repo, resellerID)
		if err != nil {
			return err
		}
		reseller.IsActive = !reseller.IsActive
		if err := repo.SetActive(ctx, reseller.ID, reseller.IsActive); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "toggle reseller")
		}
		out = reseller
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithResellerID(ctx, resellerID.String())
		s.logg.Info(s.logg.WithField(logCtx, "is_active", out.IsActive), "reseller toggled")
	}
	return FromModel(out), nil
}

func (s *service) AdminDashboard(ctx context.Context) (*AdminDashboard, error) {
	total, active, err := s.repo.CountActive(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count resellers")
	}
	licenseCounts, err := s.licenses.Counts(ctx, nil)
	if err != nil {
		return nil, err
	}
	deviceCounts, err := s.devices.Counts(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &AdminDashboard{
		Resellers: ResellerCounts{Total: total, Active: active},
		Licenses:  licenseCounts,
		Devices:   deviceCounts,
	}, nil
}

func (s *service) ResellerDashboard(ctx context.Context, resellerID uuid.UUID) (*ResellerDashboard, error) {
	reseller, err := s.repo.FindByID(ctx, resellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reseller not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reseller")
	}
	licenseCounts, err := s.licenses.Counts(ctx, &resellerID)
	if err != nil {
		return nil, err
	}
	deviceCounts, err := s.devices.Counts(ctx, &resellerID)
	if err != nil {
		return nil, err
	}
	return &ResellerDashboard{
		Reseller: FromModel(reseller),
		Licenses: licenseCounts,
		Devices:  deviceCounts,
	}, nil
}

func (s *service) lockReseller(ctx context.Context, repo Repository, id uuid.UUID) (*models.Reseller, error) {
	reseller, err := repo.FindByIDForUpdate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reseller not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock reseller")
	}
	return reseller, nil
}
