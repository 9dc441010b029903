package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
)

const (
	tokenPrefix     = "ENR-"
	DefaultTokenTTL = 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type availableLicenses interface {
	OldestAvailable(ctx context.Context, tx *gorm.DB, resellerID uuid.UUID) (*models.License, error)
}

type payloadBuilder interface {
	Payload(token string, resellerID uuid.UUID) ([]byte, error)
	DownloadURL() string
}

type qrRenderer interface {
	DataURL(content []byte) (string, error)
}

// MintResult is what a reseller receives after generating an enrollment QR.
type MintResult struct {
	Token       string    `json:"token"`
	QRCode      string    `json:"qr_code"`
	ExpiresAt   time.Time `json:"expires_at"`
	LicenseID   uuid.UUID `json:"license_id"`
	LicenseKey  string    `json:"license_key"`
	DownloadURL string    `json:"download_url"`
}

// IssuerParams wires the token issuer.
type IssuerParams struct {
	Licenses    availableLicenses
	Tokens      TokenRepository
	Tx          txRunner
	Provisioner payloadBuilder
	QR          qrRenderer
	Metrics     *metrics.EnrollmentMetrics
	Logger      *logger.Logger
	TTL         time.Duration
	Now         func() time.Time
}

// Issuer mints single-use enrollment tokens.
type Issuer struct {
	licenses    availableLicenses
	tokens      TokenRepository
	tx          txRunner
	provisioner payloadBuilder
	qr          qrRenderer
	metrics     *metrics.EnrollmentMetrics
	logg        *logger.Logger
	ttl         time.Duration
	now         func() time.Time
}

// NewIssuer validates params and builds an Issuer.
func NewIssuer(params IssuerParams) (*Issuer, error) {
	if params.Licenses == nil {
		return nil, fmt.Errorf("license ledger required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("token repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Provisioner == nil {
		return nil, fmt.Errorf("provisioner required")
	}
	if params.QR == nil {
		return nil, fmt.Errorf("qr renderer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		licenses:    params.Licenses,
		tokens:      params.Tokens,
		tx:          params.Tx,
		provisioner: params.Provisioner,
		qr:          params.QR,
		metrics:     params.Metrics,
		logg:        params.Logger,
		ttl:         ttl,
		now:         now,
	}, nil
}

// MintEnrollmentToken reserves the reseller's oldest AVAILABLE license for a
// new token. The license itself is left untouched; redemption re-checks and
// claims it under a row lock.
func (i *Issuer) MintEnrollmentToken(ctx context.Context, resellerID uuid.UUID) (*MintResult, error) {
	if resellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reseller_id is required")
	}

	var result *MintResult
	err := i.tx.WithTx(ctx, func(tx *gorm.DB) error {
		license, err := i.licenses.OldestAvailable(ctx, tx, resellerID)
		if err != nil {
			return err
		}
		if license == nil {
			return conflict(ReasonNoLicenseAvailable, "no licenses available")
		}

		token := &models.EnrollmentToken{
			Token:      newTokenValue(),
			ResellerID: resellerID,
			LicenseID:  license.ID,
			ExpiresAt:  i.now().UTC().Add(i.ttl),
		}
		if err := i.tokens.WithTx(tx).Create(ctx, token); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create enrollment token")
		}

		payload, err := i.provisioner.Payload(token.Token, resellerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build provisioning payload")
		}
		qr, err := i.qr.DataURL(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render qr code")
		}

		result = &MintResult{
			Token:       token.Token,
			QRCode:      qr,
			ExpiresAt:   token.ExpiresAt,
			LicenseID:   license.ID,
			LicenseKey:  license.LicenseKey,
			DownloadURL: i.provisioner.DownloadURL(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	i.metrics.IncMinted()
	logCtx := i.logg.WithResellerID(ctx, resellerID.String())
	i.logg.Info(i.logg.WithField(logCtx, "license_id", result.LicenseID.String()), "enrollment token minted")
	return result, nil
}

func newTokenValue() string {
	return tokenPrefix + uuid.NewString()
}
