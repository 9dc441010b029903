package enrollment

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/licenses"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/dbtest"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox"
	"github.com/mdmvenezuela/mdm-backend/pkg/qrcode"
)

const imeiX = "123456789012345"

type harness struct {
	conn         *gorm.DB
	client       *db.Client
	issuer       *Issuer
	orchestrator *Orchestrator
	ledger       *licenses.Ledger
	clock        *clock
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, dbtest.Open(t))
}

func newHarnessOn(t *testing.T, conn *gorm.DB) *harness {
	t.Helper()
	client := db.FromConn(conn)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	clk := &clock{now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	enrollMetrics := metrics.NewEnrollmentMetrics(prometheus.NewRegistry())

	ledger, err := licenses.NewLedger(licenses.NewRepository(conn), clk.Now)
	require.NoError(t, err)
	provisioner, err := NewProvisioner(config.EnrollmentConfig{
		AdminComponent: "com.tecnoca.mdm/.DeviceAdminReceiver",
		APKURL:         "https://example.com/mdm.apk",
		ServerURL:      "https://mdm.example.com",
	})
	require.NoError(t, err)

	tokens := NewTokenRepository(conn)
	issuer, err := NewIssuer(IssuerParams{
		Licenses:    ledger,
		Tokens:      tokens,
		Tx:          client,
		Provisioner: provisioner,
		QR:          qrcode.NewRenderer(128),
		Metrics:     enrollMetrics,
		Logger:      logg,
		Now:         clk.Now,
	})
	require.NoError(t, err)

	orchestrator, err := NewOrchestrator(OrchestratorParams{
		Tokens:   tokens,
		Devices:  devices.NewRepository(conn),
		Licenses: ledger,
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logg),
		Tx:       client,
		Metrics:  enrollMetrics,
		Logger:   logg,
		Now:      clk.Now,
	})
	require.NoError(t, err)

	return &harness{conn: conn, client: client, issuer: issuer, orchestrator: orchestrator, ledger: ledger, clock: clk}
}

func (h *harness) license(t *testing.T, id uuid.UUID) models.License {
	t.Helper()
	var row models.License
	require.NoError(t, h.conn.Where("id = ?", id).First(&row).Error)
	return row
}

func (h *harness) token(t *testing.T, value string) models.EnrollmentToken {
	t.Helper()
	var row models.EnrollmentToken
	require.NoError(t, h.conn.Where("token = ?", value).First(&row).Error)
	return row
}

func (h *harness) deviceByIMEI(t *testing.T, imei string) models.Device {
	t.Helper()
	var row models.Device
	require.NoError(t, h.conn.Where("imei = ?", imei).First(&row).Error)
	return row
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Count(&n).Error)
	return n
}

func (h *harness) release(t *testing.T, device models.Device) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.client.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := h.ledger.MarkBound(ctx, tx, *device.LicenseID, device.IMEI); err != nil {
			return err
		}
		return tx.Model(&models.Device{}).Where("id = ?", device.ID).Update("status", enums.DeviceStatusReleased).Error
	}))
}

func requireReason(t *testing.T, err error, reason string) {
	t.Helper()
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected typed error, got %v", err)
	require.Equal(t, pkgerrors.CodeConflict, typed.Code(), "got %v", err)
	assert.Equal(t, map[string]string{"reason": reason}, typed.Details())
}

func TestMintPicksOldestAvailableWithoutClaiming(t *testing.T) {
	h := newHarness(t)
	reseller := dbtest.SeedReseller(t, h.conn, "r1")
	first := dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")
	dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")

	res, err := h.issuer.MintEnrollmentToken(context.Background(), reseller.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Token, tokenPrefix))
	assert.True(t, strings.HasPrefix(res.QRCode, "data:image/png;base64,"))
	assert.Equal(t, first.ID, res.LicenseID)
	assert.Equal(t, first.LicenseKey, res.LicenseKey)
	assert.Equal(t, "https://example.com/mdm.apk", res.DownloadURL)
	assert.True(t, res.ExpiresAt.Equal(h.clock.Now().Add(24*time.Hour)))

	stored := h.token(t, res.Token)
	assert.False(t, stored.IsUsed)
	assert.Equal(t, enums.LicenseStatusAvailable, h.license(t, first.ID).Status)
}

func TestMintWithoutLicensesConflicts(t *testing.T) {
	h := newHarness(t)
	reseller := dbtest.SeedReseller(t, h.conn, "r1")
	dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusInUse, imeiX)

	_, err := h.issuer.MintEnrollmentToken(context.Background(), reseller.ID)
	requireReason(t, err, ReasonNoLicenseAvailable)
	assert.Zero(t, h.count(t, &models.EnrollmentToken{}))
}

func TestRedeemNewDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, h.conn, "r1")
	license := dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")
	minted, err := h.issuer.MintEnrollmentToken(ctx, reseller.ID)
	require.NoError(t, err)

	name := "Maria"
	res, err := h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: minted.Token, IMEI: imeiX, ClientName: &name})
	require.NoError(t, err)
	assert.Equal(t, reseller.ID, res.ResellerID)
	assert.Equal(t, enums.DeviceStatusActive, res.Status)
	assert.False(t, res.Reenrolled)

	device := h.deviceByIMEI(t, imeiX)
	assert.Equal(t, res.DeviceID, device.ID)
	assert.Equal(t, enums.DeviceStatusActive, device.Status)
	assert.True(t, device.IsOnline)
	require.NotNil(t, device.LicenseID)
	assert.Equal(t, license.ID, *device.LicenseID)
	assert.Equal(t, "Maria", *device.ClientName)

	claimed := h.license(t, license.ID)
	assert.Equal(t, enums.LicenseStatusInUse, claimed.Status)
	assert.Equal(t, imeiX, *claimed.DeviceIMEI)

	assert.True(t, h.token(t, minted.Token).IsUsed)

	var events []models.OutboxEvent
	require.NoError(t, h.conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventDeviceEnrolled, events[0].EventType)
}

func TestTokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, h.conn, "r1")
	dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")
	minted, err := h.issuer.MintEnrollmentToken(ctx, reseller.ID)
	require.NoError(t, err)

	_, err = h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: minted.Token, IMEI: imeiX})
	require.NoError(t, err)
	_, err = h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: minted.Token, IMEI: "223456789012345"})
	requireReason(t, err, ReasonInvalidToken)
	assert.Equal(t, int64(1), h.count(t, &models.Device{}))
}

func TestExpiredTokenMutatesNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, h.conn, "r1")
	license := dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")
	minted, err := h.issuer.MintEnrollmentToken(ctx, reseller.ID)
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	_, err = h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: minted.Token, IMEI: imeiX})
	requireReason(t, err, ReasonInvalidToken)

	assert.False(t, h.token(t, minted.Token).IsUsed)
	assert.Equal(t, enums.LicenseStatusAvailable, h.license(t, license.ID).Status)
	assert.Zero(t, h.count(t, &models.Device{}))
	assert.Zero(t, h.count(t, &models.OutboxEvent{}))
}

func TestUnknownTokenConflicts(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.RedeemEnrollment(context.Background(), RedeemInput{Token: "ENR-missing", IMEI: imeiX})
	requireReason(t, err, ReasonInvalidToken)
}

func TestRedeemValidatesInput(t *testing.T) {
	h := newHarness(t)
	for _, in := range []RedeemInput{
		{Token: "", IMEI: imeiX},
		{Token: "ENR-x", IMEI: "1234"},
		{Token: "ENR-x", IMEI: "12345678901234A"},
		{Token: "ENR-x", IMEI: "123456789012345678"},
	} {
		_, err := h.orchestrator.RedeemEnrollment(context.Background(), in)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "input %+v: %v", in, err)
	}
}

// TestConcurrentRedemptionClaimsLicenseOnce runs on the sqlite pool, which
// has a single connection and ignores FOR UPDATE. The two redemptions are
// therefore serialized by the pool and this only covers the AVAILABLE
// re-check inside the transaction. TestConcurrentRedemptionPostgres covers
// the row locks.
func TestConcurrentRedemptionClaimsLicenseOnce(t *testing.T) {
	requireSingleClaim(t, newHarness(t))
}

// requireSingleClaim redeems two tokens for the same license at once and
// expects exactly one device to get it.
func requireSingleClaim(t *testing.T, h *harness) {
	t.Helper()
	ctx := context.Background()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	reseller := dbtest.SeedReseller(t, h.conn, "r-"+suffix)
	license := dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")
	expires := h.clock.Now().Add(time.Hour)
	dbtest.SeedToken(t, h.conn, reseller.ID, license.ID, "ENR-a-"+suffix, expires)
	dbtest.SeedToken(t, h.conn, reseller.ID, license.ID, "ENR-b-"+suffix, expires)

	inputs := []RedeemInput{
		{Token: "ENR-a-" + suffix, IMEI: "111111111111111"},
		{Token: "ENR-b-" + suffix, IMEI: "222222222222222"},
	}
	start := make(chan struct{})
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = h.orchestrator.RedeemEnrollment(ctx, inputs[i])
		}(i)
	}
	close(start)
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		requireReason(t, err, ReasonLicenseUnavailable)
	}
	require.Equal(t, 1, successes)

	final := h.license(t, license.ID)
	assert.Equal(t, enums.LicenseStatusInUse, final.Status)
	require.NotNil(t, final.DeviceIMEI)
	assert.Equal(t, int64(1), h.count(t, &models.Device{}))
	assert.Equal(t, *final.DeviceIMEI, h.deviceByIMEI(t, *final.DeviceIMEI).IMEI)
}

func TestReenrollmentUsesLinkedLicense(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, h.conn, "r1")
	l1 := dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")

	first, err := h.issuer.MintEnrollmentToken(ctx, reseller.ID)
	require.NoError(t, err)
	_, err = h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: first.Token, IMEI: imeiX})
	require.NoError(t, err)
	h.release(t, h.deviceByIMEI(t, imeiX))
	require.Equal(t, enums.LicenseStatusBound, h.license(t, l1.ID).Status)

	l2 := dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")
	second, err := h.issuer.MintEnrollmentToken(ctx, reseller.ID)
	require.NoError(t, err)
	require.Equal(t, l2.ID, second.LicenseID)

	res, err := h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: second.Token, IMEI: imeiX})
	require.NoError(t, err)
	assert.True(t, res.Reenrolled)
	assert.Equal(t, l1.ID, res.LicenseID)

	device := h.deviceByIMEI(t, imeiX)
	assert.Equal(t, enums.DeviceStatusActive, device.Status)
	assert.Equal(t, l1.ID, *device.LicenseID)
	assert.Equal(t, enums.LicenseStatusInUse, h.license(t, l1.ID).Status)
	assert.Equal(t, enums.LicenseStatusAvailable, h.license(t, l2.ID).Status)
	assert.True(t, h.token(t, second.Token).IsUsed)
	assert.Equal(t, int64(1), h.count(t, &models.Device{}))

	var reenrolled int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventDeviceReenrolled).Count(&reenrolled).Error)
	assert.Equal(t, int64(1), reenrolled)
}

func TestRegisteredDeviceWithoutLinkedLicenseIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	reseller := dbtest.SeedReseller(t, h.conn, "r1")
	dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")
	first, err := h.issuer.MintEnrollmentToken(ctx, reseller.ID)
	require.NoError(t, err)
	_, err = h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: first.Token, IMEI: imeiX})
	require.NoError(t, err)

	spare := dbtest.SeedLicense(t, h.conn, reseller.ID, enums.LicenseStatusAvailable, "")
	second, err := h.issuer.MintEnrollmentToken(ctx, reseller.ID)
	require.NoError(t, err)

	_, err = h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: second.Token, IMEI: imeiX})
	requireReason(t, err, ReasonAlreadyRegistered)
	assert.False(t, h.token(t, second.Token).IsUsed)
	assert.Equal(t, enums.LicenseStatusAvailable, h.license(t, spare.ID).Status)
}

func TestLinkedLicenseOfAnotherResellerDoesNotReenroll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := dbtest.SeedReseller(t, h.conn, "owner")
	other := dbtest.SeedReseller(t, h.conn, "other")
	bound := dbtest.SeedLicense(t, h.conn, owner.ID, enums.LicenseStatusBound, imeiX)
	dbtest.SeedDevice(t, h.conn, owner.ID, bound.ID, imeiX, enums.DeviceStatusReleased)

	dbtest.SeedLicense(t, h.conn, other.ID, enums.LicenseStatusAvailable, "")
	minted, err := h.issuer.MintEnrollmentToken(ctx, other.ID)
	require.NoError(t, err)

	_, err = h.orchestrator.RedeemEnrollment(ctx, RedeemInput{Token: minted.Token, IMEI: imeiX})
	requireReason(t, err, ReasonAlreadyRegistered)
	assert.Equal(t, enums.LicenseStatusBound, h.license(t, bound.ID).Status)
}

func TestConstructorsRequireDependencies(t *testing.T) {
	if _, err := NewIssuer(IssuerParams{}); err == nil {
		t.Fatal("expected issuer error")
	}
	if _, err := NewOrchestrator(OrchestratorParams{}); err == nil {
		t.Fatal("expected orchestrator error")
	}
}
