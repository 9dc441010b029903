package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdmvenezuela/mdm-backend/internal/commands"
	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/enrollment"
	"github.com/mdmvenezuela/mdm-backend/internal/resellers"
	pkgAuth "github.com/mdmvenezuela/mdm-backend/pkg/auth"
	"github.com/mdmvenezuela/mdm-backend/pkg/auth/session"
	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSessions struct{}

func (stubSessions) HasSession(ctx context.Context, accessID string) (bool, error) {
	return true, nil
}

func (stubSessions) Rotate(ctx context.Context, oldAccessID, provided string, actor types.Actor) (string, string, error) {
	return "", "", nil
}

func (stubSessions) Revoke(ctx context.Context, accessID string) error { return nil }

// stubResellers embeds the interface so only the exercised methods need bodies.
type stubResellers struct {
	resellers.Service
}

func (stubResellers) AdminDashboard(ctx context.Context) (*resellers.AdminDashboard, error) {
	return &resellers.AdminDashboard{}, nil
}

type stubDevices struct {
	devices.Service
	lastActor types.Actor
}

func (s *stubDevices) List(ctx context.Context, actor types.Actor, input devices.ListInput) (*devices.ListResult, error) {
	s.lastActor = actor
	return &devices.ListResult{Devices: []devices.DeviceDTO{}}, nil
}

type stubMailbox struct{}

func (stubMailbox) Pull(ctx context.Context, deviceID uuid.UUID) ([]commands.Command, error) {
	return nil, nil
}

type stubIssuer struct{ resellerID uuid.UUID }

func (s *stubIssuer) MintEnrollmentToken(ctx context.Context, resellerID uuid.UUID) (*enrollment.MintResult, error) {
	s.resellerID = resellerID
	return &enrollment.MintResult{Token: "tok"}, nil
}

type stubRedeemer struct{ calls int }

func (s *stubRedeemer) RedeemEnrollment(ctx context.Context, input enrollment.RedeemInput) (*enrollment.RedeemResult, error) {
	s.calls++
	return &enrollment.RedeemResult{DeviceID: uuid.New(), Status: enums.DeviceStatusActive}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0", RequestTimeout: time.Second},
		JWT: config.JWTConfig{
			Secret:                 "secret",
			Issuer:                 "issuer",
			ExpirationMinutes:      60,
			RefreshTokenTTLMinutes: 120,
		},
	}
}

func testParams(cfg *config.Config) Params {
	return Params{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard}),
		DB:         stubPinger{},
		Redis:      stubPinger{},
		Sessions:   stubSessions{},
		Resellers:  stubResellers{},
		Devices:    &stubDevices{},
		Issuer:     &stubIssuer{},
		Enrollment: &stubRedeemer{},
		Mailbox:    stubMailbox{},
	}
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthRoutes(t *testing.T) {
	router := NewRouter(testParams(testConfig()))

	resp := serve(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = serve(router, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestReadyFailsWhenDatabaseIsDown(t *testing.T) {
	params := testParams(testConfig())
	params.DB = stubPinger{err: context.DeadlineExceeded}
	router := NewRouter(params)

	resp := serve(router, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestAdminGroupRequiresToken(t *testing.T) {
	router := NewRouter(testParams(testConfig()))
	resp := serve(router, httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAdminGroupRequiresSuperAdmin(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(testParams(cfg))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleReseller, uuid.New()))
	assert.Equal(t, http.StatusForbidden, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleSuperAdmin, uuid.New()))
	assert.Equal(t, http.StatusOK, serve(router, req).Code)
}

func TestResellerGroupRejectsSuperAdmin(t *testing.T) {
	cfg := testConfig()
	router := NewRouter(testParams(cfg))

	req := httptest.NewRequest(http.MethodGet, "/api/reseller/devices", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.RoleSuperAdmin, uuid.New()))
	assert.Equal(t, http.StatusForbidden, serve(router, req).Code)
}

func TestResellerRoutesUseTokenSubject(t *testing.T) {
	cfg := testConfig()
	params := testParams(cfg)
	issuer := &stubIssuer{}
	devs := &stubDevices{}
	params.Issuer = issuer
	params.Devices = devs
	router := NewRouter(params)
	resellerID := uuid.New()
	token := buildToken(t, cfg, enums.RoleReseller, resellerID)

	req := httptest.NewRequest(http.MethodPost, "/api/reseller/qr/generate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := serve(router, req)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, resellerID, issuer.resellerID)

	req = httptest.NewRequest(http.MethodGet, "/api/reseller/devices?status=active", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp = serve(router, req)
	require.Equal(t, http.StatusOK, resp.Code)
	scope := devs.lastActor.ResellerScope()
	require.NotNil(t, scope)
	assert.Equal(t, resellerID, *scope)
}

func TestDeviceRoutesArePublic(t *testing.T) {
	router := NewRouter(testParams(testConfig()))

	req := httptest.NewRequest(http.MethodGet, "/api/device/commands?device_id="+uuid.NewString(), nil)
	resp := serve(router, req)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Data struct {
			Commands []json.RawMessage `json:"commands"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.NotNil(t, body.Data.Commands)
	assert.Empty(t, body.Data.Commands)
}

func TestDeviceRegisterRejectsBadJSON(t *testing.T) {
	params := testParams(testConfig())
	redeemer := &stubRedeemer{}
	params.Enrollment = redeemer
	router := NewRouter(params)

	req := httptest.NewRequest(http.MethodPost, "/api/device/register", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp := serve(router, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "VALIDATION_ERROR")
	assert.Zero(t, redeemer.calls)
}

func TestDeviceRegisterWithoutEnrollmentIsUnavailable(t *testing.T) {
	params := testParams(testConfig())
	params.Enrollment = nil
	req := httptest.NewRequest(http.MethodPost, "/api/device/register", strings.NewReader("{"))
	assert.Equal(t, http.StatusInternalServerError, serve(NewRouter(params), req).Code)
}

func TestMetricsRouteOnlyWithGatherer(t *testing.T) {
	params := testParams(testConfig())
	resp := serve(NewRouter(params), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)

	params.Gatherer = prometheus.NewRegistry()
	resp = serve(NewRouter(params), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestAPKDirectoryIsServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.apk"), []byte("apk-bytes"), 0o600))

	cfg := testConfig()
	cfg.Enrollment.APKDir = dir
	router := NewRouter(testParams(cfg))

	resp := serve(router, httptest.NewRequest(http.MethodGet, "/apk/agent.apk", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "apk-bytes", resp.Body.String())
}

func buildToken(t *testing.T, cfg *config.Config, role enums.Role, subject uuid.UUID) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		SubjectID: subject,
		Role:      role,
		Username:  "tester",
		JTI:       session.NewAccessID(),
	})
	require.NoError(t, err)
	return token
}
