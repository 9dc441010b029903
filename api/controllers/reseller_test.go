package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mdmvenezuela/mdm-backend/internal/devices"
	"github.com/mdmvenezuela/mdm-backend/internal/enrollment"
	"github.com/mdmvenezuela/mdm-backend/internal/telemetry"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

type stubMinter struct {
	resellerID uuid.UUID
	result     *enrollment.MintResult
	err        error
}

func (s *stubMinter) MintEnrollmentToken(ctx context.Context, resellerID uuid.UUID) (*enrollment.MintResult, error) {
	s.resellerID = resellerID
	return s.result, s.err
}

type stubDevices struct {
	actor    types.Actor
	deviceID uuid.UUID
	message  string
	list     devices.ListInput
	err      error
}

func (s *stubDevices) Get(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*devices.DeviceDTO, error) {
	s.actor, s.deviceID = actor, deviceID
	if s.err != nil {
		return nil, s.err
	}
	return &devices.DeviceDTO{ID: deviceID, Status: enums.DeviceStatusActive}, nil
}

func (s *stubDevices) Lock(ctx context.Context, actor types.Actor, deviceID uuid.UUID, message string) (*devices.CommandResult, error) {
	s.actor, s.deviceID, s.message = actor, deviceID, message
	if s.err != nil {
		return nil, s.err
	}
	return &devices.CommandResult{DeviceID: deviceID, Status: enums.DeviceStatusLocked, Message: message}, nil
}

func (s *stubDevices) Unlock(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*devices.CommandResult, error) {
	s.actor, s.deviceID = actor, deviceID
	if s.err != nil {
		return nil, s.err
	}
	return &devices.CommandResult{DeviceID: deviceID, Status: enums.DeviceStatusActive}, nil
}

func (s *stubDevices) Release(ctx context.Context, actor types.Actor, deviceID uuid.UUID) (*devices.ReleaseResult, error) {
	s.actor, s.deviceID = actor, deviceID
	if s.err != nil {
		return nil, s.err
	}
	return &devices.ReleaseResult{DeviceID: deviceID, IMEI: "356938035643809"}, nil
}

func (s *stubDevices) List(ctx context.Context, actor types.Actor, input devices.ListInput) (*devices.ListResult, error) {
	s.actor, s.list = actor, input
	return &devices.ListResult{Devices: []devices.DeviceDTO{}}, s.err
}

type stubHistory struct {
	days int
}

func (s *stubHistory) History(ctx context.Context, actor types.Actor, deviceID uuid.UUID, days int) ([]telemetry.LocationDTO, error) {
	s.days = days
	return []telemetry.LocationDTO{}, nil
}

func TestResellerGenerateQRMintsForCaller(t *testing.T) {
	actor := resellerActor()
	svc := &stubMinter{result: &enrollment.MintResult{Token: "ENR-1", QRCode: "data:image/png;base64,AA==", ExpiresAt: time.Now().Add(time.Hour)}}

	rec, env := serve(t, ResellerGenerateQR(svc, nil), newRequest(http.MethodPost, "/api/reseller/qr/generate", "", actor, nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	if svc.resellerID != actor.ID {
		t.Fatalf("token minted for %s, caller is %s", svc.resellerID, actor.ID)
	}
	var result enrollment.MintResult
	if err := json.Unmarshal(env.Data, &result); err != nil || result.Token != "ENR-1" {
		t.Fatalf("unexpected payload %s", string(env.Data))
	}
}

func TestResellerGenerateQRWithoutLicenses(t *testing.T) {
	svc := &stubMinter{err: pkgerrors.New(pkgerrors.CodeConflict, "no available licenses")}
	rec, _ := serve(t, ResellerGenerateQR(svc, nil), newRequest(http.MethodPost, "/api/reseller/qr/generate", "", resellerActor(), nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
}

func TestResellerLockOptionalMessage(t *testing.T) {
	deviceID := uuid.New()
	actor := resellerActor()
	params := map[string]string{"id": deviceID.String()}

	svc := &stubDevices{}
	rec, _ := serve(t, ResellerLockDevice(svc, nil), newRequest(http.MethodPost, "/lock", "", actor, params))
	if rec.Code != http.StatusOK || svc.message != "" || svc.deviceID != deviceID {
		t.Fatalf("empty body lock: code=%d message=%q", rec.Code, svc.message)
	}

	rec, _ = serve(t, ResellerLockDevice(svc, nil), newRequest(http.MethodPost, "/lock", `{"message":"  Pago pendiente "}`, actor, params))
	if rec.Code != http.StatusOK || svc.message != "Pago pendiente" {
		t.Fatalf("message lock: code=%d message=%q", rec.Code, svc.message)
	}
	if svc.actor != *actor {
		t.Fatalf("actor not forwarded")
	}
}

func TestResellerDeviceRoutesRejectBadID(t *testing.T) {
	svc := &stubDevices{}
	handlers := []http.Handler{
		ResellerDeviceDetail(svc, nil),
		ResellerLockDevice(svc, nil),
		ResellerUnlockDevice(svc, nil),
		ResellerReleaseDevice(svc, nil),
	}
	for _, h := range handlers {
		rec, _ := serve(t, h, newRequest(http.MethodPost, "/", "", resellerActor(), map[string]string{"id": "not-a-uuid"}))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 got %d", rec.Code)
		}
	}
}

func TestResellerReleaseStateConflict(t *testing.T) {
	svc := &stubDevices{err: pkgerrors.New(pkgerrors.CodeStateConflict, "device must be ACTIVE to release")}
	rec, _ := serve(t, ResellerReleaseDevice(svc, nil), newRequest(http.MethodDelete, "/", "", resellerActor(), map[string]string{"id": uuid.NewString()}))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
}

func TestResellerDeviceDetailNotOwned(t *testing.T) {
	svc := &stubDevices{err: pkgerrors.New(pkgerrors.CodeNotFound, "device not found")}
	rec, _ := serve(t, ResellerDeviceDetail(svc, nil), newRequest(http.MethodGet, "/", "", resellerActor(), map[string]string{"id": uuid.NewString()}))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestResellerLocationHistoryDays(t *testing.T) {
	params := map[string]string{"id": uuid.NewString()}
	svc := &stubHistory{}

	rec, _ := serve(t, ResellerLocationHistory(svc, nil), newRequest(http.MethodGet, "/history", "", resellerActor(), params))
	if rec.Code != http.StatusOK || svc.days != telemetry.DefaultHistoryDays {
		t.Fatalf("default days: code=%d days=%d", rec.Code, svc.days)
	}

	rec, _ = serve(t, ResellerLocationHistory(svc, nil), newRequest(http.MethodGet, "/history?days=30", "", resellerActor(), params))
	if rec.Code != http.StatusOK || svc.days != 30 {
		t.Fatalf("days=30: code=%d days=%d", rec.Code, svc.days)
	}

	rec, _ = serve(t, ResellerLocationHistory(svc, nil), newRequest(http.MethodGet, "/history?days=91", "", resellerActor(), params))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("days=91: expected 400 got %d", rec.Code)
	}
}

func TestResellerListDevicesStatusFilter(t *testing.T) {
	svc := &stubDevices{}
	rec, _ := serve(t, ResellerListDevices(svc, nil), newRequest(http.MethodGet, "/api/reseller/devices?status=locked&limit=5", "", resellerActor(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.list.Status == nil || *svc.list.Status != enums.DeviceStatusLocked || svc.list.Limit != 5 {
		t.Fatalf("unexpected list input %+v", svc.list)
	}

	rec, _ = serve(t, ResellerListDevices(svc, nil), newRequest(http.MethodGet, "/api/reseller/devices?status=bogus", "", resellerActor(), nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestRoutesWithoutActorAreUnauthorized(t *testing.T) {
	rec, _ := serve(t, ResellerGenerateQR(&stubMinter{}, nil), newRequest(http.MethodPost, "/", "", nil, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}
