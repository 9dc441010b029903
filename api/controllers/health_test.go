package controllers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthLive(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec, env := serve(t, HealthLive(func() time.Time { return fixed }), newRequest(http.MethodGet, "/health", "", nil, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if string(env.Data) != `{"status":"OK","timestamp":"2026-01-02T03:04:05Z"}` {
		t.Fatalf("unexpected body %s", string(env.Data))
	}
}

func TestHealthReady(t *testing.T) {
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	rec, _ := serve(t, HealthReady(map[string]Pinger{"db": ok, "redis": ok}, nil), newRequest(http.MethodGet, "/health/ready", "", nil, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec, _ = serve(t, HealthReady(map[string]Pinger{"db": ok, "redis": down}, nil), newRequest(http.MethodGet, "/health/ready", "", nil, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}
