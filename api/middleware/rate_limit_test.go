package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
)

type memoryRateStore struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newMemoryRateStore() *memoryRateStore {
	return &memoryRateStore{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (m *memoryRateStore) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	m.ttls[key] = ttl
	return m.counts[key], nil
}

func (m *memoryRateStore) RateLimitKey(scope string) string {
	return "rl:" + scope
}

var loginPolicy = RateLimitPolicy{Name: "login", Window: time.Minute, PerIP: 100, Field: "username", PerField: 2}

func post(h http.Handler, path, remote, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if remote != "" {
		req.RemoteAddr = remote
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitForwardsBodyIntact(t *testing.T) {
	body := `{"username":"tecno","password":"secret"}`
	var seen string
	h := RateLimit(loginPolicy, newMemoryRateStore(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(raw)
	}))

	post(h, "/api/auth/reseller/login", "1.2.3.4:5678", body)
	assert.Equal(t, body, seen)

	big := `{"username":"tecno","note":"` + strings.Repeat("x", identityPeekBytes) + `"}`
	post(h, "/api/auth/reseller/login", "1.2.3.4:5678", big)
	assert.Equal(t, big, seen, "bodies beyond the peek window are forwarded whole")
}

func TestRateLimitIdentityIgnoresCaseAndPadding(t *testing.T) {
	store := newMemoryRateStore()
	h := RateLimit(loginPolicy, store, nil)(okHandler())

	assert.Equal(t, http.StatusOK, post(h, "/login", "", `{"username":"Tecno"}`).Code)
	assert.Equal(t, http.StatusOK, post(h, "/login", "", `{"username":" tecno "}`).Code)

	rec := post(h, "/login", "", `{"username":"TECNO"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), string(pkgerrors.CodeRateLimit))

	for key := range store.counts {
		assert.NotContains(t, key, "tecno", "identities are hashed")
	}
}

func TestRateLimitCountsOnlyStringIMEIs(t *testing.T) {
	store := newMemoryRateStore()
	policy := RateLimitPolicy{Name: "device-register", Window: time.Minute, Field: "imei", PerField: 1}
	h := RateLimit(policy, store, nil)(okHandler())

	assert.Equal(t, http.StatusOK, post(h, "/api/device/register", "", `{"token":"t","imei":"356938035643809"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(h, "/api/device/register", "", `{"token":"t","imei":"356938035643809"}`).Code)
	assert.Equal(t, http.StatusOK, post(h, "/api/device/register", "", `{"token":"t","imei":"490154203237518"}`).Code)
	require.Len(t, store.counts, 2)

	// unquoted IMEIs fail request validation downstream and are not counted
	assert.Equal(t, http.StatusOK, post(h, "/api/device/register", "", `{"token":"t","imei":356938035643809}`).Code)
	assert.Len(t, store.counts, 2)

	for key, ttl := range store.ttls {
		assert.True(t, strings.HasPrefix(key, "rl:device-register:imei:"), key)
		assert.Equal(t, time.Minute, ttl)
	}
}

func TestIdentityOf(t *testing.T) {
	assert.Equal(t, "tecno", identityOf([]byte(`{"username":" TECNO "}`), "username"))
	assert.Empty(t, identityOf([]byte(`{"imei":356938035643809}`), "imei"))
	assert.Empty(t, identityOf([]byte(`{"username":null}`), "username"))
	assert.Empty(t, identityOf([]byte(`{}`), "username"))
	assert.Empty(t, identityOf([]byte(`not json`), "username"))
}

func TestRateLimitPerIP(t *testing.T) {
	policy := RateLimitPolicy{Name: "login", Window: time.Minute, PerIP: 1}
	h := RateLimit(policy, newMemoryRateStore(), nil)(okHandler())

	assert.Equal(t, http.StatusOK, post(h, "/login", "5.6.7.8:1234", `{}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(h, "/login", "5.6.7.8:9999", `{}`).Code)
	assert.Equal(t, http.StatusOK, post(h, "/login", "9.9.9.9:1234", `{}`).Code)
}

func TestRateLimitInactivePolicyPassesThrough(t *testing.T) {
	for name, policy := range map[string]RateLimitPolicy{
		"no window":         {Name: "login", PerIP: 1, Field: "username", PerField: 1},
		"field without cap": {Name: "login", Window: time.Minute, Field: "username"},
	} {
		t.Run(name, func(t *testing.T) {
			store := newMemoryRateStore()
			h := RateLimit(policy, store, nil)(okHandler())
			for i := 0; i < 3; i++ {
				assert.Equal(t, http.StatusOK, post(h, "/login", "", `{"username":"a"}`).Code)
			}
			assert.Empty(t, store.counts)
		})
	}
}

func TestRateLimitStoreFailure(t *testing.T) {
	store := newMemoryRateStore()
	store.err = errors.New("redis: connection refused")
	h := RateLimit(loginPolicy, store, nil)(okHandler())

	rec := post(h, "/login", "1.2.3.4:1", `{"username":"a"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), string(pkgerrors.CodeDependency))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:80"
	req.Header.Set("X-Forwarded-For", " 200.1.2.3 , 10.0.0.2")
	assert.Equal(t, "200.1.2.3", clientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "190.0.0.7")
	assert.Equal(t, "190.0.0.7", clientIP(req))

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "10.0.0.1", clientIP(req))
}
