package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mdmvenezuela/mdm-backend/api/responses"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

// identityPeekBytes bounds how much of the body is buffered to find the
// identity field; larger bodies are still forwarded untouched.
const identityPeekBytes = 16 << 10

// RateLimitStore counts hits in a fixed window.
type RateLimitStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(scope string) string
}

// RateLimitPolicy throttles an unauthenticated surface per client IP and,
// when Field is set, per value of that top-level JSON body field. A zero
// limit disables that dimension.
type RateLimitPolicy struct {
	Name     string
	Window   time.Duration
	PerIP    int
	Field    string
	PerField int
}

type rateCounter struct {
	dimension string
	value     string
	limit     int
}

func (p RateLimitPolicy) active() bool {
	return p.Window > 0 && (p.PerIP > 0 || (p.Field != "" && p.PerField > 0))
}

func (p RateLimitPolicy) scope() string {
	if name := strings.ToLower(strings.TrimSpace(p.Name)); name != "" {
		return name
	}
	return "public"
}

// RateLimit rejects with 429 once any counter of policy exceeds its limit
// inside the window. Identities are hashed before they reach Redis or logs.
func RateLimit(policy RateLimitPolicy, store RateLimitStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.active() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			counters, err := policy.counters(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			for _, c := range counters {
				key := store.RateLimitKey(policy.scope() + ":" + c.dimension + ":" + c.value)
				count, err := store.IncrWithTTL(r.Context(), key, policy.Window)
				if err != nil {
					responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
					return
				}
				if count > int64(c.limit) {
					policy.reject(r.Context(), logg, w, c, count)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// counters lists the dimensions that apply to r. Reading the identity
// field restores r.Body for the next handler.
func (p RateLimitPolicy) counters(r *http.Request) ([]rateCounter, error) {
	var out []rateCounter
	if p.PerIP > 0 {
		if ip := clientIP(r); ip != "" {
			out = append(out, rateCounter{dimension: "ip", value: ip, limit: p.PerIP})
		}
	}
	if p.Field == "" || p.PerField <= 0 || r.Body == nil {
		return out, nil
	}

	head, err := io.ReadAll(io.LimitReader(r.Body, identityPeekBytes))
	if err != nil {
		return nil, err
	}
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}

	if id := identityOf(head, p.Field); id != "" {
		out = append(out, rateCounter{dimension: p.Field, value: digest(id), limit: p.PerField})
	}
	return out, nil
}

func (p RateLimitPolicy) reject(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, c rateCounter, count int64) {
	if logg != nil {
		fields := map[string]any{
			"policy":         p.scope(),
			"dimension":      c.dimension,
			"attempts":       count,
			"limit":          c.limit,
			"window_seconds": int(p.Window.Seconds()),
		}
		if c.dimension == "ip" {
			fields["ip"] = c.value
		} else {
			fields["identity_hash"] = c.value
		}
		logg.Warn(logg.WithFields(ctx, fields), "rate_limit.blocked")
	}
	w.Header().Set("Retry-After", strconv.Itoa(max(1, int(p.Window.Seconds()))))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

// clientIP trusts the first X-Forwarded-For hop; the API runs behind a
// single reverse proxy that overwrites the header.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// identityOf reads a string field from a JSON object, ignoring case and
// padding. Other types yield no identity; the handler rejects them anyway.
func identityOf(body []byte, field string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(obj[field], &s); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(s))
}

func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
