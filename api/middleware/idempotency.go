package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mdmvenezuela/mdm-backend/api/responses"
	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	pkgredis "github.com/mdmvenezuela/mdm-backend/pkg/redis"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	replayedHeader     = "Idempotent-Replayed"
	maxIdempotencyKey  = 128
	maxIdempotentBody  = 1 << 20
	inFlightTTL        = 2 * time.Minute
	inFlightRetryAfter = "1"
)

// IdempotencyPolicy says how long a completed response is replayed and
// whether the header is mandatory.
type IdempotencyPolicy struct {
	TTL      time.Duration
	Required bool
}

var (
	// ProvisioningIdempotency guards reseller creation and license grants,
	// where a replayed request would mint a second batch of licenses.
	ProvisioningIdempotency = IdempotencyPolicy{TTL: 7 * 24 * time.Hour, Required: true}
	// CommandIdempotency is honored when a panel sends a key with a device
	// command or QR request.
	CommandIdempotency = IdempotencyPolicy{TTL: 24 * time.Hour}
)

type recordState string

const (
	statePending  recordState = "pending"
	stateComplete recordState = "complete"
)

type idempotencyRecord struct {
	State       recordState `json:"state"`
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        string      `json:"body,omitempty"`
}

// Idempotent makes a mutating route safe to retry. The first request with
// a key claims it with a pending marker; duplicates arriving while it runs
// get 409 with Retry-After, later ones get the stored response. 5xx
// responses release the key so the client can retry.
func Idempotent(policy IdempotencyPolicy, store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "" && !policy.Required:
				next.ServeHTTP(w, r)
				return
			case clientKey == "":
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKey:
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key is too long"))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body could not be read"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := requestHash(body)
			key := store.IdempotencyKey(idempotencyScope(r), clientKey)

			pending, _ := json.Marshal(idempotencyRecord{State: statePending, RequestHash: hash})
			claimed, err := store.SetNX(ctx, key, string(pending), inFlightTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !claimed {
				replay(w, r, store, key, hash, logg)
				return
			}

			// the marker is settled even when the request was cancelled or panicked
			keep := context.WithoutCancel(ctx)
			finished := false
			defer func() {
				if !finished {
					release(keep, store, key, logg)
				}
			}()

			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r)
			finished = true

			// a timed-out handler that wrote nothing gets its 504 from an outer
			// middleware, so there is no response worth replaying
			if capture.statusCode() >= http.StatusInternalServerError || (capture.status == 0 && ctx.Err() != nil) {
				release(keep, store, key, logg)
				return
			}
			done, _ := json.Marshal(idempotencyRecord{
				State:       stateComplete,
				RequestHash: hash,
				Status:      capture.statusCode(),
				ContentType: capture.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
			})
			if err := store.Set(keep, key, string(done), policy.TTL); err != nil {
				logg.Error(keep, "store idempotent response", err)
			}
		})
	}
}

// release drops the pending marker so the client can retry with the same key.
func release(ctx context.Context, store pkgredis.IdempotencyStore, key string, logg *logger.Logger) {
	if err := store.Del(ctx, key); err != nil {
		logg.Error(ctx, "release idempotency key", err)
	}
}

func replay(w http.ResponseWriter, r *http.Request, store pkgredis.IdempotencyStore, key, hash string, logg *logger.Logger) {
	ctx := r.Context()
	raw, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// the first request failed and released the key between our calls
		w.Header().Set("Retry-After", inFlightRetryAfter)
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this key is still being processed"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	switch {
	case rec.RequestHash != hash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request body"))
	case rec.State == statePending:
		w.Header().Set("Retry-After", inFlightRetryAfter)
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this key is still being processed"))
	default:
		body, err := base64.StdEncoding.DecodeString(rec.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
			return
		}
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(replayedHeader, "true")
		w.WriteHeader(rec.Status)
		_, _ = w.Write(body)
	}
}

// idempotencyScope keys records per caller and endpoint so two resellers
// can pick the same key.
func idempotencyScope(r *http.Request) string {
	caller := "anonymous"
	if actor, ok := ActorFromContext(r.Context()); ok {
		caller = actor.ID.String()
	}
	return caller + "|" + r.Method + "|" + r.URL.Path
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
