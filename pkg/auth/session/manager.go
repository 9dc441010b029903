// Package session tracks refresh sessions in Redis, one per access token
// jti. An access token is only honored while its session exists, so logout
// and rotation take effect before the JWT expires.
package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redislib "github.com/redis/go-redis/v9"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	redisclient "github.com/mdmvenezuela/mdm-backend/pkg/redis"
	"github.com/mdmvenezuela/mdm-backend/pkg/types"
)

const refreshTokenBytes = 32

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	errAccessIDRequired    = errors.New("access id is required")
)

type store interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	// ReleaseIfOwner deletes key only while it still holds value.
	ReleaseIfOwner(ctx context.Context, key, value string) (bool, error)
	AccessSessionKey(accessID string) string
}

// AccessSessionChecker is what the auth middleware needs.
type AccessSessionChecker interface {
	HasSession(ctx context.Context, accessID string) (bool, error)
}

// record is bound to its principal so a leaked refresh token cannot be
// replayed against another account. Only a hash of the token is stored.
type record struct {
	TokenHash string     `json:"token_sha256"`
	SubjectID uuid.UUID  `json:"subject_id"`
	Role      enums.Role `json:"role"`
}

type Manager struct {
	store store
	ttl   time.Duration
}

// NewManager requires the refresh TTL to outlive the access TTL; otherwise
// a client could never refresh.
func NewManager(client *redisclient.Client, cfg config.JWTConfig) (*Manager, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	ttl := cfg.RefreshTokenTTL()
	accessTTL := time.Duration(cfg.ExpirationMinutes) * time.Minute
	if ttl <= 0 || ttl <= accessTTL {
		return nil, fmt.Errorf("refresh token ttl (%s) must exceed access token ttl (%s)", ttl, accessTTL)
	}
	return &Manager{store: client, ttl: ttl}, nil
}

// NewAccessID produces the identifier used as the JWT jti and session key.
func NewAccessID() string {
	return uuid.NewString()
}

// Generate opens a session for actor under accessID and returns the
// refresh token the client must present to rotate it.
func (m *Manager) Generate(ctx context.Context, accessID string, actor types.Actor) (string, error) {
	if strings.TrimSpace(accessID) == "" {
		return "", errAccessIDRequired
	}
	if actor.ID == uuid.Nil || !actor.Role.IsValid() {
		return "", errors.New("session actor is required")
	}
	token, err := newRefreshToken()
	if err != nil {
		return "", err
	}
	if err := m.save(ctx, accessID, record{TokenHash: hashToken(token), SubjectID: actor.ID, Role: actor.Role}); err != nil {
		return "", err
	}
	return token, nil
}

// Rotate exchanges the session under oldAccessID for a new access id and
// refresh token. The old session is claimed with a compare-and-delete, so
// of two concurrent refreshes with the same token only one succeeds.
func (m *Manager) Rotate(ctx context.Context, oldAccessID, provided string, actor types.Actor) (string, string, error) {
	if strings.TrimSpace(oldAccessID) == "" || strings.TrimSpace(provided) == "" {
		return "", "", ErrInvalidRefreshToken
	}

	key := m.store.AccessSessionKey(oldAccessID)
	raw, rec, err := m.load(ctx, key)
	if err != nil {
		return "", "", err
	}
	if !rec.matches(provided, actor) {
		return "", "", ErrInvalidRefreshToken
	}
	claimed, err := m.store.ReleaseIfOwner(ctx, key, raw)
	if err != nil {
		return "", "", fmt.Errorf("claim session: %w", err)
	}
	if !claimed {
		return "", "", ErrInvalidRefreshToken
	}

	accessID := NewAccessID()
	token, err := newRefreshToken()
	if err != nil {
		return "", "", err
	}
	if err := m.save(ctx, accessID, record{TokenHash: hashToken(token), SubjectID: rec.SubjectID, Role: rec.Role}); err != nil {
		return "", "", err
	}
	return accessID, token, nil
}

func (m *Manager) Revoke(ctx context.Context, accessID string) error {
	if strings.TrimSpace(accessID) == "" {
		return errAccessIDRequired
	}
	return m.store.Del(ctx, m.store.AccessSessionKey(accessID))
}

func (m *Manager) HasSession(ctx context.Context, accessID string) (bool, error) {
	if strings.TrimSpace(accessID) == "" {
		return false, errAccessIDRequired
	}
	_, err := m.store.Get(ctx, m.store.AccessSessionKey(accessID))
	switch {
	case errors.Is(err, redislib.Nil):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (r record) matches(token string, actor types.Actor) bool {
	sameToken := subtle.ConstantTimeCompare([]byte(r.TokenHash), []byte(hashToken(token))) == 1
	return sameToken && r.SubjectID == actor.ID && r.Role == actor.Role
}

func (m *Manager) save(ctx context.Context, accessID string, rec record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return m.store.Set(ctx, m.store.AccessSessionKey(accessID), string(raw), m.ttl)
}

// load returns the stored value verbatim alongside its decoded form; the
// raw string is what the compare-and-delete matches on.
func (m *Manager) load(ctx context.Context, key string) (string, record, error) {
	raw, err := m.store.Get(ctx, key)
	if errors.Is(err, redislib.Nil) {
		return "", record{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return "", record{}, err
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.TokenHash == "" {
		return "", record{}, ErrInvalidRefreshToken
	}
	return raw, rec, nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
