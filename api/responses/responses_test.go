package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/mdmvenezuela/mdm-backend/pkg/errors"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) Body {
	t.Helper()
	var body errorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"imei": "356938035643809"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"data":{"imei":"356938035643809"}}`, w.Body.String())
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, []string{})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"data":[]}`, w.Body.String())
}

func TestWriteErrorMapsValidationDetails(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "imei must be 14 to 17 digits").
		WithDetails(map[string]string{"field": "imei"})
	WriteError(context.Background(), nil, w, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Equal(t, "imei must be 14 to 17 digits", apiErr.Message)
	assert.Equal(t, map[string]any{"field": "imei"}, apiErr.Details)
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), logger.New(logger.Options{ServiceName: "test"}), w, errors.New(`pq: relation "devices" does not exist`))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, "INTERNAL_ERROR", apiErr.Code)
	assert.Equal(t, "internal server error", apiErr.Message)
	assert.Nil(t, apiErr.Details)
}

func TestWriteErrorKeepsConflictMessageAndReason(t *testing.T) {
	w := httptest.NewRecorder()
	err := fmt.Errorf("enroll: %w", pkgerrors.Rejected("invalid_or_expired_token", "invalid or expired enrollment token"))
	WriteError(context.Background(), nil, w, err)

	assert.Equal(t, http.StatusConflict, w.Code)
	apiErr := decodeError(t, w)
	assert.Equal(t, "invalid or expired enrollment token", apiErr.Message)
	assert.Equal(t, map[string]any{"reason": "invalid_or_expired_token"}, apiErr.Details)
}

func TestWriteErrorUsesPublicMessageForDependencyFailures(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("dial tcp: refused"), "redis unavailable")
	WriteError(context.Background(), nil, w, err)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "dependency unavailable", decodeError(t, w).Message)
}

func TestWriteErrorNilError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
