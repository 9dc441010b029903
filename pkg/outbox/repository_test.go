package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdmvenezuela/mdm-backend/pkg/db/dbtest"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

func TestEmitStoresEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))

	deviceID := uuid.New()
	actor := &ActorRef{ID: uuid.New(), Role: "reseller"}
	require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventDeviceLocked,
		AggregateType: enums.AggregateDevice,
		AggregateID:   deviceID,
		Actor:         actor,
		Data:          map[string]string{"message": "overdue"},
	}))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, deviceID, rows[0].AggregateID)

	envelope, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, EnvelopeVersion, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor.ID, envelope.Actor.ID)
	assert.JSONEq(t, `{"message":"overdue"}`, string(envelope.Data))

	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
}

func TestEmitRejectsMalformedEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	valid := DomainEvent{
		EventType:     enums.EventDeviceEnrolled,
		AggregateType: enums.AggregateDevice,
		AggregateID:   uuid.New(),
		Data:          map[string]string{"imei": "356938035643809"},
	}

	for name, mutate := range map[string]func(*DomainEvent){
		"event type":     func(e *DomainEvent) { e.EventType = "device_wiped" },
		"aggregate type": func(e *DomainEvent) { e.AggregateType = "reseller" },
		"aggregate id":   func(e *DomainEvent) { e.AggregateID = uuid.Nil },
		"data":           func(e *DomainEvent) { e.Data = nil },
	} {
		event := valid
		mutate(&event)
		assert.Error(t, svc.Emit(context.Background(), conn, event), name)
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)

	require.NoError(t, svc.Emit(context.Background(), conn, valid))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	dlq := NewDLQRepository(conn)

	insert := func(attempts int) models.OutboxEvent {
		row := models.OutboxEvent{
			EventType:     enums.EventDeviceEnrolled,
			AggregateType: enums.AggregateDevice,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":1,"data":{}}`),
			AttemptCount:  attempts,
		}
		require.NoError(t, repo.Insert(conn, row))
		var stored models.OutboxEvent
		require.NoError(t, conn.Where("aggregate_id = ?", row.AggregateID).First(&stored).Error)
		return stored
	}
	first := insert(0)
	second := insert(0)
	exhausted := insert(5)

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)

	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))
	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New("timeout")))

	var failed models.OutboxEvent
	require.NoError(t, conn.Where("id = ?", second.ID).First(&failed).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "timeout", *failed.LastError)

	cause := errors.New(strings.Repeat("x", 2000))
	require.NoError(t, dlq.Park(conn, exhausted, enums.OutboxDLQReasonMaxAttempts, cause, time.Now()))
	require.NoError(t, dlq.Park(conn, exhausted, enums.OutboxDLQReasonNonRetryable, cause, time.Now()), "second park is a no-op")
	assert.Error(t, dlq.Park(conn, exhausted, "gave_up", cause, time.Now()))
	require.NoError(t, repo.MarkTerminalTx(conn, exhausted.ID, errors.New("gone"), 5))
	parked, err := dlq.Get(context.Background(), exhausted.ID)
	require.NoError(t, err)
	require.NotNil(t, parked)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, parked.ErrorReason)
	assert.Equal(t, 5, parked.AttemptCount)
	require.NotNil(t, parked.ErrorMessage)
	assert.Len(t, *parked.ErrorMessage, maxLastErrorLen)

	missing, err := dlq.Get(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)

	deleted, err := repo.DeletePublishedBefore(context.Background(), time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
