package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mdmvenezuela/mdm-backend/pkg/config"
	"github.com/mdmvenezuela/mdm-backend/pkg/db/models"
	"github.com/mdmvenezuela/mdm-backend/pkg/enums"
	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
	"github.com/mdmvenezuela/mdm-backend/pkg/metrics"
	"github.com/mdmvenezuela/mdm-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	Park(tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, at time.Time) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// publisher sends one message and blocks until Pub/Sub acknowledges it.
// Resume unblocks an ordering key after a failed publish.
type publisher interface {
	Send(ctx context.Context, msg *gcppubsub.Message) (string, error)
	Resume(orderingKey string)
}

type publisherSource interface {
	Publisher(topic string) publisher
	Stop()
}

// delivery is what happened to one outbox row in a relay pass.
type delivery int

const (
	delivered delivery = iota
	retryLater
	deadLettered
	heldBack
)

func (d delivery) label() string {
	switch d {
	case delivered:
		return metrics.DeliveryPublished
	case retryLater:
		return metrics.DeliveryRetried
	case deadLettered:
		return metrics.DeliveryDeadLettered
	default:
		return ""
	}
}

type RelayParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	PubSub        pubSubClient
	Repository    outboxRepository
	Registry      registryResolver
	DLQRepository dlqRepository
	Publishers    publisherSource
	Metrics       *metrics.OutboxMetrics
	Now           func() time.Time
}

// Relay moves committed device events from outbox_events to Pub/Sub.
type Relay struct {
	logg         *logger.Logger
	db           dbClient
	pubsub       pubSubClient
	repo         outboxRepository
	registry     registryResolver
	dlq          dlqRepository
	publishers   publisherSource
	metrics      *metrics.OutboxMetrics
	now          func() time.Time
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Config == nil:
		return nil, errors.New("config is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case p.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.DLQRepository == nil:
		return nil, errors.New("dlq repository is required")
	}

	publishers := p.Publishers
	if publishers == nil {
		publishers = newOrderedPublishers(p.PubSub)
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	cfg := p.Config.Outbox
	r := &Relay{
		logg:         p.Logger,
		db:           p.DB,
		pubsub:       p.PubSub,
		repo:         p.Repository,
		registry:     p.Registry,
		dlq:          p.DLQRepository,
		publishers:   publishers,
		metrics:      p.Metrics,
		now:          now,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	return r, nil
}

// Run polls until ctx is cancelled. A fully published batch is followed
// immediately by the next one and a failed batch backs off.
func (r *Relay) Run(ctx context.Context) error {
	defer r.publishers.Stop()

	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := r.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	backoff := r.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		published, err := r.relayBatch(ctx)
		wait := r.pollInterval
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			backoff = nextBackoff(backoff, r.pollInterval, maxBackoff)
			wait = backoff
		case published >= r.batchSize:
			backoff = r.pollInterval
			continue
		default:
			backoff = r.pollInterval
		}

		if err := sleep(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// relayBatch claims one batch and settles every row inside the same
// transaction, returning how many rows were published.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	published := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		if len(events) == 0 {
			r.metrics.SetLag(0)
			return nil
		}
		r.metrics.SetLag(r.now().Sub(events[0].CreatedAt))

		// A device whose earlier event failed keeps its later events queued
		// so subscribers never see them out of order.
		blocked := map[string]bool{}
		for _, event := range events {
			outcome, err := r.relayEvent(ctx, tx, event, blocked)
			if err != nil {
				return err
			}
			if outcome == delivered {
				published++
			}
			if label := outcome.label(); label != "" {
				r.metrics.IncDelivery(string(event.EventType), label)
			}
		}
		return nil
	})
	return published, err
}

func (r *Relay) relayEvent(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, blocked map[string]bool) (delivery, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	})

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return deadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	if resolved.OrderingKey != "" {
		if blocked[resolved.OrderingKey] {
			return heldBack, nil
		}
		ctx = r.logg.WithField(ctx, "device_id", resolved.OrderingKey)
	}

	err = r.publish(ctx, event, resolved)
	if err == nil {
		if err := r.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return delivered, fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(ctx, "device event published")
		return delivered, nil
	}

	var nonRetryable registry.NonRetryableError
	if errors.As(err, &nonRetryable) {
		return deadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}
	if event.AttemptCount+1 >= r.maxAttempts {
		err = fmt.Errorf("max publish attempts reached: %w", err)
		return deadLettered, r.deadLetter(ctx, tx, event, enums.OutboxDLQReasonMaxAttempts, err)
	}

	if resolved.OrderingKey != "" {
		blocked[resolved.OrderingKey] = true
	}
	r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "device event publish failed, will retry")
	if err := r.repo.MarkFailedTx(tx, event.ID, err); err != nil {
		return retryLater, fmt.Errorf("mark failure %s: %w", event.ID, err)
	}
	return retryLater, nil
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.publishers.Publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %q", topic))
	}

	msg := &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: resolved.OrderingKey,
		Attributes: map[string]string{
			"event_id":       event.ID.String(),
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"version":        strconv.Itoa(resolved.Envelope.Version),
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	started := r.now()
	_, err := pub.Send(publishCtx, msg)
	r.metrics.ObservePublish(r.now().Sub(started))
	if err != nil && msg.OrderingKey != "" {
		pub.Resume(msg.OrderingKey)
	}
	return err
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "device event moved to dlq")

	if err := r.dlq.Park(tx, event, reason, cause, r.now()); err != nil {
		return fmt.Errorf("park %s: %w", event.ID, err)
	}
	if err := r.repo.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < max {
		return next
	}
	return max
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

// orderedPublishers keeps one ordering-enabled Pub/Sub publisher per topic
// for the life of the relay.
type orderedPublishers struct {
	client pubSubClient

	mu     sync.Mutex
	topics map[string]*gcppubsub.Publisher
}

func newOrderedPublishers(client pubSubClient) *orderedPublishers {
	return &orderedPublishers{client: client, topics: map[string]*gcppubsub.Publisher{}}
}

func (o *orderedPublishers) Publisher(topic string) publisher {
	o.mu.Lock()
	defer o.mu.Unlock()

	p, ok := o.topics[topic]
	if !ok {
		p = o.client.Publisher(topic)
		if p == nil {
			return nil
		}
		p.EnableMessageOrdering = true
		o.topics[topic] = p
	}
	return gcpPublisher{p: p}
}

func (o *orderedPublishers) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for topic, p := range o.topics {
		p.Stop()
		delete(o.topics, topic)
	}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g gcpPublisher) Send(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	return g.p.Publish(ctx, msg).Get(ctx)
}

func (g gcpPublisher) Resume(orderingKey string) {
	g.p.ResumePublish(orderingKey)
}
