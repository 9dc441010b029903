package cron

import (
	"context"
	"errors"
	"time"

	"github.com/mdmvenezuela/mdm-backend/pkg/logger"
)

const (
	defaultOfflineAfter      = 10 * time.Minute
	defaultLocationRetention = 90 * 24 * time.Hour
	defaultOutboxRetention   = 30 * 24 * time.Hour
)

// cutoffJob applies a bulk update or delete to rows older than now-age.
type cutoffJob struct {
	name    string
	logg    *logger.Logger
	age     time.Duration
	apply   func(ctx context.Context, cutoff time.Time) (int64, error)
	counted string
	now     func() time.Time
}

func newCutoffJob(name string, logg *logger.Logger, age, fallback time.Duration, counted string,
	apply func(context.Context, time.Time) (int64, error)) (*cutoffJob, error) {
	if logg == nil {
		return nil, errors.New(name + ": logger required")
	}
	if age <= 0 {
		age = fallback
	}
	return &cutoffJob{name: name, logg: logg, age: age, apply: apply, counted: counted, now: time.Now}, nil
}

func (j *cutoffJob) Name() string { return j.name }

func (j *cutoffJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.age)
	n, err := j.apply(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{"cutoff": cutoff, j.counted: n}), j.name+" complete")
	}
	return nil
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

type offlineMarker interface {
	MarkOfflineBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type PresenceSweepJobParams struct {
	Logger       *logger.Logger
	Devices      offlineMarker
	OfflineAfter time.Duration
}

// NewPresenceSweepJob flips devices to offline once they have been silent
// for longer than OfflineAfter.
func NewPresenceSweepJob(params PresenceSweepJobParams) (Job, error) {
	if params.Devices == nil {
		return nil, errors.New("presence-sweep: device repository required")
	}
	return newCutoffJob("presence-sweep", params.Logger, params.OfflineAfter, defaultOfflineAfter,
		"devices_offline", params.Devices.MarkOfflineBefore)
}

type locationPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type LocationRetentionJobParams struct {
	Logger    *logger.Logger
	Locations locationPurger
	Days      int
}

// NewLocationRetentionJob deletes location history older than Days.
func NewLocationRetentionJob(params LocationRetentionJobParams) (Job, error) {
	if params.Locations == nil {
		return nil, errors.New("location-retention: location repository required")
	}
	return newCutoffJob("location-retention", params.Logger, days(params.Days), defaultLocationRetention,
		"rows_deleted", params.Locations.DeleteBefore)
}

type outboxPurger interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxPurger
	Days       int
}

// NewOutboxRetentionJob removes outbox rows published more than Days ago.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Repository == nil {
		return nil, errors.New("outbox-retention: outbox repository required")
	}
	return newCutoffJob("outbox-retention", params.Logger, days(params.Days), defaultOutboxRetention,
		"rows_deleted", params.Repository.DeletePublishedBefore)
}
