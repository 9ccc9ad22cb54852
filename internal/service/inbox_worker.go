package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fedrelay/internal/metrics"
	"fedrelay/internal/models"
	"fedrelay/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// InboxIngest is the enqueue side of the inbox queue, used by the HTTP
// ingress handler.
type InboxIngest interface {
	EnqueueInboxActivity(ctx context.Context, activity *models.InboxActivity) error
}

// InboxStore is the persistence surface of the inbox worker.
type InboxStore interface {
	ClaimInboxBatch(ctx context.Context, batchSize int) ([]models.InboxActivity, error)
	MarkInboxProcessed(ctx context.Context, id int64) error
	MarkInboxFailed(ctx context.Context, id int64, errMsg string) error
	CountStuckInboxActivities(ctx context.Context, grace time.Duration) (int64, error)
}

// ActivityApplier applies one activity type the worker has no built-in
// handling for (Create, Announce, Like and anything else domain-specific).
type ActivityApplier func(ctx context.Context, activity models.InboxActivity) error

// InboxTickStats summarizes one inbox tick.
type InboxTickStats struct {
	Claimed   int
	Processed int
	Failed    int
}

// InboxWorker drains received activities on a fixed tick. Claimed rows are
// applied sequentially in arrival order and always resolved terminally:
// processed on success, failed on error, with no automatic retry. Follow
// protocol activities route to the follow state machine; everything else goes
// through the pluggable applier.
type InboxWorker struct {
	store      InboxStore
	follows    *FollowService
	applier    ActivityApplier
	logger     *logrus.Logger
	metrics    *metrics.Registry
	batchSize  int
	tick       time.Duration
	stuckGrace time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewInboxWorker(store InboxStore, follows *FollowService, applier ActivityApplier, cfg models.FederationConfig, stuckGrace time.Duration, registry *metrics.Registry, logger *logrus.Logger) *InboxWorker {
	return &InboxWorker{
		store:      store,
		follows:    follows,
		applier:    applier,
		logger:     logger,
		metrics:    registry,
		batchSize:  cfg.InboxBatchSize,
		tick:       time.Duration(cfg.TickIntervalSec) * time.Second,
		stuckGrace: stuckGrace,
	}
}

// Start launches the tick loop. Starting an already-running worker is an error.
func (w *InboxWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("inbox worker already running")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(pollCtx)

	w.logger.WithField("interval", w.tick.String()).Info("Inbox worker started")
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (w *InboxWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	w.logger.Info("Inbox worker stopped")
}

func (w *InboxWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *InboxWorker) runOnce(ctx context.Context) {
	stats, err := w.RunTick(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.WithError(err).Error("Inbox tick failed")
		w.metrics.IncrementCounter("inbox_tick_errors", nil, "Inbox ticks that failed outright")
		return
	}

	if stats.Claimed > 0 {
		w.logger.WithFields(logrus.Fields{
			"claimed":   stats.Claimed,
			"processed": stats.Processed,
			"failed":    stats.Failed,
		}).Info("Inbox tick completed")
	}
}

// RunTick claims one batch and applies it in order. A failed item is recorded
// and skipped; it never blocks later items. Rows stuck at processing past the
// grace period surface as a gauge for operators.
func (w *InboxWorker) RunTick(ctx context.Context) (InboxTickStats, error) {
	_, span := tracing.StartSpan(ctx, "inbox_tick")
	defer span.End()

	var stats InboxTickStats

	claimed, err := w.store.ClaimInboxBatch(ctx, w.batchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to claim inbox batch: %w", err)
	}
	stats.Claimed = len(claimed)

	for _, activity := range claimed {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if applyErr := w.applyActivity(ctx, activity); applyErr != nil {
			w.logger.WithFields(logrus.Fields{
				"activity_id":   activity.ActivityID,
				"activity_type": activity.ActivityType,
				"remote_actor":  activity.RemoteActorID,
			}).WithError(applyErr).Error("Failed to apply inbox activity")

			if markErr := w.store.MarkInboxFailed(ctx, activity.ID, applyErr.Error()); markErr != nil {
				w.logger.WithError(markErr).WithField("id", activity.ID).Error("Failed to mark inbox activity failed")
			}
			stats.Failed++
			continue
		}

		if markErr := w.store.MarkInboxProcessed(ctx, activity.ID); markErr != nil {
			w.logger.WithError(markErr).WithField("id", activity.ID).Error("Failed to mark inbox activity processed")
		}
		stats.Processed++
	}

	w.metrics.AddToCounter("inbox_processed", float64(stats.Processed), nil, "Inbox activities applied")
	w.metrics.AddToCounter("inbox_failed", float64(stats.Failed), nil, "Inbox activities that failed to apply")

	span.SetAttributes(
		attribute.Int("inbox.claimed", stats.Claimed),
		attribute.Int("inbox.processed", stats.Processed),
		attribute.Int("inbox.failed", stats.Failed),
	)

	if stuck, err := w.store.CountStuckInboxActivities(ctx, w.stuckGrace); err != nil {
		w.logger.WithError(err).Warn("Failed to count stuck inbox activities")
	} else {
		w.metrics.SetGauge("inbox_stuck", float64(stuck), nil, "Inbox rows left at processing beyond the grace period")
	}

	return stats, nil
}

func (w *InboxWorker) applyActivity(ctx context.Context, activity models.InboxActivity) error {
	switch activity.ActivityType {
	case models.ActivityTypeFollow:
		return w.follows.HandleFollow(ctx, activity.LocalUserID, activity.RemoteActorID, activity.ActivityID)
	case models.ActivityTypeAccept:
		return w.follows.HandleAccept(ctx, activity.LocalUserID, activity.RemoteActorID)
	case models.ActivityTypeUndo:
		return w.follows.HandleUndo(ctx, activity.LocalUserID, activity.RemoteActorID)
	default:
		if w.applier == nil {
			// Nothing to do for this type; resolving it as processed keeps
			// the queue from silting up.
			return nil
		}
		return w.applier(ctx, activity)
	}
}
