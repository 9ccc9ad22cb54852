package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "fedrelay/internal/errors"
	"fedrelay/internal/metrics"
	"fedrelay/internal/models"
	"fedrelay/internal/tracing"
	"fedrelay/pkg/federation"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// DeliveryStore is the persistence surface of the delivery worker.
type DeliveryStore interface {
	ClaimDeliveryBatch(ctx context.Context, batchSize int, reclaimAfter time.Duration) ([]models.ClaimedDelivery, error)
	MarkDelivered(ctx context.Context, id int64) error
	MarkDeliveryFailed(ctx context.Context, id int64, errMsg string) error
	AbandonDelivery(ctx context.Context, id int64, errMsg string) error
	ResetStaleDeliveries(ctx context.Context, threshold time.Duration) (int64, error)
}

// TickStats summarizes one delivery tick.
type TickStats struct {
	Reset     int64
	Claimed   int
	Delivered int
	Requeued  int
	Abandoned int
}

// DeliveryWorker drains the delivery queue on a fixed tick. Each tick sweeps
// stale processing rows back to pending, claims a batch, and POSTs each item
// to its target inbox with bounded concurrency. Transient failures re-queue
// the row; permanent rejections and exhausted retry budgets abandon it.
type DeliveryWorker struct {
	store   DeliveryStore
	client  federation.Client
	logger  *logrus.Logger
	metrics *metrics.Registry

	batchSize       int
	tickInterval    time.Duration
	reclaimAfter    time.Duration
	staleThreshold  time.Duration
	maxAttempts     int
	concurrency     int
	deliveryTimeout time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDeliveryWorker(store DeliveryStore, client federation.Client, cfg models.FederationConfig, registry *metrics.Registry, logger *logrus.Logger) *DeliveryWorker {
	return &DeliveryWorker{
		store:           store,
		client:          client,
		logger:          logger,
		metrics:         registry,
		batchSize:       cfg.DeliveryBatchSize,
		tickInterval:    time.Duration(cfg.TickIntervalSec) * time.Second,
		reclaimAfter:    time.Duration(cfg.ReclaimAfterMin) * time.Minute,
		staleThreshold:  time.Duration(cfg.StaleThresholdMin) * time.Minute,
		maxAttempts:     cfg.MaxDeliveryAttempts,
		concurrency:     cfg.DeliveryConcurrency,
		deliveryTimeout: time.Duration(cfg.DeliveryTimeoutSec) * time.Second,
	}
}

// Start launches the tick loop. Starting an already-running worker is an error.
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("delivery worker already running")
	}

	pollCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(pollCtx)

	w.logger.WithField("interval", w.tickInterval.String()).Info("Delivery worker started")
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (w *DeliveryWorker) Stop() {
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
	w.logger.Info("Delivery worker stopped")
}

func (w *DeliveryWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	// One tick immediately so a restart drains backlog without waiting a
	// full interval.
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *DeliveryWorker) tick(ctx context.Context) {
	stats, err := w.RunTick(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.WithError(err).Error("Delivery tick failed")
		w.metrics.IncrementCounter("delivery_tick_errors", nil, "Delivery ticks that failed outright")
		return
	}

	if stats.Claimed > 0 || stats.Reset > 0 {
		w.logger.WithFields(logrus.Fields{
			"reset":     stats.Reset,
			"claimed":   stats.Claimed,
			"delivered": stats.Delivered,
			"requeued":  stats.Requeued,
			"abandoned": stats.Abandoned,
		}).Info("Delivery tick completed")
	}
}

// RunTick performs one full delivery pass: crash recovery, claim, then
// concurrent delivery of the claimed batch. Book-keeping failures on
// individual items are logged and do not abort the rest of the batch.
func (w *DeliveryWorker) RunTick(ctx context.Context) (TickStats, error) {
	_, span := tracing.StartSpan(ctx, "delivery_tick")
	defer span.End()

	var stats TickStats

	reset, err := w.store.ResetStaleDeliveries(ctx, w.staleThreshold)
	if err != nil {
		return stats, fmt.Errorf("failed to reset stale deliveries: %w", err)
	}
	stats.Reset = reset
	if reset > 0 {
		w.logger.WithField("count", reset).Warn("Reset stale processing deliveries")
		w.metrics.AddToCounter("deliveries_reset_stale", float64(reset), nil, "Processing rows swept back to pending")
	}

	claimed, err := w.store.ClaimDeliveryBatch(ctx, w.batchSize, w.reclaimAfter)
	if err != nil {
		return stats, fmt.Errorf("failed to claim delivery batch: %w", err)
	}
	stats.Claimed = len(claimed)
	if len(claimed) == 0 {
		return stats, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for i := range claimed {
		item := claimed[i]
		g.Go(func() error {
			outcome := w.deliverOne(gctx, item)
			mu.Lock()
			switch outcome {
			case outcomeDelivered:
				stats.Delivered++
			case outcomeRequeued:
				stats.Requeued++
			case outcomeAbandoned:
				stats.Abandoned++
			}
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; Wait only propagates context cancellation.
	if err := g.Wait(); err != nil {
		return stats, err
	}

	w.metrics.AddToCounter("deliveries_succeeded", float64(stats.Delivered), nil, "Activities accepted by remote inboxes")
	w.metrics.AddToCounter("deliveries_requeued", float64(stats.Requeued), nil, "Deliveries re-queued after transient failure")
	w.metrics.AddToCounter("deliveries_abandoned", float64(stats.Abandoned), nil, "Deliveries terminally failed")

	span.SetAttributes(
		attribute.Int("delivery.claimed", stats.Claimed),
		attribute.Int("delivery.delivered", stats.Delivered),
		attribute.Int("delivery.requeued", stats.Requeued),
		attribute.Int("delivery.abandoned", stats.Abandoned),
	)

	return stats, nil
}

type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeRequeued
	outcomeAbandoned
)

func (w *DeliveryWorker) deliverOne(ctx context.Context, item models.ClaimedDelivery) deliveryOutcome {
	deliverCtx, cancel := context.WithTimeout(ctx, w.deliveryTimeout)
	defer cancel()

	err := w.client.Deliver(deliverCtx, federation.DeliveryRequest{
		TargetInboxURL: item.TargetInboxURL,
		LocalUserID:    item.LocalUserID,
		ActivityID:     item.ActivityID,
		Payload:        []byte(item.ActivityPayload),
	})
	if err == nil {
		if markErr := w.store.MarkDelivered(ctx, item.ID); markErr != nil {
			// The POST landed; a stale-sweep will re-claim and re-deliver,
			// which the remote must tolerate as a duplicate.
			w.logger.WithError(markErr).WithField("id", item.ID).Error("Failed to mark delivery delivered")
		}
		return outcomeDelivered
	}

	attempts := item.RetryCount + 1
	retryable := apperrors.IsRetryable(err)

	logEntry := w.logger.WithFields(logrus.Fields{
		"inbox":       item.TargetInboxURL,
		"activity_id": item.ActivityID,
		"attempts":    attempts,
	}).WithError(err)

	if !retryable || attempts >= w.maxAttempts {
		if abandonErr := w.store.AbandonDelivery(ctx, item.ID, err.Error()); abandonErr != nil {
			w.logger.WithError(abandonErr).WithField("id", item.ID).Error("Failed to abandon delivery")
		}
		if retryable {
			logEntry.Error("Delivery abandoned after exhausting retry budget")
		} else {
			logEntry.Warn("Delivery rejected by remote inbox")
		}
		return outcomeAbandoned
	}

	if failErr := w.store.MarkDeliveryFailed(ctx, item.ID, err.Error()); failErr != nil {
		w.logger.WithError(failErr).WithField("id", item.ID).Error("Failed to re-queue delivery")
	}
	logEntry.Warn("Delivery failed, re-queued")
	return outcomeRequeued
}
