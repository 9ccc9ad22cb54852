package service

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "fedrelay/internal/errors"
	"fedrelay/internal/metrics"
	"fedrelay/internal/models"
	"fedrelay/pkg/federation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testFederationConfig() models.FederationConfig {
	return models.FederationConfig{
		Domain:              "local.example",
		DeliveryBatchSize:   10,
		TickIntervalSec:     300,
		ReclaimAfterMin:     5,
		StaleThresholdMin:   5,
		MaxDeliveryAttempts: 3,
		DeliveryConcurrency: 2,
		DeliveryTimeoutSec:  5,
	}
}

func claimedDelivery(id int64, inbox string, retryCount int) models.ClaimedDelivery {
	return models.ClaimedDelivery{
		DeliveryQueueItem: models.DeliveryQueueItem{
			ID:             id,
			ActivityID:     "https://local.example/activities/1",
			TargetInboxURL: inbox,
			Status:         models.DeliveryStatusProcessing,
			RetryCount:     retryCount,
		},
		LocalUserID:     "alice",
		ActivityType:    models.ActivityTypeCreate,
		ActivityPayload: `{"type":"Create"}`,
	}
}

func TestDeliveryWorkerRunTick(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers the claimed batch", func(t *testing.T) {
		store := &mockDeliveryStore{}
		client := &mockDeliveryClient{}

		batch := []models.ClaimedDelivery{
			claimedDelivery(1, "https://a.example/inbox", 0),
			claimedDelivery(2, "https://b.example/inbox", 0),
		}

		store.On("ResetStaleDeliveries", ctx, 5*time.Minute).Return(int64(0), nil)
		store.On("ClaimDeliveryBatch", ctx, 10, 5*time.Minute).Return(batch, nil)
		client.On("Deliver", mock.Anything, mock.AnythingOfType("federation.DeliveryRequest")).Return(nil)
		store.On("MarkDelivered", mock.Anything, int64(1)).Return(nil)
		store.On("MarkDelivered", mock.Anything, int64(2)).Return(nil)

		worker := NewDeliveryWorker(store, client, testFederationConfig(), metrics.NewRegistry(), testLogger())

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Claimed)
		assert.Equal(t, 2, stats.Delivered)
		assert.Zero(t, stats.Requeued)
		assert.Zero(t, stats.Abandoned)

		store.AssertExpectations(t)
		client.AssertExpectations(t)
	})

	t.Run("sweeps stale rows before claiming", func(t *testing.T) {
		store := &mockDeliveryStore{}
		client := &mockDeliveryClient{}

		store.On("ResetStaleDeliveries", ctx, 5*time.Minute).Return(int64(3), nil)
		store.On("ClaimDeliveryBatch", ctx, 10, 5*time.Minute).Return(nil, nil)

		worker := NewDeliveryWorker(store, client, testFederationConfig(), metrics.NewRegistry(), testLogger())

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Reset)
		assert.Zero(t, stats.Claimed)
		client.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
	})

	t.Run("transient failure re-queues", func(t *testing.T) {
		store := &mockDeliveryStore{}
		client := &mockDeliveryClient{}

		batch := []models.ClaimedDelivery{claimedDelivery(7, "https://a.example/inbox", 0)}
		transient := apperrors.NewDeliveryError("https://a.example/inbox", 503, errors.New("remote inbox returned status 503"))

		store.On("ResetStaleDeliveries", ctx, 5*time.Minute).Return(int64(0), nil)
		store.On("ClaimDeliveryBatch", ctx, 10, 5*time.Minute).Return(batch, nil)
		client.On("Deliver", mock.Anything, mock.Anything).Return(transient)
		store.On("MarkDeliveryFailed", mock.Anything, int64(7), mock.AnythingOfType("string")).Return(nil)

		worker := NewDeliveryWorker(store, client, testFederationConfig(), metrics.NewRegistry(), testLogger())

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Requeued)
		store.AssertNotCalled(t, "AbandonDelivery", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("permanent rejection abandons immediately", func(t *testing.T) {
		store := &mockDeliveryStore{}
		client := &mockDeliveryClient{}

		batch := []models.ClaimedDelivery{claimedDelivery(8, "https://a.example/inbox", 0)}
		rejection := apperrors.NewDeliveryError("https://a.example/inbox", 410, errors.New("remote inbox returned status 410"))

		store.On("ResetStaleDeliveries", ctx, 5*time.Minute).Return(int64(0), nil)
		store.On("ClaimDeliveryBatch", ctx, 10, 5*time.Minute).Return(batch, nil)
		client.On("Deliver", mock.Anything, mock.Anything).Return(rejection)
		store.On("AbandonDelivery", mock.Anything, int64(8), mock.AnythingOfType("string")).Return(nil)

		worker := NewDeliveryWorker(store, client, testFederationConfig(), metrics.NewRegistry(), testLogger())

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Abandoned)
		store.AssertNotCalled(t, "MarkDeliveryFailed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("retry budget exhaustion abandons", func(t *testing.T) {
		store := &mockDeliveryStore{}
		client := &mockDeliveryClient{}

		// Two prior attempts recorded; this third attempt hits the ceiling.
		batch := []models.ClaimedDelivery{claimedDelivery(9, "https://a.example/inbox", 2)}
		transient := apperrors.NewDeliveryError("https://a.example/inbox", 0, errors.New("connection refused"))

		store.On("ResetStaleDeliveries", ctx, 5*time.Minute).Return(int64(0), nil)
		store.On("ClaimDeliveryBatch", ctx, 10, 5*time.Minute).Return(batch, nil)
		client.On("Deliver", mock.Anything, mock.Anything).Return(transient)
		store.On("AbandonDelivery", mock.Anything, int64(9), mock.AnythingOfType("string")).Return(nil)

		worker := NewDeliveryWorker(store, client, testFederationConfig(), metrics.NewRegistry(), testLogger())

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Abandoned)
		store.AssertNotCalled(t, "MarkDeliveryFailed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("claim failure aborts the tick", func(t *testing.T) {
		store := &mockDeliveryStore{}
		client := &mockDeliveryClient{}

		store.On("ResetStaleDeliveries", ctx, 5*time.Minute).Return(int64(0), nil)
		store.On("ClaimDeliveryBatch", ctx, 10, 5*time.Minute).Return(nil, errors.New("database is locked"))

		worker := NewDeliveryWorker(store, client, testFederationConfig(), metrics.NewRegistry(), testLogger())

		_, err := worker.RunTick(ctx)
		require.Error(t, err)
	})
}

func TestDeliveryWorkerStartStop(t *testing.T) {
	store := &mockDeliveryStore{}
	client := &mockDeliveryClient{}

	store.On("ResetStaleDeliveries", mock.Anything, mock.Anything).Return(int64(0), nil)
	store.On("ClaimDeliveryBatch", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	worker := NewDeliveryWorker(store, client, testFederationConfig(), metrics.NewRegistry(), testLogger())

	require.NoError(t, worker.Start(context.Background()))
	assert.Error(t, worker.Start(context.Background()), "second start must fail")

	worker.Stop()
	worker.Stop() // stopping twice is harmless
}

func TestDeliveryWorkerBuildsRequests(t *testing.T) {
	ctx := context.Background()

	store := &mockDeliveryStore{}
	client := &mockDeliveryClient{}

	item := claimedDelivery(11, "https://a.example/inbox", 0)
	store.On("ResetStaleDeliveries", ctx, 5*time.Minute).Return(int64(0), nil)
	store.On("ClaimDeliveryBatch", ctx, 10, 5*time.Minute).Return([]models.ClaimedDelivery{item}, nil)
	client.On("Deliver", mock.Anything, mock.MatchedBy(func(req federation.DeliveryRequest) bool {
		return req.TargetInboxURL == item.TargetInboxURL &&
			req.LocalUserID == "alice" &&
			req.ActivityID == item.ActivityID &&
			string(req.Payload) == item.ActivityPayload
	})).Return(nil)
	store.On("MarkDelivered", mock.Anything, int64(11)).Return(nil)

	worker := NewDeliveryWorker(store, client, testFederationConfig(), metrics.NewRegistry(), testLogger())

	_, err := worker.RunTick(ctx)
	require.NoError(t, err)
	client.AssertExpectations(t)
}
