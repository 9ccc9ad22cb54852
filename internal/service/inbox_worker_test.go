package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"fedrelay/internal/metrics"
	"fedrelay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func inboxActivity(id int64, activityType string) models.InboxActivity {
	return models.InboxActivity{
		ID:              id,
		LocalUserID:     "alice",
		RemoteActorID:   testRemoteBob,
		ActivityID:      "https://remote.example/activities/inbox-1",
		ActivityType:    activityType,
		ActivityPayload: `{"type":"` + activityType + `"}`,
		Status:          models.InboxStatusProcessing,
	}
}

func newTestInboxWorker(store InboxStore, follows *FollowService, applier ActivityApplier) *InboxWorker {
	cfg := models.FederationConfig{InboxBatchSize: 10, TickIntervalSec: 300}
	return NewInboxWorker(store, follows, applier, cfg, 30*time.Minute, metrics.NewRegistry(), testLogger())
}

func TestInboxWorkerRunTick(t *testing.T) {
	ctx := context.Background()

	t.Run("routes follows to the state machine", func(t *testing.T) {
		store := &mockInboxStore{}
		followStore := &mockFollowStore{}
		follows := newTestFollowService(t, followStore, &mockActorStore{}, &mockPublishStore{}, false)

		batch := []models.InboxActivity{inboxActivity(1, models.ActivityTypeFollow)}
		store.On("ClaimInboxBatch", ctx, 10).Return(batch, nil)
		followStore.On("UpsertFollower", ctx, mock.AnythingOfType("*models.FollowerRecord")).Return(nil)
		store.On("MarkInboxProcessed", ctx, int64(1)).Return(nil)
		store.On("CountStuckInboxActivities", ctx, 30*time.Minute).Return(int64(0), nil)

		worker := newTestInboxWorker(store, follows, nil)

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)
		assert.Zero(t, stats.Failed)

		store.AssertExpectations(t)
		followStore.AssertExpectations(t)
	})

	t.Run("routes accepts and undos", func(t *testing.T) {
		store := &mockInboxStore{}
		followStore := &mockFollowStore{}
		follows := newTestFollowService(t, followStore, &mockActorStore{}, &mockPublishStore{}, false)

		accept := inboxActivity(2, models.ActivityTypeAccept)
		undo := inboxActivity(3, models.ActivityTypeUndo)
		store.On("ClaimInboxBatch", ctx, 10).Return([]models.InboxActivity{accept, undo}, nil)
		followStore.On("AcceptFollowing", ctx, "alice", testRemoteBob).Return(true, nil)
		followStore.On("DeleteFollower", ctx, "alice", testRemoteBob).Return(nil)
		store.On("MarkInboxProcessed", ctx, int64(2)).Return(nil)
		store.On("MarkInboxProcessed", ctx, int64(3)).Return(nil)
		store.On("CountStuckInboxActivities", ctx, 30*time.Minute).Return(int64(0), nil)

		worker := newTestInboxWorker(store, follows, nil)

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Processed)

		followStore.AssertExpectations(t)
	})

	t.Run("other types go through the applier", func(t *testing.T) {
		store := &mockInboxStore{}
		follows := newTestFollowService(t, &mockFollowStore{}, &mockActorStore{}, &mockPublishStore{}, false)

		batch := []models.InboxActivity{inboxActivity(4, models.ActivityTypeCreate)}
		store.On("ClaimInboxBatch", ctx, 10).Return(batch, nil)
		store.On("MarkInboxProcessed", ctx, int64(4)).Return(nil)
		store.On("CountStuckInboxActivities", ctx, 30*time.Minute).Return(int64(0), nil)

		var applied []string
		worker := newTestInboxWorker(store, follows, func(ctx context.Context, activity models.InboxActivity) error {
			applied = append(applied, activity.ActivityType)
			return nil
		})

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)
		assert.Equal(t, []string{models.ActivityTypeCreate}, applied)
	})

	t.Run("apply failure is terminal with no retry", func(t *testing.T) {
		store := &mockInboxStore{}
		follows := newTestFollowService(t, &mockFollowStore{}, &mockActorStore{}, &mockPublishStore{}, false)

		good := inboxActivity(5, models.ActivityTypeCreate)
		bad := inboxActivity(6, models.ActivityTypeCreate)
		bad.ActivityID = "https://remote.example/activities/bad"
		store.On("ClaimInboxBatch", ctx, 10).Return([]models.InboxActivity{bad, good}, nil)
		store.On("MarkInboxFailed", ctx, int64(6), "malformed object").Return(nil)
		store.On("MarkInboxProcessed", ctx, int64(5)).Return(nil)
		store.On("CountStuckInboxActivities", ctx, 30*time.Minute).Return(int64(0), nil)

		worker := newTestInboxWorker(store, follows, func(ctx context.Context, activity models.InboxActivity) error {
			if activity.ID == 6 {
				return errors.New("malformed object")
			}
			return nil
		})

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed, "a failed item must not block the rest of the batch")
		assert.Equal(t, 1, stats.Failed)

		store.AssertExpectations(t)
	})

	t.Run("no built-in handling and no applier resolves as processed", func(t *testing.T) {
		store := &mockInboxStore{}
		follows := newTestFollowService(t, &mockFollowStore{}, &mockActorStore{}, &mockPublishStore{}, false)

		batch := []models.InboxActivity{inboxActivity(7, models.ActivityTypeLike)}
		store.On("ClaimInboxBatch", ctx, 10).Return(batch, nil)
		store.On("MarkInboxProcessed", ctx, int64(7)).Return(nil)
		store.On("CountStuckInboxActivities", ctx, 30*time.Minute).Return(int64(0), nil)

		worker := newTestInboxWorker(store, follows, nil)

		stats, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Processed)
	})

	t.Run("claim failure aborts the tick", func(t *testing.T) {
		store := &mockInboxStore{}
		follows := newTestFollowService(t, &mockFollowStore{}, &mockActorStore{}, &mockPublishStore{}, false)

		store.On("ClaimInboxBatch", ctx, 10).Return(nil, errors.New("database is locked"))

		worker := newTestInboxWorker(store, follows, nil)

		_, err := worker.RunTick(ctx)
		require.Error(t, err)
	})

	t.Run("reports stuck rows as a gauge", func(t *testing.T) {
		store := &mockInboxStore{}
		follows := newTestFollowService(t, &mockFollowStore{}, &mockActorStore{}, &mockPublishStore{}, false)

		store.On("ClaimInboxBatch", ctx, 10).Return(nil, nil)
		store.On("CountStuckInboxActivities", ctx, 30*time.Minute).Return(int64(4), nil)

		registry := metrics.NewRegistry()
		cfg := models.FederationConfig{InboxBatchSize: 10, TickIntervalSec: 300}
		worker := NewInboxWorker(store, follows, nil, cfg, 30*time.Minute, registry, testLogger())

		_, err := worker.RunTick(ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(4), registry.GaugeValue("inbox_stuck", nil))
	})
}

func TestInboxWorkerStartStop(t *testing.T) {
	store := &mockInboxStore{}
	follows := newTestFollowService(t, &mockFollowStore{}, &mockActorStore{}, &mockPublishStore{}, false)

	store.On("ClaimInboxBatch", mock.Anything, mock.Anything).Return(nil, nil)
	store.On("CountStuckInboxActivities", mock.Anything, mock.Anything).Return(int64(0), nil)

	worker := newTestInboxWorker(store, follows, nil)

	require.NoError(t, worker.Start(context.Background()))
	assert.Error(t, worker.Start(context.Background()))

	worker.Stop()
	worker.Stop()
}
