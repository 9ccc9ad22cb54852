package service

import (
	"context"
	"io"
	"time"

	"fedrelay/internal/models"
	"fedrelay/pkg/federation"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type mockDeliveryStore struct {
	mock.Mock
}

func (m *mockDeliveryStore) ClaimDeliveryBatch(ctx context.Context, batchSize int, reclaimAfter time.Duration) ([]models.ClaimedDelivery, error) {
	args := m.Called(ctx, batchSize, reclaimAfter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ClaimedDelivery), args.Error(1)
}

func (m *mockDeliveryStore) MarkDelivered(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockDeliveryStore) MarkDeliveryFailed(ctx context.Context, id int64, errMsg string) error {
	return m.Called(ctx, id, errMsg).Error(0)
}

func (m *mockDeliveryStore) AbandonDelivery(ctx context.Context, id int64, errMsg string) error {
	return m.Called(ctx, id, errMsg).Error(0)
}

func (m *mockDeliveryStore) ResetStaleDeliveries(ctx context.Context, threshold time.Duration) (int64, error) {
	args := m.Called(ctx, threshold)
	return args.Get(0).(int64), args.Error(1)
}

type mockInboxStore struct {
	mock.Mock
}

func (m *mockInboxStore) ClaimInboxBatch(ctx context.Context, batchSize int) ([]models.InboxActivity, error) {
	args := m.Called(ctx, batchSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.InboxActivity), args.Error(1)
}

func (m *mockInboxStore) MarkInboxProcessed(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockInboxStore) MarkInboxFailed(ctx context.Context, id int64, errMsg string) error {
	return m.Called(ctx, id, errMsg).Error(0)
}

func (m *mockInboxStore) CountStuckInboxActivities(ctx context.Context, grace time.Duration) (int64, error) {
	args := m.Called(ctx, grace)
	return args.Get(0).(int64), args.Error(1)
}

type mockFollowStore struct {
	mock.Mock
}

func (m *mockFollowStore) UpsertFollower(ctx context.Context, record *models.FollowerRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockFollowStore) UpsertFollowing(ctx context.Context, record *models.FollowRecord) error {
	return m.Called(ctx, record).Error(0)
}

func (m *mockFollowStore) AcceptFollower(ctx context.Context, localUserID, remoteActorID string) (bool, error) {
	args := m.Called(ctx, localUserID, remoteActorID)
	return args.Bool(0), args.Error(1)
}

func (m *mockFollowStore) AcceptFollowing(ctx context.Context, localUserID, remoteActorID string) (bool, error) {
	args := m.Called(ctx, localUserID, remoteActorID)
	return args.Bool(0), args.Error(1)
}

func (m *mockFollowStore) DeleteFollower(ctx context.Context, localUserID, remoteActorID string) error {
	return m.Called(ctx, localUserID, remoteActorID).Error(0)
}

func (m *mockFollowStore) DeleteFollowing(ctx context.Context, localUserID, remoteActorID string) error {
	return m.Called(ctx, localUserID, remoteActorID).Error(0)
}

func (m *mockFollowStore) FindFollower(ctx context.Context, localUserID, remoteActorID string) (*models.FollowerRecord, error) {
	args := m.Called(ctx, localUserID, remoteActorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FollowerRecord), args.Error(1)
}

func (m *mockFollowStore) FindFollowing(ctx context.Context, localUserID, remoteActorID string) (*models.FollowRecord, error) {
	args := m.Called(ctx, localUserID, remoteActorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.FollowRecord), args.Error(1)
}

func (m *mockFollowStore) ListFollowers(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowerRecord, error) {
	args := m.Called(ctx, localUserID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FollowerRecord), args.Error(1)
}

func (m *mockFollowStore) ListFollowing(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowRecord, error) {
	args := m.Called(ctx, localUserID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FollowRecord), args.Error(1)
}

type mockPublishStore struct {
	mock.Mock
}

func (m *mockPublishStore) UpsertOutboxActivity(ctx context.Context, activity *models.OutboxActivity) error {
	return m.Called(ctx, activity).Error(0)
}

func (m *mockPublishStore) EnqueueDelivery(ctx context.Context, activityID, targetInboxURL string) error {
	return m.Called(ctx, activityID, targetInboxURL).Error(0)
}

func (m *mockPublishStore) ListFollowers(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowerRecord, error) {
	args := m.Called(ctx, localUserID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FollowerRecord), args.Error(1)
}

type mockActorStore struct {
	mock.Mock
}

func (m *mockActorStore) GetRemoteActor(ctx context.Context, actorURI string) (*models.RemoteActor, error) {
	args := m.Called(ctx, actorURI)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RemoteActor), args.Error(1)
}

func (m *mockActorStore) UpsertRemoteActor(ctx context.Context, actor *models.RemoteActor) error {
	return m.Called(ctx, actor).Error(0)
}

type mockRateLimitStore struct {
	mock.Mock
}

func (m *mockRateLimitStore) TryAcquireRateLimit(ctx context.Context, key string, windowStart time.Time, threshold int) (bool, error) {
	args := m.Called(ctx, key, windowStart, threshold)
	return args.Bool(0), args.Error(1)
}

func (m *mockRateLimitStore) PruneRateLimitEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockDeliveryClient struct {
	mock.Mock
}

func (m *mockDeliveryClient) Deliver(ctx context.Context, req federation.DeliveryRequest) error {
	return m.Called(ctx, req).Error(0)
}
