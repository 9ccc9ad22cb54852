package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"fedrelay/internal/database"
	"fedrelay/internal/metrics"
	"fedrelay/internal/models"
	"fedrelay/internal/service"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	server *Server
	db     *database.Database
}

func newTestServer(t *testing.T, rateLimit models.RateLimitConfig) *serverFixture {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "fedrelay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &models.Config{
		Server: models.ServerConfig{Port: 0},
		Federation: models.FederationConfig{
			Domain:            "local.example",
			AutoAcceptFollows: true,
		},
		RateLimit: rateLimit,
	}

	cache, err := service.NewActorCache(db, 16)
	require.NoError(t, err)

	limiter := service.NewRateLimiter(db, rateLimit, logger)
	publisher := service.NewPublisher(db, cache, logger)
	follows := service.NewFollowService(db, cache, publisher, cfg.Federation, logger)

	return &serverFixture{
		server: NewServer(cfg, db, publisher, follows, limiter, metrics.NewRegistry(), logger),
		db:     db,
	}
}

func (f *serverFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	return rec
}

func inboundFollow(id string) map[string]string {
	return map[string]string{
		"id":    id,
		"type":  "Follow",
		"actor": "https://remote.example/users/bob",
	}
}

func TestHandleHealth(t *testing.T) {
	f := newTestServer(t, models.RateLimitConfig{})

	rec := f.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestHandleMetrics(t *testing.T) {
	f := newTestServer(t, models.RateLimitConfig{})

	rec := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
}

func TestHandleInbox(t *testing.T) {
	t.Run("queues and acknowledges", func(t *testing.T) {
		f := newTestServer(t, models.RateLimitConfig{})

		rec := f.do(http.MethodPost, "/federation/users/alice/inbox",
			inboundFollow("https://remote.example/activities/1"))
		assert.Equal(t, http.StatusAccepted, rec.Code)

		stored, err := f.db.GetInboxActivity(context.Background(), "https://remote.example/activities/1")
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "alice", stored.LocalUserID)
		assert.Equal(t, models.InboxStatusPending, stored.Status)
	})

	t.Run("replay also returns 202", func(t *testing.T) {
		f := newTestServer(t, models.RateLimitConfig{})

		for i := 0; i < 2; i++ {
			rec := f.do(http.MethodPost, "/federation/users/alice/inbox",
				inboundFollow("https://remote.example/activities/dup"))
			assert.Equal(t, http.StatusAccepted, rec.Code)
		}

		count, err := f.db.CountInboxActivities(context.Background(), models.InboxStatusPending)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("rejects malformed envelopes", func(t *testing.T) {
		f := newTestServer(t, models.RateLimitConfig{})

		rec := f.do(http.MethodPost, "/federation/users/alice/inbox",
			map[string]string{"type": "Follow"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(http.MethodPost, "/federation/users/alice/inbox",
			map[string]string{"id": "not-a-uri", "type": "Follow", "actor": "https://remote.example/users/bob"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rate limits by remote actor domain", func(t *testing.T) {
		f := newTestServer(t, models.RateLimitConfig{Enabled: true, Threshold: 2, WindowSec: 60})

		for i := 0; i < 2; i++ {
			rec := f.do(http.MethodPost, "/federation/users/alice/inbox",
				inboundFollow(fmt.Sprintf("https://remote.example/activities/%d", i)))
			assert.Equal(t, http.StatusAccepted, rec.Code)
		}

		rec := f.do(http.MethodPost, "/federation/users/alice/inbox",
			inboundFollow("https://remote.example/activities/limited"))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)

		// A different origin is unaffected.
		other := map[string]string{
			"id":    "https://other.example/activities/1",
			"type":  "Follow",
			"actor": "https://other.example/users/carol",
		}
		rec = f.do(http.MethodPost, "/federation/users/alice/inbox", other)
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})
}

func TestHandleOutbox(t *testing.T) {
	f := newTestServer(t, models.RateLimitConfig{})
	ctx := context.Background()

	// One accepted follower with a resolvable inbox.
	require.NoError(t, f.db.UpsertRemoteActor(ctx, &models.RemoteActor{
		ID:       "https://remote.example/users/bob",
		InboxURL: "https://remote.example/users/bob/inbox",
	}))
	require.NoError(t, f.db.UpsertFollower(ctx, &models.FollowerRecord{
		LocalUserID:   "alice",
		RemoteActorID: "https://remote.example/users/bob",
		ActivityID:    "https://remote.example/activities/follow",
		Status:        models.FollowStatusPending,
	}))
	_, err := f.db.AcceptFollower(ctx, "alice", "https://remote.example/users/bob")
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/federation/users/alice/outbox", map[string]string{
		"id":   "https://local.example/activities/note-1",
		"type": "Create",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		ActivityID string `json:"activity_id"`
		Enqueued   int    `json:"enqueued"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Enqueued)

	item, err := f.db.GetDeliveryQueueItem(ctx, "https://local.example/activities/note-1", "https://remote.example/users/bob/inbox")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.DeliveryStatusPending, item.Status)
}

func TestHandleFollowEndpoints(t *testing.T) {
	f := newTestServer(t, models.RateLimitConfig{})
	ctx := context.Background()

	require.NoError(t, f.db.UpsertRemoteActor(ctx, &models.RemoteActor{
		ID:       "https://remote.example/users/bob",
		InboxURL: "https://remote.example/users/bob/inbox",
	}))

	rec := f.do(http.MethodPost, "/federation/users/alice/follow",
		map[string]string{"actor": "https://remote.example/users/bob"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	record, err := f.db.FindFollowing(ctx, "alice", "https://remote.example/users/bob")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.FollowStatusPending, record.Status)

	t.Run("listing", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/federation/users/alice/following?status=pending", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Following []models.FollowRecord `json:"following"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Following, 1)
	})

	t.Run("unfollow deletes and is idempotent", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/federation/users/alice/unfollow",
			map[string]string{"actor": "https://remote.example/users/bob"})
		require.Equal(t, http.StatusAccepted, rec.Code)

		record, err := f.db.FindFollowing(ctx, "alice", "https://remote.example/users/bob")
		require.NoError(t, err)
		assert.Nil(t, record)

		rec = f.do(http.MethodPost, "/federation/users/alice/unfollow",
			map[string]string{"actor": "https://remote.example/users/bob"})
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("unknown actor fails", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/federation/users/alice/follow",
			map[string]string{"actor": "https://remote.example/users/ghost"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("invalid actor URI fails validation", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/federation/users/alice/follow",
			map[string]string{"actor": "not-a-uri"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
