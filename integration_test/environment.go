package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fedrelay/internal/database"
	"fedrelay/internal/metrics"
	"fedrelay/internal/models"
	"fedrelay/internal/service"
	"fedrelay/pkg/federation"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// environment wires the full subsystem against a throwaway sqlite file:
// real store, real services, real workers, with only the outbound HTTP
// client pointed at a test server.
type environment struct {
	DB             *database.Database
	Registry       *metrics.Registry
	ActorCache     *service.ActorCache
	Publisher      *service.Publisher
	Follows        *service.FollowService
	DeliveryWorker *service.DeliveryWorker
	InboxWorker    *service.InboxWorker
	Config         models.FederationConfig
}

// newEnvironment builds a fresh environment. ReclaimAfterMin is zero so
// re-queued rows are claimable on the very next tick; tests that need the
// recency guard or other knobs adjust the config through mutate.
func newEnvironment(t *testing.T, mutate func(cfg *models.FederationConfig)) *environment {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "fedrelay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := models.FederationConfig{
		Domain:              "local.example",
		UserAgent:           "fedrelay-integration/1.0",
		DeliveryBatchSize:   50,
		InboxBatchSize:      50,
		TickIntervalSec:     300,
		ReclaimAfterMin:     0,
		StaleThresholdMin:   5,
		MaxDeliveryAttempts: 3,
		DeliveryConcurrency: 4,
		DeliveryTimeoutSec:  5,
		AutoAcceptFollows:   true,
		ActorCacheSize:      64,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	registry := metrics.NewRegistry()

	cache, err := service.NewActorCache(db, cfg.ActorCacheSize)
	require.NoError(t, err)

	publisher := service.NewPublisher(db, cache, logger)
	follows := service.NewFollowService(db, cache, publisher, cfg, logger)

	client := federation.NewHTTPClient(&http.Client{Timeout: 5 * time.Second}, nil, cfg.UserAgent, logger)
	deliveryWorker := service.NewDeliveryWorker(db, client, cfg, registry, logger)
	inboxWorker := service.NewInboxWorker(db, follows, nil, cfg, 30*time.Minute, registry, logger)

	return &environment{
		DB:             db,
		Registry:       registry,
		ActorCache:     cache,
		Publisher:      publisher,
		Follows:        follows,
		DeliveryWorker: deliveryWorker,
		InboxWorker:    inboxWorker,
		Config:         cfg,
	}
}

// remoteInbox is a fake federation peer. It records every activity POSTed to
// it and answers with a scripted status code per call.
type remoteInbox struct {
	server *httptest.Server

	mu       sync.Mutex
	received []receivedActivity
	status   func(call int) int
}

type receivedActivity struct {
	Path     string
	Activity map[string]interface{}
}

func newRemoteInbox(t *testing.T, status func(call int) int) *remoteInbox {
	t.Helper()

	inbox := &remoteInbox{status: status}
	inbox.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)

		var activity map[string]interface{}
		assert.NoError(t, json.Unmarshal(body, &activity))

		inbox.mu.Lock()
		inbox.received = append(inbox.received, receivedActivity{Path: r.URL.Path, Activity: activity})
		call := len(inbox.received)
		inbox.mu.Unlock()

		code := http.StatusAccepted
		if inbox.status != nil {
			code = inbox.status(call)
		}
		w.WriteHeader(code)
	}))
	t.Cleanup(inbox.server.Close)
	return inbox
}

func (r *remoteInbox) URL() string { return r.server.URL }

func (r *remoteInbox) Received() []receivedActivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedActivity(nil), r.received...)
}
