package service

import (
	"context"
	"encoding/json"
	"fmt"

	"fedrelay/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FollowStore is the persistence surface of the follow state machine.
type FollowStore interface {
	UpsertFollower(ctx context.Context, record *models.FollowerRecord) error
	UpsertFollowing(ctx context.Context, record *models.FollowRecord) error
	AcceptFollower(ctx context.Context, localUserID, remoteActorID string) (bool, error)
	AcceptFollowing(ctx context.Context, localUserID, remoteActorID string) (bool, error)
	DeleteFollower(ctx context.Context, localUserID, remoteActorID string) error
	DeleteFollowing(ctx context.Context, localUserID, remoteActorID string) error
	FindFollower(ctx context.Context, localUserID, remoteActorID string) (*models.FollowerRecord, error)
	FindFollowing(ctx context.Context, localUserID, remoteActorID string) (*models.FollowRecord, error)
	ListFollowers(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowerRecord, error)
	ListFollowing(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowRecord, error)
}

// FollowService drives both directions of the follow relationship: incoming
// Follow/Undo from remote actors against the followers table, and outgoing
// Follow plus incoming Accept against the following table. Relationships have
// exactly two states, pending and accepted; removal is a delete.
type FollowService struct {
	store      FollowStore
	actors     *ActorCache
	publisher  *Publisher
	domain     string
	autoAccept bool
	logger     *logrus.Logger
}

func NewFollowService(store FollowStore, actors *ActorCache, publisher *Publisher, cfg models.FederationConfig, logger *logrus.Logger) *FollowService {
	return &FollowService{
		store:      store,
		actors:     actors,
		publisher:  publisher,
		domain:     cfg.Domain,
		autoAccept: cfg.AutoAcceptFollows,
		logger:     logger,
	}
}

// actorURI returns the canonical URI of a local user.
func (s *FollowService) actorURI(localUserID string) string {
	return fmt.Sprintf("https://%s/users/%s", s.domain, localUserID)
}

func (s *FollowService) newActivityID() string {
	return fmt.Sprintf("https://%s/activities/%s", s.domain, uuid.NewString())
}

// HandleFollow records an incoming Follow from a remote actor. When
// auto-accept is enabled the record is confirmed immediately and an Accept
// activity is published back to the follower's inbox; otherwise the record
// stays pending until AcceptFollower is called.
func (s *FollowService) HandleFollow(ctx context.Context, localUserID, remoteActorID, activityID string) error {
	record := &models.FollowerRecord{
		LocalUserID:   localUserID,
		RemoteActorID: remoteActorID,
		ActivityID:    activityID,
		Status:        models.FollowStatusPending,
	}

	if err := s.store.UpsertFollower(ctx, record); err != nil {
		return fmt.Errorf("failed to record follower: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"local_user":   localUserID,
		"remote_actor": remoteActorID,
	}).Info("Follow received")

	if !s.autoAccept {
		return nil
	}

	return s.AcceptFollower(ctx, localUserID, remoteActorID)
}

// AcceptFollower confirms a pending follower and publishes an Accept activity
// addressed to the follower's inbox. Accepting an already-accepted or unknown
// relationship is a no-op.
func (s *FollowService) AcceptFollower(ctx context.Context, localUserID, remoteActorID string) error {
	record, err := s.store.FindFollower(ctx, localUserID, remoteActorID)
	if err != nil {
		return fmt.Errorf("failed to load follower record: %w", err)
	}
	if record == nil {
		return nil
	}

	flipped, err := s.store.AcceptFollower(ctx, localUserID, remoteActorID)
	if err != nil {
		return fmt.Errorf("failed to accept follower: %w", err)
	}
	if !flipped {
		return nil
	}

	return s.publishAccept(ctx, localUserID, remoteActorID, record.ActivityID)
}

func (s *FollowService) publishAccept(ctx context.Context, localUserID, remoteActorID, followActivityID string) error {
	activityID := s.newActivityID()

	payload, err := json.Marshal(map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     models.ActivityTypeAccept,
		"actor":    s.actorURI(localUserID),
		"object":   followActivityID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode accept activity: %w", err)
	}

	objectID := followActivityID
	activity := &models.OutboxActivity{
		ActivityID:      activityID,
		LocalUserID:     localUserID,
		ActivityType:    models.ActivityTypeAccept,
		ActivityPayload: string(payload),
		ObjectID:        &objectID,
	}

	actor, err := s.actors.Find(ctx, remoteActorID)
	if err != nil {
		return fmt.Errorf("failed to resolve follower actor: %w", err)
	}
	if actor == nil || actor.InboxURL == "" {
		// The relationship is confirmed locally either way; the remote side
		// just never learns about it until its actor record resolves.
		s.logger.WithFields(logrus.Fields{
			"remote_actor": remoteActorID,
			"local_user":   localUserID,
		}).Warn("Accepted follower but could not resolve inbox for Accept delivery")
		return nil
	}

	if _, err := s.publisher.Publish(ctx, activity, []string{actor.InboxURL}); err != nil {
		return fmt.Errorf("failed to publish accept activity: %w", err)
	}

	return nil
}

// HandleAccept applies an incoming Accept: the remote actor confirmed our
// outstanding Follow, so the following record flips to accepted. An Accept
// with no matching pending record is ignored.
func (s *FollowService) HandleAccept(ctx context.Context, localUserID, remoteActorID string) error {
	flipped, err := s.store.AcceptFollowing(ctx, localUserID, remoteActorID)
	if err != nil {
		return fmt.Errorf("failed to apply accept: %w", err)
	}

	if flipped {
		s.logger.WithFields(logrus.Fields{
			"local_user":   localUserID,
			"remote_actor": remoteActorID,
		}).Info("Follow confirmed by remote actor")
	}

	return nil
}

// HandleUndo removes the follower relationship named by an Undo(Follow).
// Undoing an unknown relationship is a no-op.
func (s *FollowService) HandleUndo(ctx context.Context, localUserID, remoteActorID string) error {
	if err := s.store.DeleteFollower(ctx, localUserID, remoteActorID); err != nil {
		return fmt.Errorf("failed to remove follower: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"local_user":   localUserID,
		"remote_actor": remoteActorID,
	}).Info("Follower removed")

	return nil
}

// RejectFollower declines a pending follower by deleting the record.
func (s *FollowService) RejectFollower(ctx context.Context, localUserID, remoteActorID string) error {
	return s.store.DeleteFollower(ctx, localUserID, remoteActorID)
}

// Follow initiates an outgoing follow of a remote actor: a pending following
// record plus a Follow activity queued toward the remote inbox. The record
// stays pending until the remote Accept arrives.
func (s *FollowService) Follow(ctx context.Context, localUserID, remoteActorID string) error {
	actor, err := s.actors.Find(ctx, remoteActorID)
	if err != nil {
		return fmt.Errorf("failed to resolve remote actor: %w", err)
	}
	if actor == nil || actor.InboxURL == "" {
		return fmt.Errorf("remote actor %s has no known inbox", remoteActorID)
	}

	activityID := s.newActivityID()

	payload, err := json.Marshal(map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     models.ActivityTypeFollow,
		"actor":    s.actorURI(localUserID),
		"object":   remoteActorID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode follow activity: %w", err)
	}

	record := &models.FollowRecord{
		LocalUserID:   localUserID,
		RemoteActorID: remoteActorID,
		ActivityID:    activityID,
		Status:        models.FollowStatusPending,
	}
	if err := s.store.UpsertFollowing(ctx, record); err != nil {
		return fmt.Errorf("failed to record following: %w", err)
	}

	objectID := remoteActorID
	activity := &models.OutboxActivity{
		ActivityID:      activityID,
		LocalUserID:     localUserID,
		ActivityType:    models.ActivityTypeFollow,
		ActivityPayload: string(payload),
		ObjectID:        &objectID,
	}

	if _, err := s.publisher.Publish(ctx, activity, []string{actor.InboxURL}); err != nil {
		return fmt.Errorf("failed to publish follow activity: %w", err)
	}

	return nil
}

// Unfollow withdraws an outgoing follow: the following record is deleted and
// an Undo(Follow) is queued toward the remote inbox when it can be resolved.
func (s *FollowService) Unfollow(ctx context.Context, localUserID, remoteActorID string) error {
	record, err := s.store.FindFollowing(ctx, localUserID, remoteActorID)
	if err != nil {
		return fmt.Errorf("failed to load following record: %w", err)
	}
	if record == nil {
		return nil
	}

	if err := s.store.DeleteFollowing(ctx, localUserID, remoteActorID); err != nil {
		return fmt.Errorf("failed to remove following: %w", err)
	}

	actor, err := s.actors.Find(ctx, remoteActorID)
	if err != nil {
		return fmt.Errorf("failed to resolve remote actor: %w", err)
	}
	if actor == nil || actor.InboxURL == "" {
		return nil
	}

	activityID := s.newActivityID()
	payload, err := json.Marshal(map[string]interface{}{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       activityID,
		"type":     models.ActivityTypeUndo,
		"actor":    s.actorURI(localUserID),
		"object": map[string]interface{}{
			"id":     record.ActivityID,
			"type":   models.ActivityTypeFollow,
			"actor":  s.actorURI(localUserID),
			"object": remoteActorID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to encode undo activity: %w", err)
	}

	objectID := record.ActivityID
	activity := &models.OutboxActivity{
		ActivityID:      activityID,
		LocalUserID:     localUserID,
		ActivityType:    models.ActivityTypeUndo,
		ActivityPayload: string(payload),
		ObjectID:        &objectID,
	}

	if _, err := s.publisher.Publish(ctx, activity, []string{actor.InboxURL}); err != nil {
		return fmt.Errorf("failed to publish undo activity: %w", err)
	}

	return nil
}

// ListFollowers returns a page of follower records for a local user.
func (s *FollowService) ListFollowers(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowerRecord, error) {
	return s.store.ListFollowers(ctx, localUserID, status, limit, offset)
}

// ListFollowing returns a page of following records for a local user.
func (s *FollowService) ListFollowing(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowRecord, error) {
	return s.store.ListFollowing(ctx, localUserID, status, limit, offset)
}
