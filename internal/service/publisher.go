package service

import (
	"context"
	"fmt"

	"fedrelay/internal/models"
	"fedrelay/internal/validation"

	"github.com/sirupsen/logrus"
)

// PublishStore is the persistence surface of outbound fan-out.
type PublishStore interface {
	UpsertOutboxActivity(ctx context.Context, activity *models.OutboxActivity) error
	EnqueueDelivery(ctx context.Context, activityID, targetInboxURL string) error
	ListFollowers(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowerRecord, error)
}

const followerPageSize = 200

// Publisher turns one locally-produced activity into durable delivery work:
// one outbox record plus one delivery queue row per target inbox. Both writes
// are idempotent, so re-running fan-out after a partial failure is safe.
type Publisher struct {
	store  PublishStore
	actors *ActorCache
	logger *logrus.Logger
}

func NewPublisher(store PublishStore, actors *ActorCache, logger *logrus.Logger) *Publisher {
	return &Publisher{
		store:  store,
		actors: actors,
		logger: logger,
	}
}

// Publish upserts the activity and enqueues one delivery per target inbox.
// Returns the number of enqueue calls made (duplicate URLs collapse first).
func (p *Publisher) Publish(ctx context.Context, activity *models.OutboxActivity, inboxURLs []string) (int, error) {
	if activity.ActivityID == "" {
		return 0, fmt.Errorf("activity id is required")
	}

	if err := p.store.UpsertOutboxActivity(ctx, activity); err != nil {
		return 0, fmt.Errorf("failed to store outbox activity: %w", err)
	}

	seen := make(map[string]struct{}, len(inboxURLs))
	enqueued := 0
	for _, inboxURL := range inboxURLs {
		if err := validation.ValidateInboxURL(inboxURL); err != nil {
			p.logger.WithField("inbox", inboxURL).WithError(err).Warn("Skipping invalid target inbox")
			continue
		}
		if _, dup := seen[inboxURL]; dup {
			continue
		}
		seen[inboxURL] = struct{}{}

		if err := p.store.EnqueueDelivery(ctx, activity.ActivityID, inboxURL); err != nil {
			return enqueued, fmt.Errorf("failed to enqueue delivery to %s: %w", inboxURL, err)
		}
		enqueued++
	}

	p.logger.WithFields(logrus.Fields{
		"activity_id": activity.ActivityID,
		"targets":     enqueued,
	}).Info("Activity fanned out")

	return enqueued, nil
}

// PublishToFollowers fans the activity out to every accepted follower of the
// local user, resolving each follower's inbox through the actor cache.
// Followers whose actor metadata is missing are skipped with a warning; they
// will be picked up on the next publish once resolved.
func (p *Publisher) PublishToFollowers(ctx context.Context, localUserID string, activity *models.OutboxActivity) (int, error) {
	var inboxURLs []string

	for offset := 0; ; offset += followerPageSize {
		followers, err := p.store.ListFollowers(ctx, localUserID, models.FollowStatusAccepted, followerPageSize, offset)
		if err != nil {
			return 0, fmt.Errorf("failed to list followers: %w", err)
		}

		for _, follower := range followers {
			actor, err := p.actors.Find(ctx, follower.RemoteActorID)
			if err != nil {
				return 0, fmt.Errorf("failed to resolve follower actor: %w", err)
			}
			if actor == nil || actor.InboxURL == "" {
				p.logger.WithFields(logrus.Fields{
					"remote_actor": follower.RemoteActorID,
					"local_user":   localUserID,
				}).Warn("Skipping follower with unresolved inbox")
				continue
			}
			inboxURLs = append(inboxURLs, actor.InboxURL)
		}

		if len(followers) < followerPageSize {
			break
		}
	}

	return p.Publish(ctx, activity, inboxURLs)
}
