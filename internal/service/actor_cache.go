package service

import (
	"context"
	"fmt"

	"fedrelay/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ActorStore is the persistence surface of the remote actor cache.
type ActorStore interface {
	GetRemoteActor(ctx context.Context, actorURI string) (*models.RemoteActor, error)
	UpsertRemoteActor(ctx context.Context, actor *models.RemoteActor) error
}

// ActorCache memoizes remote actor metadata: a read-through in-memory LRU in
// front of the remote_actors table. The cache stores and returns whatever was
// last written; staleness policy (LastFetchedAt) is the caller's business.
type ActorCache struct {
	store ActorStore
	mem   *lru.Cache[string, *models.RemoteActor]
}

func NewActorCache(store ActorStore, size int) (*ActorCache, error) {
	mem, err := lru.New[string, *models.RemoteActor](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create actor cache: %w", err)
	}

	return &ActorCache{store: store, mem: mem}, nil
}

// Find returns cached metadata for the actor URI, or nil when unknown.
func (c *ActorCache) Find(ctx context.Context, actorURI string) (*models.RemoteActor, error) {
	if actor, ok := c.mem.Get(actorURI); ok {
		return actor, nil
	}

	actor, err := c.store.GetRemoteActor(ctx, actorURI)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, nil
	}

	c.mem.Add(actorURI, actor)
	return actor, nil
}

// Upsert stores freshly-resolved actor metadata.
func (c *ActorCache) Upsert(ctx context.Context, actor *models.RemoteActor) error {
	if err := c.store.UpsertRemoteActor(ctx, actor); err != nil {
		return err
	}

	c.mem.Add(actor.ID, actor)
	return nil
}
