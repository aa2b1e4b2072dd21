package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/84hero/launch-indexer/pkg/storage"
	"github.com/ethereum/go-ethereum/log"
)

// Snapshot is what the durable cache holds for a feed.
type Snapshot struct {
	Entities       []launch.Entity
	IndexedToBlock uint64
	HasCheckpoint  bool
}

// Cache persists the entity set and checkpoint of a feed together.
type Cache struct {
	store       storage.Store
	checkpoints *Checkpoints
}

func NewCache(store storage.Store) *Cache {
	return &Cache{store: store, checkpoints: NewCheckpoints(store)}
}

// Load reads the feed's entities and checkpoint.
//
// Malformed records are dropped one by one. A blob that is not a list at all
// is treated as empty, and a checkpoint without a usable entity blob is
// ignored: resuming from it would skip creations we no longer hold.
func (c *Cache) Load(ctx context.Context, key FeedKey) (Snapshot, error) {
	var snap Snapshot

	data, err := c.store.Get(ctx, key.EntitiesKey())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return snap, nil
	case err != nil:
		return snap, fmt.Errorf("load entities: %w", err)
	}

	entities, dropped, err := launch.DecodeEntities(data)
	if err != nil {
		log.Warn("Discarding unreadable entity cache", "feed", key, "err", err)
		return snap, nil
	}
	for _, d := range dropped {
		log.Warn("Dropped cache record", "feed", key, "err", d)
	}
	snap.Entities = entities

	snap.IndexedToBlock, snap.HasCheckpoint, err = c.checkpoints.Load(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Commit writes entities and checkpoint in one atomic store write.
func (c *Cache) Commit(ctx context.Context, key FeedKey, entities []launch.Entity, indexedToBlock uint64) error {
	blob, err := launch.EncodeEntities(entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	cp, err := encodeCheckpoint(indexedToBlock)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := c.store.SetMany(ctx, map[string][]byte{
		key.EntitiesKey():   blob,
		key.CheckpointKey(): cp,
	}); err != nil {
		return fmt.Errorf("persist feed %s: %w", key, err)
	}
	return nil
}

// Clear removes both keys of the feed.
func (c *Cache) Clear(ctx context.Context, key FeedKey) error {
	return c.store.Delete(ctx, key.EntitiesKey(), key.CheckpointKey())
}
