package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/84hero/launch-indexer/pkg/storage"
)

type checkpointRecord struct {
	SchemaVersion  int    `json:"schemaVersion"`
	IndexedToBlock uint64 `json:"indexedToBlock"`
}

// Checkpoints reads and writes the last fully indexed block per feed.
type Checkpoints struct {
	store storage.Store
}

func NewCheckpoints(store storage.Store) *Checkpoints {
	return &Checkpoints{store: store}
}

// Load returns the saved block and whether one exists.
// An unreadable checkpoint counts as absent so the next cycle rescans from the floor.
func (c *Checkpoints) Load(ctx context.Context, key FeedKey) (uint64, bool, error) {
	data, err := c.store.Get(ctx, key.CheckpointKey())
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint: %w", err)
	}
	block, err := decodeCheckpoint(data)
	if err != nil {
		return 0, false, nil
	}
	return block, true, nil
}

// Save writes a checkpoint on its own. A refresh cycle goes through
// Cache.Commit instead so that the checkpoint never outruns the entities.
func (c *Checkpoints) Save(ctx context.Context, key FeedKey, block uint64) error {
	data, err := encodeCheckpoint(block)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key.CheckpointKey(), data)
}

func encodeCheckpoint(block uint64) ([]byte, error) {
	return json.Marshal(checkpointRecord{SchemaVersion: launch.SchemaVersion, IndexedToBlock: block})
}

func decodeCheckpoint(data []byte) (uint64, error) {
	var r checkpointRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return 0, err
	}
	if r.SchemaVersion != launch.SchemaVersion {
		return 0, fmt.Errorf("unsupported checkpoint schema version %d", r.SchemaVersion)
	}
	return r.IndexedToBlock, nil
}
