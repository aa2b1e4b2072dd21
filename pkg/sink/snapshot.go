package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// SnapshotEvent names snapshot deliveries on transports that carry an event type.
const SnapshotEvent = "launches.snapshot"

// Snapshot is the materialized launch set of a feed after a persisted refresh.
type Snapshot struct {
	ID             string          `json:"id"`
	ChainID        string          `json:"chainId"`
	Feed           string          `json:"feed"`
	IndexedToBlock uint64          `json:"indexedToBlock"`
	NewKeys        []string        `json:"newKeys"`
	Entities       []launch.Record `json:"entities"`
	At             time.Time       `json:"at"`
}

// NewSnapshot captures entities in their persisted record form.
func NewSnapshot(chainID string, feed common.Address, indexedToBlock uint64, newKeys []common.Address, entities []launch.Entity, at time.Time) Snapshot {
	s := Snapshot{
		ID:             uuid.NewString(),
		ChainID:        chainID,
		Feed:           strings.ToLower(feed.Hex()),
		IndexedToBlock: indexedToBlock,
		NewKeys:        make([]string, len(newKeys)),
		Entities:       make([]launch.Record, len(entities)),
		At:             at.UTC(),
	}
	for i, k := range newKeys {
		s.NewKeys[i] = strings.ToLower(k.Hex())
	}
	for i, e := range entities {
		s.Entities[i] = launch.ToRecord(e)
	}
	return s
}

// Publisher fans a snapshot out to every output.
type Publisher struct {
	outputs []Output
}

func NewPublisher(outputs ...Output) *Publisher {
	return &Publisher{outputs: outputs}
}

// Len returns the number of outputs.
func (p *Publisher) Len() int {
	return len(p.outputs)
}

// Publish sends snap to every output. One failing output does not stop the
// others; all failures are returned joined.
func (p *Publisher) Publish(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, o := range p.outputs {
		if err := o.Send(ctx, snap); err != nil {
			log.Warn("Output failed", "output", o.Name(), "snapshot", snap.ID, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every output.
func (p *Publisher) Close() error {
	var errs []error
	for _, o := range p.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
		}
	}
	return errors.Join(errs...)
}
