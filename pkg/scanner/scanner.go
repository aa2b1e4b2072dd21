package scanner

import (
	"context"
	"fmt"
	"sort"

	"github.com/84hero/launch-indexer/pkg/ledger"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultChunkSize is the block span of a single eth_getLogs request.
const DefaultChunkSize = 2000

type Config struct {
	// ChunkSize bounds each range query (provider limits are commonly 1k-10k blocks)
	ChunkSize uint64
	// UseBloom checks the header bloom before querying single-block chunks
	UseBloom bool
}

// Scanner performs chunked range queries for one feed.
type Scanner struct {
	ledger ledger.Ledger
	filter *Filter
	config Config
}

func New(l ledger.Ledger, filter *Filter, cfg Config) *Scanner {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Scanner{
		ledger: l,
		filter: filter,
		config: cfg,
	}
}

// Scan returns every matching log in [from, to] in ascending block order.
// Chunks are queried sequentially; the first failing chunk aborts the scan
// and nothing collected so far is returned.
func (s *Scanner) Scan(ctx context.Context, from, to uint64) ([]types.Log, error) {
	if from > to {
		return nil, nil
	}

	var out []types.Log
	for current := from; current <= to; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := current + s.config.ChunkSize - 1
		if end > to || end < current { // second check guards overflow
			end = to
		}

		logs, err := s.scanRange(ctx, current, end)
		if err != nil {
			return nil, fmt.Errorf("scan chunk %d-%d: %w", current, end, err)
		}
		log.Debug("Scanned chunk", "feed", s.filter.Feed, "from", current, "to", end, "logs", len(logs))
		out = append(out, logs...)

		if end == to {
			break
		}
		current = end + 1
	}
	return out, nil
}

func (s *Scanner) scanRange(ctx context.Context, from, to uint64) ([]types.Log, error) {
	// Bloom is only worth a header round-trip when the chunk is a single block
	if s.config.UseBloom && from == to {
		bloom, err := s.ledger.BlockBloom(ctx, from)
		if err != nil {
			return nil, err
		}
		if !s.filter.MatchesBloom(bloom) {
			return nil, nil
		}
	}

	logs, err := s.ledger.Logs(ctx, s.filter.Feed, s.filter.Event, from, to)
	if err != nil {
		return nil, err
	}
	// Removed logs belong to reorged-out blocks
	kept := make([]types.Log, 0, len(logs))
	for _, l := range logs {
		if !l.Removed {
			kept = append(kept, l)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].BlockNumber != kept[j].BlockNumber {
			return kept[i].BlockNumber < kept[j].BlockNumber
		}
		return kept[i].Index < kept[j].Index
	})
	return kept, nil
}
