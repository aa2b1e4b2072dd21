package indexer

import (
	"context"
	"sync"

	"github.com/84hero/launch-indexer/pkg/ledger"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// blockTimestamps looks up each block once. Blocks whose lookup fails are
// missing from the result; their entities sort last until enrichment
// backfills the time.
func blockTimestamps(ctx context.Context, l ledger.Ledger, blocks []uint64, concurrency int) map[uint64]uint64 {
	out := make(map[uint64]uint64, len(blocks))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, b := range blocks {
		g.Go(func() error {
			ts, err := l.BlockTimestamp(ctx, b)
			if err != nil {
				log.Warn("Block timestamp lookup failed", "block", b, "err", err)
				return nil
			}
			mu.Lock()
			out[b] = ts
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}
