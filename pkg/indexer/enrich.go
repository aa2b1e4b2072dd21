package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/84hero/launch-indexer/pkg/decoder"
	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/84hero/launch-indexer/pkg/ledger"
	"github.com/84hero/launch-indexer/pkg/rpc"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// DefaultEnrichConcurrency bounds in-flight launches during enrichment.
const DefaultEnrichConcurrency = 8

// Enricher refreshes the live state of launches with view calls.
type Enricher struct {
	ledger      ledger.Ledger
	factory     common.Address
	factoryABI  *abi.ABI
	launchABI   *abi.ABI
	concurrency int
	now         func() time.Time
}

func NewEnricher(l ledger.Ledger, factory common.Address, concurrency int) *Enricher {
	if concurrency <= 0 {
		concurrency = DefaultEnrichConcurrency
	}
	return &Enricher{
		ledger:      l,
		factory:     factory,
		factoryABI:  decoder.MustFromJSON(decoder.FactoryABI).ABI(),
		launchABI:   decoder.MustFromJSON(decoder.LaunchABI).ABI(),
		concurrency: concurrency,
		now:         time.Now,
	}
}

// EnrichOne re-reads the live state of e.
//
// The returned entity is always usable: any read that fails keeps the value e
// already had, and the failures are joined into err. Finalized only ever moves
// from false to true.
func (en *Enricher) EnrichOne(ctx context.Context, e launch.Entity) (launch.Entity, error) {
	out := e.Clone()
	var errs []error
	ok := 0

	ints := []struct {
		field string
		dst   **big.Int
	}{
		{"tokensSold", &out.Sold},
		{"saleSupply", &out.TotalSaleSupply},
		{"price", &out.UnitPrice},
		{"remainingForSale", &out.RemainingForSale},
	}
	for _, f := range ints {
		v, err := readOne[*big.Int](ctx, en.ledger, e.Key, en.launchABI, f.field)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = v
		ok++
	}

	addrs := []struct {
		field string
		dst   *common.Address
	}{
		{"pool", &out.TradingPool},
		{"feeSplitter", &out.FeeSplitter},
		{"stakingVault", &out.StakingVault},
	}
	for _, f := range addrs {
		v, err := readOne[common.Address](ctx, en.ledger, e.Key, en.launchABI, f.field)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*f.dst = v
		ok++
	}

	if !out.Finalized {
		if v, err := readOne[bool](ctx, en.ledger, e.Key, en.launchABI, "finalized"); err != nil {
			errs = append(errs, err)
		} else {
			out.Finalized = v
			ok++
		}
	}
	// the factory flag is a second opinion for launches that never set their own;
	// factories without it revert, which is not a failed read
	if !out.Finalized {
		if v, err := readOne[bool](ctx, en.ledger, en.factory, en.factoryABI, "isFinalized", e.Key); rpc.IsRevert(err) {
			log.Debug("Factory has no finalized flag", "feed", en.factory, "launch", e.Key, "err", err)
		} else if err != nil {
			errs = append(errs, err)
		} else {
			out.Finalized = v
			ok++
		}
	}

	if out.CreatedAtTime == 0 && out.CreatedAtBlock > 0 {
		if ts, err := en.ledger.BlockTimestamp(ctx, out.CreatedAtBlock); err != nil {
			errs = append(errs, err)
		} else {
			out.CreatedAtTime = ts
		}
	}

	out.ReconcileSold()
	if ok > 0 {
		out.LastUpdatedAt = en.now().Unix()
	}
	return out, errors.Join(errs...)
}

// EnrichAll enriches entities concurrently and returns them in input order
// together with the number of launches that had at least one failed read.
// It never fails: a launch whose reads fail is returned with its previous values.
func (en *Enricher) EnrichAll(ctx context.Context, entities []launch.Entity) ([]launch.Entity, int) {
	out := make([]launch.Entity, len(entities))
	failed := make([]bool, len(entities))

	var g errgroup.Group
	g.SetLimit(en.concurrency)
	for i, e := range entities {
		g.Go(func() error {
			enriched, err := en.EnrichOne(ctx, e)
			if err != nil {
				log.Debug("Enrichment fell back to previous values", "launch", e.Key, "err", err)
				failed[i] = true
			}
			out[i] = enriched
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return out, n
}

func readOne[T any](ctx context.Context, l ledger.Ledger, contract common.Address, contractABI *abi.ABI, field string, args ...interface{}) (T, error) {
	var zero T
	values, err := l.ReadField(ctx, contract, contractABI, field, args...)
	if err != nil {
		return zero, err
	}
	if len(values) == 0 {
		return zero, fmt.Errorf("%s: empty result", field)
	}
	v, ok := values[0].(T)
	if !ok {
		return zero, fmt.Errorf("%s: unexpected type %T", field, values[0])
	}
	return v, nil
}
