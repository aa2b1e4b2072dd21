// Package launch holds the materialized launch model and the pure steps of a
// refresh cycle: extracting creations from raw logs, merging them into the
// known set and choosing which launches to re-read.
package launch

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Entity is one token launch as shown to consumers.
type Entity struct {
	Key common.Address // launch contract, primary key

	// creation attributes, taken from the factory event
	Creator        common.Address
	Token          common.Address
	Name           string
	Symbol         string
	ImageRef       string
	CreatedAtBlock uint64 // 0 when unknown
	CreatedAtTime  uint64 // unix seconds, 0 when unknown

	// live state, refreshed by enrichment
	Sold             *big.Int
	TotalSaleSupply  *big.Int
	UnitPrice        *big.Int
	RemainingForSale *big.Int
	TradingPool      common.Address
	FeeSplitter      common.Address
	StakingVault     common.Address
	Finalized        bool

	LastUpdatedAt int64 // unix seconds of the last enrichment, 0 if never
}

// Creation is what a single LaunchCreated log tells us about a launch.
type Creation struct {
	Key         common.Address
	Creator     common.Address
	Token       common.Address
	Name        string
	Symbol      string
	ImageRef    string
	BlockNumber uint64
	LogIndex    uint
	Timestamp   uint64 // filled by the timestamp pass, 0 when unresolved
}

// NewEntity builds an entity with zeroed live state from a creation.
func NewEntity(c Creation) Entity {
	return Entity{
		Key:              c.Key,
		Creator:          c.Creator,
		Token:            c.Token,
		Name:             c.Name,
		Symbol:           c.Symbol,
		ImageRef:         c.ImageRef,
		CreatedAtBlock:   c.BlockNumber,
		CreatedAtTime:    c.Timestamp,
		Sold:             new(big.Int),
		TotalSaleSupply:  new(big.Int),
		UnitPrice:        new(big.Int),
		RemainingForSale: new(big.Int),
	}
}

// Clone returns a deep copy; big.Int fields are never shared.
func (e Entity) Clone() Entity {
	e.Sold = cloneInt(e.Sold)
	e.TotalSaleSupply = cloneInt(e.TotalSaleSupply)
	e.UnitPrice = cloneInt(e.UnitPrice)
	e.RemainingForSale = cloneInt(e.RemainingForSale)
	return e
}

// NeverEnriched reports whether the live state still looks like the zero value.
func (e Entity) NeverEnriched() bool {
	return isZero(e.Sold) && isZero(e.TotalSaleSupply)
}

// ReconcileSold derives Sold from supply and remaining when the counter reads
// zero but the other two disagree. This papers over launches whose sold
// counter lags; it is an approximation, not a value read from the contract.
func (e *Entity) ReconcileSold() {
	if !isZero(e.Sold) || isZero(e.TotalSaleSupply) || e.RemainingForSale == nil {
		return
	}
	if e.RemainingForSale.Cmp(e.TotalSaleSupply) >= 0 {
		return
	}
	e.Sold = new(big.Int).Sub(e.TotalSaleSupply, e.RemainingForSale)
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// Clone copies a slice of entities.
func Clone(entities []Entity) []Entity {
	out := make([]Entity, len(entities))
	for i, e := range entities {
		out[i] = e.Clone()
	}
	return out
}
