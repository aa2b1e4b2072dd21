package scanner

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Filter selects the creation events of one feed.
// It is used both for the eth_getLogs parameters and for local Bloom Filter checks.
type Filter struct {
	Feed  common.Address
	Event common.Hash
}

// NewFilter creates a filter for event logs emitted by feed.
func NewFilter(feed common.Address, event common.Hash) *Filter {
	return &Filter{Feed: feed, Event: event}
}

// MatchesBloom uses the header Bloom Filter to check if a block might contain matching logs.
// Returns false if it definitely doesn't (Safe to Skip), true if it might (Need to Fetch).
func (f *Filter) MatchesBloom(bloom types.Bloom) bool {
	if f.Feed != (common.Address{}) && !bloom.Test(f.Feed.Bytes()) {
		return false
	}
	if f.Event != (common.Hash{}) && !bloom.Test(f.Event.Bytes()) {
		return false
	}
	return true
}
