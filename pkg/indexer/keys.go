package indexer

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// FeedKey identifies one feed: a factory contract on one chain.
type FeedKey struct {
	ChainID string
	Feed    common.Address
}

func (k FeedKey) String() string {
	return k.ChainID + "." + strings.ToLower(k.Feed.Hex())
}

// EntitiesKey is the store key of the feed's entity blob.
func (k FeedKey) EntitiesKey() string {
	return "entities.v1." + k.String()
}

// CheckpointKey is the store key of the feed's checkpoint.
func (k FeedKey) CheckpointKey() string {
	return "checkpoint.v1." + k.String()
}
