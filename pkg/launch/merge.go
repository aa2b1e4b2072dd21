package launch

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var ErrDuplicateKey = errors.New("duplicate entity key")

// Merge folds fresh creations into the known set.
//
// Known launches keep every field the creation leaves empty; unknown ones are
// added with zeroed live state. Launches absent from creations are carried
// through untouched, so a narrow scan window can never shrink the set.
// Merge does not modify its inputs and returns entities sorted by recency.
func Merge(existing []Entity, creations []Creation) ([]Entity, error) {
	index := make(map[common.Address]int, len(existing)+len(creations))
	merged := make([]Entity, 0, len(existing)+len(creations))

	for _, e := range existing {
		if _, dup := index[e.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, e.Key.Hex())
		}
		index[e.Key] = len(merged)
		merged = append(merged, e.Clone())
	}

	for _, c := range creations {
		i, ok := index[c.Key]
		if !ok {
			index[c.Key] = len(merged)
			merged = append(merged, NewEntity(c))
			continue
		}
		applyCreation(&merged[i], c)
	}

	SortByRecency(merged)
	return merged, nil
}

func applyCreation(e *Entity, c Creation) {
	if c.Creator != (common.Address{}) {
		e.Creator = c.Creator
	}
	if c.Token != (common.Address{}) {
		e.Token = c.Token
	}
	if c.Name != "" {
		e.Name = c.Name
	}
	if c.Symbol != "" {
		e.Symbol = c.Symbol
	}
	if c.ImageRef != "" {
		e.ImageRef = c.ImageRef
	}
	if c.BlockNumber > 0 {
		e.CreatedAtBlock = c.BlockNumber
	}
	if c.Timestamp > 0 {
		e.CreatedAtTime = c.Timestamp
	}
}

// NewlySeen returns the keys of creations that are not in existing, in creation order.
func NewlySeen(existing []Entity, creations []Creation) []common.Address {
	known := make(map[common.Address]struct{}, len(existing))
	for _, e := range existing {
		known[e.Key] = struct{}{}
	}
	var out []common.Address
	for _, c := range creations {
		if _, ok := known[c.Key]; ok {
			continue
		}
		known[c.Key] = struct{}{}
		out = append(out, c.Key)
	}
	return out
}

// SortByRecency orders by creation time then block, newest first.
// Entities without a timestamp go last; the key breaks remaining ties.
func SortByRecency(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		a, b := entities[i], entities[j]
		if (a.CreatedAtTime == 0) != (b.CreatedAtTime == 0) {
			return a.CreatedAtTime != 0
		}
		if a.CreatedAtTime != b.CreatedAtTime {
			return a.CreatedAtTime > b.CreatedAtTime
		}
		if a.CreatedAtBlock != b.CreatedAtBlock {
			return a.CreatedAtBlock > b.CreatedAtBlock
		}
		return bytes.Compare(a.Key.Bytes(), b.Key.Bytes()) < 0
	})
}
