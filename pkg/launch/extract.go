package launch

import (
	"sort"

	"github.com/84hero/launch-indexer/pkg/decoder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// Extract maps raw factory logs to creations, one per launch.
//
// Logs are walked newest first and only the first sighting of a key is kept,
// so if a launch is ever reported twice the most recent attributes win.
// The survivors are returned in ascending (block, log index) order.
// Logs that do not decode as LaunchCreated are skipped.
func Extract(dec *decoder.ABIWrapper, logs []types.Log) []Creation {
	ordered := make([]types.Log, len(logs))
	copy(ordered, logs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].BlockNumber != ordered[j].BlockNumber {
			return ordered[i].BlockNumber > ordered[j].BlockNumber
		}
		return ordered[i].Index > ordered[j].Index
	})

	seen := make(map[common.Address]struct{}, len(ordered))
	out := make([]Creation, 0, len(ordered))
	for _, l := range ordered {
		ev, err := dec.DecodeLaunchCreated(l)
		if err != nil {
			log.Warn("Skipping undecodable creation log", "tx", l.TxHash, "block", l.BlockNumber, "index", l.Index, "err", err)
			continue
		}
		if ev.Launch == (common.Address{}) {
			continue
		}
		if _, dup := seen[ev.Launch]; dup {
			continue
		}
		seen[ev.Launch] = struct{}{}
		out = append(out, Creation{
			Key:         ev.Launch,
			Creator:     ev.Creator,
			Token:       ev.Token,
			Name:        ev.Name,
			Symbol:      ev.Symbol,
			ImageRef:    ev.ImageURI,
			BlockNumber: l.BlockNumber,
			LogIndex:    l.Index,
		})
	}

	// back to scan order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// DistinctBlocks returns the unique block numbers referenced by creations, ascending.
func DistinctBlocks(creations []Creation) []uint64 {
	set := make(map[uint64]struct{}, len(creations))
	blocks := make([]uint64, 0, len(creations))
	for _, c := range creations {
		if _, ok := set[c.BlockNumber]; ok {
			continue
		}
		set[c.BlockNumber] = struct{}{}
		blocks = append(blocks, c.BlockNumber)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	return blocks
}

// ApplyTimestamps sets Timestamp on each creation whose block is in ts.
func ApplyTimestamps(creations []Creation, ts map[uint64]uint64) {
	for i := range creations {
		if t, ok := ts[creations[i].BlockNumber]; ok {
			creations[i].Timestamp = t
		}
	}
}
