package launch

import (
	"github.com/ethereum/go-ethereum/common"
)

// DefaultEnrichCap bounds the launches re-read per cycle.
const DefaultEnrichCap = 80

// SelectForEnrichment picks which launches to re-read this cycle, in priority order:
//  1. launches discovered this cycle (always, even past limit)
//  2. launches whose live state was never read
//  3. launches not yet finalized
//  4. everything else, in merged order
//
// Tiers 2-4 only fill the room left under limit, so the cost of a cycle stays
// flat however many launches the cache has accumulated.
func SelectForEnrichment(merged []Entity, newlySeen []common.Address, limit int) []Entity {
	if limit < 0 {
		limit = 0
	}

	isNew := make(map[common.Address]struct{}, len(newlySeen))
	for _, k := range newlySeen {
		isNew[k] = struct{}{}
	}

	picked := make(map[common.Address]struct{}, limit)
	out := make([]Entity, 0, limit)
	take := func(e Entity) {
		picked[e.Key] = struct{}{}
		out = append(out, e.Clone())
	}

	for _, e := range merged {
		if _, ok := isNew[e.Key]; ok {
			take(e)
		}
	}

	tiers := []func(Entity) bool{
		Entity.NeverEnriched,
		func(e Entity) bool { return !e.Finalized },
		func(Entity) bool { return true },
	}
	for _, match := range tiers {
		for _, e := range merged {
			if len(out) >= limit {
				return out
			}
			if _, ok := picked[e.Key]; ok {
				continue
			}
			if match(e) {
				take(e)
			}
		}
	}
	return out
}
