package chain

import (
	"sync"
	"time"
)

// Preset defines the default behavior parameters for a chain
type Preset struct {
	ChainID       string
	BlockTime     time.Duration // Average block time
	PollInterval  time.Duration // Recommended silent refresh interval
	Confirmations uint64        // Recommended safety confirmations
	ChunkSize     uint64        // Largest eth_getLogs span public providers accept
}

var (
	registry = make(map[string]Preset)
	mu       sync.RWMutex
)

// Register adds a new chain preset to the global registry.
func Register(name string, p Preset) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = p
}

// Get retrieves a preset configuration from the registry by its name.
func Get(name string) (Preset, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Lookup finds a preset by name, falling back to a match on chain id.
func Lookup(nameOrChainID string) (Preset, bool) {
	if p, ok := Get(nameOrChainID); ok {
		return p, true
	}
	mu.RLock()
	defer mu.RUnlock()
	for _, p := range registry {
		if p.ChainID == nameOrChainID {
			return p, true
		}
	}
	return Preset{}, false
}

// Built-in presets
func init() {
	Register("eth-mainnet", Preset{
		ChainID:       "1",
		BlockTime:     12 * time.Second,
		PollInterval:  60 * time.Second,
		Confirmations: 12,
		ChunkSize:     2000,
	})

	Register("base-mainnet", Preset{
		ChainID:       "8453",
		BlockTime:     2 * time.Second,
		PollInterval:  30 * time.Second,
		Confirmations: 0,
		ChunkSize:     2000,
	})

	Register("bsc-mainnet", Preset{
		ChainID:       "56",
		BlockTime:     3 * time.Second,
		PollInterval:  30 * time.Second,
		Confirmations: 15, // BSC reorgs are relatively frequent
		ChunkSize:     1000,
	})

	Register("polygon-mainnet", Preset{
		ChainID:       "137",
		BlockTime:     2 * time.Second,
		PollInterval:  30 * time.Second,
		Confirmations: 32, // Polygon recommends deeper confirmations
		ChunkSize:     1000,
	})

	Register("arbitrum-one", Preset{
		ChainID:       "42161",
		BlockTime:     250 * time.Millisecond,
		PollInterval:  20 * time.Second,
		Confirmations: 0,
		ChunkSize:     5000,
	})
}
