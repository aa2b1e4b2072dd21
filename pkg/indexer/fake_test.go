package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/84hero/launch-indexer/pkg/decoder"
	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	feedAddr = common.HexToAddress("0xfac7000000000000000000000000000000000001")
	keyA     = common.HexToAddress("0xaaaa")
	keyB     = common.HexToAddress("0xbbbb")
	keyC     = common.HexToAddress("0xcccc")

	errLedgerDown = errors.New("ledger unavailable")
)

// fakeLedger is an in-memory chain holding factory logs and launch state.
type fakeLedger struct {
	mu sync.Mutex

	head      uint64
	logs      []types.Log
	state     map[common.Address]map[string]interface{}
	factoryOK map[common.Address]bool

	headErr    error
	logsErr    error
	tsErr      map[uint64]bool
	readErr    map[common.Address]bool
	logCalls   [][2]uint64
	readCalls  map[common.Address]int
	headGate   chan struct{}
	headCalled chan struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		state:     make(map[common.Address]map[string]interface{}),
		factoryOK: make(map[common.Address]bool),
		tsErr:     make(map[uint64]bool),
		readErr:   make(map[common.Address]bool),
		readCalls: make(map[common.Address]int),
	}
}

func (f *fakeLedger) addCreation(t *testing.T, key common.Address, name string, block uint64) {
	t.Helper()
	l, err := decoder.MustFromJSON(decoder.FactoryABI).EncodeLaunchCreated(feedAddr, decoder.LaunchCreated{
		Launch:   key,
		Creator:  common.HexToAddress("0xc0ffee"),
		Token:    common.BigToAddress(new(big.Int).Add(key.Big(), big.NewInt(1))),
		Name:     name,
		Symbol:   name,
		ImageURI: "ipfs://" + name,
	}, block)
	require.NoError(t, err)
	f.mu.Lock()
	f.logs = append(f.logs, l)
	f.mu.Unlock()
}

func (f *fakeLedger) setState(key common.Address, sold, supply, price, remaining int64, finalized bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state[key] = map[string]interface{}{
		"tokensSold":       big.NewInt(sold),
		"saleSupply":       big.NewInt(supply),
		"price":            big.NewInt(price),
		"remainingForSale": big.NewInt(remaining),
		"pool":             common.HexToAddress("0x9001"),
		"feeSplitter":      common.HexToAddress("0x9002"),
		"stakingVault":     common.HexToAddress("0x9003"),
		"finalized":        finalized,
	}
}

func (f *fakeLedger) setHead(h uint64) {
	f.mu.Lock()
	f.head = h
	f.mu.Unlock()
}

func (f *fakeLedger) LatestBlock(ctx context.Context) (uint64, error) {
	if f.headCalled != nil {
		f.headCalled <- struct{}{}
	}
	if f.headGate != nil {
		select {
		case <-f.headGate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeLedger) Logs(_ context.Context, feed common.Address, event common.Hash, from, to uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls = append(f.logCalls, [2]uint64{from, to})
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var out []types.Log
	for _, l := range f.logs {
		if l.Address == feed && l.Topics[0] == event && l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLedger) BlockTimestamp(_ context.Context, block uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tsErr[block] {
		return 0, errLedgerDown
	}
	return 1_700_000_000 + block*12, nil
}

func (f *fakeLedger) BlockBloom(context.Context, uint64) (types.Bloom, error) {
	return types.Bloom{}, nil
}

func (f *fakeLedger) ReadField(_ context.Context, contract common.Address, _ *abi.ABI, field string, args ...interface{}) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if field == "isFinalized" {
		key := args[0].(common.Address)
		f.readCalls[key]++
		if f.readErr[key] {
			return nil, errLedgerDown
		}
		return []interface{}{f.factoryOK[key]}, nil
	}

	f.readCalls[contract]++
	if f.readErr[contract] {
		return nil, errLedgerDown
	}
	v, ok := f.state[contract][field]
	if !ok {
		return nil, fmt.Errorf("execution reverted: %s", field)
	}
	if b, ok := v.(*big.Int); ok {
		v = new(big.Int).Set(b)
	}
	return []interface{}{v}, nil
}

func (f *fakeLedger) lastScan() [2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.logCalls) == 0 {
		return [2]uint64{}
	}
	return f.logCalls[len(f.logCalls)-1]
}

func records(entities []launch.Entity) []launch.Record {
	out := make([]launch.Record, len(entities))
	for i, e := range entities {
		out[i] = launch.ToRecord(e)
	}
	return out
}

func keysOf(entities []launch.Entity) []common.Address {
	out := make([]common.Address, len(entities))
	for i, e := range entities {
		out[i] = e.Key
	}
	return out
}
