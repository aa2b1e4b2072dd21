package main

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var errOffline = errors.New("command runs without an rpc connection")

// offlineLedger backs the cache-only commands; every read fails.
type offlineLedger struct{}

func (offlineLedger) LatestBlock(context.Context) (uint64, error) { return 0, errOffline }

func (offlineLedger) Logs(context.Context, common.Address, common.Hash, uint64, uint64) ([]types.Log, error) {
	return nil, errOffline
}

func (offlineLedger) BlockTimestamp(context.Context, uint64) (uint64, error) { return 0, errOffline }

func (offlineLedger) BlockBloom(context.Context, uint64) (types.Bloom, error) {
	return types.Bloom{}, errOffline
}

func (offlineLedger) ReadField(context.Context, common.Address, *abi.ABI, string, ...interface{}) ([]interface{}, error) {
	return nil, errOffline
}
