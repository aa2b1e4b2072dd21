// Package ledger adapts an EVM JSON-RPC client to the narrow set of reads the
// launch indexer performs: head height, ranged log queries, block timestamps
// and view-function calls.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/84hero/launch-indexer/pkg/rpc"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Ledger is the remote, append-only log source consumed by the indexer.
// Retry policy belongs to implementations; callers treat every error as final.
type Ledger interface {
	// LatestBlock returns the current head height.
	LatestBlock(ctx context.Context) (uint64, error)

	// Logs returns the logs emitted by feed with topic0 = event in [from, to], ascending.
	Logs(ctx context.Context, feed common.Address, event common.Hash, from, to uint64) ([]types.Log, error)

	// BlockTimestamp returns the unix timestamp of a block.
	BlockTimestamp(ctx context.Context, block uint64) (uint64, error)

	// BlockBloom returns the logs bloom of a block header.
	BlockBloom(ctx context.Context, block uint64) (types.Bloom, error)

	// ReadField calls a view function and returns its unpacked outputs.
	ReadField(ctx context.Context, contract common.Address, contractABI *abi.ABI, field string, args ...interface{}) ([]interface{}, error)
}

// EVM implements Ledger on top of an rpc.Client.
type EVM struct {
	client rpc.Client
}

// NewEVM wraps client.
func NewEVM(client rpc.Client) *EVM {
	return &EVM{client: client}
}

func (e *EVM) LatestBlock(ctx context.Context) (uint64, error) {
	h, err := e.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return h, nil
}

func (e *EVM) Logs(ctx context.Context, feed common.Address, event common.Hash, from, to uint64) ([]types.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{feed},
		Topics:    [][]common.Hash{{event}},
	}
	logs, err := e.client.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("get logs %d-%d: %w", from, to, err)
	}
	return logs, nil
}

func (e *EVM) header(ctx context.Context, block uint64) (*types.Header, error) {
	h, err := e.client.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return nil, fmt.Errorf("header %d: %w", block, err)
	}
	if h == nil {
		return nil, fmt.Errorf("header %d: not found", block)
	}
	return h, nil
}

func (e *EVM) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	h, err := e.header(ctx, block)
	if err != nil {
		return 0, err
	}
	return h.Time, nil
}

func (e *EVM) BlockBloom(ctx context.Context, block uint64) (types.Bloom, error) {
	h, err := e.header(ctx, block)
	if err != nil {
		return types.Bloom{}, err
	}
	return h.Bloom, nil
}

func (e *EVM) ReadField(ctx context.Context, contract common.Address, contractABI *abi.ABI, field string, args ...interface{}) ([]interface{}, error) {
	input, err := contractABI.Pack(field, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", field, err)
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", field, contract.Hex(), err)
	}
	values, err := contractABI.Unpack(field, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", field, err)
	}
	return values, nil
}
