package rpc

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// Error definitions
var (
	ErrNoAvailableNodes  = errors.New("no available rpc nodes")
	ErrNoNodeMeetsHeight = errors.New("no node meets the required block height")
)

// maxAttempts caps how many nodes a single request may be tried on.
const maxAttempts = 3

// MultiClient routes requests over several nodes. Requests pinned to a block
// only go to nodes that have seen that block, so a lagging node can never
// answer a range query with a silently empty result.
type MultiClient struct {
	nodes        []*Node
	globalHeight uint64
	metrics      *Metrics

	mu sync.RWMutex
}

// NewClient dials every configured node and keeps the reachable ones.
func NewClient(ctx context.Context, configs []NodeConfig) (*MultiClient, error) {
	if len(configs) == 0 {
		return nil, errors.New("no rpc configs provided")
	}

	nodes := make([]*Node, 0, len(configs))
	for _, cfg := range configs {
		n, err := NewNode(ctx, cfg)
		if err != nil {
			// As long as one node is connected the client is usable.
			log.Warn("Failed to dial rpc node", "url", cfg.URL, "err", err)
			continue
		}
		nodes = append(nodes, n)
	}

	return NewClientWithNodes(ctx, nodes)
}

// NewClientWithNodes initializes MultiClient with existing nodes (for testing or advanced usage)
func NewClientWithNodes(ctx context.Context, nodes []*Node) (*MultiClient, error) {
	if len(nodes) == 0 {
		return nil, errors.New("failed to connect to any rpc node")
	}

	mc := &MultiClient{
		nodes: nodes,
	}

	go mc.startBackgroundSync(ctx)

	return mc, nil
}

// SetMetrics attaches collectors to the client and all of its nodes.
func (mc *MultiClient) SetMetrics(m *Metrics) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics = m
	for _, n := range mc.nodes {
		n.metrics = m
	}
}

// startBackgroundSync periodically polls all nodes to update their heights and scores
func (mc *MultiClient) startBackgroundSync(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	mc.syncNodes(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.syncNodes(ctx)
		}
	}
}

func (mc *MultiClient) syncNodes(ctx context.Context) {
	var maxH uint64
	var wg sync.WaitGroup

	for _, n := range mc.nodes {
		wg.Add(1)
		go func(node *Node) {
			defer wg.Done()
			// Maintenance traffic bypasses the rate limiter
			h, err := node.BlockNumber(ctx)
			if err != nil {
				return
			}
			for {
				cur := atomic.LoadUint64(&maxH)
				if h <= cur || atomic.CompareAndSwapUint64(&maxH, cur, h) {
					return
				}
			}
		}(n)
	}
	wg.Wait()

	if maxH > 0 {
		atomic.StoreUint64(&mc.globalHeight, maxH)
	}

	mc.mu.RLock()
	m := mc.metrics
	mc.mu.RUnlock()
	for _, n := range mc.nodes {
		m.setScore(n.URL(), n.Score(maxH))
	}
}

// execute runs op on the best node that has reached height, moving to the next
// best node when the failure is the node's fault. height 0 means any node.
func (mc *MultiClient) execute(ctx context.Context, height uint64, op func(*Node) error) error {
	attempts := len(mc.nodes)
	if attempts > maxAttempts {
		attempts = maxAttempts
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		node, err := mc.pickAvailableNodeWithHeight(ctx, height)
		if errors.Is(err, ErrNoNodeMeetsHeight) && i == 0 {
			// heights may only be stale; refresh once before giving up
			mc.syncNodes(ctx)
			node, err = mc.pickAvailableNodeWithHeight(ctx, height)
		}
		if err != nil {
			return err
		}

		err = op(node)
		node.Release()
		if !IsNodeFault(err) {
			return err
		}

		lastErr = err
		log.Debug("Rpc request failed, switching node", "url", node.URL(), "err", err)
	}

	return lastErr
}

// call is execute for operations that return a value.
func call[T any](ctx context.Context, mc *MultiClient, height uint64, op func(*Node) (T, error)) (T, error) {
	var res T
	err := mc.execute(ctx, height, func(n *Node) error {
		var e error
		res, e = op(n)
		return e
	})
	return res, err
}

// heightOf converts an optional block number into a routing requirement.
// nil and the negative block tags (latest, pending, ...) need no particular height.
func heightOf(number *big.Int) uint64 {
	if number == nil || number.Sign() <= 0 || !number.IsUint64() {
		return 0
	}
	return number.Uint64()
}

// ChainID retrieves the chain ID from the best available node
func (mc *MultiClient) ChainID(ctx context.Context) (*big.Int, error) {
	return call(ctx, mc, 0, func(n *Node) (*big.Int, error) {
		return n.ChainID(ctx)
	})
}

// BlockNumber returns the highest block seen across all nodes, asking a node
// directly only before the first background sync has completed.
func (mc *MultiClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if h := atomic.LoadUint64(&mc.globalHeight); h > 0 {
		return h, nil
	}
	return call(ctx, mc, 0, func(n *Node) (uint64, error) {
		return n.BlockNumber(ctx)
	})
}

// HeaderByNumber retrieves a block header from a node that has reached it
func (mc *MultiClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return call(ctx, mc, heightOf(number), func(n *Node) (*types.Header, error) {
		return n.HeaderByNumber(ctx, number)
	})
}

// FilterLogs retrieves logs from a node that has reached the end of the range
func (mc *MultiClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var height uint64
	if q.BlockHash == nil {
		height = heightOf(q.ToBlock)
	}
	return call(ctx, mc, height, func(n *Node) ([]types.Log, error) {
		return n.FilterLogs(ctx, q)
	})
}

// CallContract runs eth_call on the best available node
func (mc *MultiClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, mc, heightOf(blockNumber), func(n *Node) ([]byte, error) {
		return n.CallContract(ctx, msg, blockNumber)
	})
}

// Close closes all underlying RPC connections
func (mc *MultiClient) Close() {
	for _, n := range mc.nodes {
		n.Close()
	}
}

// pickAvailableNodeWithHeight selects the best scored node that has reached
// requiredHeight, blocking on it when every eligible node is busy.
func (mc *MultiClient) pickAvailableNodeWithHeight(ctx context.Context, requiredHeight uint64) (*Node, error) {
	mc.mu.RLock()
	globalH := atomic.LoadUint64(&mc.globalHeight)
	candidates := make([]*Node, 0, len(mc.nodes))
	for _, n := range mc.nodes {
		if requiredHeight == 0 || n.MeetsHeightRequirement(requiredHeight) {
			candidates = append(candidates, n)
		}
	}
	total := len(mc.nodes)
	mc.mu.RUnlock()

	switch {
	case total == 0:
		return nil, ErrNoAvailableNodes
	case len(candidates) == 0:
		return nil, ErrNoNodeMeetsHeight
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score(globalH) > candidates[j].Score(globalH)
	})

	for _, node := range candidates {
		if err := node.TryAcquire(ctx); err == nil {
			return node, nil
		} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		// busy, rate limited or circuit broken: try the next one
	}

	bestNode := candidates[0]
	if bestNode.IsCircuitBroken() {
		return nil, ErrNoAvailableNodes
	}

	return mc.waitForNode(ctx, bestNode)
}

// waitForNode blocks until the node becomes available
func (mc *MultiClient) waitForNode(ctx context.Context, node *Node) (*Node, error) {
	if node.limiter != nil {
		if err := node.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	if node.semaphore != nil {
		select {
		case node.semaphore <- struct{}{}:
			return node, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return node, nil
}
