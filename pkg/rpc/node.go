package rpc

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"
)

var (
	ErrNodeBusy          = errors.New("rpc node is at max concurrency")
	ErrRateLimitExceeded = errors.New("rpc node rate limit exceeded")
	ErrCircuitBroken     = errors.New("rpc node circuit is open")
)

// circuitThreshold is the number of consecutive errors after which a node is skipped.
const circuitThreshold = 5

// revertErrorCode is the JSON-RPC code nodes use for a reverted eth_call.
const revertErrorCode = 3

// IsNodeFault reports whether err reflects on the node that served the request.
// Cancellations and reverted calls would fail the same way on any node, so they
// neither count against the node nor trigger a retry elsewhere.
func IsNodeFault(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !IsRevert(err)
}

// IsRevert reports whether err is a reverted eth_call, either by JSON-RPC code
// or, for providers that omit the code, by message.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == revertErrorCode {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

// NodeConfig represents configuration for a single RPC node
type NodeConfig struct {
	URL           string  `mapstructure:"url"`
	Priority      int     `mapstructure:"priority"`       // Initial weight (1-100), higher is more preferred
	RateLimit     float64 `mapstructure:"rate_limit"`     // Requests per second, 0 = unlimited
	MaxConcurrent int     `mapstructure:"max_concurrent"` // In-flight requests, 0 = unlimited
}

// Node wraps the underlying ethclient and provides health monitoring
type Node struct {
	config NodeConfig
	client EthClient

	limiter   *rate.Limiter
	semaphore chan struct{}
	metrics   *Metrics

	// Dynamic metrics (atomic operations)
	errorCount  uint64 // Consecutive error count
	totalErrors uint64 // Total error count
	latency     int64  // Average latency (ms)
	latestBlock uint64 // Latest block height observed by this node
}

// NewNode dials the node URL and wraps it.
func NewNode(ctx context.Context, cfg NodeConfig) (*Node, error) {
	client, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}

	return NewNodeWithClient(cfg, client), nil
}

// NewNodeWithClient initializes Node with a pre-created client (Testing/DI)
func NewNodeWithClient(cfg NodeConfig, client EthClient) *Node {
	n := &Node{
		config: cfg,
		client: client,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		n.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.MaxConcurrent > 0 {
		n.semaphore = make(chan struct{}, cfg.MaxConcurrent)
	}
	return n
}

// URL returns the node address
func (n *Node) URL() string {
	return n.config.URL
}

// Priority returns the configured weight
func (n *Node) Priority() int {
	return n.config.Priority
}

// Score calculates the real-time score of the node. Higher is better.
// Formula: (Priority * 100) - (Latency / 10) - (ConsecutiveErrors * 500)
// Points are also deducted if the node lags too far behind the global max height.
func (n *Node) Score(globalMaxHeight uint64) int64 {
	score := int64(n.config.Priority) * 100

	avgLatency := atomic.LoadInt64(&n.latency)
	score -= avgLatency / 10

	errs := atomic.LoadUint64(&n.errorCount)
	score -= int64(errs) * 500

	myHeight := atomic.LoadUint64(&n.latestBlock)
	if globalMaxHeight > 0 && myHeight < globalMaxHeight {
		lag := globalMaxHeight - myHeight
		if lag > 5 {
			score -= int64(lag) * 50
		}
	}

	return score
}

// RecordMetric records result of a call, updating latency and error count
func (n *Node) RecordMetric(start time.Time, err error) {
	duration := time.Since(start).Milliseconds()

	oldLatency := atomic.LoadInt64(&n.latency)
	if oldLatency == 0 {
		atomic.StoreInt64(&n.latency, duration)
	} else {
		// New latency weight 20%
		atomic.StoreInt64(&n.latency, (oldLatency*8+duration*2)/10)
	}

	if err != nil {
		atomic.AddUint64(&n.errorCount, 1)
		atomic.AddUint64(&n.totalErrors, 1)
		return
	}
	// Decrease error count slowly on success to avoid "jitter"
	if current := atomic.LoadUint64(&n.errorCount); current > 0 {
		atomic.StoreUint64(&n.errorCount, current-1)
	}
}

// observe feeds one finished request into the score and the collectors.
func (n *Node) observe(method string, start time.Time, err error) {
	var fault error
	if IsNodeFault(err) {
		fault = err
	}
	n.RecordMetric(start, fault)
	n.metrics.observe(n.config.URL, method, time.Since(start), err)
}

// UpdateHeight updates the latest block height for the node
func (n *Node) UpdateHeight(h uint64) {
	if h > atomic.LoadUint64(&n.latestBlock) {
		atomic.StoreUint64(&n.latestBlock, h)
	}
}

// IsCircuitBroken reports whether the node has failed too many times in a row.
func (n *Node) IsCircuitBroken() bool {
	return atomic.LoadUint64(&n.errorCount) >= circuitThreshold
}

// MeetsHeightRequirement reports whether the node has seen at least height h.
func (n *Node) MeetsHeightRequirement(h uint64) bool {
	return atomic.LoadUint64(&n.latestBlock) >= h
}

// TryAcquire reserves a request slot without blocking.
// Callers must call Release once the request is done.
func (n *Node) TryAcquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.IsCircuitBroken() {
		return ErrCircuitBroken
	}
	if n.limiter != nil && !n.limiter.Allow() {
		return ErrRateLimitExceeded
	}
	if n.semaphore != nil {
		select {
		case n.semaphore <- struct{}{}:
		default:
			return ErrNodeBusy
		}
	}
	return nil
}

// Release frees a slot taken by TryAcquire or a blocking wait.
func (n *Node) Release() {
	if n.semaphore == nil {
		return
	}
	select {
	case <-n.semaphore:
	default:
	}
}

// GetErrorCount returns the current consecutive error count
func (n *Node) GetErrorCount() uint64 {
	return atomic.LoadUint64(&n.errorCount)
}

// GetTotalErrors returns the total error count
func (n *Node) GetTotalErrors() uint64 {
	return atomic.LoadUint64(&n.totalErrors)
}

// GetLatency returns the average latency in ms
func (n *Node) GetLatency() int64 {
	return atomic.LoadInt64(&n.latency)
}

// GetLatestBlock returns the latest block height observed by this node
func (n *Node) GetLatestBlock() uint64 {
	return atomic.LoadUint64(&n.latestBlock)
}

// Proxy methods. Each one is timed and scored through observe.

func (n *Node) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	h, err := n.client.BlockNumber(ctx)
	n.observe("eth_blockNumber", start, err)
	if err == nil {
		n.UpdateHeight(h)
	}
	return h, err
}

func (n *Node) ChainID(ctx context.Context) (*big.Int, error) {
	start := time.Now()
	id, err := n.client.ChainID(ctx)
	n.observe("eth_chainId", start, err)
	return id, err
}

func (n *Node) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	start := time.Now()
	h, err := n.client.HeaderByNumber(ctx, number)
	n.observe("eth_getBlockByNumber", start, err)
	return h, err
}

func (n *Node) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	start := time.Now()
	logs, err := n.client.FilterLogs(ctx, q)
	n.observe("eth_getLogs", start, err)
	return logs, err
}

func (n *Node) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	start := time.Now()
	out, err := n.client.CallContract(ctx, msg, blockNumber)
	n.observe("eth_call", start, err)
	return out, err
}

func (n *Node) Close() {
	n.client.Close()
}
