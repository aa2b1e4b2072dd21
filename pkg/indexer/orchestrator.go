// Package indexer keeps the launch set of a factory feed up to date. A refresh
// scans new factory logs, folds the creations into the cached set, re-reads
// the live state of a bounded subset and persists the result.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/84hero/launch-indexer/pkg/decoder"
	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/84hero/launch-indexer/pkg/ledger"
	"github.com/84hero/launch-indexer/pkg/scanner"
	"github.com/84hero/launch-indexer/pkg/sink"
	"github.com/84hero/launch-indexer/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// ErrRefreshInProgress is returned when a refresh or clear is attempted while
// another cycle for the same feed is running.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// Mode selects the scan window of a refresh.
type Mode int

const (
	// Full rescans from the configured start block, ignoring the checkpoint.
	Full Mode = iota
	// Incremental scans from checkpoint+1.
	Incremental
	// SilentIncremental is Incremental without touching Loading or LastError.
	SilentIncremental
)

func (m Mode) String() string {
	switch m {
	case Full:
		return "full"
	case Incremental:
		return "incremental"
	case SilentIncremental:
		return "silent"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) silent() bool { return m == SilentIncremental }

// State is the stage a refresh cycle is in.
type State int32

const (
	Idle State = iota
	Scanning
	Extracting
	Merging
	Enriching
	Persisting
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Extracting:
		return "extracting"
	case Merging:
		return "merging"
	case Enriching:
		return "enriching"
	case Persisting:
		return "persisting"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Config struct {
	ChainID string
	Feed    common.Address
	// StartBlock is the floor of full and first-time scans
	StartBlock        uint64
	ChunkSize         uint64
	Confirmations     uint64
	EnrichCap         int
	EnrichConcurrency int
	UseBloom          bool
}

// Status is the user-facing view of the orchestrator. Silent cycles move State
// through the stages while they run but leave State, Loading and LastError as
// the last visible cycle set them.
type Status struct {
	State          State
	Loading        bool
	LastError      error
	IndexedToBlock uint64
	LastRefresh    time.Time
}

// Publisher receives the materialized set after every persisted cycle.
type Publisher interface {
	Publish(ctx context.Context, snap sink.Snapshot) error
}

// Orchestrator runs refresh cycles for a single feed.
type Orchestrator struct {
	config    Config
	key       FeedKey
	ledger    ledger.Ledger
	scanner   *scanner.Scanner
	decoder   *decoder.ABIWrapper
	cache     *Cache
	enricher  *Enricher
	publisher Publisher
	metrics   *Metrics
	now       func() time.Time

	busy atomic.Bool
	view atomic.Pointer[[]launch.Entity]

	mu     sync.Mutex
	status Status
}

func New(l ledger.Ledger, store storage.Store, cfg Config) *Orchestrator {
	if cfg.EnrichCap <= 0 {
		cfg.EnrichCap = launch.DefaultEnrichCap
	}
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = DefaultEnrichConcurrency
	}

	dec := decoder.MustFromJSON(decoder.FactoryABI)
	// FactoryABI is compiled in and always carries the event
	topic, _ := dec.EventID(decoder.LaunchCreatedEvent)

	o := &Orchestrator{
		config:   cfg,
		key:      FeedKey{ChainID: cfg.ChainID, Feed: cfg.Feed},
		ledger:   l,
		scanner:  scanner.New(l, scanner.NewFilter(cfg.Feed, topic), scanner.Config{ChunkSize: cfg.ChunkSize, UseBloom: cfg.UseBloom}),
		decoder:  dec,
		cache:    NewCache(store),
		enricher: NewEnricher(l, cfg.Feed, cfg.EnrichConcurrency),
		now:      time.Now,
	}
	empty := []launch.Entity{}
	o.view.Store(&empty)
	return o
}

// SetPublisher sets where snapshots go after each persisted cycle.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// SetMetrics enables metric collection.
func (o *Orchestrator) SetMetrics(m *Metrics) {
	o.metrics = m
}

// SetClock replaces the time source (tests).
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
	o.enricher.now = now
}

// Key returns the feed key the orchestrator persists under.
func (o *Orchestrator) Key() FeedKey {
	return o.key
}

// CurrentEntities returns a copy of the last successfully materialized set.
func (o *Orchestrator) CurrentEntities() []launch.Entity {
	return launch.Clone(*o.view.Load())
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Load fills the in-memory view from the durable cache without touching the ledger.
// Like ClearCache it is refused while a refresh holds the feed.
func (o *Orchestrator) Load(ctx context.Context) error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer o.busy.Store(false)

	snap, err := o.cache.Load(ctx, o.key)
	if err != nil {
		return err
	}
	entities := snap.Entities
	if entities == nil {
		entities = []launch.Entity{}
	}
	o.view.Store(&entities)

	o.mu.Lock()
	if snap.HasCheckpoint {
		o.status.IndexedToBlock = snap.IndexedToBlock
	}
	o.mu.Unlock()

	o.metrics.setState(o.key.String(), len(entities), snap.IndexedToBlock)
	log.Info("Loaded launch cache", "feed", o.key, "entities", len(entities), "checkpoint", snap.IndexedToBlock, "has_checkpoint", snap.HasCheckpoint)
	return nil
}

// ClearCache drops the persisted entities and checkpoint and empties the view.
// The next refresh, whatever its mode, starts from the configured start block.
func (o *Orchestrator) ClearCache(ctx context.Context) error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer o.busy.Store(false)

	if err := o.cache.Clear(ctx, o.key); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	empty := []launch.Entity{}
	o.view.Store(&empty)

	o.mu.Lock()
	o.status = Status{State: Idle}
	o.mu.Unlock()

	o.metrics.setState(o.key.String(), 0, 0)
	log.Info("Cleared launch cache", "feed", o.key)
	return nil
}

// Refresh runs one cycle. It returns ErrRefreshInProgress without doing
// anything if another cycle holds the feed. On failure nothing is persisted
// and CurrentEntities keeps returning the previous set.
func (o *Orchestrator) Refresh(ctx context.Context, mode Mode) error {
	if !o.busy.CompareAndSwap(false, true) {
		return ErrRefreshInProgress
	}
	defer o.busy.Store(false)

	start := o.now()
	o.mu.Lock()
	before := o.status.State
	if !mode.silent() {
		o.status.Loading = true
	}
	o.mu.Unlock()

	err := o.refresh(ctx, mode)

	o.mu.Lock()
	switch {
	case mode.silent():
		// background cycles leave the visible outcome as the last visible cycle set it
		o.status.State = before
	case err == nil:
		o.status.State = Idle
	case o.status.State != Error:
		o.status.State = Idle
	}
	if !mode.silent() {
		o.status.Loading = false
		o.status.LastError = err
	}
	if err == nil {
		o.status.LastRefresh = o.now()
	}
	o.mu.Unlock()

	o.metrics.observeRefresh(o.key.String(), mode, err, o.now().Sub(start))
	if err != nil {
		if mode.silent() {
			log.Warn("Background refresh failed", "feed", o.key, "mode", mode, "err", err)
		} else {
			log.Error("Refresh failed", "feed", o.key, "mode", mode, "err", err)
		}
	}
	return err
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.status.State = s
	o.mu.Unlock()
}

func (o *Orchestrator) refresh(ctx context.Context, mode Mode) error {
	o.setState(Scanning)

	cached, err := o.cache.Load(ctx, o.key)
	if err != nil {
		o.setState(Error)
		return err
	}

	head, err := o.ledger.LatestBlock(ctx)
	if err != nil {
		o.setState(Error)
		return err
	}
	target := uint64(0)
	if head > o.config.Confirmations {
		target = head - o.config.Confirmations
	}
	if cached.HasCheckpoint && target < cached.IndexedToBlock {
		target = cached.IndexedToBlock
	}

	from := o.config.StartBlock
	if mode != Full && cached.HasCheckpoint && cached.IndexedToBlock+1 > from {
		from = cached.IndexedToBlock + 1
	}

	log.Info("Refreshing launches", "feed", o.key, "mode", mode, "from", from, "to", target, "cached", len(cached.Entities))
	logs, err := o.scanner.Scan(ctx, from, target)
	if err != nil {
		o.setState(Error)
		return err
	}

	o.setState(Extracting)
	creations := launch.Extract(o.decoder, logs)
	if len(creations) > 0 {
		ts := blockTimestamps(ctx, o.ledger, launch.DistinctBlocks(creations), o.config.EnrichConcurrency)
		launch.ApplyTimestamps(creations, ts)
	}

	o.setState(Merging)
	newKeys := launch.NewlySeen(cached.Entities, creations)
	merged, err := launch.Merge(cached.Entities, creations)
	if err != nil {
		return err
	}

	o.setState(Enriching)
	selected := launch.SelectForEnrichment(merged, newKeys, o.config.EnrichCap)
	enriched, failures := o.enricher.EnrichAll(ctx, selected)
	o.metrics.addEnrichFailures(o.key.String(), failures)
	merged = replaceByKey(merged, enriched)
	launch.SortByRecency(merged)

	o.setState(Persisting)
	if err := o.cache.Commit(ctx, o.key, merged, target); err != nil {
		return err
	}

	view := launch.Clone(merged)
	o.view.Store(&view)
	o.mu.Lock()
	o.status.IndexedToBlock = target
	o.mu.Unlock()
	o.metrics.setState(o.key.String(), len(merged), target)

	log.Info("Refresh complete", "feed", o.key, "mode", mode, "entities", len(merged), "new", len(newKeys), "enriched", len(selected), "enrich_failures", failures, "checkpoint", target)
	o.publish(ctx, target, newKeys, merged)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, block uint64, newKeys []common.Address, entities []launch.Entity) {
	if o.publisher == nil {
		return
	}
	snap := sink.NewSnapshot(o.config.ChainID, o.config.Feed, block, newKeys, entities, o.now())
	if err := o.publisher.Publish(ctx, snap); err != nil {
		log.Warn("Snapshot publication failed", "feed", o.key, "snapshot", snap.ID, "err", err)
	}
}

func replaceByKey(merged, updated []launch.Entity) []launch.Entity {
	index := make(map[common.Address]int, len(merged))
	for i, e := range merged {
		index[e.Key] = i
	}
	for _, u := range updated {
		if i, ok := index[u.Key]; ok {
			merged[i] = u
		}
	}
	return merged
}
