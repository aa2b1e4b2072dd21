package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/84hero/launch-indexer/pkg/launch"
	"github.com/84hero/launch-indexer/pkg/sink"
	"github.com/84hero/launch-indexer/pkg/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_800_000_000, 0)

type recordingPublisher struct {
	snaps []sink.Snapshot
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, snap sink.Snapshot) error {
	p.snaps = append(p.snaps, snap)
	return p.err
}

func newOrchestrator(l *fakeLedger, store storage.Store, cfg Config) *Orchestrator {
	cfg.ChainID = "8453"
	cfg.Feed = feedAddr
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 7
	}
	o := New(l, store, cfg)
	o.SetClock(func() time.Time { return fixedNow })
	return o
}

// three launches at blocks 10, 20 and 30
func seededLedger(t *testing.T) *fakeLedger {
	l := newFakeLedger()
	l.addCreation(t, keyA, "A", 10)
	l.addCreation(t, keyB, "B", 20)
	l.addCreation(t, keyC, "C", 30)
	l.setState(keyA, 0, 1000, 5, 400, false)
	l.setState(keyB, 10, 1000, 5, 990, false)
	l.setState(keyC, 0, 0, 0, 0, false)
	l.setHead(30)
	return l
}

func TestRefresh_FullThenIncremental(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	store := storage.NewMemoryStore("")
	o := newOrchestrator(l, store, Config{})

	require.NoError(t, o.Refresh(ctx, Full))

	first := o.CurrentEntities()
	assert.Equal(t, []common.Address{keyC, keyB, keyA}, keysOf(first))
	assert.Equal(t, [2]uint64{28, 30}, l.lastScan())
	assert.Equal(t, uint64(30), o.Status().IndexedToBlock)

	cp, ok, err := NewCheckpoints(store).Load(ctx, o.Key())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(30), cp)

	// enrichment ran on every launch
	a := first[2]
	assert.Equal(t, "A", a.Name)
	assert.Equal(t, uint64(1_700_000_000+10*12), a.CreatedAtTime)
	assert.Equal(t, int64(600), a.Sold.Int64(), "sold derived from supply and remaining")
	assert.Equal(t, common.HexToAddress("0x9001"), a.TradingPool)
	assert.Equal(t, fixedNow.Unix(), a.LastUpdatedAt)

	l.setHead(40)
	require.NoError(t, o.Refresh(ctx, Incremental))

	second := o.CurrentEntities()
	assert.Equal(t, records(first), records(second))
	assert.Equal(t, [2]uint64{38, 40}, l.lastScan())
	assert.Equal(t, uint64(31), l.logCalls[len(l.logCalls)-2][0])

	cp, _, err = NewCheckpoints(store).Load(ctx, o.Key())
	require.NoError(t, err)
	assert.Equal(t, uint64(40), cp)
	assert.Equal(t, Idle, o.Status().State)
}

func TestRefresh_FullWithCheckpointRescansAndKeepsEverything(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	store := storage.NewMemoryStore("")
	o := newOrchestrator(l, store, Config{StartBlock: 5})

	require.NoError(t, o.Refresh(ctx, Full))
	l.setHead(40)
	require.NoError(t, o.Refresh(ctx, Incremental))
	want := records(o.CurrentEntities())
	require.Len(t, want, 3)

	// the provider stops returning C's creation log; a full rescan must not lose it
	l.mu.Lock()
	l.logs = l.logs[:2]
	calls := len(l.logCalls)
	l.mu.Unlock()

	require.NoError(t, o.Refresh(ctx, Full))
	assert.Equal(t, uint64(5), l.logCalls[calls][0], "full ignores the checkpoint")
	assert.Equal(t, [2]uint64{40, 40}, l.lastScan())
	assert.Equal(t, want, records(o.CurrentEntities()))

	cp, ok, err := NewCheckpoints(store).Load(ctx, o.Key())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(40), cp)

	// a lagging head neither shrinks the scan target below the checkpoint nor moves it back
	l.setHead(35)
	calls = len(l.logCalls)
	require.NoError(t, o.Refresh(ctx, Full))
	assert.Equal(t, uint64(5), l.logCalls[calls][0])
	assert.Equal(t, uint64(40), l.lastScan()[1])

	cp, _, err = NewCheckpoints(store).Load(ctx, o.Key())
	require.NoError(t, err)
	assert.Equal(t, uint64(40), cp)
	assert.Equal(t, uint64(40), o.Status().IndexedToBlock)
	assert.Equal(t, want, records(o.CurrentEntities()))
}

func TestRefresh_FailureKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	store := storage.NewMemoryStore("")
	o := newOrchestrator(l, store, Config{})
	require.NoError(t, o.Refresh(ctx, Full))

	before := o.CurrentEntities()
	blob, err := store.Get(ctx, o.Key().EntitiesKey())
	require.NoError(t, err)

	l.addCreation(t, common.HexToAddress("0xdddd"), "D", 35)
	l.setHead(40)
	l.logsErr = errLedgerDown

	err = o.Refresh(ctx, Incremental)
	assert.ErrorIs(t, err, errLedgerDown)

	st := o.Status()
	assert.Equal(t, Error, st.State)
	assert.ErrorIs(t, st.LastError, errLedgerDown)
	assert.False(t, st.Loading)
	assert.Equal(t, uint64(30), st.IndexedToBlock)
	assert.Equal(t, records(before), records(o.CurrentEntities()))

	after, err := store.Get(ctx, o.Key().EntitiesKey())
	require.NoError(t, err)
	assert.Equal(t, blob, after)
	cp, _, _ := NewCheckpoints(store).Load(ctx, o.Key())
	assert.Equal(t, uint64(30), cp)

	// the next cycle picks up where the last good one stopped
	l.logsErr = nil
	require.NoError(t, o.Refresh(ctx, Incremental))
	assert.Len(t, o.CurrentEntities(), 4)
	assert.Nil(t, o.Status().LastError)
	assert.Equal(t, Idle, o.Status().State)
}

func TestRefresh_HeadFailure(t *testing.T) {
	l := seededLedger(t)
	l.headErr = errLedgerDown
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{})

	assert.ErrorIs(t, o.Refresh(context.Background(), Full), errLedgerDown)
	assert.Empty(t, o.CurrentEntities())
	assert.Empty(t, l.logCalls)
}

func TestRefresh_SilentModeHidesStatus(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{})
	l.headErr = errLedgerDown

	assert.Error(t, o.Refresh(ctx, SilentIncremental))
	st := o.Status()
	assert.Nil(t, st.LastError)
	assert.False(t, st.Loading)
	assert.Equal(t, Idle, st.State)

	assert.Error(t, o.Refresh(ctx, Incremental))
	st = o.Status()
	assert.Error(t, st.LastError)
	assert.Equal(t, Error, st.State)

	// a silent success does not clear what the user last saw either
	l.headErr = nil
	require.NoError(t, o.Refresh(ctx, SilentIncremental))
	st = o.Status()
	assert.Error(t, st.LastError)
	assert.Equal(t, Error, st.State)
	assert.Len(t, o.CurrentEntities(), 3)

	// the next visible success clears both
	require.NoError(t, o.Refresh(ctx, Incremental))
	st = o.Status()
	assert.NoError(t, st.LastError)
	assert.Equal(t, Idle, st.State)
}

func TestRefresh_BusyFlag(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	l.headGate = make(chan struct{})
	l.headCalled = make(chan struct{}, 1)
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{})

	done := make(chan error, 1)
	go func() { done <- o.Refresh(ctx, Full) }()
	<-l.headCalled

	assert.ErrorIs(t, o.Refresh(ctx, SilentIncremental), ErrRefreshInProgress)
	assert.ErrorIs(t, o.ClearCache(ctx), ErrRefreshInProgress)
	assert.ErrorIs(t, o.Load(ctx), ErrRefreshInProgress)
	assert.True(t, o.Status().Loading)

	close(l.headGate)
	require.NoError(t, <-done)
	assert.False(t, o.Status().Loading)

	// released after completion
	l.headCalled = nil
	assert.NoError(t, o.Refresh(ctx, Incremental))
}

func TestClearCache_ForcesFullRescan(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	store := storage.NewMemoryStore("")
	o := newOrchestrator(l, store, Config{StartBlock: 5})
	require.NoError(t, o.Refresh(ctx, Full))

	require.NoError(t, o.ClearCache(ctx))
	assert.Empty(t, o.CurrentEntities())
	assert.Equal(t, uint64(0), o.Status().IndexedToBlock)
	_, err := store.Get(ctx, o.Key().EntitiesKey())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.Get(ctx, o.Key().CheckpointKey())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	l.logCalls = nil
	l.setHead(40)
	require.NoError(t, o.Refresh(ctx, Incremental))
	assert.Equal(t, uint64(5), l.logCalls[0][0])
	assert.Equal(t, []common.Address{keyC, keyB, keyA}, keysOf(o.CurrentEntities()))
}

func TestRefresh_UnseenEntitySurvivesAndIsEnriched(t *testing.T) {
	ctx := context.Background()
	l := newFakeLedger()
	l.setState(keyA, 3, 100, 1, 97, false)
	l.setHead(40)
	store := storage.NewMemoryStore("")
	o := newOrchestrator(l, store, Config{})

	a := launch.NewEntity(launch.Creation{Key: keyA, Name: "A", BlockNumber: 10, Timestamp: 1000})
	require.NoError(t, o.cache.Commit(ctx, o.Key(), []launch.Entity{a}, 30))

	require.NoError(t, o.Refresh(ctx, Incremental))
	assert.Equal(t, [2]uint64{38, 40}, l.lastScan())

	got := o.CurrentEntities()
	require.Len(t, got, 1)
	assert.Equal(t, keyA, got[0].Key)
	assert.False(t, got[0].Finalized)
	assert.Equal(t, "A", got[0].Name)
	assert.Equal(t, int64(3), got[0].Sold.Int64())
	assert.Positive(t, l.readCalls[keyA])
}

func TestRefresh_EnrichmentFailureIsolated(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	l.readErr[keyB] = true
	reg := prometheus.NewRegistry()
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{})
	o.SetMetrics(NewMetrics(reg))

	require.NoError(t, o.Refresh(ctx, Full))

	byKey := map[common.Address]launch.Entity{}
	for _, e := range o.CurrentEntities() {
		byKey[e.Key] = e
	}
	require.Len(t, byKey, 3)
	assert.Equal(t, int64(1000), byKey[keyA].TotalSaleSupply.Int64())
	assert.Equal(t, int64(0), byKey[keyB].TotalSaleSupply.Int64())
	assert.Equal(t, int64(0), byKey[keyB].LastUpdatedAt)
	assert.Equal(t, "B", byKey[keyB].Name)

	feed := o.Key().String()
	assert.Equal(t, float64(1), testutil.ToFloat64(o.metrics.enrichFailures.WithLabelValues(feed)))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.metrics.refreshTotal.WithLabelValues(feed, "full", "ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(o.metrics.entities.WithLabelValues(feed)))
	assert.Equal(t, float64(30), testutil.ToFloat64(o.metrics.indexedBlock.WithLabelValues(feed)))
}

func TestRefresh_MissingTimestampIsBackfilled(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	l.setState(keyA, 0, 1000, 5, 400, true)
	l.setState(keyC, 1, 10, 1, 9, true)
	l.tsErr[20] = true
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{EnrichCap: 1})

	// B has no time yet and sorts last
	require.NoError(t, o.Refresh(ctx, Full))
	assert.Equal(t, []common.Address{keyC, keyA, keyB}, keysOf(o.CurrentEntities()))

	// B is the only unfinalized launch, so enrichment picks it and fills the time in
	l.tsErr[20] = false
	require.NoError(t, o.Refresh(ctx, Incremental))
	assert.Equal(t, []common.Address{keyC, keyB, keyA}, keysOf(o.CurrentEntities()))
	for _, e := range o.CurrentEntities() {
		assert.NotZero(t, e.CreatedAtTime, e.Name)
	}
}

func TestRefresh_Confirmations(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{Confirmations: 5})

	require.NoError(t, o.Refresh(ctx, Full))
	assert.Equal(t, uint64(25), o.Status().IndexedToBlock)
	assert.Equal(t, []common.Address{keyB, keyA}, keysOf(o.CurrentEntities()))

	l.setHead(35)
	require.NoError(t, o.Refresh(ctx, Incremental))
	assert.Equal(t, uint64(30), o.Status().IndexedToBlock)
	assert.Len(t, o.CurrentEntities(), 3)
}

func TestRefresh_CheckpointNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{})
	require.NoError(t, o.Refresh(ctx, Full))

	// a lagging node reports an older head
	l.setHead(25)
	l.logCalls = nil
	require.NoError(t, o.Refresh(ctx, Incremental))
	assert.Equal(t, uint64(30), o.Status().IndexedToBlock)
	assert.Empty(t, l.logCalls)
	assert.Len(t, o.CurrentEntities(), 3)
}

func TestRefresh_PublishesSnapshots(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	pub := &recordingPublisher{}
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{})
	o.SetPublisher(pub)

	require.NoError(t, o.Refresh(ctx, Full))
	pub.err = errors.New("broker down")
	l.setHead(31)
	require.NoError(t, o.Refresh(ctx, Incremental))

	require.Len(t, pub.snaps, 2)
	assert.Len(t, pub.snaps[0].NewKeys, 3)
	assert.Len(t, pub.snaps[0].Entities, 3)
	assert.Equal(t, uint64(30), pub.snaps[0].IndexedToBlock)
	assert.Empty(t, pub.snaps[1].NewKeys)
	assert.Equal(t, uint64(31), pub.snaps[1].IndexedToBlock)
	assert.NotEqual(t, pub.snaps[0].ID, pub.snaps[1].ID)
}

func TestLoad_HydratesView(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	store := storage.NewMemoryStore("")
	require.NoError(t, newOrchestrator(l, store, Config{}).Refresh(ctx, Full))

	o := newOrchestrator(l, store, Config{})
	assert.Empty(t, o.CurrentEntities())
	require.NoError(t, o.Load(ctx))
	assert.Equal(t, []common.Address{keyC, keyB, keyA}, keysOf(o.CurrentEntities()))
	assert.Equal(t, uint64(30), o.Status().IndexedToBlock)
}

func TestCurrentEntities_ReturnsCopies(t *testing.T) {
	l := seededLedger(t)
	o := newOrchestrator(l, storage.NewMemoryStore(""), Config{})
	require.NoError(t, o.Refresh(context.Background(), Full))

	got := o.CurrentEntities()
	got[0].Sold.SetInt64(12345)
	got[0].Name = "mutated"
	assert.NotEqual(t, "mutated", o.CurrentEntities()[0].Name)
	assert.NotEqual(t, int64(12345), o.CurrentEntities()[0].Sold.Int64())
}

func TestModeAndStateStrings(t *testing.T) {
	assert.Equal(t, "silent", SilentIncremental.String())
	assert.Equal(t, "persisting", Persisting.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}

type failingStore struct {
	storage.Store
}

func (failingStore) SetMany(context.Context, map[string][]byte) error {
	return errors.New("disk full")
}

func TestRefresh_PersistFailureKeepsView(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	o := newOrchestrator(l, failingStore{storage.NewMemoryStore("")}, Config{})

	err := o.Refresh(ctx, Full)
	require.Error(t, err)
	assert.Empty(t, o.CurrentEntities())
	assert.Equal(t, Idle, o.Status().State)
	assert.Error(t, o.Status().LastError)
}
