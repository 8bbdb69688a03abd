package provenance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechain/internal/coordinator"
	blobmemory "carechain/internal/infra/blob/memory"
	ledgermemory "carechain/internal/infra/ledger/memory"
	"carechain/internal/testutil"
	"carechain/pkg/domain"
)

type fixture struct {
	manager *Manager
	ledger  *ledgermemory.Ledger
	store   *blobmemory.Store
	clock   *testutil.Clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := testutil.NewClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	coord := coordinator.New(coordinator.Config{
		MaxRetries:  2,
		BackoffBase: time.Second,
		BackoffMax:  4 * time.Second,
	}, clock)
	l := ledgermemory.New()
	s := blobmemory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		manager: NewManager(l, s, coord, clock, "test-owner", logger),
		ledger:  l,
		store:   s,
		clock:   clock,
	}
}

func summaryFor(approach string) domain.SynthesizedSummary {
	s := domain.SynthesizedSummary{CareApproach: approach}
	s.Normalize()
	return s
}

func TestMintCreatesChainHead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.MintOrUpdate(ctx, "p1", "a1", summaryFor("first assessment"))
	require.NoError(t, err)
	assert.True(t, res.Minted)
	assert.NotEmpty(t, res.AnchorID)
	assert.NotEmpty(t, res.TxRef)

	rec, err := f.manager.GetLatest(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.SubjectID)
	assert.Equal(t, "a1", rec.AnalysisID)
	assert.Empty(t, rec.PreviousRecordRef)
	assert.Equal(t, 1, f.ledger.AnchorCount())
}

func TestUpdateLinksToPreviousRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.MintOrUpdate(ctx, "p1", "a1", summaryFor("first assessment"))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	second, err := f.manager.MintOrUpdate(ctx, "p1", "a2", summaryFor("follow-up"))
	require.NoError(t, err)
	assert.False(t, second.Minted)
	assert.Equal(t, first.AnchorID, second.AnchorID)
	assert.Equal(t, 1, f.ledger.AnchorCount())

	chain, err := f.manager.GetChain(ctx, "a2", 0)
	require.NoError(t, err)
	assert.False(t, chain.Broken)
	require.Len(t, chain.Records, 2)
	// Oldest first: the chain reads forward in time.
	assert.Equal(t, "a1", chain.Records[0].AnalysisID)
	assert.Equal(t, "a2", chain.Records[1].AnalysisID)
	assert.Empty(t, chain.Records[0].PreviousRecordRef)
	assert.Equal(t, first.ContentRef, chain.Records[1].PreviousRecordRef)

	// The anchor's hash now attests the newest record.
	anchor, err := f.ledger.AnchorForSubject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, second.ContentHash, anchor.ContentHash)
}

func TestDuplicateAnalysisRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.MintOrUpdate(ctx, "p1", "a1", summaryFor("first assessment"))
	require.NoError(t, err)

	_, err = f.manager.MintOrUpdate(ctx, "p1", "a1", summaryFor("replayed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateAnalysis)
	assert.False(t, domain.Retryable(err))
	assert.Equal(t, 1, f.ledger.AnchorCount())
}

func TestVerifyDetectsTampering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.manager.MintOrUpdate(ctx, "p1", "a1", summaryFor("first assessment"))
	require.NoError(t, err)

	rec, err := f.manager.GetLatest(ctx, "p1")
	require.NoError(t, err)
	ok, err := f.manager.Verify(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	// A record whose content diverges from the anchor fails verification.
	tampered := rec
	tampered.Summary.CareApproach = "altered after anchoring"
	ok, err = f.manager.Verify(ctx, tampered)
	require.NoError(t, err)
	assert.False(t, ok)

	// Out-of-band mutation of the stored bytes is caught on read.
	require.True(t, f.store.Corrupt(res.ContentRef, []byte(`{"subject_id":"p1"}`)))
	_, err = f.manager.GetLatest(ctx, "p1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrHashMismatch)
}

func TestGetChainToleratesBrokenLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.MintOrUpdate(ctx, "p1", "a1", summaryFor("first assessment"))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)
	_, err = f.manager.MintOrUpdate(ctx, "p1", "a2", summaryFor("follow-up"))
	require.NoError(t, err)

	require.True(t, f.store.Remove(first.ContentRef))

	chain, err := f.manager.GetChain(ctx, "a2", 0)
	require.NoError(t, err)
	assert.True(t, chain.Broken)
	assert.Equal(t, first.ContentRef, chain.BrokenRef)
	require.Len(t, chain.Records, 1)
	assert.Equal(t, "a2", chain.Records[0].AnalysisID)

	// The audit treats the unreachable link as a failure.
	checked, err := f.manager.AuditChain(ctx, "a2", 0)
	assert.Error(t, err)
	assert.Equal(t, 1, checked)
}

func TestGetChainRespectsMaxDepth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := f.manager.MintOrUpdate(ctx, "p1", fmt.Sprintf("a%d", i), summaryFor("assessment"))
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	chain, err := f.manager.GetChain(ctx, "a4", 2)
	require.NoError(t, err)
	require.Len(t, chain.Records, 2)
	// The walk starts at the head, so truncation drops the oldest records.
	assert.Equal(t, "a3", chain.Records[0].AnalysisID)
	assert.Equal(t, "a4", chain.Records[1].AnalysisID)
}

func TestGetChainUnknownAnalysis(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.GetChain(context.Background(), "missing", 0)
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestHistoryForSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	history, err := f.manager.HistoryForSubject(ctx, "p1", 2)
	require.NoError(t, err)
	assert.Empty(t, history)

	for i := 1; i <= 3; i++ {
		_, err := f.manager.MintOrUpdate(ctx, "p1", fmt.Sprintf("a%d", i), summaryFor("assessment"))
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	history, err = f.manager.HistoryForSubject(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest first.
	assert.Equal(t, "a3", history[0].AnalysisID)
	assert.Equal(t, "a2", history[1].AnalysisID)
}

func TestConcurrentWritesKeepSingleAnchor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.manager.MintOrUpdate(ctx, "p1", fmt.Sprintf("a%d", i), summaryFor("assessment"))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.ledger.AnchorCount())
	history, err := f.manager.HistoryForSubject(ctx, "p1", writers)
	require.NoError(t, err)
	assert.Len(t, history, writers)
}
