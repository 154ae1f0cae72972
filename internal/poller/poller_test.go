package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/events"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/metrics"
	"github.com/goran-ethernal/MarketIndexor/internal/projector"
	"github.com/goran-ethernal/MarketIndexor/internal/source/mocks"
	"github.com/goran-ethernal/MarketIndexor/internal/store/storetest"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	"github.com/goran-ethernal/MarketIndexor/pkg/source"
	pkgstore "github.com/goran-ethernal/MarketIndexor/pkg/store"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const kindPrefix = "0x1::marketplace::"

func rawMinted(id, txID string, ts int64) source.RawEvent {
	return source.RawEvent{
		Kind:      kindPrefix + events.NameMinted,
		Payload:   []byte(`{"token_id":"` + id + `","creator":"0xcreator","name":"nft ` + id + `"}`),
		TxID:      txID,
		Timestamp: ts,
	}
}

func rawListed(id, txID string, ts int64) source.RawEvent {
	return source.RawEvent{
		Kind:      kindPrefix + events.NameListed,
		Payload:   []byte(`{"token_id":"` + id + `","seller":"0xcreator","price":100}`),
		TxID:      txID,
		Timestamp: ts,
	}
}

// flakyProjector fails the first n Apply calls and delegates the rest.
type flakyProjector struct {
	failures atomic.Int32
	next     Projector
}

func (f *flakyProjector) Apply(ctx context.Context, ev events.Event) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("database is locked")
	}
	return f.next.Apply(ctx, ev)
}

func newPoller(t *testing.T, resume bool, interval time.Duration) (*Poller, *mocks.Source, pkgstore.Store) {
	t.Helper()

	s := storetest.New(t)
	src := mocks.NewSource(t)
	proj := projector.New(s, nil, logger.NewNopLogger())

	cfg := config.PollerConfig{Interval: common.NewDuration(interval), Resume: &resume}

	return New(cfg, src, proj, s, logger.NewNopLogger()), src, s
}

func TestState_String(t *testing.T) {
	require.Equal(t, "stopped", StateStopped.String())
	require.Equal(t, "running", StateRunning.String())
}

func TestNew_DefaultsInterval(t *testing.T) {
	p := New(config.PollerConfig{}, nil, nil, nil, logger.NewNopLogger())
	require.Equal(t, config.DefaultPollInterval, p.interval)
	require.True(t, p.resume)
	require.Equal(t, StateStopped, p.State())
}

func TestCycle_ResumesAndAdvancesCheckpoint(t *testing.T) {
	ctx := context.Background()
	p, src, s := newPoller(t, true, time.Second)

	require.NoError(t, s.SaveCursorState(ctx, &pkgstore.CursorState{Checkpoint: "cp-1", EventSeq: 5}))

	src.EXPECT().FetchEvents(mock.Anything, "cp-1").Return(&source.Batch{
		Events: []source.RawEvent{rawMinted("1", "tx-1", 1000), rawListed("1", "tx-2", 2000)},
		Next:   "cp-2",
	}, nil).Once()
	src.EXPECT().FetchEvents(mock.Anything, "cp-2").Return(&source.Batch{Next: "cp-2"}, nil).Once()

	outcome, err := p.cycle(ctx, "cycle-1")
	require.NoError(t, err)
	require.Equal(t, metrics.OutcomeSuccess, outcome)

	state, err := s.GetCursorState(ctx)
	require.NoError(t, err)
	require.Equal(t, "cp-2", state.Checkpoint)
	require.Equal(t, uint64(7), state.EventSeq)
	require.NotZero(t, state.UpdatedAt)

	outcome, err = p.cycle(ctx, "cycle-2")
	require.NoError(t, err)
	require.Equal(t, metrics.OutcomeEmpty, outcome)

	listing, err := s.GetListing(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, pkgstore.ListingActive, listing.Status)
}

func TestCycle_WithoutResumeRescansRecentPage(t *testing.T) {
	ctx := context.Background()
	p, src, s := newPoller(t, false, time.Second)

	require.NoError(t, s.SaveCursorState(ctx, &pkgstore.CursorState{Checkpoint: "stale", EventSeq: 3}))

	src.EXPECT().FetchEvents(mock.Anything, "").Return(&source.Batch{
		Events: []source.RawEvent{rawListed("1", "tx-1", 1000)},
		Next:   "cp-1",
	}, nil).Times(2)

	for range 2 {
		_, err := p.cycle(ctx, "cycle")
		require.NoError(t, err)
	}

	txs, err := s.ListTransactions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	state, err := s.GetCursorState(ctx)
	require.NoError(t, err)
	require.Equal(t, "cp-1", state.Checkpoint)
	require.Equal(t, uint64(5), state.EventSeq)
}

func TestCycle_PersistenceFailureHoldsCheckpoint(t *testing.T) {
	ctx := context.Background()
	p, src, s := newPoller(t, true, time.Second)

	flaky := &flakyProjector{next: p.projector}
	flaky.failures.Store(1)
	p.projector = flaky

	batch := &source.Batch{
		Events: []source.RawEvent{rawListed("1", "tx-1", 1000)},
		Next:   "cp-1",
	}
	src.EXPECT().FetchEvents(mock.Anything, "").Return(batch, nil).Times(2)

	outcome, err := p.cycle(ctx, "cycle-1")
	require.Error(t, err)
	require.Equal(t, metrics.OutcomeFailed, outcome)

	state, err := s.GetCursorState(ctx)
	require.NoError(t, err)
	require.Empty(t, state.Checkpoint)
	require.Zero(t, state.EventSeq)

	outcome, err = p.cycle(ctx, "cycle-2")
	require.NoError(t, err)
	require.Equal(t, metrics.OutcomeSuccess, outcome)

	state, err = s.GetCursorState(ctx)
	require.NoError(t, err)
	require.Equal(t, "cp-1", state.Checkpoint)
	require.Equal(t, uint64(1), state.EventSeq)
}

func TestCycle_MalformedEventDoesNotHoldCheckpoint(t *testing.T) {
	ctx := context.Background()
	p, src, s := newPoller(t, true, time.Second)

	malformed := source.RawEvent{
		Kind:      kindPrefix + events.NameMinted,
		Payload:   []byte(`{"token_id":"2"}`),
		TxID:      "tx-bad",
		Timestamp: 500,
	}
	unknown := source.RawEvent{
		Kind:      kindPrefix + "NFTBurned",
		Payload:   []byte(`{}`),
		TxID:      "tx-unknown",
		Timestamp: 600,
	}

	src.EXPECT().FetchEvents(mock.Anything, "").Return(&source.Batch{
		Events: []source.RawEvent{malformed, unknown, rawMinted("1", "tx-1", 1000)},
		Next:   "cp-1",
	}, nil).Once()

	_, err := p.cycle(ctx, "cycle")
	require.NoError(t, err)

	state, err := s.GetCursorState(ctx)
	require.NoError(t, err)
	require.Equal(t, "cp-1", state.Checkpoint)

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.TotalNFTs)

	txs, err := s.ListTransactions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

func TestCycle_FetchErrorLeavesCursor(t *testing.T) {
	ctx := context.Background()
	p, src, s := newPoller(t, true, time.Second)

	src.EXPECT().FetchEvents(mock.Anything, "").Return(nil, errors.New("503 service unavailable")).Once()

	outcome, err := p.cycle(ctx, "cycle")
	require.ErrorContains(t, err, "failed to fetch events")
	require.Equal(t, metrics.OutcomeFailed, outcome)

	state, err := s.GetCursorState(ctx)
	require.NoError(t, err)
	require.Zero(t, state.UpdatedAt)
}

func TestPoller_StartStop(t *testing.T) {
	p, src, _ := newPoller(t, true, 10*time.Millisecond)

	var calls atomic.Int32
	src.EXPECT().FetchEvents(mock.Anything, mock.Anything).RunAndReturn(
		func(context.Context, string) (*source.Batch, error) {
			calls.Add(1)
			return &source.Batch{}, nil
		}).Maybe()

	ctx := context.Background()

	p.Start(ctx)
	require.Equal(t, StateRunning, p.State())

	// second start is a no-op
	p.Start(ctx)
	require.Equal(t, StateRunning, p.State())

	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	p.Stop()
	require.Equal(t, StateStopped, p.State())
	p.Wait()

	// the loop can be started again after it exited
	before := calls.Load()
	p.Start(ctx)
	require.Eventually(t, func() bool { return calls.Load() > before }, 2*time.Second, 5*time.Millisecond)
	p.Stop()
	p.Wait()
	require.Equal(t, StateStopped, p.State())
}

func TestPoller_ContextCancellationStopsLoop(t *testing.T) {
	p, src, _ := newPoller(t, true, time.Hour)

	fetched := make(chan struct{}, 1)
	src.EXPECT().FetchEvents(mock.Anything, mock.Anything).RunAndReturn(
		func(context.Context, string) (*source.Batch, error) {
			fetched <- struct{}{}
			return &source.Batch{}, nil
		}).Once()

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run")
	}

	// the hour-long sleep is interrupted
	cancel()
	p.Wait()
	require.Equal(t, StateStopped, p.State())
}

func TestPoller_RestartBeforeExitUsesNewContext(t *testing.T) {
	p, src, _ := newPoller(t, true, 5*time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	src.EXPECT().FetchEvents(mock.Anything, mock.Anything).RunAndReturn(
		func(context.Context, string) (*source.Batch, error) {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
			}
			return &source.Batch{}, nil
		}).Maybe()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	p.Start(firstCtx)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run")
	}

	// stop and restart while the first cycle is still in flight
	p.Stop()
	secondCtx, cancelSecond := context.WithCancel(context.Background())
	p.Start(secondCtx)
	require.Equal(t, StateRunning, p.State())

	// the original context going away must not stop the resumed loop
	cancelFirst()
	close(release)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, StateRunning, p.State())

	cancelSecond()
	p.Wait()
	require.Equal(t, StateStopped, p.State())
}

func TestPoller_SurvivesFailuresAndPanics(t *testing.T) {
	p, src, s := newPoller(t, true, 5*time.Millisecond)

	src.EXPECT().FetchEvents(mock.Anything, "").Return(nil, errors.New("connection reset")).Once()
	src.EXPECT().FetchEvents(mock.Anything, "").RunAndReturn(
		func(context.Context, string) (*source.Batch, error) {
			panic("decoder blew up")
		}).Once()
	src.EXPECT().FetchEvents(mock.Anything, "").Return(&source.Batch{
		Events: []source.RawEvent{rawMinted("1", "tx-1", 1000)},
		Next:   "cp-1",
	}, nil).Once()
	src.EXPECT().FetchEvents(mock.Anything, "cp-1").Return(&source.Batch{Next: "cp-1"}, nil).Maybe()

	p.Start(context.Background())
	defer func() {
		p.Stop()
		p.Wait()
	}()

	require.Eventually(t, func() bool {
		_, err := s.GetEntity(context.Background(), "1")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, StateRunning, p.State())
}
