// Package poller drives the fetch, classify and project cycle on a fixed interval.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/goran-ethernal/MarketIndexor/internal/common"
	"github.com/goran-ethernal/MarketIndexor/internal/events"
	"github.com/goran-ethernal/MarketIndexor/internal/logger"
	"github.com/goran-ethernal/MarketIndexor/internal/metrics"
	"github.com/goran-ethernal/MarketIndexor/pkg/config"
	"github.com/goran-ethernal/MarketIndexor/pkg/source"
	pkgstore "github.com/goran-ethernal/MarketIndexor/pkg/store"
)

// State is the lifecycle state of the poll loop.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Projector applies a decoded event to the store.
type Projector interface {
	Apply(ctx context.Context, ev events.Event) error
}

// Poller repeatedly fetches a batch from the source, projects it and sleeps.
// A failed or panicking cycle is logged and the loop carries on.
type Poller struct {
	interval  time.Duration
	resume    bool
	source    source.Source
	projector Projector
	store     pkgstore.Store
	log       *logger.Logger

	mu         sync.Mutex
	state      State
	ctx        context.Context // from the latest Start
	loopActive bool
	done       chan struct{}

	// owned by the loop goroutine
	cursorLoaded bool
	checkpoint   string
	eventSeq     uint64
}

// New creates a stopped poller.
func New(
	cfg config.PollerConfig,
	src source.Source,
	projector Projector,
	store pkgstore.Store,
	log *logger.Logger,
) *Poller {
	interval := cfg.Interval.Duration
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}

	return &Poller{
		interval:  interval,
		resume:    cfg.ShouldResume(),
		source:    src,
		projector: projector,
		store:     store,
		log:       log.WithComponent(common.ComponentPoller),
	}
}

// Start launches the poll loop. Calling Start on a running poller is a no-op.
// Cancelling ctx interrupts the sleep between cycles and stops the loop. A loop that was
// asked to stop but has not exited yet is resumed and runs under ctx from then on.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning {
		p.log.Info("poller already running")
		return
	}

	p.state = StateRunning
	p.ctx = ctx

	if p.loopActive {
		p.log.Info("poller resumed before the previous loop exited")
		return
	}

	p.loopActive = true
	p.done = make(chan struct{})

	p.log.Infow("poller started", "interval", p.interval, "resume", p.resume)
	go p.loop(p.done)
}

// Stop asks the loop to exit once the in-flight cycle completes.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return
	}

	p.state = StateStopped
	p.log.Info("poller stop requested")
}

// Wait blocks until the loop goroutine has exited.
func (p *Poller) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done != nil {
		<-done
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// keepRunning reports whether the loop should continue and returns the context of the
// latest Start. When it should not, the loop is marked inactive under the same lock so a
// concurrent Start launches a fresh one.
func (p *Poller) keepRunning() (context.Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning && p.ctx.Err() == nil {
		return p.ctx, true
	}

	p.state = StateStopped
	p.loopActive = false
	return nil, false
}

func (p *Poller) loop(done chan struct{}) {
	defer close(done)
	defer p.log.Info("poller stopped")

	for {
		ctx, ok := p.keepRunning()
		if !ok {
			return
		}

		p.runCycle(ctx)

		if ctx, ok = p.keepRunning(); !ok {
			return
		}

		select {
		case <-ctx.Done():
		case <-time.After(p.interval):
		}
	}
}

// runCycle executes one cycle and records its outcome. Panics are recovered here.
func (p *Poller) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	start := time.Now()

	outcome, err := p.safeCycle(ctx, cycleID)

	metrics.CycleInc(outcome)
	metrics.CycleDurationLog(time.Since(start))
	metrics.ComponentHealthSet(common.ComponentPoller, err == nil)

	if err != nil {
		p.log.Errorw("poll cycle failed", "cycle", cycleID, "outcome", outcome, "error", err)
		return
	}

	p.log.Debugw("poll cycle completed", "cycle", cycleID, "outcome", outcome, "duration", time.Since(start))
}

func (p *Poller) safeCycle(ctx context.Context, cycleID string) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomePanic
			err = fmt.Errorf("panic in poll cycle: %v", r)
		}
	}()

	return p.cycle(ctx, cycleID)
}

// cycle fetches one batch and projects it in order. The checkpoint advances only when
// every event was either applied or rejected as malformed.
func (p *Poller) cycle(ctx context.Context, cycleID string) (string, error) {
	if err := p.loadCursor(ctx); err != nil {
		return metrics.OutcomeFailed, err
	}

	checkpoint := ""
	if p.resume {
		checkpoint = p.checkpoint
	}

	batch, err := p.source.FetchEvents(ctx, checkpoint)
	if err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("failed to fetch events: %w", err)
	}

	metrics.BatchSizeLog(len(batch.Events))

	// a started batch is always finished
	applyCtx := context.WithoutCancel(ctx)

	var failed int
	for _, raw := range batch.Events {
		ev, err := events.Decode(raw)
		if err != nil {
			metrics.EventInc(events.ClassifyKind(raw.Kind).String(), metrics.EventMalformed)
			p.log.Warnw("skipping malformed event", "cycle", cycleID, "kind", raw.Kind, "tx", raw.TxID, "error", err)
			continue
		}

		if err := p.projector.Apply(applyCtx, ev); err != nil {
			failed++
			p.log.Errorw("failed to apply event", "cycle", cycleID, "kind", raw.Kind, "tx", raw.TxID, "error", err)
		}
	}

	if failed > 0 {
		return metrics.OutcomeFailed, fmt.Errorf("%d of %d events failed to apply, checkpoint held at %q",
			failed, len(batch.Events), checkpoint)
	}

	state := &pkgstore.CursorState{
		Checkpoint: batch.Next,
		EventSeq:   p.eventSeq + uint64(len(batch.Events)),
		UpdatedAt:  time.Now().UnixMilli(),
	}
	if err := p.store.SaveCursorState(applyCtx, state); err != nil {
		return metrics.OutcomeFailed, fmt.Errorf("failed to save cursor state: %w", err)
	}

	p.checkpoint = state.Checkpoint
	p.eventSeq = state.EventSeq

	metrics.EventSeqLog(state.EventSeq)
	metrics.LastSuccessfulCycleLog()

	if len(batch.Events) == 0 {
		return metrics.OutcomeEmpty, nil
	}

	p.log.Infow("batch processed",
		"cycle", cycleID,
		"events", len(batch.Events),
		"event_seq", state.EventSeq,
	)

	return metrics.OutcomeSuccess, nil
}

// loadCursor reads the persisted cursor once. The event sequence is restored even when
// resuming is disabled so the counter keeps growing across restarts.
func (p *Poller) loadCursor(ctx context.Context) error {
	if p.cursorLoaded {
		return nil
	}

	state, err := p.store.GetCursorState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load cursor state: %w", err)
	}

	p.checkpoint = state.Checkpoint
	p.eventSeq = state.EventSeq
	p.cursorLoaded = true

	if p.resume && state.Checkpoint != "" {
		p.log.Infow("resuming from checkpoint", "checkpoint", state.Checkpoint, "event_seq", state.EventSeq)
	} else {
		p.log.Infow("starting from the most recent page", "event_seq", state.EventSeq)
	}

	return nil
}
