// Package engine executes runs: the per-run state machine, the iterative
// tool-calling loop, cancellation, tool output submission, and streaming
// event delivery.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/store"
	"github.com/haasonsaas/relay/pkg/models"
)

var (
	// ErrRunNotActive is returned when the run has no live goroutine.
	ErrRunNotActive = errors.New("engine: run is not active")
	// ErrNotSuspended is returned when the run is not awaiting tool outputs.
	ErrNotSuspended = errors.New("engine: run is not awaiting tool outputs")
	// ErrInvalidToolOutputs is returned when a submission does not cover the
	// outstanding tool calls exactly.
	ErrInvalidToolOutputs = errors.New("engine: invalid tool outputs")
)

// Config bounds run execution.
type Config struct {
	// MaxIterations caps provider round trips per run. Default 10.
	MaxIterations int
	// RunTimeout is the per-run deadline from creation. Default 10m.
	RunTimeout time.Duration
	// ToolTimeout bounds a single in-process tool execution. Default 30s.
	ToolTimeout time.Duration
	// SweepInterval is how often suspended runs are checked for expiry.
	// Default 30s.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 10 * time.Minute
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	return c
}

// liveRun is the in-memory state of an executing run. The run goroutine
// exclusively owns the run snapshot; the request path communicates only
// through the channels and the cancel flag.
type liveRun struct {
	run *models.Run
	bus *Bus

	ctx  context.Context
	stop context.CancelFunc

	cancelRequested atomic.Bool
	cancelOnce      sync.Once
	cancelCh        chan struct{}

	submitCh chan []models.ToolOutput

	// finishMu orders the goroutine's terminal persist against Cancel's
	// cancelling write; finished flips once the terminal state is stored.
	finishMu sync.Mutex
	finished bool
}

func (lr *liveRun) signalCancel() {
	lr.cancelRequested.Store(true)
	lr.cancelOnce.Do(func() { close(lr.cancelCh) })
	lr.stop()
}

// Engine owns live run state and drives each run to a terminal status.
type Engine struct {
	store     store.Store
	providers *provider.Registry
	tools     *ToolRegistry
	logger    *slog.Logger
	metrics   *Metrics
	cfg       Config

	mu     sync.Mutex
	active map[string]*liveRun

	done      chan struct{}
	closeOnce sync.Once
}

// New builds the engine and starts the expiry sweeper.
func New(st store.Store, providers *provider.Registry, tools *ToolRegistry, logger *slog.Logger, metrics *Metrics, cfg Config) *Engine {
	if tools == nil {
		tools = NewToolRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:     st,
		providers: providers,
		tools:     tools,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		active:    make(map[string]*liveRun),
		done:      make(chan struct{}),
	}
	go e.sweep()
	return e
}

// Tools returns the in-process tool registry.
func (e *Engine) Tools() *ToolRegistry { return e.tools }

// Providers returns the provider registry.
func (e *Engine) Providers() *provider.Registry { return e.providers }

// DefaultTimeout returns the configured per-run deadline.
func (e *Engine) DefaultTimeout() time.Duration { return e.cfg.RunTimeout }

// StartRun launches the run goroutine for a freshly persisted run in
// status queued. When subscribe is true the returned channel is attached
// before the first event, so the caller observes the full ordered stream
// starting at thread.run.created. The cancel func detaches the reader.
func (e *Engine) StartRun(run *models.Run, subscribe bool) (<-chan Event, func()) {
	if run.ExpiresAt == nil {
		exp := run.CreatedAt + int64(e.cfg.RunTimeout.Seconds())
		run.ExpiresAt = &exp
	}

	ctx, stop := context.WithDeadline(context.Background(), time.Unix(*run.ExpiresAt, 0))
	lr := &liveRun{
		run:      run,
		bus:      NewBus(),
		ctx:      ctx,
		stop:     stop,
		cancelCh: make(chan struct{}),
		submitCh: make(chan []models.ToolOutput, 1),
	}

	var ch <-chan Event
	var detach func()
	if subscribe {
		ch, detach = lr.bus.Subscribe()
	}

	e.mu.Lock()
	e.active[run.ID] = lr
	e.mu.Unlock()

	go func() {
		defer stop()
		e.execute(lr)
	}()
	return ch, detach
}

// Subscribe attaches a reader to an active run's event stream. Events
// already emitted are not replayed.
func (e *Engine) Subscribe(runID string) (<-chan Event, func(), bool) {
	lr := e.lookup(runID)
	if lr == nil {
		return nil, nil, false
	}
	ch, cancel := lr.bus.Subscribe()
	return ch, cancel, true
}

// Cancel requests cooperative cancellation. Idempotent; terminal runs are
// returned unchanged. The returned snapshot reflects the state visible to
// the caller immediately, the run transitions at its next suspension point.
func (e *Engine) Cancel(ctx context.Context, threadID, runID string) (*models.Run, error) {
	run, err := e.store.GetRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return run, nil
	}

	lr := e.lookup(runID)
	if lr == nil {
		// No live goroutine. Re-read first: the goroutine releases itself
		// only after persisting its terminal state, so a fresh read decides
		// between a just-finished run and an orphaned queued one.
		run, err = e.store.GetRun(ctx, threadID, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}
		now := time.Now().Unix()
		run.Status = models.RunStatusCancelled
		run.CancelledAt = &now
		run.RequiredAction = nil
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		e.metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
		return run, nil
	}

	lr.finishMu.Lock()
	defer lr.finishMu.Unlock()
	if lr.finished {
		// The goroutine reached a terminal state between the snapshot read
		// and here; terminal states are final.
		return e.store.GetRun(ctx, threadID, runID)
	}

	lr.signalCancel()
	if run.Status == models.RunStatusQueued || run.Status == models.RunStatusInProgress {
		run.Status = models.RunStatusCancelling
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// SubmitToolOutputs resumes a run suspended in requires_action. The
// submission must cover every outstanding tool call exactly.
func (e *Engine) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []models.ToolOutput) (*models.Run, error) {
	run, err := e.store.GetRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusRequiresAction || run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return nil, ErrNotSuspended
	}
	lr := e.lookup(runID)
	if lr == nil {
		return nil, ErrRunNotActive
	}

	outstanding := run.RequiredAction.SubmitToolOutputs.ToolCalls
	if err := validateToolOutputs(outstanding, outputs); err != nil {
		return nil, err
	}

	select {
	case lr.submitCh <- outputs:
	default:
		return nil, ErrNotSuspended
	}

	// The loop persists the transition; reflect it for the caller now.
	snapshot := *run
	snapshot.Status = models.RunStatusInProgress
	snapshot.RequiredAction = nil
	return &snapshot, nil
}

func validateToolOutputs(outstanding []models.ToolCall, outputs []models.ToolOutput) error {
	expected := make(map[string]bool, len(outstanding))
	for _, tc := range outstanding {
		expected[tc.ID] = false
	}
	for _, out := range outputs {
		seen, ok := expected[out.ToolCallID]
		if !ok {
			return fmt.Errorf("%w: unexpected tool_call_id %q", ErrInvalidToolOutputs, out.ToolCallID)
		}
		if seen {
			return fmt.Errorf("%w: duplicate tool_call_id %q", ErrInvalidToolOutputs, out.ToolCallID)
		}
		expected[out.ToolCallID] = true
	}
	for id, seen := range expected {
		if !seen {
			return fmt.Errorf("%w: missing output for tool_call_id %q", ErrInvalidToolOutputs, id)
		}
	}
	return nil
}

func (e *Engine) lookup(runID string) *liveRun {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[runID]
}

func (e *Engine) release(runID string) {
	e.mu.Lock()
	delete(e.active, runID)
	e.mu.Unlock()
}

// sweep expires runs that outlive their deadline while suspended. The run
// loop's own deadline check covers the common paths; the sweeper is the
// backstop for a run parked in requires_action.
func (e *Engine) sweep() {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			now := time.Now().Unix()
			e.mu.Lock()
			var stale []*liveRun
			for _, lr := range e.active {
				if lr.run.ExpiresAt != nil && now > *lr.run.ExpiresAt {
					stale = append(stale, lr)
				}
			}
			e.mu.Unlock()
			for _, lr := range stale {
				lr.stop()
			}
		}
	}
}

// Close stops the expiry sweeper. Active runs keep driving toward their
// own deadline; callers that need a hard stop cancel them first.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.done) })
}
