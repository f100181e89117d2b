package cluster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/treelinehq/treeline/pkg/cluster/status"
	"github.com/treelinehq/treeline/pkg/cmdlog"
	logstatus "github.com/treelinehq/treeline/pkg/cmdlog/status"
	"github.com/treelinehq/treeline/pkg/core"
	"github.com/treelinehq/treeline/pkg/errors"
	"github.com/treelinehq/treeline/pkg/model"
	"go.uber.org/zap"
)

const defaultRetryDelay = 500 * time.Millisecond

// Applier consumes the replicated command log in order and executes every
// command against the local engine.
//
// Command execution is deterministic and idempotent, so an applier that
// crashed before persisting its cursor simply re-executes on restart. When
// a command cannot be applied the local state contradicts the replicated
// history: the applier flags the node as isolated and stops.
type Applier struct {
	log    cmdlog.Log
	engine *core.Engine
	cursor Cursor
	state  *StateMachine
	l      *zap.Logger

	retryDelay time.Duration
	observer   func(commandType string, elapsed time.Duration)

	mu      sync.Mutex
	applied uint64
	changed chan struct{}
	failure error
	started bool

	stopOnce sync.Once
	stopC    chan struct{}
	doneC    chan struct{}
}

// ApplierOption alters the construction of an applier.
type ApplierOption func(*Applier)

// ApplierWithLogger sets a logger on the applier.
func ApplierWithLogger(l *zap.Logger) ApplierOption {
	return func(a *Applier) {
		if l != nil {
			a.l = l
		}
	}
}

// ApplierWithRetryDelay sets the pause before resubscribing after a
// broken command stream.
func ApplierWithRetryDelay(delay time.Duration) ApplierOption {
	return func(a *Applier) {
		if delay > 0 {
			a.retryDelay = delay
		}
	}
}

// ApplierWithApplyObserver registers a callback invoked after every
// successfully applied command, e.g. to feed metrics.
func ApplierWithApplyObserver(fn func(commandType string, elapsed time.Duration)) ApplierOption {
	return func(a *Applier) {
		a.observer = fn
	}
}

// NewApplier builds an applier over a command log, an engine and a cursor.
func NewApplier(log cmdlog.Log, engine *core.Engine, cursor Cursor, state *StateMachine, opts ...ApplierOption) *Applier {
	a := &Applier{
		log:        log,
		engine:     engine,
		cursor:     cursor,
		state:      state,
		l:          zap.NewNop(),
		retryDelay: defaultRetryDelay,
		changed:    make(chan struct{}),
		stopC:      make(chan struct{}),
		doneC:      make(chan struct{}),
	}
	for _, apply := range opts {
		apply(a)
	}
	return a
}

// Start loads the persisted cursor and begins consuming the log in the
// background. It may be called once.
func (a *Applier) Start(ctx context.Context) error {
	applied, err := a.cursor.Load(ctx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.applied = applied
	a.started = true
	a.mu.Unlock()

	a.l.Info("applier starting", zap.Uint64("applied_index", applied))
	go a.run(ctx)
	return nil
}

// Stop terminates the applier and waits for its goroutine to exit.
func (a *Applier) Stop() {
	a.stopOnce.Do(func() { close(a.stopC) })
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if started {
		<-a.doneC
	}
}

// AppliedIndex returns the index of the last command applied locally.
func (a *Applier) AppliedIndex() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.applied
}

// Err returns the failure that isolated this node, or nil.
func (a *Applier) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failure
}

// WaitApplied blocks until the applier has applied the command at the
// given index, the context ends, or the applier stops.
func (a *Applier) WaitApplied(ctx context.Context, index uint64) error {
	for {
		a.mu.Lock()
		applied, changed, failure := a.applied, a.changed, a.failure
		a.mu.Unlock()

		if failure != nil {
			return status.ErrIsolated.Wrap(failure)
		}
		if applied >= index {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-a.doneC:
			a.mu.Lock()
			applied, failure = a.applied, a.failure
			a.mu.Unlock()
			if failure != nil {
				return status.ErrIsolated.Wrap(failure)
			}
			if applied >= index {
				return nil
			}
			return status.ErrStopped.WrapMessage("applier stopped before index %d was applied", index)
		}
	}
}

// run keeps a subscription to the command log alive until the applier is
// stopped or the node isolates itself.
func (a *Applier) run(ctx context.Context) {
	defer close(a.doneC)
	for {
		sub, err := a.log.Subscribe(ctx, a.AppliedIndex()+1)
		if err != nil {
			if a.interrupted(ctx) {
				return
			}
			if errors.Is(err, logstatus.ErrClosed) {
				a.l.Info("command log closed, applier exiting")
				return
			}
			a.l.Warn("cannot subscribe to the command log, retrying", zap.Error(err))
			if !a.pause(ctx) {
				return
			}
			continue
		}

		fatal := a.consume(ctx, sub)
		sub.Close()
		if fatal || a.interrupted(ctx) {
			return
		}
		if !a.pause(ctx) {
			return
		}
	}
}

func (a *Applier) consume(ctx context.Context, sub *cmdlog.Subscription) (fatal bool) {
	for {
		select {
		case cmd, ok := <-sub.C():
			if !ok {
				err := sub.Err()
				switch {
				case err == nil:
					return false
				case errors.Is(err, logstatus.ErrClosed):
					a.l.Info("command log closed, applier exiting")
					return true
				default:
					a.l.Warn("command stream interrupted, resubscribing", zap.Error(err))
					return false
				}
			}
			if err := a.apply(ctx, cmd); err != nil {
				a.isolate(cmd, err)
				return true
			}
		case <-ctx.Done():
			return true
		case <-a.stopC:
			return true
		}
	}
}

func (a *Applier) apply(ctx context.Context, cmd model.Command) error {
	applied := a.AppliedIndex()
	switch {
	case cmd.Index <= applied:
		// replayed entry, already covered by local state
		return nil
	case cmd.Index != applied+1:
		return fmt.Errorf("gap in the command stream: expected index %d, got %d", applied+1, cmd.Index)
	}

	start := time.Now()
	if err := a.engine.Execute(ctx, &cmd); err != nil {
		return err
	}
	if a.observer != nil {
		a.observer(string(cmd.Type), time.Since(start))
	}
	if err := a.cursor.Store(ctx, cmd.Index); err != nil {
		// a stale cursor only costs an idempotent replay on restart
		a.l.Warn("cannot persist applied index", zap.Uint64("index", cmd.Index), zap.Error(err))
	}

	a.mu.Lock()
	a.applied = cmd.Index
	close(a.changed)
	a.changed = make(chan struct{})
	a.mu.Unlock()
	return nil
}

// isolate flags the local state as contradicting the replicated history.
func (a *Applier) isolate(cmd model.Command, err error) {
	a.l.Error("cannot apply replicated command, isolating node",
		zap.Uint64("index", cmd.Index),
		zap.String("command_id", cmd.ID),
		zap.String("type", string(cmd.Type)),
		zap.Error(err),
	)
	a.mu.Lock()
	a.failure = status.ErrIsolated.Wrap(err)
	close(a.changed)
	a.changed = make(chan struct{})
	a.mu.Unlock()
	a.state.Apply(EventIsolated)
}

func (a *Applier) interrupted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-a.stopC:
		return true
	default:
		return false
	}
}

func (a *Applier) pause(ctx context.Context) bool {
	t := time.NewTimer(a.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
	case <-a.stopC:
	}
	return false
}
