package cluster

import (
	"context"
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

// DefaultProposalTimeout bounds how long a proposer waits for a command to
// be appended and applied locally.
const DefaultProposalTimeout = 10 * time.Second

// catalogLock serializes project and repository creation. The "!" cannot
// appear in project or repository names, so the key never collides with a
// repository lock.
const catalogLock = "!catalog"

// Proposer turns client write requests into commands, appends them to the
// replicated log and waits until the local applier has caught up, so the
// caller observes its own write.
//
// Proposals against the same repository are serialized: each proposal
// holds a per-repository lock, waits for the local applier to reach the
// end of the log, and only then validates against current state. Two
// prepared commands can therefore never claim the same revision through
// this proposer, and with appends restricted to the elected leader, not
// through the cluster either.
type Proposer struct {
	nodeID  string
	log     cmdlog.Log
	engine  *core.Engine
	applier *Applier
	state   *StateMachine
	timeout time.Duration
	l       *zap.Logger

	observer func(commandType string)

	locks keyedLocks
}

// ProposerOption alters the construction of a proposer.
type ProposerOption func(*Proposer)

// ProposerWithLogger sets a logger on the proposer.
func ProposerWithLogger(l *zap.Logger) ProposerOption {
	return func(p *Proposer) {
		if l != nil {
			p.l = l
		}
	}
}

// ProposerWithTimeout bounds the wait for local application.
func ProposerWithTimeout(timeout time.Duration) ProposerOption {
	return func(p *Proposer) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// ProposerWithAppendObserver registers a callback invoked after every
// successful append, e.g. to feed metrics.
func ProposerWithAppendObserver(fn func(commandType string)) ProposerOption {
	return func(p *Proposer) {
		p.observer = fn
	}
}

// NewProposer builds a proposer submitting commands on behalf of a node.
func NewProposer(nodeID string, log cmdlog.Log, engine *core.Engine, applier *Applier, state *StateMachine, opts ...ProposerOption) *Proposer {
	p := &Proposer{
		nodeID:  nodeID,
		log:     log,
		engine:  engine,
		applier: applier,
		state:   state,
		timeout: DefaultProposalTimeout,
		l:       zap.NewNop(),
	}
	for _, apply := range opts {
		apply(p)
	}
	return p
}

// CreateProject proposes a new project and waits for it to apply locally.
func (p *Proposer) CreateProject(ctx context.Context, name string, author model.Contributor) error {
	return p.propose(ctx, catalogLock, func(ctx context.Context) (model.Command, error) {
		return p.engine.PrepareCreateProject(ctx, p.nodeID, name, author)
	})
}

// CreateRepository proposes a new repository and waits for it to apply
// locally.
func (p *Proposer) CreateRepository(ctx context.Context, project, name string, author model.Contributor) error {
	return p.propose(ctx, catalogLock, func(ctx context.Context) (model.Command, error) {
		return p.engine.PrepareCreateRepository(ctx, p.nodeID, project, name, author)
	})
}

// Push proposes a commit and waits for it to apply locally. On success it
// returns the commit descriptor, whose revision is the new head.
func (p *Proposer) Push(ctx context.Context, req *core.PushRequest) (*model.CommitDescriptor, error) {
	var commit *model.CommitDescriptor
	err := p.propose(ctx, req.Project+"/"+req.Repository, func(ctx context.Context) (model.Command, error) {
		cmd, prepared, err := p.engine.PreparePush(ctx, p.nodeID, req)
		if err != nil {
			return model.Command{}, err
		}
		commit = prepared
		return cmd, nil
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

func (p *Proposer) propose(ctx context.Context, lockKey string, prepare func(context.Context) (model.Command, error)) error {
	if err := p.gate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	release, err := p.locks.lock(ctx, lockKey)
	if err != nil {
		return p.clientError(err)
	}
	defer release()

	// catch up with everything already appended, so validation runs
	// against the latest replicated state. A freshly elected leader may
	// still be consuming its predecessor's commands.
	last, err := p.log.LastIndex(ctx)
	if err != nil {
		return p.clientError(err)
	}
	if err = p.applier.WaitApplied(ctx, last); err != nil {
		return p.clientError(err)
	}

	cmd, err := prepare(ctx)
	if err != nil {
		return p.clientError(err)
	}

	// leadership may have moved while validating
	if err = p.gate(); err != nil {
		return err
	}

	index, err := p.log.Append(ctx, &cmd)
	if err != nil {
		return p.clientError(err)
	}
	if p.observer != nil {
		p.observer(string(cmd.Type))
	}

	if err = p.applier.WaitApplied(ctx, index); err != nil {
		// the command is already durable in the log and may still take
		// effect after the caller gave up
		p.l.Warn("command appended but not yet applied locally",
			zap.Uint64("index", index),
			zap.String("command_id", cmd.ID),
			zap.Error(err),
		)
		return p.clientError(err)
	}
	return nil
}

// gate rejects proposals unless this node currently holds a writable
// leadership.
func (p *Proposer) gate() error {
	avail := p.state.Current()
	switch {
	case avail.Writable():
		return nil
	case avail.Role == RoleIsolated:
		return logstatus.ErrReadOnly.Wrap(status.ErrIsolated)
	case avail.Role != RoleLeader:
		return logstatus.ErrReadOnly.WrapMessage("node %q is a follower", p.nodeID)
	default:
		return logstatus.ErrReadOnly.WrapMessage("node %q lost its quorum", p.nodeID)
	}
}

// clientError maps a deadline hit to the client-visible timeout error.
func (p *Proposer) clientError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return status.ErrRequestTimedOut.Wrap(err)
	}
	return err
}

// keyedLocks hands out context-aware mutual exclusion per key.
type keyedLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// lock blocks until the key is free or the context ends. The returned
// function releases the key and is safe to call more than once.
func (k *keyedLocks) lock(ctx context.Context, key string) (func(), error) {
	for {
		k.mu.Lock()
		if k.held == nil {
			k.held = make(map[string]chan struct{})
		}
		gate, taken := k.held[key]
		if !taken {
			released := make(chan struct{})
			k.held[key] = released
			k.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					k.mu.Lock()
					delete(k.held, key)
					k.mu.Unlock()
					close(released)
				})
			}, nil
		}
		k.mu.Unlock()

		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
