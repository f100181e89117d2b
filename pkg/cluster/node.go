package cluster

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/cmdlog"
	"github.com/treelinehq/treeline/pkg/core"
)

// Node assembles one cluster member: the local engine, its view of the
// replicated command log, the availability state machine, an applier and a
// proposer. Start spins up the applier and the leader election; Stop winds
// them down in reverse order.
type Node struct {
	id       string
	engine   *core.Engine
	log      cmdlog.Log
	state    *StateMachine
	applier  *Applier
	proposer *Proposer
	elector  Elector
	l        *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

type nodeSettings struct {
	l              *zap.Logger
	cursor         Cursor
	timeout        time.Duration
	retryDelay     time.Duration
	observers      []func(Availability)
	applyObserver  func(commandType string, elapsed time.Duration)
	appendObserver func(commandType string)
	elector        func(*Node) Elector
}

// NodeOption alters the construction of a node.
type NodeOption func(*nodeSettings)

// NodeWithLogger sets a logger shared by all node components.
func NodeWithLogger(l *zap.Logger) NodeOption {
	return func(s *nodeSettings) {
		if l != nil {
			s.l = l
		}
	}
}

// NodeWithCursor persists the applied index through the given cursor
// instead of keeping it in memory.
func NodeWithCursor(cursor Cursor) NodeOption {
	return func(s *nodeSettings) {
		if cursor != nil {
			s.cursor = cursor
		}
	}
}

// NodeWithProposalTimeout bounds how long proposals wait for local
// application.
func NodeWithProposalTimeout(timeout time.Duration) NodeOption {
	return func(s *nodeSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// NodeWithApplierRetryDelay sets the applier's resubscribe pause.
func NodeWithApplierRetryDelay(delay time.Duration) NodeOption {
	return func(s *nodeSettings) {
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

// NodeWithStateObserver registers a callback fired on every availability
// transition.
func NodeWithStateObserver(fn func(Availability)) NodeOption {
	return func(s *nodeSettings) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// NodeWithApplyObserver registers a callback fired after every applied
// command.
func NodeWithApplyObserver(fn func(commandType string, elapsed time.Duration)) NodeOption {
	return func(s *nodeSettings) {
		s.applyObserver = fn
	}
}

// NodeWithAppendObserver registers a callback fired after every command
// this node appends to the log.
func NodeWithAppendObserver(fn func(commandType string)) NodeOption {
	return func(s *nodeSettings) {
		s.appendObserver = fn
	}
}

// NodeWithStandaloneElection pins leadership to this node. This is the
// default.
func NodeWithStandaloneElection() NodeOption {
	return func(s *nodeSettings) {
		s.elector = func(n *Node) Elector {
			return NewStandaloneElector(n.state)
		}
	}
}

// NodeWithEtcdElection campaigns for leadership through an etcd cluster
// under the given namespace.
func NodeWithEtcdElection(client *clientv3.Client, namespace string, sessionTTL int) NodeOption {
	return func(s *nodeSettings) {
		s.elector = func(n *Node) Elector {
			return NewEtcdElector(client, namespace, n.id, n.state,
				ElectorWithLogger(n.l),
				ElectorWithSessionTTL(sessionTTL),
			)
		}
	}
}

// NewNode wires a cluster member around an engine and a command log. The
// log and the engine's storage are owned by the caller and outlive the
// node.
func NewNode(id string, engine *core.Engine, log cmdlog.Log, opts ...NodeOption) *Node {
	settings := nodeSettings{
		l:       zap.NewNop(),
		cursor:  &MemCursor{},
		timeout: DefaultProposalTimeout,
	}
	for _, apply := range opts {
		apply(&settings)
	}

	n := &Node{
		id:     id,
		engine: engine,
		log:    log,
		l:      settings.l.With(zap.String("node", id)),
		done:   make(chan struct{}),
	}

	stateOpts := []StateOption{StateWithLogger(n.l)}
	for _, fn := range settings.observers {
		stateOpts = append(stateOpts, StateWithObserver(fn))
	}
	n.state = NewStateMachine(stateOpts...)

	applierOpts := []ApplierOption{ApplierWithLogger(n.l)}
	if settings.retryDelay > 0 {
		applierOpts = append(applierOpts, ApplierWithRetryDelay(settings.retryDelay))
	}
	if settings.applyObserver != nil {
		applierOpts = append(applierOpts, ApplierWithApplyObserver(settings.applyObserver))
	}
	n.applier = NewApplier(log, engine, settings.cursor, n.state, applierOpts...)

	proposerOpts := []ProposerOption{
		ProposerWithLogger(n.l),
		ProposerWithTimeout(settings.timeout),
	}
	if settings.appendObserver != nil {
		proposerOpts = append(proposerOpts, ProposerWithAppendObserver(settings.appendObserver))
	}
	n.proposer = NewProposer(id, log, engine, n.applier, n.state, proposerOpts...)

	if settings.elector == nil {
		settings.elector = func(n *Node) Elector {
			return NewStandaloneElector(n.state)
		}
	}
	n.elector = settings.elector(n)
	return n
}

// ID returns the node identifier used as command proposer.
func (n *Node) ID() string {
	return n.id
}

// Engine exposes the local engine for reads.
func (n *Node) Engine() *core.Engine {
	return n.engine
}

// Proposer exposes the write entry point.
func (n *Node) Proposer() *Proposer {
	return n.proposer
}

// Applier exposes the log consumer, mostly for progress inspection.
func (n *Node) Applier() *Applier {
	return n.applier
}

// Availability returns the node's current role and health.
func (n *Node) Availability() Availability {
	return n.state.Current()
}

// Start launches the applier and the leader election. The node runs until
// the given context is canceled or Stop is called.
func (n *Node) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	if err := n.applier.Start(runCtx); err != nil {
		cancel()
		close(n.done)
		return err
	}

	go func() {
		defer close(n.done)
		if err := n.elector.Run(runCtx); err != nil && runCtx.Err() == nil {
			n.l.Error("leader election terminated", zap.Error(err))
		}
	}()

	n.l.Info("node started", zap.Uint64("applied_index", n.applier.AppliedIndex()))
	return nil
}

// Stop resigns leadership, then stops applying. It is idempotent.
func (n *Node) Stop() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	<-n.done
	n.applier.Stop()
	n.l.Info("node stopped", zap.Uint64("applied_index", n.applier.AppliedIndex()))
}
