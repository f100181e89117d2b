package cluster

import (
	"context"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// DefaultSessionTTL is the etcd lease TTL backing a leadership session, in
// seconds. A crashed leader stays elected for at most this long.
const DefaultSessionTTL = 15

// Elector feeds leadership and quorum events into the availability state
// machine. Run blocks until the context ends.
type Elector interface {
	Run(ctx context.Context) error
}

// EtcdElector campaigns for cluster leadership through an etcd election.
//
// Leadership is backed by a session lease: when the lease cannot be kept
// alive the elector reports lost leadership and a lost quorum, then starts
// over with a fresh session.
type EtcdElector struct {
	client     *clientv3.Client
	prefix     string
	nodeID     string
	state      *StateMachine
	sessionTTL int
	retryDelay time.Duration
	l          *zap.Logger
}

// ElectorOption alters the construction of an etcd elector.
type ElectorOption func(*EtcdElector)

// ElectorWithLogger sets a logger on the elector.
func ElectorWithLogger(l *zap.Logger) ElectorOption {
	return func(e *EtcdElector) {
		if l != nil {
			e.l = l
		}
	}
}

// ElectorWithSessionTTL sets the leadership lease TTL in seconds.
func ElectorWithSessionTTL(seconds int) ElectorOption {
	return func(e *EtcdElector) {
		if seconds > 0 {
			e.sessionTTL = seconds
		}
	}
}

// ElectorWithRetryDelay sets the pause before rebuilding a failed session.
func ElectorWithRetryDelay(delay time.Duration) ElectorOption {
	return func(e *EtcdElector) {
		if delay > 0 {
			e.retryDelay = delay
		}
	}
}

// NewEtcdElector builds an elector campaigning under the given namespace.
func NewEtcdElector(client *clientv3.Client, namespace, nodeID string, state *StateMachine, opts ...ElectorOption) *EtcdElector {
	e := &EtcdElector{
		client:     client,
		prefix:     path.Join(namespace, "election"),
		nodeID:     nodeID,
		state:      state,
		sessionTTL: DefaultSessionTTL,
		retryDelay: time.Second,
		l:          zap.NewNop(),
	}
	for _, apply := range opts {
		apply(e)
	}
	return e
}

// Run campaigns in a loop until the context ends. Each iteration opens a
// session, campaigns, and on victory holds leadership until the session
// lease dies.
func (e *EtcdElector) Run(ctx context.Context) error {
	defer func() {
		e.state.Apply(EventLostLeadership)
		e.state.Apply(EventQuorumLost)
	}()

	for ctx.Err() == nil {
		session, err := concurrency.NewSession(e.client,
			concurrency.WithTTL(e.sessionTTL),
			concurrency.WithContext(ctx),
		)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			e.state.Apply(EventQuorumLost)
			e.l.Warn("cannot open a coordination session, retrying", zap.Error(err))
			if !sleep(ctx, e.retryDelay) {
				break
			}
			continue
		}
		e.state.Apply(EventQuorumRestored)

		election := concurrency.NewElection(session, e.prefix)
		e.l.Info("campaigning for leadership", zap.String("prefix", e.prefix))
		if err = election.Campaign(ctx, e.nodeID); err != nil {
			_ = session.Close()
			if ctx.Err() != nil {
				break
			}
			e.state.Apply(EventQuorumLost)
			e.l.Warn("leadership campaign failed, retrying", zap.Error(err))
			if !sleep(ctx, e.retryDelay) {
				break
			}
			continue
		}

		e.state.Apply(EventBecameLeader)
		e.l.Info("acquired leadership", zap.String("node", e.nodeID))

		select {
		case <-session.Done():
			// the lease expired: someone else may already lead
			e.state.Apply(EventLostLeadership)
			e.state.Apply(EventQuorumLost)
			e.l.Warn("leadership session expired")
		case <-ctx.Done():
			resignCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err = election.Resign(resignCtx); err != nil {
				e.l.Warn("cannot resign leadership", zap.Error(err))
			}
			cancel()
			_ = session.Close()
			e.l.Info("resigned leadership")
		}
	}
	return ctx.Err()
}

// StandaloneElector pins leadership to this node. It suits single-node
// deployments, where the local log is trivially the whole cluster.
type StandaloneElector struct {
	state *StateMachine
}

// NewStandaloneElector builds an elector that always wins.
func NewStandaloneElector(state *StateMachine) *StandaloneElector {
	return &StandaloneElector{state: state}
}

// Run promotes the node immediately and holds leadership until the context
// ends.
func (e *StandaloneElector) Run(ctx context.Context) error {
	e.state.Apply(EventQuorumRestored)
	e.state.Apply(EventBecameLeader)
	<-ctx.Done()
	e.state.Apply(EventLostLeadership)
	return ctx.Err()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
