// Package cluster coordinates a node with its peers.
//
// Every node runs an applier that consumes the replicated command log and
// feeds it to the local engine. The elected leader additionally accepts
// writes through the proposer, which turns requests into commands, appends
// them to the log and waits for the local applier to catch up.
package cluster

import (
	"sync"

	"go.uber.org/zap"
)

// Role is the availability role of a node.
type Role int32

const (
	// RoleFollower serves reads from local state and rejects writes.
	RoleFollower Role = iota

	// RoleLeader accepts writes and appends them to the command log.
	RoleLeader

	// RoleIsolated marks a node whose local state contradicts the
	// replicated history. Isolation is terminal until a restart.
	RoleIsolated
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleIsolated:
		return "isolated"
	default:
		return "follower"
	}
}

// Event drives transitions of the availability state machine.
type Event int

const (
	// EventBecameLeader fires when this node wins the leader election.
	EventBecameLeader Event = iota

	// EventLostLeadership fires when the leader lease expires or is resigned.
	EventLostLeadership

	// EventQuorumLost fires when the coordination service becomes unreachable.
	EventQuorumLost

	// EventQuorumRestored fires when the coordination service is reachable again.
	EventQuorumRestored

	// EventIsolated fires when the applier detects divergence. It is terminal.
	EventIsolated
)

func (e Event) String() string {
	switch e {
	case EventBecameLeader:
		return "became-leader"
	case EventLostLeadership:
		return "lost-leadership"
	case EventQuorumLost:
		return "quorum-lost"
	case EventQuorumRestored:
		return "quorum-restored"
	case EventIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// Availability is an immutable view of the state machine.
type Availability struct {
	Role    Role
	Healthy bool
}

// Writable reports whether the node may accept writes: it must hold
// leadership, see a healthy quorum and not be isolated.
func (a Availability) Writable() bool {
	return a.Role == RoleLeader && a.Healthy
}

// StateMachine tracks the availability role of a node.
//
// A node starts as an unhealthy follower, becomes healthy when the
// coordination service is reachable and may then be promoted to leader.
// Once isolated it ignores all further events.
type StateMachine struct {
	mu        sync.Mutex
	role      Role
	healthy   bool
	observers []func(Availability)
	l         *zap.Logger
}

// StateOption alters the construction of a state machine.
type StateOption func(*StateMachine)

// StateWithLogger sets a logger on the state machine.
func StateWithLogger(l *zap.Logger) StateOption {
	return func(s *StateMachine) {
		if l != nil {
			s.l = l
		}
	}
}

// StateWithObserver registers a callback invoked after every transition,
// with the state machine unlocked.
func StateWithObserver(fn func(Availability)) StateOption {
	return func(s *StateMachine) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

// NewStateMachine builds a state machine in the follower role.
func NewStateMachine(opts ...StateOption) *StateMachine {
	s := &StateMachine{
		role: RoleFollower,
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Apply feeds one event to the state machine and returns the resulting
// availability.
func (s *StateMachine) Apply(event Event) Availability {
	s.mu.Lock()
	before := Availability{Role: s.role, Healthy: s.healthy}
	if s.role == RoleIsolated {
		s.mu.Unlock()
		return before
	}

	switch event {
	case EventBecameLeader:
		s.role = RoleLeader
	case EventLostLeadership:
		s.role = RoleFollower
	case EventQuorumLost:
		s.healthy = false
	case EventQuorumRestored:
		s.healthy = true
	case EventIsolated:
		s.role = RoleIsolated
		s.healthy = false
	}
	after := Availability{Role: s.role, Healthy: s.healthy}
	observers := s.observers
	s.mu.Unlock()

	if after != before {
		s.l.Info("availability changed",
			zap.String("event", event.String()),
			zap.String("role", after.Role.String()),
			zap.Bool("healthy", after.Healthy),
		)
		for _, fn := range observers {
			fn(after)
		}
	}
	return after
}

// Current returns the availability as of now.
func (s *StateMachine) Current() Availability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Availability{Role: s.role, Healthy: s.healthy}
}

// Role returns the current role.
func (s *StateMachine) Role() Role {
	return s.Current().Role
}

// Writable reports whether writes are currently accepted.
func (s *StateMachine) Writable() bool {
	return s.Current().Writable()
}
