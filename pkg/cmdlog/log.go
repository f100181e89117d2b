// Package cmdlog defines the replicated command log: an append-only,
// gapless, durable sequence of commands that every cluster node consumes in
// the same order.
//
// Implementations differ in reach. memlog keeps the log in process memory
// for tests and throwaway nodes, badgerlog makes it durable on one node,
// etcdlog replicates it through an etcd cluster so an append is acknowledged
// only once a quorum persisted it.
package cmdlog

import (
	"context"
	"sync"

	"github.com/treelinehq/treeline/pkg/model"
)

// DefaultSubscriptionBuffer is the channel depth between a log and a
// subscriber that has caught up.
const DefaultSubscriptionBuffer = 64

// Log is an append-only command sequence with 1-based, gapless indexes.
type Log interface {
	// Append makes the command durable at the next index and returns that
	// index. The command's Index field is set as a side effect.
	Append(ctx context.Context, cmd *model.Command) (uint64, error)

	// Subscribe streams commands in index order starting at from (1 when
	// from is zero), first catching up on persisted entries, then blocking
	// for new ones. Delivery stays gapless across the switchover.
	Subscribe(ctx context.Context, from uint64) (*Subscription, error)

	// LastIndex returns the index of the newest appended command, zero when
	// the log is empty.
	LastIndex(ctx context.Context) (uint64, error)

	// Close releases the log. Open subscriptions are failed.
	Close() error
}

// Subscription delivers commands in index order over C. When C closes, Err
// explains why: nil after Close, the cause otherwise.
type Subscription struct {
	c    chan model.Command
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewSubscription builds a subscription for a log implementation to feed.
// A buffer of zero picks the default.
func NewSubscription(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}
	return &Subscription{
		c:    make(chan model.Command, buffer),
		done: make(chan struct{}),
	}
}

// C is the command stream. It closes when the subscription terminates.
func (s *Subscription) C() <-chan model.Command {
	return s.c
}

// Err reports why the stream terminated, nil for a consumer-side Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the consumer. The feeding goroutine notices and stops.
func (s *Subscription) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Done signals consumer departure to the feeding side.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Emit hands one command to the consumer, reporting false when the consumer
// left or the context expired.
func (s *Subscription) Emit(ctx context.Context, cmd model.Command) bool {
	select {
	case s.c <- cmd:
		return true
	case <-ctx.Done():
		s.Fail(ctx.Err())
		return false
	case <-s.done:
		return false
	}
}

// Fail records the first terminating error.
func (s *Subscription) Fail(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Finish closes the stream. Only the feeding side calls this, exactly once.
func (s *Subscription) Finish() {
	close(s.c)
}
