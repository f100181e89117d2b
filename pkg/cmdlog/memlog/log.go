// Package memlog keeps the command log in process memory.
//
// It serves tests and standalone nodes that can afford to lose the log on
// restart. A single memlog shared by several in-process nodes behaves like a
// perfectly ordered broker, which is how the cluster convergence tests use
// it.
package memlog

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/cmdlog"
	"github.com/treelinehq/treeline/pkg/cmdlog/status"
	"github.com/treelinehq/treeline/pkg/model"
)

// Option alters the behavior of an in-memory log.
type Option func(*memLog)

// WithLogger sets a logger (defaults to a no-op logger)
func WithLogger(l *zap.Logger) Option {
	return func(m *memLog) {
		if l != nil {
			m.l = l
		}
	}
}

// New builds an empty in-memory command log.
func New(opts ...Option) cmdlog.Log {
	m := &memLog{
		l:      zap.NewNop(),
		notify: make(chan struct{}),
	}
	for _, apply := range opts {
		apply(m)
	}
	return m
}

type memLog struct {
	l *zap.Logger

	mu      sync.Mutex
	entries []model.Command
	notify  chan struct{} // closed and replaced on every append
	closed  bool
}

func (m *memLog) Append(ctx context.Context, cmd *model.Command) (uint64, error) {
	if cmd == nil {
		return 0, status.ErrCorruptEntry.WrapMessage("nil command")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, status.ErrClosed.WrapMessage("memlog: append")
	}
	cmd.Index = uint64(len(m.entries)) + 1
	m.entries = append(m.entries, *cmd)
	close(m.notify)
	m.notify = make(chan struct{})
	m.l.Debug("appended command",
		zap.Uint64("index", cmd.Index),
		zap.String("type", string(cmd.Type)),
	)
	return cmd.Index, nil
}

func (m *memLog) Subscribe(ctx context.Context, from uint64) (*cmdlog.Subscription, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, status.ErrClosed.WrapMessage("memlog: subscribe")
	}
	if from == 0 {
		from = 1
	}
	sub := cmdlog.NewSubscription(0)
	go m.pump(ctx, sub, from)
	return sub, nil
}

func (m *memLog) LastIndex(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.entries)), nil
}

func (m *memLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.notify)
	return nil
}

func (m *memLog) pump(ctx context.Context, sub *cmdlog.Subscription, from uint64) {
	defer sub.Finish()
	next := from
	for {
		// grab the wakeup channel before the entries it covers
		m.mu.Lock()
		notify := m.notify
		closed := m.closed
		var batch []model.Command
		if next <= uint64(len(m.entries)) {
			pending := m.entries[next-1:]
			batch = make([]model.Command, len(pending))
			copy(batch, pending)
		}
		m.mu.Unlock()

		for i := range batch {
			if !sub.Emit(ctx, batch[i]) {
				return
			}
			next++
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			sub.Fail(status.ErrClosed.WrapMessage("memlog: log closed"))
			return
		}
		select {
		case <-notify:
		case <-ctx.Done():
			sub.Fail(ctx.Err())
			return
		case <-sub.Done():
			return
		}
	}
}
