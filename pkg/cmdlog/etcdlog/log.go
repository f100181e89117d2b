// Package etcdlog replicates the command log through an etcd cluster.
//
// Entries live under <namespace>/log/entry/<zero-padded index>; the
// <namespace>/log/seq key carries the last index and serializes appends: an
// append is a transaction comparing seq against the index the appender read,
// so two racing appenders cannot claim the same index. etcd acknowledges a
// transaction once a quorum persisted it, which is the durability the
// proposer relies on before acknowledging a client.
package etcdlog

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/cmdlog"
	"github.com/treelinehq/treeline/pkg/cmdlog/status"
	"github.com/treelinehq/treeline/pkg/model"
)

const (
	appendAttempts = 16
	catchupLimit   = int64(256)
)

// Option alters the behavior of an etcd-backed log.
type Option func(*Log)

// WithLogger sets a logger (defaults to a no-op logger)
func WithLogger(l *zap.Logger) Option {
	return func(e *Log) {
		if l != nil {
			e.l = l
		}
	}
}

// Log is a command log replicated through etcd.
type Log struct {
	client *clientv3.Client
	prefix string
	l      *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New builds a log rooted at a cluster namespace. The client is shared with
// the rest of the node (elections, sessions) and stays open after Close.
func New(client *clientv3.Client, namespace string, opts ...Option) *Log {
	e := &Log{
		client: client,
		prefix: path.Join(namespace, "log"),
		l:      zap.NewNop(),
	}
	for _, apply := range opts {
		apply(e)
	}
	return e
}

func (e *Log) seqKey() string      { return e.prefix + "/seq" }
func (e *Log) entryPrefix() string { return e.prefix + "/entry/" }

func (e *Log) entryKey(index uint64) string {
	return fmt.Sprintf("%s%020d", e.entryPrefix(), index)
}

func (e *Log) Append(ctx context.Context, cmd *model.Command) (uint64, error) {
	if cmd == nil {
		return 0, status.ErrCorruptEntry.WrapMessage("nil command")
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, status.ErrClosed.WrapMessage("etcdlog: append")
	}
	for attempt := 0; attempt < appendAttempts; attempt++ {
		last, err := e.LastIndex(ctx)
		if err != nil {
			return 0, err
		}
		next := last + 1
		cmd.Index = next
		raw, err := model.MarshalCommand(*cmd)
		if err != nil {
			return 0, err
		}
		cmp := clientv3.Compare(clientv3.Value(e.seqKey()), "=", formatIndex(last))
		if last == 0 {
			cmp = clientv3.Compare(clientv3.CreateRevision(e.seqKey()), "=", 0)
		}
		resp, err := e.client.Txn(ctx).If(cmp).Then(
			clientv3.OpPut(e.entryKey(next), string(raw)),
			clientv3.OpPut(e.seqKey(), formatIndex(next)),
		).Commit()
		if err != nil {
			return 0, err
		}
		if resp.Succeeded {
			e.l.Debug("appended command",
				zap.Uint64("index", next),
				zap.String("type", string(cmd.Type)),
			)
			return next, nil
		}
		// someone else claimed the index: re-read the sequence and retry
	}
	return 0, status.ErrAppendRaced.WrapMessage("after %d attempts", appendAttempts)
}

func (e *Log) Subscribe(ctx context.Context, from uint64) (*cmdlog.Subscription, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, status.ErrClosed.WrapMessage("etcdlog: subscribe")
	}
	if from == 0 {
		from = 1
	}
	sub := cmdlog.NewSubscription(0)
	go e.pump(ctx, sub, from)
	return sub, nil
}

func (e *Log) LastIndex(ctx context.Context) (uint64, error) {
	resp, err := e.client.Get(ctx, e.seqKey())
	if err != nil {
		return 0, err
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	return parseIndex(string(resp.Kvs[0].Value))
}

// Close stops handing out work. The underlying etcd client belongs to the
// node and is not closed here.
func (e *Log) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Log) pump(ctx context.Context, sub *cmdlog.Subscription, from uint64) {
	defer sub.Finish()
	next := from
	for {
		rev, proceed, err := e.catchUp(ctx, sub, &next)
		if err != nil {
			sub.Fail(err)
			return
		}
		if !proceed {
			return
		}
		proceed, err = e.follow(ctx, sub, &next, rev+1)
		if err != nil {
			sub.Fail(err)
			return
		}
		if !proceed {
			return
		}
		// the watch lapsed (compaction, transient stream loss): resync
		// from storage and pick the stream back up
	}
}

// catchUp ranges over persisted entries from *next on, returning the store
// revision the follow-up watch must start after.
func (e *Log) catchUp(ctx context.Context, sub *cmdlog.Subscription, next *uint64) (int64, bool, error) {
	for {
		resp, err := e.client.Get(ctx, e.entryKey(*next),
			clientv3.WithRange(clientv3.GetPrefixRangeEnd(e.entryPrefix())),
			clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend),
			clientv3.WithLimit(catchupLimit),
		)
		if err != nil {
			return 0, false, err
		}
		for _, kv := range resp.Kvs {
			cmd, err := model.UnmarshalCommand(kv.Value)
			if err != nil {
				return 0, false, status.ErrCorruptEntry.Wrap(err)
			}
			if cmd.Index != *next {
				return 0, false, status.ErrCorruptEntry.WrapMessage(
					"expected index %d, found %d", *next, cmd.Index)
			}
			if !sub.Emit(ctx, cmd) {
				return 0, false, nil
			}
			*next++
		}
		if !resp.More {
			return resp.Header.Revision, true, nil
		}
	}
}

// follow streams appends through an etcd watch. It reports whether the
// subscription should resync and continue.
func (e *Log) follow(ctx context.Context, sub *cmdlog.Subscription, next *uint64, fromRev int64) (bool, error) {
	wctx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	defer cancel()
	wch := e.client.Watch(wctx, e.entryPrefix(), clientv3.WithPrefix(), clientv3.WithRev(fromRev))
	for {
		select {
		case wresp, ok := <-wch:
			if !ok {
				// stream torn down by the client: resync decides whether
				// the cause is fatal
				return true, nil
			}
			if wresp.CompactRevision > 0 {
				e.l.Debug("watch compacted, resyncing",
					zap.Int64("compactRevision", wresp.CompactRevision))
				return true, nil
			}
			if err := wresp.Err(); err != nil {
				return false, err
			}
			for _, ev := range wresp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				cmd, err := model.UnmarshalCommand(ev.Kv.Value)
				if err != nil {
					return false, status.ErrCorruptEntry.Wrap(err)
				}
				if cmd.Index < *next {
					continue // already delivered during catch-up
				}
				if cmd.Index != *next {
					return true, nil // lost continuity, resync from storage
				}
				if !sub.Emit(ctx, cmd) {
					return false, nil
				}
				*next++
			}
		case <-ctx.Done():
			sub.Fail(ctx.Err())
			return false, nil
		case <-sub.Done():
			return false, nil
		}
	}
}

func formatIndex(index uint64) string {
	return fmt.Sprintf("%020d", index)
}

func parseIndex(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, status.ErrCorruptEntry.WrapMessage("sequence %q: %v", s, err)
	}
	return v, nil
}
