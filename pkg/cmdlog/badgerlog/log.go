// Package badgerlog persists the command log in a local badger database.
//
// This is the storage behind a standalone node and behind the local applied
// cursor of clustered nodes: cheap to open, durable across restarts, no
// replication of its own.
package badgerlog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/cmdlog"
	"github.com/treelinehq/treeline/pkg/cmdlog/status"
	"github.com/treelinehq/treeline/pkg/model"
)

const (
	entryPrefix  = "log/entry/"
	seqKey       = "log/seq"
	cursorPrefix = "log/cursor/"

	pageSize = 256
)

// Option alters the behavior of a badger-backed log.
type Option func(*Log)

// WithLogger sets a logger (defaults to a no-op logger)
func WithLogger(l *zap.Logger) Option {
	return func(b *Log) {
		if l != nil {
			b.l = l
		}
	}
}

// Log is a single-node durable command log.
type Log struct {
	db *badger.DB
	l  *zap.Logger

	mu     sync.Mutex
	notify chan struct{}
	closed bool
}

// Open opens or creates a log under dir. An empty dir keeps the database in
// memory, for tests and ephemeral nodes.
func Open(dir string, opts ...Option) (*Log, error) {
	b := &Log{
		l:      zap.NewNop(),
		notify: make(chan struct{}),
	}
	for _, apply := range opts {
		apply(b)
	}
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("opening command log at %q: %w", dir, err)
	}
	b.db = db
	return b, nil
}

func (b *Log) Append(ctx context.Context, cmd *model.Command) (uint64, error) {
	if cmd == nil {
		return 0, status.ErrCorruptEntry.WrapMessage("nil command")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, status.ErrClosed.WrapMessage("badgerlog: append")
	}
	var assigned uint64
	err := b.db.Update(func(txn *badger.Txn) error {
		last, err := readSeq(txn)
		if err != nil {
			return err
		}
		assigned = last + 1
		cmd.Index = assigned
		raw, err := model.MarshalCommand(*cmd)
		if err != nil {
			return err
		}
		if err := txn.Set(entryKey(assigned), raw); err != nil {
			return err
		}
		return txn.Set([]byte(seqKey), encodeIndex(assigned))
	})
	if err != nil {
		return 0, err
	}
	close(b.notify)
	b.notify = make(chan struct{})
	b.l.Debug("appended command",
		zap.Uint64("index", assigned),
		zap.String("type", string(cmd.Type)),
	)
	return assigned, nil
}

func (b *Log) Subscribe(ctx context.Context, from uint64) (*cmdlog.Subscription, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, status.ErrClosed.WrapMessage("badgerlog: subscribe")
	}
	if from == 0 {
		from = 1
	}
	sub := cmdlog.NewSubscription(0)
	go b.pump(ctx, sub, from)
	return sub, nil
}

func (b *Log) LastIndex(ctx context.Context) (uint64, error) {
	var last uint64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		last, err = readSeq(txn)
		return err
	})
	return last, err
}

func (b *Log) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.notify)
	b.mu.Unlock()
	return b.db.Close()
}

func (b *Log) pump(ctx context.Context, sub *cmdlog.Subscription, from uint64) {
	defer sub.Finish()
	next := from
	for {
		// grab the wakeup channel before reading the entries it covers
		b.mu.Lock()
		notify := b.notify
		closed := b.closed
		b.mu.Unlock()
		if closed {
			sub.Fail(status.ErrClosed.WrapMessage("badgerlog: log closed"))
			return
		}

		batch, err := b.readBatch(next, pageSize)
		if err != nil {
			sub.Fail(err)
			return
		}
		for i := range batch {
			if batch[i].Index != next {
				sub.Fail(status.ErrCorruptEntry.WrapMessage(
					"expected index %d, found %d", next, batch[i].Index))
				return
			}
			if !sub.Emit(ctx, batch[i]) {
				return
			}
			next++
		}
		if len(batch) == pageSize {
			continue // still catching up
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

func (b *Log) readBatch(from uint64, max int) ([]model.Command, error) {
	out := make([]model.Command, 0, max)
	err := b.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Prefix = []byte(entryPrefix)
		iopts.PrefetchSize = max
		it := txn.NewIterator(iopts)
		defer it.Close()
		for it.Seek(entryKey(from)); it.Valid() && len(out) < max; it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			cmd, err := model.UnmarshalCommand(raw)
			if err != nil {
				return status.ErrCorruptEntry.Wrap(err)
			}
			out = append(out, cmd)
		}
		return nil
	})
	return out, err
}

func readSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(seqKey))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return status.ErrCorruptEntry.WrapMessage("sequence value has %d bytes", len(val))
		}
		last = binary.BigEndian.Uint64(val)
		return nil
	})
	return last, err
}

func entryKey(index uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryPrefix, index))
}

func encodeIndex(index uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, index)
	return buf
}

// Cursor persists a consumer's applied index in the same database as the
// log entries. Clustered nodes open a badger database for this alone, with
// the log itself living elsewhere.
type Cursor struct {
	db  *badger.DB
	key []byte
}

// Cursor returns a durable applied-index cursor. An empty name selects the
// default slot.
func (b *Log) Cursor(name string) *Cursor {
	if name == "" {
		name = "applied"
	}
	return &Cursor{db: b.db, key: []byte(cursorPrefix + name)}
}

func (c *Cursor) Load(_ context.Context) (uint64, error) {
	var index uint64
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return status.ErrCorruptEntry.WrapMessage("cursor value has %d bytes", len(val))
			}
			index = binary.BigEndian.Uint64(val)
			return nil
		})
	})
	return index, err
}

func (c *Cursor) Store(_ context.Context, index uint64) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key, encodeIndex(index))
	})
}
