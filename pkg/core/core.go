// Package core implements the repository service proper: a deterministic
// engine that executes replicated commands against the descriptor archive,
// prepares new commands by validating them against current state, and
// answers reads from materialized tree snapshots.
//
// The engine knows nothing about clustering. Whoever drives it is expected
// to Execute commands in log order; every Execute is idempotent, so command
// replay after a crash converges instead of failing.
package core

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/storage"
	"github.com/treelinehq/treeline/pkg/tree"
)

const defaultPageSize = 1024

// Option alters the behavior of an Engine.
type Option func(*Engine)

// WithLogger sets a logger for the engine (defaults to a no-op logger)
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.l = l
		}
	}
}

// WithClock sets the time source used to stamp prepared commits. Tests pin
// it for reproducible descriptors.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMaxContentSize caps the content size of a single pushed file. Zero
// means no cap.
func WithMaxContentSize(size int64) Option {
	return func(e *Engine) {
		e.maxContentSize = size
	}
}

// WithTreeStore overrides the tree store built over the archive.
func WithTreeStore(trees *tree.Store) Option {
	return func(e *Engine) {
		e.trees = trees
	}
}

// Engine validates, executes and answers questions about repository state.
type Engine struct {
	meta           storage.Store
	trees          *tree.Store
	l              *zap.Logger
	clock          func() time.Time
	maxContentSize int64
	pageSize       int
	signals        *headSignals
}

// New builds an engine over an archive of descriptors.
func New(meta storage.Store, opts ...Option) *Engine {
	e := &Engine{
		meta:     meta,
		l:        zap.NewNop(),
		clock:    time.Now,
		pageSize: defaultPageSize,
		signals:  newHeadSignals(),
	}
	for _, apply := range opts {
		apply(e)
	}
	if e.trees == nil {
		e.trees = tree.New(meta, tree.WithLogger(e.l))
	}
	return e
}

func repoKey(project, repo string) string {
	return project + "/" + repo
}

// headSignals wakes head watchers, one broadcast channel per repository.
type headSignals struct {
	mu  sync.Mutex
	chs map[string]chan struct{}
}

func newHeadSignals() *headSignals {
	return &headSignals{chs: make(map[string]chan struct{})}
}

// watch returns a channel closed on the next head move of the repository.
// Callers grab the channel before reading the head they compare against.
func (h *headSignals) watch(key string) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chs[key]
	if !ok {
		ch = make(chan struct{})
		h.chs[key] = ch
	}
	return ch
}

func (h *headSignals) bump(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.chs[key]; ok {
		close(ch)
		delete(h.chs, key)
	}
}
