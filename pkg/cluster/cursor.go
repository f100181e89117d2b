package cluster

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"sync"

	"github.com/treelinehq/treeline/pkg/errors"
	"github.com/treelinehq/treeline/pkg/storage"
	storagestatus "github.com/treelinehq/treeline/pkg/storage/status"
)

// Cursor persists how far this node has applied the command log, so a
// restarted applier resumes instead of replaying from the beginning.
// Losing the cursor is safe: command execution is idempotent.
type Cursor interface {
	Load(ctx context.Context) (uint64, error)
	Store(ctx context.Context, index uint64) error
}

const cursorKey = "node/applied"

// StoreCursor keeps the applied index in a storage backend under a fixed
// key, overwritten on every store.
type StoreCursor struct {
	store storage.Store
	key   string
}

// NewStoreCursor builds a cursor over the given store. An empty key selects
// the default location.
func NewStoreCursor(store storage.Store, key string) *StoreCursor {
	if key == "" {
		key = cursorKey
	}
	return &StoreCursor{store: store, key: key}
}

func (c *StoreCursor) Load(ctx context.Context) (uint64, error) {
	rdr, err := c.store.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, storagestatus.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	defer func() { _ = rdr.Close() }()

	buf, err := io.ReadAll(rdr)
	if err != nil {
		return 0, err
	}
	index, err := strconv.ParseUint(string(bytes.TrimSpace(buf)), 10, 64)
	if err != nil {
		return 0, err
	}
	return index, nil
}

func (c *StoreCursor) Store(ctx context.Context, index uint64) error {
	payload := strconv.FormatUint(index, 10)
	return c.store.Put(ctx, c.key, bytes.NewBufferString(payload), storage.OverWrite)
}

// MemCursor keeps the applied index in memory. Restarting forgets it.
type MemCursor struct {
	mu    sync.Mutex
	index uint64
}

func (c *MemCursor) Load(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index, nil
}

func (c *MemCursor) Store(_ context.Context, index uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = index
	return nil
}
