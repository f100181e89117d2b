// Package localfs implements the Store interface on a local file system,
// with an atomic variant staging writes then renaming them into place.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/treelinehq/treeline/pkg/storage"
	"github.com/treelinehq/treeline/pkg/storage/status"

	"github.com/spf13/afero"
)

// New creates a local file system backed store.
func New(fs afero.Fs) storage.Store {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".treeline", "objects"))
	}
	return &localFS{fs: fs}
}

type localFS struct {
	fs afero.Fs
}

func (l *localFS) Has(ctx context.Context, key string) (bool, error) {
	fi, err := l.fs.Stat(key)
	switch {
	case os.IsNotExist(err):
		return false, nil
	case err != nil:
		return false, err
	}
	return !fi.IsDir(), nil
}

// fileReader adds WriteTo so reads from this store can stream through
// storage.PipeIO without an intermediate buffer.
type fileReader struct {
	afero.File
}

func (r fileReader) WriteTo(w io.Writer) (int64, error) {
	return storage.PipeIO(w, r.File)
}

func (l *localFS) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	has, err := l.Has(ctx, key)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, status.ErrNotFound.WrapMessage("localfs: %s", key)
	}
	f, err := l.fs.Open(key)
	if err != nil {
		return nil, err
	}
	return fileReader{File: f}, nil
}

func (l *localFS) Put(ctx context.Context, key string, source io.Reader, doesNotExist bool) error {
	dir := filepath.Dir(key)
	if dir != "" {
		if err := l.fs.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("ensuring directories for %q: %v", key, err)
		}
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_SYNC
	if doesNotExist {
		flag |= os.O_EXCL
	} else {
		flag |= os.O_TRUNC
	}
	target, err := l.fs.OpenFile(key, flag, 0600)
	if err != nil {
		if os.IsExist(err) {
			return status.ErrExists.WrapMessage("localfs: %s", key)
		}
		return fmt.Errorf("create record for %q: %v", key, err)
	}
	if wt, ok := source.(io.WriterTo); ok {
		_, err = wt.WriteTo(target)
	} else {
		_, err = io.Copy(target, source)
	}
	if err != nil {
		_ = target.Close()
		return fmt.Errorf("write record for %q: %v", key, err)
	}
	return target.Close()
}

func (l *localFS) Delete(ctx context.Context, key string) error {
	if err := l.fs.Remove(key); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %q: %v", key, err)
	}
	return nil
}

var errStopWalk = errors.New("stop walk")

// walkFiles visits the files below root in lexical order, skipping
// directories.
func (l *localFS) walkFiles(root string, visit func(pth string) error) error {
	return afero.Walk(l.fs, root, func(pth string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return visit(pth)
	})
}

func (l *localFS) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := l.walkFiles(".", func(pth string) error {
		keys = append(keys, pth)
		return nil
	}); err != nil {
		return nil, err
	}
	return keys, nil
}

// KeysPrefix walks keys under a prefix in lexical order, returning up to
// count keys and a resume token ("" when the listing is done). Hierarchical
// listing with a delimiter is not supported on this backend.
func (l *localFS) KeysPrefix(ctx context.Context, token, prefix, delimiter string, count int) ([]string, string, error) {
	if delimiter != "" {
		return nil, "", status.ErrNotSupported.WrapMessage("localfs: delimiter %q", delimiter)
	}

	root := "."
	if i := strings.LastIndex(prefix, "/"); i > 0 {
		root = prefix[:i]
	}
	if exists, err := afero.DirExists(l.fs, root); err != nil || !exists {
		return nil, "", err
	}

	var keys []string
	next := ""
	err := l.walkFiles(root, func(pth string) error {
		switch {
		case !strings.HasPrefix(pth, prefix):
			return nil
		case token != "" && pth < token:
			// resume tokens are inclusive
			return nil
		case count > 0 && len(keys) == count:
			next = pth
			return errStopWalk
		}
		keys = append(keys, pth)
		return nil
	})
	if err != nil && err != errStopWalk {
		return nil, "", err
	}
	return keys, next, nil
}

func (l *localFS) Clear(ctx context.Context) error {
	return l.fs.RemoveAll("/")
}

// describe names a store, appending the real path when the backing
// filesystem discloses one.
func describe(label string, fs afero.Fs) string {
	if bp, ok := fs.(*afero.BasePathFs); ok {
		if pp, err := bp.RealPath(""); err == nil {
			return label + "@" + pp
		}
	}
	return label
}

func (l *localFS) String() string {
	return describe("localfs", l.fs)
}

// The atomic variant decorates localFS: objects are written into a staging
// area inside the same afero.Fs, then renamed into place, so a key never
// shows partial content on filesystems with thread-safe Rename.

const putStageDir = ".put-stage"

// checkKey rejects keys that would collide with the staging area.
func checkKey(key string) error {
	trimmed := strings.TrimLeft(key, "/")
	if trimmed == putStageDir || strings.HasPrefix(trimmed, putStageDir+"/") {
		return status.ErrInvalidResource.WrapMessage("key %q conflicts with put staging area %q", key, putStageDir)
	}
	return nil
}

// dropStaging filters staging keys out of a listing, in place.
func dropStaging(keys []string) []string {
	kept := keys[:0]
	for _, key := range keys {
		if checkKey(key) == nil {
			kept = append(kept, key)
		}
	}
	return kept
}

// NewAtomic creates a local file system backed store whose Put makes the
// full object visible in a single rename.
func NewAtomic(fs afero.Fs) (storage.Store, error) {
	if fs == nil {
		fs = afero.NewBasePathFs(afero.NewOsFs(), filepath.Join(".treeline", "objects"))
	}
	if err := fs.MkdirAll(putStageDir, 0700); err != nil {
		return nil, fmt.Errorf("ensuring put staging directory %q: %v", putStageDir, err)
	}
	return &localFSAtomic{base: localFS{fs: fs}}, nil
}

type localFSAtomic struct {
	base localFS
}

func (l *localFSAtomic) Has(ctx context.Context, key string) (bool, error) {
	if err := checkKey(key); err != nil {
		return false, err
	}
	return l.base.Has(ctx, key)
}

func (l *localFSAtomic) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return l.base.Get(ctx, key)
}

// Put stages the object under the staging area, then renames it into place.
// With doesNotExist set, the existence check runs against the final key:
// writers of the same key are assumed to be serialized by the caller.
func (l *localFSAtomic) Put(ctx context.Context, key string, source io.Reader, doesNotExist bool) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if doesNotExist {
		has, err := l.base.Has(ctx, key)
		if err != nil {
			return err
		}
		if has {
			return status.ErrExists.WrapMessage("localfs: %s", key)
		}
	}
	stageKey := filepath.Join(putStageDir, key)
	if err := l.base.Put(ctx, stageKey, source, storage.OverWrite); err != nil {
		return err
	}
	// Rename does not create directories
	if dir := filepath.Dir(key); dir != "" {
		if err := l.base.fs.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("ensuring directories for %q: %v", key, err)
		}
	}
	return l.base.fs.Rename(stageKey, key)
}

func (l *localFSAtomic) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return l.base.Delete(ctx, key)
}

func (l *localFSAtomic) Keys(ctx context.Context) ([]string, error) {
	keys, err := l.base.Keys(ctx)
	if err != nil {
		return keys, err
	}
	return dropStaging(keys), nil
}

func (l *localFSAtomic) KeysPrefix(ctx context.Context, token, prefix, delimiter string, count int) ([]string, string, error) {
	keys, next, err := l.base.KeysPrefix(ctx, token, prefix, delimiter, count)
	if err != nil {
		return keys, next, err
	}
	return dropStaging(keys), next, nil
}

func (l *localFSAtomic) Clear(ctx context.Context) error {
	return l.base.Clear(ctx)
}

func (l *localFSAtomic) String() string {
	return describe("localfs-atomic", l.base.fs)
}
