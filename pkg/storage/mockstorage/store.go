// Package mockstorage provides a func-field mock of the storage.Store
// interface for tests: set only the methods the test exercises.
package mockstorage

import (
	"context"
	"io"

	"github.com/treelinehq/treeline/pkg/storage"
	"github.com/treelinehq/treeline/pkg/storage/status"
)

var _ storage.Store = &StoreMock{}

// StoreMock implements storage.Store with overridable behaviors
type StoreMock struct {
	StringFunc     func() string
	HasFunc        func(context.Context, string) (bool, error)
	GetFunc        func(context.Context, string) (io.ReadCloser, error)
	PutFunc        func(context.Context, string, io.Reader, bool) error
	DeleteFunc     func(context.Context, string) error
	KeysFunc       func(context.Context) ([]string, error)
	KeysPrefixFunc func(ctx context.Context, token, prefix, delimiter string, count int) ([]string, string, error)
	ClearFunc      func(context.Context) error
}

func (s *StoreMock) String() string {
	if s.StringFunc != nil {
		return s.StringFunc()
	}
	return "mock"
}

func (s *StoreMock) Has(ctx context.Context, key string) (bool, error) {
	if s.HasFunc != nil {
		return s.HasFunc(ctx, key)
	}
	return false, nil
}

func (s *StoreMock) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if s.GetFunc != nil {
		return s.GetFunc(ctx, key)
	}
	return nil, status.ErrNotFound
}

func (s *StoreMock) Put(ctx context.Context, key string, rdr io.Reader, doesNotExist bool) error {
	if s.PutFunc != nil {
		return s.PutFunc(ctx, key, rdr, doesNotExist)
	}
	return nil
}

func (s *StoreMock) Delete(ctx context.Context, key string) error {
	if s.DeleteFunc != nil {
		return s.DeleteFunc(ctx, key)
	}
	return nil
}

func (s *StoreMock) Keys(ctx context.Context) ([]string, error) {
	if s.KeysFunc != nil {
		return s.KeysFunc(ctx)
	}
	return nil, nil
}

func (s *StoreMock) KeysPrefix(ctx context.Context, token, prefix, delimiter string, count int) ([]string, string, error) {
	if s.KeysPrefixFunc != nil {
		return s.KeysPrefixFunc(ctx, token, prefix, delimiter, count)
	}
	return nil, "", nil
}

func (s *StoreMock) Clear(ctx context.Context) error {
	if s.ClearFunc != nil {
		return s.ClearFunc(ctx)
	}
	return nil
}
