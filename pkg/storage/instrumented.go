package storage

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"
)

// OpObserver collects the outcome of a single storage operation.
// pkg/metrics provides the prometheus-backed implementation.
type OpObserver interface {
	ObserveStoreOp(store, op string, start time.Time, err error)
}

// Instrument decorates a store with debug logging and operation metrics.
func Instrument(store Store, opts ...InstrumentOption) Store {
	i := &instrumentedStore{
		store: store,
		l:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.l = i.l.With(zap.String("store", store.String()))
	return i
}

// InstrumentOption customizes the instrumented store
type InstrumentOption func(*instrumentedStore)

// InstrumentWithLogger logs every storage operation at debug level
func InstrumentWithLogger(l *zap.Logger) InstrumentOption {
	return func(i *instrumentedStore) {
		if l != nil {
			i.l = l
		}
	}
}

// InstrumentWithObserver reports every storage operation to an observer
func InstrumentWithObserver(o OpObserver) InstrumentOption {
	return func(i *instrumentedStore) {
		i.observer = o
	}
}

type instrumentedStore struct {
	store    Store
	l        *zap.Logger
	observer OpObserver
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	if i.observer != nil {
		i.observer.ObserveStoreOp(i.store.String(), op, start, err)
	}
}

func (i *instrumentedStore) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	i.l.Debug("storage has", zap.String("key", key))
	has, err := i.store.Has(ctx, key)
	i.observe("Has", start, err)
	return has, err
}

func (i *instrumentedStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	i.l.Debug("storage get", zap.String("key", key))
	rdr, err := i.store.Get(ctx, key)
	i.observe("Get", start, err)
	return rdr, err
}

func (i *instrumentedStore) Put(ctx context.Context, key string, rdr io.Reader, doesNotExist bool) error {
	start := time.Now()
	i.l.Debug("storage put", zap.String("key", key), zap.Bool("exclusive", doesNotExist))
	err := i.store.Put(ctx, key, rdr, doesNotExist)
	i.observe("Put", start, err)
	return err
}

func (i *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	i.l.Debug("storage delete", zap.String("key", key))
	err := i.store.Delete(ctx, key)
	i.observe("Delete", start, err)
	return err
}

func (i *instrumentedStore) Keys(ctx context.Context) ([]string, error) {
	start := time.Now()
	i.l.Debug("storage keys")
	ks, err := i.store.Keys(ctx)
	i.observe("Keys", start, err)
	return ks, err
}

func (i *instrumentedStore) KeysPrefix(ctx context.Context, token, prefix, delimiter string, count int) ([]string, string, error) {
	start := time.Now()
	i.l.Debug("storage keys with prefix", zap.String("prefix", prefix))
	ks, next, err := i.store.KeysPrefix(ctx, token, prefix, delimiter, count)
	i.observe("KeysPrefix", start, err)
	return ks, next, err
}

func (i *instrumentedStore) Clear(ctx context.Context) error {
	start := time.Now()
	i.l.Debug("storage clear")
	err := i.store.Clear(ctx)
	i.observe("Clear", start, err)
	return err
}

func (i *instrumentedStore) String() string {
	return i.store.String()
}
