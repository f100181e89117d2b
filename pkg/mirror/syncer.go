package mirror

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Syncer runs one synchronization pass for a mirror. Implementations own
// the transport; the scheduler only decides when to call them.
type Syncer interface {
	Sync(ctx context.Context, project string, d Descriptor) error
}

// SyncerFunc adapts a function to the Syncer interface.
type SyncerFunc func(ctx context.Context, project string, d Descriptor) error

// Sync implements Syncer.
func (fn SyncerFunc) Sync(ctx context.Context, project string, d Descriptor) error {
	return fn(ctx, project, d)
}

// LogSyncer records each pass without moving any data. It stands in until
// a transport is configured, and keeps the scheduler observable in tests.
type LogSyncer struct {
	l *zap.Logger
}

// NewLogSyncer builds a syncer that only logs.
func NewLogSyncer(l *zap.Logger) *LogSyncer {
	if l == nil {
		l = zap.NewNop()
	}
	return &LogSyncer{l: l}
}

// Sync implements Syncer.
func (s *LogSyncer) Sync(_ context.Context, project string, d Descriptor) error {
	s.l.Info("mirror pass",
		zap.String("project", project),
		zap.String("mirror", d.ID),
		zap.String("direction", string(d.Direction)),
		zap.String("repo", d.LocalRepo),
		zap.String("remote", d.RemoteURI),
		zap.Duration("interval", time.Duration(d.Interval)),
	)
	return nil
}
