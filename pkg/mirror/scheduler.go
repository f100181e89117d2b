package mirror

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/core"
	corestatus "github.com/treelinehq/treeline/pkg/core/status"
	"github.com/treelinehq/treeline/pkg/errors"
	"github.com/treelinehq/treeline/pkg/model"
)

// DefaultCheckInterval is how often the scheduler looks for due mirrors.
const DefaultCheckInterval = time.Minute

// Scheduler walks all projects on a fixed check interval, reloads each
// project's mirror descriptors when its meta repository head moved, and
// runs every enabled mirror whose interval elapsed.
//
// Mirrors only run while the node is writable: a follower scheduling the
// same pass as the leader would sync twice, and an isolated node must not
// push stale content anywhere. Per-mirror next-run times survive
// descriptor reloads, so editing one mirror does not re-run its siblings.
type Scheduler struct {
	engine   *core.Engine
	writable func() bool
	syncer   Syncer
	interval time.Duration
	clock    func() time.Time
	l        *zap.Logger

	// touched only from the Run goroutine
	cache map[string]*projectMirrors
	next  map[string]time.Time
}

type projectMirrors struct {
	head        model.Revision
	descriptors []Descriptor
}

// SchedulerOption alters the construction of a scheduler.
type SchedulerOption func(*Scheduler)

// SchedulerWithLogger sets a logger on the scheduler.
func SchedulerWithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if l != nil {
			s.l = l
		}
	}
}

// SchedulerWithCheckInterval sets how often the scheduler wakes up.
func SchedulerWithCheckInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// SchedulerWithClock substitutes the time source, for tests.
func SchedulerWithClock(clock func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewScheduler builds a scheduler reading descriptors through the engine.
// writable gates each pass on the node's availability; nil means always
// writable, for standalone deployments.
func NewScheduler(engine *core.Engine, writable func() bool, syncer Syncer, opts ...SchedulerOption) *Scheduler {
	if writable == nil {
		writable = func() bool { return true }
	}
	if syncer == nil {
		syncer = NewLogSyncer(nil)
	}
	s := &Scheduler{
		engine:   engine,
		writable: writable,
		syncer:   syncer,
		interval: DefaultCheckInterval,
		clock:    time.Now,
		l:        zap.NewNop(),
		cache:    make(map[string]*projectMirrors),
		next:     make(map[string]time.Time),
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Run blocks, waking up on every check interval, until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.l.Info("mirror scheduler started", zap.Duration("check_interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.l.Info("mirror scheduler stopped")
			return ctx.Err()
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.writable() {
		return
	}
	now := s.clock()
	projects, err := s.engine.ListProjects(ctx)
	if err != nil {
		s.l.Warn("cannot list projects", zap.Error(err))
		return
	}
	live := make(map[string]struct{})
	for _, project := range projects {
		s.runProject(ctx, project.Name, now, live)
	}
	// forget next-run times of mirrors that were removed or disabled, so
	// they run right away if they come back
	for key := range s.next {
		if _, ok := live[key]; !ok {
			delete(s.next, key)
		}
	}
}

func (s *Scheduler) runProject(ctx context.Context, project string, now time.Time, live map[string]struct{}) {
	head, err := s.engine.Head(ctx, project, model.MetaRepoName)
	if err != nil {
		s.l.Warn("cannot read the meta repository head",
			zap.String("project", project), zap.Error(err))
		return
	}

	pm, ok := s.cache[project]
	if !ok || pm.head != head {
		descriptors, err := s.loadDescriptors(ctx, project, head)
		switch {
		case err == nil:
			pm = &projectMirrors{head: head, descriptors: descriptors}
			s.cache[project] = pm
		case ok:
			// keep the last good set; fixing the document moves the head
			// again and triggers the next reload
			s.l.Warn("cannot load mirror descriptors, keeping the previous set",
				zap.String("project", project),
				zap.Int64("revision", int64(head)),
				zap.Error(err))
			pm.head = head
		default:
			s.l.Warn("cannot load mirror descriptors",
				zap.String("project", project),
				zap.Int64("revision", int64(head)),
				zap.Error(err))
			return
		}
	}

	for _, d := range pm.descriptors {
		if !d.Enabled {
			continue
		}
		key := project + "/" + d.ID
		live[key] = struct{}{}
		due, scheduled := s.next[key]
		if scheduled && now.Before(due) {
			continue
		}
		if err := s.syncer.Sync(ctx, project, d); err != nil {
			s.l.Warn("mirror pass failed",
				zap.String("project", project),
				zap.String("mirror", d.ID),
				zap.Error(err))
		}
		s.next[key] = now.Add(time.Duration(d.Interval))
	}
}

func (s *Scheduler) loadDescriptors(ctx context.Context, project string, head model.Revision) ([]Descriptor, error) {
	entry, err := s.engine.GetEntry(ctx, project, model.MetaRepoName, head, DescriptorsPath)
	if err != nil {
		if errors.Is(err, corestatus.ErrEntryNotFound) {
			// no mirrors configured
			return nil, nil
		}
		return nil, err
	}
	return ParseDescriptors(entry.Content)
}
