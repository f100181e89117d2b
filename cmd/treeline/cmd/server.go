package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/treelinehq/treeline/pkg/cluster"
	"github.com/treelinehq/treeline/pkg/cmdlog"
	"github.com/treelinehq/treeline/pkg/cmdlog/badgerlog"
	"github.com/treelinehq/treeline/pkg/cmdlog/etcdlog"
	"github.com/treelinehq/treeline/pkg/config"
	"github.com/treelinehq/treeline/pkg/core"
	"github.com/treelinehq/treeline/pkg/httpd"
	"github.com/treelinehq/treeline/pkg/metrics"
	"github.com/treelinehq/treeline/pkg/mirror"
	"github.com/treelinehq/treeline/pkg/storage"
	"github.com/treelinehq/treeline/pkg/storage/localfs"
	"github.com/treelinehq/treeline/pkg/tlogger"
	"github.com/treelinehq/treeline/pkg/web"
)

const etcdDialTimeout = 5 * time.Second

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run a treeline server node",
	Long: `Run one treeline node: the replicated command log, the repository engine
and the HTTP API.

With replication method "none" the node runs standalone and always accepts
writes. With "etcd" it joins the cluster behind the configured endpoints:
one leader accepts writes while every node serves reads from its own
applied state.`,
	Example: `% treeline server --config /etc/treeline/server.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runServer(treelineFlags.server.config); err != nil {
			wrapFatalln("server", err)
			return
		}
	},
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return err
	}
	logger, err := tlogger.GetLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	nodeID, err := cfg.EnsureNodeID(fs)
	if err != nil {
		return err
	}
	logger.Info("treeline node starting",
		zap.String("version", NewVersionInfo().Version),
		zap.String("node_id", nodeID),
		zap.String("zone", cfg.Zone),
		zap.String("listen", cfg.ListenAddress),
		zap.String("replication", string(cfg.Replication.Method)),
	)

	m := metrics.New("")

	archive, err := localfs.NewAtomic(afero.NewBasePathFs(fs, filepath.Join(cfg.DataDir, "archive")))
	if err != nil {
		return err
	}
	meta := storage.Instrument(archive,
		storage.InstrumentWithLogger(logger),
		storage.InstrumentWithObserver(m),
	)

	engine := core.New(meta,
		core.WithLogger(logger),
		core.WithMaxContentSize(cfg.MaxContentSize.Int64()),
	)

	var (
		cmdLog  cmdlog.Log
		cursor  cluster.Cursor
		closers []func() error
	)
	nodeOpts := []cluster.NodeOption{
		cluster.NodeWithLogger(logger),
		cluster.NodeWithStateObserver(func(avail cluster.Availability) {
			m.ObserveAvailability(avail.Role.String(), avail.Healthy)
		}),
		cluster.NodeWithApplyObserver(m.ObserveApply),
		cluster.NodeWithAppendObserver(m.ObserveAppend),
	}

	switch cfg.Replication.Method {
	case config.ReplicationEtcd:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.Replication.Endpoints,
			Username:    cfg.Replication.Username,
			Password:    cfg.Replication.Password,
			DialTimeout: etcdDialTimeout,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		closers = append(closers, client.Close)

		elog := etcdlog.New(client, cfg.Replication.Namespace, etcdlog.WithLogger(logger))
		cmdLog = elog
		closers = append(closers, elog.Close)

		// the applied index is node-local state and stays out of etcd
		state, err := badgerlog.Open(filepath.Join(cfg.DataDir, "state"), badgerlog.WithLogger(logger))
		if err != nil {
			return err
		}
		closers = append(closers, state.Close)
		cursor = state.Cursor("")

		nodeOpts = append(nodeOpts,
			cluster.NodeWithEtcdElection(client, cfg.Replication.Namespace, cfg.Replication.SessionTTLSeconds))
	default:
		blog, err := badgerlog.Open(filepath.Join(cfg.DataDir, "log"), badgerlog.WithLogger(logger))
		if err != nil {
			return err
		}
		cmdLog = blog
		closers = append(closers, blog.Close)
		cursor = blog.Cursor("")

		nodeOpts = append(nodeOpts, cluster.NodeWithStandaloneElection())
	}
	nodeOpts = append(nodeOpts, cluster.NodeWithCursor(cursor))

	node := cluster.NewNode(nodeID, engine, cmdLog, nodeOpts...)
	m.TrackAppliedIndex(node.Applier().AppliedIndex)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := node.Start(ctx); err != nil {
		closeAll(logger, closers)
		return err
	}

	if cfg.Mirror.Enabled {
		scheduler := mirror.NewScheduler(engine,
			func() bool { return node.Availability().Writable() },
			mirror.NewLogSyncer(logger),
			mirror.SchedulerWithLogger(logger),
			mirror.SchedulerWithCheckInterval(cfg.Mirror.CheckInterval.Std()),
		)
		go func() {
			// ends when the node shuts down
			_ = scheduler.Run(ctx)
		}()
	}

	api := web.NewServer(node,
		web.ServerWithLogger(logger),
		web.ServerWithMetrics(m),
	)

	srv := httpd.New(
		httpd.ListensOn(cfg.ListenAddress),
		httpd.HandlesRequestsWith(web.InitRouter(api)),
		httpd.LogsWith(logger),
		httpd.HandlesSignals(),
		httpd.OnShutdown(
			cancel,
			node.Stop,
			func() { closeAll(logger, closers) },
		),
	)
	return srv.Serve()
}

// closeAll closes in reverse construction order.
func closeAll(l *zap.Logger, closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			l.Warn("close on shutdown", zap.Error(err))
		}
	}
}

func init() {
	requiredFlags := []string{addServerConfigFlag(serverCmd)}

	for _, flag := range requiredFlags {
		if err := serverCmd.MarkFlagRequired(flag); err != nil {
			logFatalln(err)
		}
	}

	rootCmd.AddCommand(serverCmd)
}
