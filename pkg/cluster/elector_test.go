package cluster

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/treelinehq/treeline/pkg/cmdlog/memlog"
)

func TestStandaloneElector(t *testing.T) {
	t.Parallel()

	state := NewStateMachine()
	elector := NewStandaloneElector(state)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- elector.Run(ctx) }()

	require.Eventually(t, state.Writable, testWait, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(testWait):
		t.Fatal("elector did not stop")
	}
	assert.Equal(t, RoleFollower, state.Role())
}

// Integration test against a live etcd, pointed at by
// TREELINE_TEST_ETCD_ENDPOINTS (comma separated).
func TestEtcdElectorFailover(t *testing.T) {
	endpoints := os.Getenv("TREELINE_TEST_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("TREELINE_TEST_ETCD_ENDPOINTS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	namespace := fmt.Sprintf("treeline-test/%d", time.Now().UnixNano())

	type member struct {
		state  *StateMachine
		cancel context.CancelFunc
		done   chan struct{}
	}
	start := func(id string) *member {
		m := &member{
			state: NewStateMachine(),
			done:  make(chan struct{}),
		}
		var runCtx context.Context
		runCtx, m.cancel = context.WithCancel(ctx)
		elector := NewEtcdElector(client, namespace, id, m.state,
			ElectorWithSessionTTL(2),
			ElectorWithRetryDelay(100*time.Millisecond),
		)
		go func() {
			defer close(m.done)
			_ = elector.Run(runCtx)
		}()
		return m
	}

	a := start("node-a")
	defer func() { a.cancel(); <-a.done }()
	b := start("node-b")
	defer func() { b.cancel(); <-b.done }()

	leaders := func() int {
		n := 0
		for _, m := range []*member{a, b} {
			if m.state.Role() == RoleLeader {
				n++
			}
		}
		return n
	}

	require.Eventually(t, func() bool { return leaders() == 1 },
		30*time.Second, 100*time.Millisecond, "exactly one node should lead")

	// stopping the leader hands leadership to the survivor
	loser := b
	if a.state.Role() == RoleLeader {
		a.cancel()
		<-a.done
	} else {
		b.cancel()
		<-b.done
		loser = a
	}
	require.Eventually(t, func() bool { return loser.state.Role() == RoleLeader },
		30*time.Second, 100*time.Millisecond, "the survivor should take over")
}

func TestNodeWithEtcdElectionOption(t *testing.T) {
	t.Parallel()

	// construction only: the elector is not run without a live etcd
	log := memlog.New()
	defer func() { _ = log.Close() }()
	node := NewNode("etcd-node", newTestEngine(t), log,
		NodeWithEtcdElection(nil, "treeline/test", 5),
	)
	require.NotNil(t, node)
	assert.Equal(t, RoleFollower, node.Availability().Role)
}
