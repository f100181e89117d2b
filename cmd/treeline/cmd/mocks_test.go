package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/pkg/cluster"
	"github.com/treelinehq/treeline/pkg/cmdlog/memlog"
	"github.com/treelinehq/treeline/pkg/core"
	"github.com/treelinehq/treeline/pkg/storage/localfs"
	"github.com/treelinehq/treeline/pkg/tlogger"
	"github.com/treelinehq/treeline/pkg/web"
)

const testWait = 3 * time.Second

// ExitMocks records what would have been fatal exits.
type ExitMocks struct {
	exitStatuses []int
}

func (m *ExitMocks) Fatalf(format string, v ...interface{}) {
	fmt.Printf(format+"\n", v...)
	m.exitStatuses = append(m.exitStatuses, 1)
}

func (m *ExitMocks) Fatalln(v ...interface{}) {
	fmt.Println(v...)
	m.exitStatuses = append(m.exitStatuses, 1)
}

func (m *ExitMocks) Exit(code int) {
	m.exitStatuses = append(m.exitStatuses, code)
}

func (m *ExitMocks) fatalCalls() int {
	return len(m.exitStatuses)
}

func NewExitMocks() *ExitMocks {
	return &ExitMocks{exitStatuses: make([]int, 0)}
}

var exitMocks *ExitMocks

// setupCliTest patches the fatal exits and serves one standalone node over
// HTTP. It returns the remote URL to pass to commands.
func setupCliTest(t *testing.T) string {
	t.Helper()
	exitMocks = NewExitMocks()
	logFatalf = exitMocks.Fatalf
	logFatalln = exitMocks.Fatalln
	osExit = exitMocks.Exit
	t.Cleanup(func() {
		logFatalf = log.Fatalf
		logFatalln = log.Fatalln
		osExit = os.Exit
	})

	engine := core.New(localfs.New(afero.NewMemMapFs()),
		core.WithLogger(tlogger.MustGetLogger(tlogger.LogLevelNone)),
	)
	cmdLog := memlog.New()
	t.Cleanup(func() { _ = cmdLog.Close() })

	node := cluster.NewNode("cli-test-node", engine, cmdLog,
		cluster.NodeWithLogger(tlogger.MustGetLogger(tlogger.LogLevelNone)),
		cluster.NodeWithStandaloneElection(),
	)
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(node.Stop)
	require.Eventually(t, func() bool { return node.Availability().Writable() },
		testWait, 5*time.Millisecond, "test node should elect itself")

	srv := httptest.NewServer(web.InitRouter(web.NewServer(node)))
	t.Cleanup(srv.Close)
	return srv.URL
}

// captureInfo redirects descriptor rows and confirmations into a buffer.
func captureInfo(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	infoLogger.SetOutput(&buf)
	t.Cleanup(func() { infoLogger.SetOutput(os.Stdout) })
	return &buf
}

// captureStdOut redirects raw content output into a buffer.
func captureStdOut(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logStdOut = func(format string, args ...interface{}) (int, error) {
		return fmt.Fprintf(&buf, format, args...)
	}
	t.Cleanup(func() { logStdOut = fmt.Printf })
	return &buf
}

// runCmd executes one CLI invocation with fatal exits patched over.
func runCmd(t *testing.T, cmd []string, intentMsg string, expectError bool) {
	t.Helper()
	fatalCallsBefore := exitMocks.fatalCalls()
	treelineFlags = flagsT{}
	rootCmd.SetArgs(cmd)
	require.NoError(t, rootCmd.Execute(), "error executing '"+strings.Join(cmd, " ")+"' : "+intentMsg)
	if expectError {
		require.Equal(t, fatalCallsBefore+1, exitMocks.fatalCalls(),
			"ran '"+strings.Join(cmd, " ")+"' expecting error and didn't see one in mocks : "+intentMsg)
	} else {
		require.Equal(t, fatalCallsBefore, exitMocks.fatalCalls(),
			"unexpected error in mocks on '"+strings.Join(cmd, " ")+"' : "+intentMsg)
	}
}
