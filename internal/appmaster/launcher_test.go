package appmaster

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/appstate"
)

func TestLaunchWorkerRegistersRequestedNode(t *testing.T) {
	store := appstate.NewStore("launcher-test", zap.NewNop())
	nm := &fakeNMClient{}
	launcher := NewLauncher(nm, store, "/opt/hbase", "/conf/generated", "/var/log/hoya",
		512, time.Second, zap.NewNop())

	container := makeContainer(1)
	launcher.LaunchWorker(container)
	launcher.JoinAll()

	assert.Equal(t, 1, nm.startedCount())

	snapshot, err := store.SnapshotJSON()
	require.NoError(t, err)
	var desc appstate.ClusterDescription
	require.NoError(t, json.Unmarshal([]byte(snapshot), &desc))
	require.Len(t, desc.RequestedNodes, 1)

	node := desc.RequestedNodes[0]
	assert.Equal(t, container.ID.String(), node.Name)
	assert.Equal(t, appstate.RoleWorker, node.Role)
	assert.Equal(t, appstate.NodeStateRequested, node.State)
	assert.Equal(t, "node-1", node.Host)
	assert.Contains(t, node.Command, "regionserver")
}

func TestJoinAllWithoutTasks(t *testing.T) {
	nm := &fakeNMClient{}
	launcher := NewLauncher(nm, appstate.NewStore("empty", zap.NewNop()),
		"/opt/hbase", "/conf", "/log", 256, 10*time.Millisecond, zap.NewNop())

	// 没有任务时立即返回
	done := make(chan struct{})
	go func() {
		launcher.JoinAll()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("JoinAll blocked with no tasks")
	}
}
