package appstate

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/common"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore("test-cluster", zap.NewNop())
}

func TestNewClusterDescription(t *testing.T) {
	desc := NewClusterDescription("test-cluster", 1000)

	assert.Equal(t, "test-cluster", desc.Name)
	assert.Equal(t, ClusterStateCreated, desc.State)
	assert.Equal(t, int64(1000), desc.CreateTime)
	assert.Empty(t, desc.WorkerNodes)
	assert.Empty(t, desc.RequestedNodes)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	store.Mutate(func(d *ClusterDescription) {
		d.Masters = 1
		d.Workers = 2
		d.MasterHeap = 512
		d.WorkerHeap = 256
		d.ClientProperties["hbase.rootdir"] = "hdfs://nn:8020/hbase"
		d.RootPath = "hdfs://nn:8020/hbase"
		d.ZKHosts = "zk1,zk2"
		d.ZKPort = 2181
		d.ZKPath = "/hbase"
	})

	snapshot, err := store.SnapshotJSON()
	require.NoError(t, err)

	var parsed ClusterDescription
	require.NoError(t, json.Unmarshal([]byte(snapshot), &parsed))

	assert.Equal(t, "test-cluster", parsed.Name)
	assert.Equal(t, 1, parsed.Masters)
	assert.Equal(t, 2, parsed.Workers)
	assert.Equal(t, int64(512), parsed.MasterHeap)
	assert.Equal(t, "hdfs://nn:8020/hbase", parsed.RootPath)
	assert.Equal(t, "zk1,zk2", parsed.ZKHosts)
	assert.Equal(t, 2181, parsed.ZKPort)
	assert.Equal(t, "/hbase", parsed.ZKPath)
	assert.Equal(t, "hdfs://nn:8020/hbase", parsed.ClientProperties["hbase.rootdir"])
}

func TestSnapshotFieldNames(t *testing.T) {
	store := newTestStore(t)
	snapshot, err := store.SnapshotJSON()
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(snapshot), &raw))

	for _, field := range []string{
		"name", "state", "createTime", "startTime", "statusTime",
		"masters", "workers", "masterHeap", "workerHeap",
		"clientProperties", "masterNodes", "workerNodes",
		"completedNodes", "failedNodes", "requestedNodes",
		"rootPath", "zkHosts", "zkPort", "zkPath",
	} {
		assert.Contains(t, raw, field)
	}
}

func TestStatusTimeMonotonic(t *testing.T) {
	store := newTestStore(t)

	var previous int64
	for i := 0; i < 100; i++ {
		snapshot, err := store.SnapshotJSON()
		require.NoError(t, err)

		var parsed ClusterDescription
		require.NoError(t, json.Unmarshal([]byte(snapshot), &parsed))
		assert.Greater(t, parsed.StatusTime, previous)
		previous = parsed.StatusTime
	}
}

func TestSnapshotUnderConcurrentMutation(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				store.AddRequestedNode(common.ContainerID("c"), RoleWorker, "host", []string{"cmd"})
				store.Mutate(func(d *ClusterDescription) {
					d.Workers = worker
				})
			}
		}(i)
	}

	for i := 0; i < 100; i++ {
		snapshot, err := store.SnapshotJSON()
		require.NoError(t, err)
		assert.True(t, json.Valid([]byte(snapshot)))
	}
	wg.Wait()
}

func TestNodeLifecycle(t *testing.T) {
	store := newTestStore(t)
	id := common.ContainerID("container_01_000002")

	store.AddRequestedNode(id, RoleWorker, "worker-host", []string{"hbase", "regionserver", "start"})

	snapshot, err := store.SnapshotJSON()
	require.NoError(t, err)
	var desc ClusterDescription
	require.NoError(t, json.Unmarshal([]byte(snapshot), &desc))
	require.Len(t, desc.RequestedNodes, 1)
	assert.Equal(t, NodeStateRequested, desc.RequestedNodes[0].State)
	assert.Equal(t, "hbase regionserver start", desc.RequestedNodes[0].Command)

	store.PromoteNodeLive(id)
	assert.Equal(t, 1, store.WorkerCount())

	store.NodeTerminated(id, 0, "finished", false)
	assert.Equal(t, 0, store.WorkerCount())

	snapshot, err = store.SnapshotJSON()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(snapshot), &desc))
	assert.Empty(t, desc.RequestedNodes)
	assert.Empty(t, desc.WorkerNodes)
	require.Len(t, desc.CompletedNodes, 1)
	assert.Equal(t, NodeStateDestroyed, desc.CompletedNodes[0].State)
	assert.Equal(t, "finished", desc.CompletedNodes[0].Diagnostics)
}

func TestNodeTerminatedFailed(t *testing.T) {
	store := newTestStore(t)
	id := common.ContainerID("container_01_000003")

	store.AddRequestedNode(id, RoleWorker, "worker-host", []string{"cmd"})
	store.PromoteNodeLive(id)
	store.NodeTerminated(id, 1, "process died", true)

	snapshot, err := store.SnapshotJSON()
	require.NoError(t, err)
	var desc ClusterDescription
	require.NoError(t, json.Unmarshal([]byte(snapshot), &desc))
	assert.Empty(t, desc.CompletedNodes)
	require.Len(t, desc.FailedNodes, 1)
	assert.Equal(t, 1, desc.FailedNodes[0].ExitCode)
}

func TestNodeTerminatedUnknownContainer(t *testing.T) {
	store := newTestStore(t)

	// 完成报告可能先于启动确认到达
	store.NodeTerminated(common.ContainerID("never-seen"), 137, "killed", true)

	snapshot, err := store.SnapshotJSON()
	require.NoError(t, err)
	var desc ClusterDescription
	require.NoError(t, json.Unmarshal([]byte(snapshot), &desc))
	require.Len(t, desc.FailedNodes, 1)
	assert.Equal(t, RoleUnknown, desc.FailedNodes[0].Role)
}

func TestUpdateClusterDescription(t *testing.T) {
	store := newTestStore(t)
	store.Mutate(func(d *ClusterDescription) {
		d.Masters = 1
	})

	store.UpdateClusterDescription(MasterObservation{
		Running: true,
		Command: "bin/hbase --config /conf master start",
		Host:    "am-host",
		Output:  []string{"starting master"},
	})

	snapshot, err := store.SnapshotJSON()
	require.NoError(t, err)
	var desc ClusterDescription
	require.NoError(t, json.Unmarshal([]byte(snapshot), &desc))
	require.Len(t, desc.MasterNodes, 1)
	assert.Equal(t, NodeStateLive, desc.MasterNodes[0].State)
	assert.Equal(t, RoleMaster, desc.MasterNodes[0].Role)
	assert.Equal(t, "am-host", desc.MasterNodes[0].Host)

	store.UpdateClusterDescription(MasterObservation{
		Exited:   true,
		ExitCode: 143,
		Host:     "am-host",
	})

	snapshot, err = store.SnapshotJSON()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(snapshot), &desc))
	require.Len(t, desc.MasterNodes, 1)
	assert.Equal(t, NodeStateStopped, desc.MasterNodes[0].State)
	assert.Equal(t, 143, desc.MasterNodes[0].ExitCode)
}

func TestUpdateClusterDescriptionNoMaster(t *testing.T) {
	store := newTestStore(t)

	store.UpdateClusterDescription(MasterObservation{Running: true})

	snapshot, err := store.SnapshotJSON()
	require.NoError(t, err)
	var desc ClusterDescription
	require.NoError(t, json.Unmarshal([]byte(snapshot), &desc))
	assert.Empty(t, desc.MasterNodes)
}
