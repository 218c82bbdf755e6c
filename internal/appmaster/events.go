package appmaster

import "github.com/indoos/hoya/internal/common"

// 调和引擎的内部事件。四路回调面（RM、NM、子进程、控制 RPC）
// 都序列化进同一个事件队列，由引擎单 goroutine 消费。

type containersAllocatedEvent struct {
	containers []*common.Container
}

type containersCompletedEvent struct {
	statuses []*common.ContainerStatus
}

type containerStartedEvent struct {
	id common.ContainerID
}

type containerStoppedEvent struct {
	id common.ContainerID
}

type containerStartErrorEvent struct {
	id  common.ContainerID
	err error
}

type containerStopErrorEvent struct {
	id  common.ContainerID
	err error
}

type nodesUpdatedEvent struct {
	reports []*common.NodeReport
}

type applicationStartedEvent struct{}

type applicationExitedEvent struct {
	code int
}

type stopRequestedEvent struct {
	reason string
}

type rmErrorEvent struct {
	err error
}

type addNodesEvent struct {
	count int
}

type deleteNodesEvent struct {
	count int
}
