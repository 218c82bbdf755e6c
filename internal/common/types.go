package common

import "fmt"

// Resource 表示容器的资源配置
type Resource struct {
	Memory int64 `json:"memory"` // MB
	VCores int32 `json:"vcores"` // 虚拟核心数
}

// NodeID 节点标识
type NodeID struct {
	Host string `json:"host"`
	Port int32  `json:"port"`
}

// Address 返回 host:port 形式的节点地址
func (n NodeID) Address() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// ContainerID 容器标识，由 ResourceManager 分配，对 AM 不透明
type ContainerID string

func (c ContainerID) String() string {
	return string(c)
}

// Container ResourceManager 分配给 AM 的一个容器
type Container struct {
	ID       ContainerID `json:"id"`
	NodeID   NodeID      `json:"node_id"`
	Resource Resource    `json:"resource"`
}

// ContainerLaunchContext 容器启动上下文
type ContainerLaunchContext struct {
	Commands    []string          `json:"commands"`
	Environment map[string]string `json:"environment"`
	Resources   map[string]string `json:"resources"` // 本地化资源，名称 -> 路径
}

// 容器退出状态的特殊取值
const (
	// ContainerExitAborted 容器因 AM 主动释放而终止，不算进程失败
	ContainerExitAborted = -100
	// ContainerExitSuccess 容器进程正常退出
	ContainerExitSuccess = 0
)

// ContainerStatus 容器终止状态报告
type ContainerStatus struct {
	ContainerID ContainerID `json:"container_id"`
	State       string      `json:"state"`
	ExitStatus  int         `json:"exit_status"`
	Diagnostics string      `json:"diagnostics"`
}

// 容器报告状态
const (
	ContainerStateRunning  = "RUNNING"
	ContainerStateComplete = "COMPLETE"
)

// NodeReport 集群节点状态报告
type NodeReport struct {
	NodeID       NodeID `json:"node_id"`
	NodeState    string `json:"node_state"`
	HealthReport string `json:"health_report"`
}

// FinalApplicationStatus 上报给 ResourceManager 的最终状态
const (
	FinalApplicationStatusSucceeded = "SUCCEEDED"
	FinalApplicationStatusFailed    = "FAILED"
	FinalApplicationStatusKilled    = "KILLED"
	FinalApplicationStatusUndefined = "UNDEFINED"
)
