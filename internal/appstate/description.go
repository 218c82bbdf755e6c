package appstate

// 集群生命周期阶段
const (
	ClusterStateCreated    = "CREATED"
	ClusterStateSubmitted  = "SUBMITTED"
	ClusterStateLive       = "LIVE"
	ClusterStateStopped    = "STOPPED"
	ClusterStateDestroyed  = "DESTROYED"
	ClusterStateIncomplete = "INCOMPLETE"
	ClusterStateFailed     = "FAILED"
)

// 节点生命周期状态
const (
	NodeStateRequested = "REQUESTED"
	NodeStateSubmitted = "SUBMITTED"
	NodeStateLive      = "LIVE"
	NodeStateStopped   = "STOPPED"
	NodeStateDestroyed = "DESTROYED"
)

// 节点角色
const (
	RoleMaster  = "master"
	RoleWorker  = "worker"
	RoleUnknown = "unknown"
)

// ClusterNode 集群中的一个进程实例
type ClusterNode struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	State       string   `json:"state"`
	Host        string   `json:"host"`
	Command     string   `json:"command"`
	Diagnostics string   `json:"diagnostics"`
	ExitCode    int      `json:"exitCode"`
	Output      []string `json:"output"`
}

// ClusterDescription 集群状态的权威文档，JSON 字段名是对外契约的一部分
type ClusterDescription struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	CreateTime int64  `json:"createTime"`
	StartTime  int64  `json:"startTime"`
	StatusTime int64  `json:"statusTime"`

	Masters    int   `json:"masters"`
	Workers    int   `json:"workers"`
	MasterHeap int64 `json:"masterHeap"`
	WorkerHeap int64 `json:"workerHeap"`

	ClientProperties map[string]string `json:"clientProperties"`

	MasterNodes    []*ClusterNode `json:"masterNodes"`
	WorkerNodes    []*ClusterNode `json:"workerNodes"`
	CompletedNodes []*ClusterNode `json:"completedNodes"`
	FailedNodes    []*ClusterNode `json:"failedNodes"`
	RequestedNodes []*ClusterNode `json:"requestedNodes"`

	RootPath string `json:"rootPath"`
	ZKHosts  string `json:"zkHosts"`
	ZKPort   int    `json:"zkPort"`
	ZKPath   string `json:"zkPath"`
}

// NewClusterDescription 创建处于 CREATED 阶段的集群描述
func NewClusterDescription(name string, createTime int64) *ClusterDescription {
	return &ClusterDescription{
		Name:             name,
		State:            ClusterStateCreated,
		CreateTime:       createTime,
		StatusTime:       createTime,
		ClientProperties: make(map[string]string),
		MasterNodes:      make([]*ClusterNode, 0),
		WorkerNodes:      make([]*ClusterNode, 0),
		CompletedNodes:   make([]*ClusterNode, 0),
		FailedNodes:      make([]*ClusterNode, 0),
		RequestedNodes:   make([]*ClusterNode, 0),
	}
}
