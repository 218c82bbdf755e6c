package appstate

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/common"
)

// MasterObservation 监管的 master 子进程的最新观测值
type MasterObservation struct {
	Running  bool
	Exited   bool
	ExitCode int
	Command  string
	Host     string
	Output   []string
}

// Store 对 ClusterDescription 的线程安全封装。
// 所有修改都在同一把锁下进行，快照序列化同样持锁，外界看不到部分更新。
type Store struct {
	mu     sync.Mutex
	desc   *ClusterDescription
	logger *zap.Logger
}

// NewStore 创建集群描述存储
func NewStore(name string, logger *zap.Logger) *Store {
	return &Store{
		desc:   NewClusterDescription(name, time.Now().UnixMilli()),
		logger: logger,
	}
}

// Mutate 在锁保护下执行一次修改
func (s *Store) Mutate(fn func(*ClusterDescription)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.desc)
	s.touchLocked()
}

// SnapshotJSON 序列化一份一致的集群状态快照
func (s *Store) SnapshotJSON() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	data, err := json.MarshalIndent(s.desc, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// touchLocked 刷新 statusTime，保证单调递增
func (s *Store) touchLocked() {
	now := time.Now().UnixMilli()
	if now <= s.desc.StatusTime {
		now = s.desc.StatusTime + 1
	}
	s.desc.StatusTime = now
}

// SetPhase 设置集群生命周期阶段
func (s *Store) SetPhase(phase string) {
	s.Mutate(func(d *ClusterDescription) {
		d.State = phase
		if phase == ClusterStateLive && d.StartTime == 0 {
			d.StartTime = time.Now().UnixMilli()
		}
	})
}

// Phase 返回当前集群阶段
func (s *Store) Phase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc.State
}

// AddRequestedNode 登记一个已提交启动、尚未确认运行的节点
func (s *Store) AddRequestedNode(id common.ContainerID, role, host string, command []string) {
	s.Mutate(func(d *ClusterDescription) {
		d.RequestedNodes = append(d.RequestedNodes, &ClusterNode{
			Name:    id.String(),
			Role:    role,
			State:   NodeStateRequested,
			Host:    host,
			Command: strings.Join(command, " "),
		})
	})
}

// PromoteNodeLive 节点确认启动后从 requested 列表转入 worker 列表
func (s *Store) PromoteNodeLive(id common.ContainerID) {
	s.Mutate(func(d *ClusterDescription) {
		node := removeNode(&d.RequestedNodes, id.String())
		if node == nil {
			s.logger.Warn("container started but was never requested",
				zap.String("container_id", id.String()))
			node = &ClusterNode{Name: id.String(), Role: RoleUnknown}
		}
		node.State = NodeStateLive
		d.WorkerNodes = append(d.WorkerNodes, node)
	})
}

// NodeTerminated 节点终止后移入 completed 或 failed 列表
func (s *Store) NodeTerminated(id common.ContainerID, exitCode int, diagnostics string, failed bool) {
	s.Mutate(func(d *ClusterDescription) {
		node := removeNode(&d.WorkerNodes, id.String())
		if node == nil {
			node = removeNode(&d.RequestedNodes, id.String())
		}
		if node == nil {
			node = &ClusterNode{Name: id.String(), Role: RoleUnknown}
		}
		node.State = NodeStateDestroyed
		node.ExitCode = exitCode
		node.Diagnostics = diagnostics
		if failed {
			d.FailedNodes = append(d.FailedNodes, node)
		} else {
			d.CompletedNodes = append(d.CompletedNodes, node)
		}
	})
}

// UpdateClusterDescription 把 master 子进程的观测值并入文档
func (s *Store) UpdateClusterDescription(obs MasterObservation) {
	s.Mutate(func(d *ClusterDescription) {
		if d.Masters <= 0 {
			return
		}
		if len(d.MasterNodes) == 0 {
			d.MasterNodes = append(d.MasterNodes, &ClusterNode{
				Name: "hbase-master",
				Role: RoleMaster,
			})
		}
		node := d.MasterNodes[0]
		node.Host = obs.Host
		node.Command = obs.Command
		node.Output = obs.Output
		switch {
		case obs.Exited:
			node.State = NodeStateStopped
			node.ExitCode = obs.ExitCode
		case obs.Running:
			node.State = NodeStateLive
		default:
			node.State = NodeStateSubmitted
		}
	})
}

// WorkerCount 返回当前处于 LIVE 状态的 worker 数量
func (s *Store) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.desc.WorkerNodes)
}

// removeNode 从列表中摘除指定名称的节点，保持其余节点顺序不变
func removeNode(nodes *[]*ClusterNode, name string) *ClusterNode {
	for i, n := range *nodes {
		if n.Name == name {
			*nodes = append((*nodes)[:i], (*nodes)[i+1:]...)
			return n
		}
	}
	return nil
}
