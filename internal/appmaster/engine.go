package appmaster

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/appstate"
	"github.com/indoos/hoya/internal/common"
	"github.com/indoos/hoya/internal/events"
)

// DefaultMaxTolerableFailures 触发集群整体失败的容器失败数
const DefaultMaxTolerableFailures = 10

// EngineConfig 调和引擎参数
type EngineConfig struct {
	DesiredWorkers       int
	NoMaster             bool
	MaxTolerableFailures int
	WorkerResource       common.Resource
	Priority             int32
}

// Counters 引擎计数器快照
type Counters struct {
	Desired   int32 `json:"desired"`
	Requested int32 `json:"requested"`
	Allocated int32 `json:"allocated"`
	Completed int32 `json:"completed"`
	Failed    int32 `json:"failed"`
	Released  int32 `json:"released"`
}

// Engine 调和引擎：AM 的核心状态机。四路事件源（RM 回调、NM 回调、
// 被监管的子进程、控制 RPC）都汇入同一个事件队列，由单个 goroutine
// 消费，把观测到的集群推向期望的角色数量
type Engine struct {
	cfg    EngineConfig
	logger *zap.Logger
	store  *appstate.Store
	pub    *events.Publisher

	rm       RMClient
	launcher *Launcher

	eventQueue chan interface{}
	quit       chan struct{}
	loopDone   chan struct{}

	// 引擎消费 goroutine 独占
	allocatedContainers map[common.ContainerID]*common.Container

	requested *atomic.Int32
	allocated *atomic.Int32
	completed *atomic.Int32
	failed    *atomic.Int32
	released  *atomic.Int32

	masterRunning *atomic.Bool
	signalled     *atomic.Bool
	runStarted    *atomic.Bool

	signalOnce sync.Once
	closeOnce  sync.Once
	done       chan struct{}

	mu     sync.Mutex
	reason string
}

// NewEngine 创建调和引擎。RM 客户端和启动器通过 Bind 注入，
// 避免适配器和引擎互相持有构造期引用
func NewEngine(cfg EngineConfig, store *appstate.Store, pub *events.Publisher, logger *zap.Logger) *Engine {
	if cfg.MaxTolerableFailures <= 0 {
		cfg.MaxTolerableFailures = DefaultMaxTolerableFailures
	}
	return &Engine{
		cfg:                 cfg,
		logger:              logger,
		store:               store,
		pub:                 pub,
		eventQueue:          make(chan interface{}, 128),
		quit:                make(chan struct{}),
		loopDone:            make(chan struct{}),
		allocatedContainers: make(map[common.ContainerID]*common.Container),
		requested:           atomic.NewInt32(0),
		allocated:           atomic.NewInt32(0),
		completed:           atomic.NewInt32(0),
		failed:              atomic.NewInt32(0),
		released:            atomic.NewInt32(0),
		masterRunning:       atomic.NewBool(false),
		signalled:           atomic.NewBool(false),
		runStarted:          atomic.NewBool(false),
		done:                make(chan struct{}),
	}
}

// Bind 注入 RM 客户端和容器启动器
func (e *Engine) Bind(rm RMClient, launcher *Launcher) {
	e.rm = rm
	e.launcher = launcher
}

// Run 消费事件队列直到 Close。应在专用 goroutine 上调用
func (e *Engine) Run() {
	e.runStarted.Store(true)
	defer close(e.loopDone)
	for {
		select {
		case ev := <-e.eventQueue:
			e.handle(ev)
		case <-e.quit:
			return
		}
	}
}

// Close 停止事件循环并等待其退出。幂等
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
	})
	if e.runStarted.Load() {
		<-e.loopDone
	}
}

// post 把事件放入队列。队列满时阻塞投递方
func (e *Engine) post(ev interface{}) {
	select {
	case e.eventQueue <- ev:
	case <-e.quit:
	}
}

// RequestWorkers 发出初始的 worker 容器请求
func (e *Engine) RequestWorkers(count int) {
	if count <= 0 {
		return
	}
	e.rm.RequestContainers(e.cfg.WorkerResource, nil, nil, e.cfg.Priority, count)
	e.requested.Add(int32(count))
	e.logger.Info("requested worker containers", zap.Int("count", count))
}

// SignalAMComplete 唤醒 AM 生命周期。幂等，多次信号合并为一次
func (e *Engine) SignalAMComplete(reason string) {
	e.signalOnce.Do(func() {
		e.mu.Lock()
		e.reason = reason
		e.mu.Unlock()
		e.signalled.Store(true)
		e.logger.Info("application master completion signalled", zap.String("reason", reason))
		close(e.done)
	})
}

// Done 返回完成信号通道
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// CompletionReason 返回触发完成的原因
func (e *Engine) CompletionReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reason
}

// Snapshot 返回计数器快照
func (e *Engine) Snapshot() Counters {
	return Counters{
		Desired:   int32(e.cfg.DesiredWorkers),
		Requested: e.requested.Load(),
		Allocated: e.allocated.Load(),
		Completed: e.completed.Load(),
		Failed:    e.failed.Load(),
		Released:  e.released.Load(),
	}
}

// FailureCount 返回失败容器数
func (e *Engine) FailureCount() int {
	return int(e.failed.Load())
}

// MasterRunning 返回 master 子进程是否在运行
func (e *Engine) MasterRunning() bool {
	return e.masterRunning.Load()
}

// ---- RMCallbackHandler ----

func (e *Engine) OnContainersAllocated(containers []*common.Container) {
	e.post(containersAllocatedEvent{containers: containers})
}

func (e *Engine) OnContainersCompleted(statuses []*common.ContainerStatus) {
	e.post(containersCompletedEvent{statuses: statuses})
}

func (e *Engine) OnShutdownRequest() {
	e.post(stopRequestedEvent{reason: "shutdown requested by resource manager"})
}

func (e *Engine) OnNodesUpdated(reports []*common.NodeReport) {
	e.post(nodesUpdatedEvent{reports: reports})
}

func (e *Engine) OnError(err error) {
	e.post(rmErrorEvent{err: err})
}

// GetProgress 由心跳线程调用：master 未运行时 0，运行中 50
func (e *Engine) GetProgress() float32 {
	if e.masterRunning.Load() {
		return 50
	}
	return 0
}

// ---- NMCallbackHandler ----

func (e *Engine) OnContainerStarted(id common.ContainerID) {
	e.post(containerStartedEvent{id: id})
}

func (e *Engine) OnContainerStopped(id common.ContainerID) {
	e.post(containerStoppedEvent{id: id})
}

func (e *Engine) OnContainerStatusReceived(id common.ContainerID, status *common.ContainerStatus) {
	// 状态查询结果只用于日志观测
	e.logger.Debug("container status received",
		zap.String("container_id", id.String()),
		zap.String("state", status.State))
}

func (e *Engine) OnContainerStartError(id common.ContainerID, err error) {
	e.post(containerStartErrorEvent{id: id, err: err})
}

func (e *Engine) OnContainerStopError(id common.ContainerID, err error) {
	e.post(containerStopErrorEvent{id: id, err: err})
}

// ---- supervisor.Callbacks ----

func (e *Engine) OnApplicationStarted() {
	e.post(applicationStartedEvent{})
}

func (e *Engine) OnApplicationExited(code int) {
	e.post(applicationExitedEvent{code: code})
}

// ---- 控制 RPC 入口 ----

// StopCluster 处理外部停止请求
func (e *Engine) StopCluster() {
	e.post(stopRequestedEvent{reason: "stop requested via cluster control"})
}

// AddNodes 记录扩容意图
func (e *Engine) AddNodes(count int) {
	e.post(addNodesEvent{count: count})
}

// DeleteNodes 记录缩容意图
func (e *Engine) DeleteNodes(count int) {
	e.post(deleteNodesEvent{count: count})
}

// ---- 事件处理，全部在 Run goroutine 上执行 ----

func (e *Engine) handle(ev interface{}) {
	switch ev := ev.(type) {
	case containersAllocatedEvent:
		e.handleAllocated(ev.containers)
	case containersCompletedEvent:
		e.handleCompleted(ev.statuses)
	case containerStartedEvent:
		e.handleContainerStarted(ev.id)
	case containerStoppedEvent:
		e.logger.Info("container stopped", zap.String("container_id", ev.id.String()))
	case containerStartErrorEvent:
		e.handleContainerStartError(ev.id, ev.err)
	case containerStopErrorEvent:
		e.logger.Warn("container stop failed",
			zap.String("container_id", ev.id.String()),
			zap.Error(ev.err))
	case nodesUpdatedEvent:
		for _, report := range ev.reports {
			e.logger.Info("node state updated",
				zap.String("node", report.NodeID.Address()),
				zap.String("state", report.NodeState))
		}
	case applicationStartedEvent:
		e.handleApplicationStarted()
	case applicationExitedEvent:
		e.handleApplicationExited(ev.code)
	case stopRequestedEvent:
		e.SignalAMComplete(ev.reason)
	case rmErrorEvent:
		e.logger.Error("resource manager error", zap.Error(ev.err))
		e.SignalAMComplete("resource manager error: " + ev.err.Error())
	case addNodesEvent:
		// 记录意图；在线扩容尚未实现
		e.logger.Info("add nodes requested",
			zap.Int("count", ev.count),
			zap.Int("desired", e.cfg.DesiredWorkers))
	case deleteNodesEvent:
		e.logger.Info("delete nodes requested",
			zap.Int("count", ev.count),
			zap.Int("desired", e.cfg.DesiredWorkers))
	default:
		e.logger.Warn("dropping unknown event")
	}
}

// handleAllocated 处理新分配的容器。超出期望数量的分配立即退还
func (e *Engine) handleAllocated(containers []*common.Container) {
	for _, container := range containers {
		if e.signalled.Load() || len(e.allocatedContainers) >= e.cfg.DesiredWorkers {
			e.logger.Info("releasing surplus container",
				zap.String("container_id", container.ID.String()))
			e.rm.ReleaseContainer(container.ID)
			continue
		}

		e.allocatedContainers[container.ID] = container
		e.allocated.Inc()

		e.logger.Info("container allocated",
			zap.String("container_id", container.ID.String()),
			zap.String("node", container.NodeID.Address()),
			zap.Int32("allocated", e.allocated.Load()))

		e.launcher.LaunchWorker(container)
	}
}

// handleCompleted 处理容器终止报告
func (e *Engine) handleCompleted(statuses []*common.ContainerStatus) {
	for _, status := range statuses {
		if status.State != common.ContainerStateComplete {
			e.logger.Warn("completion report with non-terminal state",
				zap.String("container_id", status.ContainerID.String()),
				zap.String("state", status.State))
		}

		delete(e.allocatedContainers, status.ContainerID)

		aborted := status.ExitStatus == common.ContainerExitAborted
		containerFailed := !aborted && status.ExitStatus != common.ContainerExitSuccess

		e.store.NodeTerminated(status.ContainerID, status.ExitStatus, status.Diagnostics, containerFailed)
		e.pub.NodeTransition(status.ContainerID.String(), appstate.RoleWorker, appstate.NodeStateDestroyed)

		if aborted {
			// AM 主动释放导致的终止，不占用也不重开容量
			e.released.Inc()
			e.logger.Info("released container completed",
				zap.String("container_id", status.ContainerID.String()))
		} else {
			e.allocated.Dec()
			e.requested.Dec()
			e.completed.Inc()
			if containerFailed {
				e.failed.Inc()
			}
			e.logger.Info("container completed",
				zap.String("container_id", status.ContainerID.String()),
				zap.Int("exit_status", status.ExitStatus),
				zap.Bool("failed", containerFailed),
				zap.String("diagnostics", status.Diagnostics))
		}
	}

	e.refill()
	e.checkCompletion()
}

func (e *Engine) handleContainerStarted(id common.ContainerID) {
	e.store.PromoteNodeLive(id)
	e.pub.NodeTransition(id.String(), appstate.RoleWorker, appstate.NodeStateLive)
	e.logger.Info("container started", zap.String("container_id", id.String()))
}

// handleContainerStartError 启动失败按容器失败处理，重开容量
func (e *Engine) handleContainerStartError(id common.ContainerID, err error) {
	e.logger.Error("container start failed",
		zap.String("container_id", id.String()),
		zap.Error(err))

	if _, ok := e.allocatedContainers[id]; ok {
		delete(e.allocatedContainers, id)
		e.allocated.Dec()
		e.requested.Dec()
	}
	e.failed.Inc()
	e.store.NodeTerminated(id, -1, err.Error(), true)
	e.pub.NodeTransition(id.String(), appstate.RoleWorker, appstate.NodeStateDestroyed)

	e.refill()
	e.checkCompletion()
}

func (e *Engine) handleApplicationStarted() {
	e.masterRunning.Store(true)
	e.pub.NodeTransition("hbase-master", appstate.RoleMaster, appstate.NodeStateLive)
	e.logger.Info("master process running")
}

// handleApplicationExited 子进程死亡是信号而不是错误：无论退出码
// 如何都触发 AM 完成
func (e *Engine) handleApplicationExited(code int) {
	e.masterRunning.Store(false)
	e.pub.NodeTransition("hbase-master", appstate.RoleMaster, appstate.NodeStateStopped)
	e.SignalAMComplete(fmt.Sprintf("master process exited with code %d", code))
}

// refill 按 期望数 - 已请求数 补充容器请求。完成信号之后不再发出新请求
func (e *Engine) refill() {
	if e.signalled.Load() {
		return
	}
	ask := int32(e.cfg.DesiredWorkers) - e.requested.Load()
	if ask <= 0 {
		return
	}
	e.requested.Add(ask)
	e.rm.RequestContainers(e.cfg.WorkerResource, nil, nil, e.cfg.Priority, int(ask))
	e.logger.Info("requesting replacement containers", zap.Int32("count", ask))
}

// checkCompletion 评估终止条件
func (e *Engine) checkCompletion() {
	if int(e.failed.Load()) >= e.cfg.MaxTolerableFailures {
		e.SignalAMComplete("too many failed containers")
		return
	}
	if e.cfg.NoMaster && int(e.completed.Load()) >= e.cfg.DesiredWorkers {
		e.SignalAMComplete("all containers completed")
	}
}
