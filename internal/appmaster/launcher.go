package appmaster

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/appstate"
	"github.com/indoos/hoya/internal/common"
	"github.com/indoos/hoya/internal/hbase"
)

// DefaultLauncherJoinTimeout 关闭时等待单个启动任务结束的上限
const DefaultLauncherJoinTimeout = 10 * time.Second

// Launcher 为每个分配到的容器构造启动上下文并提交给 NodeManager。
// 每次启动在独立的具名任务上运行，关闭时逐个 join
type Launcher struct {
	nm     NMClient
	store  *appstate.Store
	logger *zap.Logger

	hbaseHome   string
	confDir     string
	logDir      string
	workerHeap  int64
	joinTimeout time.Duration

	mu    sync.Mutex
	tasks []launcherTask
}

type launcherTask struct {
	containerID common.ContainerID
	done        chan struct{}
}

// NewLauncher 创建容器启动器
func NewLauncher(nm NMClient, store *appstate.Store, hbaseHome, confDir, logDir string, workerHeap int64, joinTimeout time.Duration, logger *zap.Logger) *Launcher {
	if joinTimeout <= 0 {
		joinTimeout = DefaultLauncherJoinTimeout
	}
	return &Launcher{
		nm:          nm,
		store:       store,
		logger:      logger,
		hbaseHome:   hbaseHome,
		confDir:     confDir,
		logDir:      logDir,
		workerHeap:  workerHeap,
		joinTimeout: joinTimeout,
	}
}

// LaunchWorker 以 worker 角色启动一个容器。启动上下文在独立任务上构造，
// 先在存储中登记 REQUESTED 节点再提交给 NodeManager；LIVE 状态由启动回调推进
func (l *Launcher) LaunchWorker(container *common.Container) {
	task := launcherTask{
		containerID: container.ID,
		done:        make(chan struct{}),
	}

	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	go func() {
		defer close(task.done)

		launchCtx := hbase.WorkerLaunchContext(l.hbaseHome, l.confDir, l.logDir, l.workerHeap)
		l.store.AddRequestedNode(container.ID, appstate.RoleWorker, container.NodeID.Host, launchCtx.Commands)

		l.logger.Info("launching region server",
			zap.String("container_id", container.ID.String()),
			zap.String("node", container.NodeID.Address()),
			zap.Int64("memory", container.Resource.Memory))

		l.nm.StartContainer(container, launchCtx)
	}()
}

// JoinAll 等待所有启动任务结束，每个任务最多等待 joinTimeout。
// 超时的任务被放弃，其节点状态留在存储中
func (l *Launcher) JoinAll() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	for _, task := range tasks {
		select {
		case <-task.done:
		case <-time.After(l.joinTimeout):
			l.logger.Warn("abandoning launcher task",
				zap.String("container_id", task.containerID.String()),
				zap.Duration("timeout", l.joinTimeout))
		}
	}
}
