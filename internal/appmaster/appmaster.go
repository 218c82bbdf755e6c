package appmaster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/appstate"
	"github.com/indoos/hoya/internal/common"
	"github.com/indoos/hoya/internal/events"
	"github.com/indoos/hoya/internal/hbase"
	"github.com/indoos/hoya/internal/supervisor"
)

// AppMaster 装配并驱动 AM 的全部组件：注册、启动 master 子进程、
// 请求 worker 容器、阻塞等待完成条件、有序关闭
type AppMaster struct {
	opts   *Options
	cfg    *common.Config
	logger *zap.Logger

	env      *Environment
	store    *appstate.Store
	engine   *Engine
	rm       RMClient
	nm       NMClient
	launcher *Launcher
	sup      *supervisor.Supervisor
	control  *ControlServer
	pub      *events.Publisher
}

// New 创建 ApplicationMaster
func New(opts *Options, cfg *common.Config, logger *zap.Logger) *AppMaster {
	return &AppMaster{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
	}
}

// Run 执行 AM 生命周期，返回进程退出码
func (am *AppMaster) Run() int {
	am.logger.Info("starting application master", zap.String("options", am.opts.String()))

	env, err := LoadEnvironment()
	if err != nil {
		am.logger.Error("invalid container environment", zap.Error(err))
		return common.ExitCodeFor(err)
	}
	am.env = env

	// 配置校验在注册之前完成，坏配置直接快速失败
	siteConf, err := hbase.LoadSiteConfig(am.opts.GeneratedConfDir)
	if err != nil {
		am.logger.Error("invalid site configuration", zap.Error(err))
		return common.ExitCodeFor(err)
	}
	am.logger.Info("loaded site configuration", zap.String("config", siteConf.String()))

	am.assemble(siteConf)

	if err := am.startup(); err != nil {
		am.logger.Error("application master startup failed", zap.Error(err))
		am.teardownAfterFailedStartup(err)
		return common.ExitCodeFor(err)
	}

	// 阻塞直到完成条件触发
	<-am.engine.Done()
	am.logger.Info("application master completing",
		zap.String("reason", am.engine.CompletionReason()))

	// 短暂停顿，让在途的 RPC 响应送达客户端
	time.Sleep(am.cfg.AppMaster.ShutdownDrainDelay)

	return am.shutdown()
}

// Stop 从外部（信号处理）触发 AM 完成
func (am *AppMaster) Stop(reason string) {
	if am.engine != nil {
		am.engine.SignalAMComplete(reason)
	}
}

// assemble 装配组件。适配器拿到的是引擎的事件转发面，
// 引擎通过 Bind 拿到适配器句柄，双方都不持有对 AM 的反向指针
func (am *AppMaster) assemble(siteConf *hbase.SiteConfig) {
	am.store = appstate.NewStore(am.opts.ClusterName, common.ComponentLogger("cluster-state"))
	am.store.Mutate(func(d *appstate.ClusterDescription) {
		d.Masters = am.opts.Masters
		d.Workers = am.opts.Workers
		d.MasterHeap = am.opts.MasterHeap
		d.WorkerHeap = am.opts.WorkerHeap
		d.ClientProperties = siteConf.ToMap()
		d.RootPath = siteConf.RootPath
		d.ZKHosts = siteConf.ZKHosts
		d.ZKPort = siteConf.ZKPort
		d.ZKPath = siteConf.ZKPath
	})

	am.pub = events.NewPublisher(am.cfg.Events.KafkaBrokers, am.cfg.Events.Topic,
		am.opts.ClusterName, common.ComponentLogger("events"))

	am.engine = NewEngine(EngineConfig{
		DesiredWorkers:       am.opts.Workers,
		NoMaster:             am.opts.NoMaster(),
		MaxTolerableFailures: am.cfg.AppMaster.MaxTolerableFailures,
		WorkerResource: common.Resource{
			Memory: am.opts.WorkerHeap,
			VCores: 1,
		},
		Priority: am.cfg.AppMaster.ContainerPriority,
	}, am.store, am.pub, common.ComponentLogger("engine"))

	am.rm = NewResourceManagerClient(am.opts.RMAddress, am.engine, clock.New(),
		am.cfg.AppMaster.HeartbeatInterval, common.ComponentLogger("rm-client"))
	am.nm = NewNodeManagerClient(am.engine, common.ComponentLogger("nm-client"))

	am.launcher = NewLauncher(am.nm, am.store,
		am.opts.HBaseHome, am.opts.GeneratedConfDir, am.env.LogDir,
		am.opts.WorkerHeap, am.cfg.AppMaster.LauncherJoinTimeout,
		common.ComponentLogger("launcher"))

	am.engine.Bind(am.rm, am.launcher)

	am.sup = supervisor.New(am.cfg.AppMaster.OutputRingSize,
		am.cfg.AppMaster.StopGracePeriod, am.engine,
		common.ComponentLogger("supervisor"))

	am.control = NewControlServer(am.store, am.engine, am.masterObservation,
		am.cfg.AppMaster.RPCBindAddress, am.cfg.AppMaster.RPCHandlerPool,
		common.ComponentLogger("control"))
}

// startup 执行有序启动：控制服务 → 注册 → master 子进程 → worker 请求
func (am *AppMaster) startup() error {
	if err := am.control.Start(); err != nil {
		return common.NewHoyaError(common.ErrInternalState, "control server start failed", err)
	}

	trackingURL := fmt.Sprintf("http://%s:%d/ws/v1/hoya/status", am.env.NMHost, am.control.Port())
	if _, err := am.rm.Register(am.env.NMHost, am.control.Port(), trackingURL); err != nil {
		return err
	}

	am.rm.Start()
	go am.engine.Run()

	am.store.SetPhase(appstate.ClusterStateLive)
	am.pub.PhaseChanged(appstate.ClusterStateLive)

	if am.opts.Masters > 0 {
		command := hbase.MasterCommand(am.opts.HBaseHome, am.opts.GeneratedConfDir, am.opts.MasterCommand)
		if err := am.sup.Spawn(command, hbase.MasterEnvironment(am.env.LogDir)); err != nil {
			if !am.opts.TestMode {
				return common.NewHoyaError(common.ErrTransport, "failed to launch master process", err)
			}
			// 测试模式下容忍 master 启动失败，继续拉起 worker
			am.logger.Warn("master launch failed in test mode", zap.Error(err))
		}
	}

	am.engine.RequestWorkers(am.opts.Workers)
	return nil
}

// shutdown 有序关闭：停 master、join 启动任务、注销、停控制服务
func (am *AppMaster) shutdown() int {
	am.sup.Stop()
	am.launcher.JoinAll()
	am.rm.Stop()
	am.engine.Close()

	failures := am.engine.FailureCount()
	finalStatus := common.FinalApplicationStatusSucceeded
	diagnostics := am.engine.CompletionReason()
	if failures > 0 {
		finalStatus = common.FinalApplicationStatusFailed
		counters := am.engine.Snapshot()
		diagnostics = fmt.Sprintf("%s; failed=%d completed=%d released=%d",
			diagnostics, counters.Failed, counters.Completed, counters.Released)
	}

	if err := am.rm.Unregister(finalStatus, diagnostics); err != nil {
		am.logger.Error("failed to unregister from resource manager", zap.Error(err))
	}

	am.store.SetPhase(appstate.ClusterStateStopped)
	am.pub.PhaseChanged(appstate.ClusterStateStopped)
	am.pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	am.control.Stop(ctx)

	am.logger.Info("application master stopped",
		zap.String("final_status", finalStatus),
		zap.Int("failed_containers", failures))

	if failures > 0 {
		return common.ExitLaunchFailure
	}
	return common.ExitSuccess
}

// teardownAfterFailedStartup 启动失败后的尽力清理
func (am *AppMaster) teardownAfterFailedStartup(cause error) {
	am.engine.SignalAMComplete("startup failed: " + cause.Error())
	am.sup.Stop()
	am.rm.Stop()
	am.engine.Close()

	if !errors.Is(cause, common.ErrTransport) || !strings.Contains(cause.Error(), "register") {
		// 注册成功之后的失败要向 RM 上报
		if err := am.rm.Unregister(common.FinalApplicationStatusFailed, cause.Error()); err != nil {
			am.logger.Warn("failed to unregister after startup failure", zap.Error(err))
		}
	}

	am.store.SetPhase(appstate.ClusterStateFailed)
	am.pub.PhaseChanged(appstate.ClusterStateFailed)
	am.pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	am.control.Stop(ctx)
}

// masterObservation 读取被监管子进程的当前观测值
func (am *AppMaster) masterObservation() appstate.MasterObservation {
	obs := appstate.MasterObservation{
		Running: am.sup.Running(),
		Command: strings.Join(am.sup.Command(), " "),
		Host:    am.env.NMHost,
		Output:  am.sup.RecentOutput(),
	}
	if code, exited := am.sup.ExitCode(); exited {
		obs.Exited = true
		obs.ExitCode = code
	}
	return obs
}
