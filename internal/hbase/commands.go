package hbase

import (
	"fmt"
	"path/filepath"

	"github.com/indoos/hoya/internal/common"
)

// 子进程调用约定：<hbaseHome>/bin/hbase --config <confDir> <角色> start
const (
	binaryName       = "hbase"
	masterSubcommand = "master"
	regionSubcommand = "regionserver"
	startAction      = "start"
	envLogDir        = "HBASE_LOG_DIR"
	envHeapSize      = "HBASE_HEAPSIZE"
	confResourceName = "conf"
)

// MasterCommand 构造 HBase master 进程的启动命令。
// override 非空时直接使用它，供测试钩子替换真实的 hbase 脚本。
func MasterCommand(hbaseHome, confDir, override string) []string {
	if override != "" {
		return []string{override}
	}
	return []string{
		filepath.Join(hbaseHome, "bin", binaryName),
		"--config", confDir,
		masterSubcommand,
		startAction,
	}
}

// MasterEnvironment master 子进程继承 AM 环境，外加日志目录
func MasterEnvironment(logDir string) map[string]string {
	return map[string]string{
		envLogDir: logDir,
	}
}

// WorkerLaunchContext 构造 region server 容器的启动上下文
func WorkerLaunchContext(hbaseHome, confDir, logDir string, heapMB int64) *common.ContainerLaunchContext {
	command := []string{
		filepath.Join(hbaseHome, "bin", binaryName),
		"--config", confDir,
		regionSubcommand,
		startAction,
	}
	env := map[string]string{
		envLogDir: filepath.Join(logDir, regionSubcommand),
	}
	if heapMB > 0 {
		env[envHeapSize] = fmt.Sprintf("%dm", heapMB)
	}
	return &common.ContainerLaunchContext{
		Commands:    command,
		Environment: env,
		Resources: map[string]string{
			confResourceName: confDir,
		},
	}
}
