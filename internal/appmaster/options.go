package appmaster

import (
	"flag"
	"fmt"
	"io"

	"github.com/indoos/hoya/internal/common"
)

// DefaultClusterName 未指定集群名时使用
const DefaultClusterName = "hoya"

// Options 客户端提交 AM 时传入的启动参数
type Options struct {
	ClusterName      string
	Workers          int
	Masters          int
	WorkerHeap       int64
	MasterHeap       int64
	GeneratedConfDir string
	HBaseHome        string
	RMAddress        string
	ConfigFile       string

	// 测试钩子
	MasterCommand string
	TestMode      bool
}

// ParseOptions 解析命令行参数并校验。首个位置参数是集群名
func ParseOptions(args []string) (*Options, error) {
	opts := &Options{}

	fs := flag.NewFlagSet("hoya-am", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&opts.Workers, "workers", 0, "number of worker containers")
	fs.IntVar(&opts.Masters, "masters", 1, "number of master processes (0 or 1)")
	fs.Int64Var(&opts.WorkerHeap, "workerHeap", 256, "worker heap size in MB")
	fs.Int64Var(&opts.MasterHeap, "masterHeap", 256, "master heap size in MB")
	fs.StringVar(&opts.GeneratedConfDir, "generatedConfDir", "", "directory holding the staged site configuration")
	fs.StringVar(&opts.HBaseHome, "hbaseHome", "", "HBase installation directory")
	fs.StringVar(&opts.RMAddress, "rmAddress", "", "resource manager address host:port")
	fs.StringVar(&opts.ConfigFile, "config", "", "optional AM tuning configuration file")
	fs.StringVar(&opts.MasterCommand, "xHBaseMasterCommand", "", "test hook: command to run instead of the hbase master script")
	fs.BoolVar(&opts.TestMode, "xTest", false, "test mode")

	if err := fs.Parse(args); err != nil {
		return nil, common.NewHoyaError(common.ErrBadCommandArguments, err.Error(), nil)
	}

	opts.ClusterName = DefaultClusterName
	if fs.NArg() > 0 {
		opts.ClusterName = fs.Arg(0)
	}

	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) validate() error {
	if o.Workers < 0 {
		return common.BadArgumentsError("workers must be non-negative, got %d", o.Workers)
	}
	if o.Masters != 0 && o.Masters != 1 {
		return common.BadArgumentsError("masters must be 0 or 1, got %d", o.Masters)
	}
	if o.WorkerHeap <= 0 || o.MasterHeap <= 0 {
		return common.BadArgumentsError("heap sizes must be positive")
	}
	if o.RMAddress == "" {
		return common.BadArgumentsError("rmAddress is required")
	}
	if o.GeneratedConfDir == "" {
		return common.BadArgumentsError("generatedConfDir is required")
	}
	if o.HBaseHome == "" && o.MasterCommand == "" {
		return common.BadArgumentsError("hbaseHome is required")
	}
	return nil
}

// NoMaster 返回是否运行在无 master 模式
func (o *Options) NoMaster() bool {
	return o.Masters <= 0
}

// String 摘要形式，用于日志
func (o *Options) String() string {
	return fmt.Sprintf("Options{cluster=%s, workers=%d, masters=%d, rm=%s}",
		o.ClusterName, o.Workers, o.Masters, o.RMAddress)
}
