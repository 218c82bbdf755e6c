package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/indoos/hoya/internal/appmaster"
	"github.com/indoos/hoya/internal/common"
)

func main() {
	opts, err := appmaster.ParseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid arguments: %v\n", err)
		os.Exit(common.ExitCodeFor(err))
	}

	config, err := common.LoadConfig(opts.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(common.ExitBadConfig)
	}

	// 初始化日志系统
	logDir := os.Getenv(appmaster.EnvLogDir)
	if logDir == "" {
		logDir = fmt.Sprintf("/tmp/hoya-%s", os.Getenv(appmaster.EnvUser))
	}
	if err := common.InitLogger(opts.TestMode, logDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(common.ExitInternalError)
	}
	defer common.Sync()

	logger := common.ComponentLogger("hoya-am")
	logger.Info("application master launched",
		zap.String("cluster", opts.ClusterName),
		zap.Int("workers", opts.Workers),
		zap.Int("masters", opts.Masters),
		zap.String("rm_address", opts.RMAddress))

	am := appmaster.New(opts, config, logger)

	// 设置信号处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("termination signal received", zap.String("signal", sig.String()))
		am.Stop("termination signal: " + sig.String())
	}()

	os.Exit(am.Run())
}
