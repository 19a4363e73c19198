package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wisefido-vitals/common/logger"
	"wisefido-vitals/internal/config"
	"wisefido-vitals/internal/service"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flagSet := pflag.NewFlagSet("wisefido-vitals", pflag.ExitOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.ConfigFileEnv+")")
	_ = flagSet.Parse(os.Args[1:])

	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-vitals")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	vitalsService, err := service.NewVitalsService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create vitals service", zap.Error(err))
	}
	defer vitalsService.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动服务
	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- vitalsService.Start(ctx)
	}()

	// 6. 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		<-serviceErrChan
	case err := <-serviceErrChan:
		if err != nil {
			log.Error("Service error", zap.Error(err))
		}
	}

	log.Info("Vitals service stopped")
}
