package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"balwatch/internal/api"
	"balwatch/internal/chain"
	"balwatch/internal/config"
	"balwatch/internal/progress"
	"balwatch/internal/state"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 8080, "API 服务端口")
	verbose    = flag.Bool("verbose", false, "详细输出")
)

// API独立运行模式：只读暴露状态与进度，不启动轮询和机器人
func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// 自动检测并加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}

	store, err := state.NewStore(cfg.Watcher.StatePath, logger)
	if err != nil {
		logger.Fatalf("初始化状态存储失败: %v", err)
	}

	progressMgr, err := progress.NewManager(cfg.Watcher.ProgressDBPath, logger)
	if err != nil {
		logger.Fatalf("初始化进度管理器失败: %v", err)
	}
	defer progressMgr.Close()

	// 节点状态需要链上客户端，连接失败时降级为无节点信息
	var nodes api.NodeStatusSource
	requestTimeout, err := time.ParseDuration(cfg.Watcher.RequestTimeout)
	if err != nil {
		requestTimeout = 10 * time.Second
	}
	if chainClient, err := chain.NewClient(cfg.Blockchain, requestTimeout, logger); err == nil {
		nodes = chainClient
		defer chainClient.Close()
	} else {
		logger.Warnf("链上客户端不可用: %v", err)
	}

	server := api.NewServer(cfg, store, nil, nodes, progressMgr, logger, *port)

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
		}
	}()

	logger.Infof("API服务器已启动，监听端口: %d", *port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("正在关闭服务器...")
	if err := server.Stop(); err != nil {
		logger.Errorf("关闭服务器失败: %v", err)
	}

	logger.Info("服务器已关闭")
}
