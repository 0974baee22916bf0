package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"balwatch/internal/api"
	"balwatch/internal/bot"
	"balwatch/internal/chain"
	"balwatch/internal/config"
	"balwatch/internal/logging"
	"balwatch/internal/notify"
	"balwatch/internal/progress"
	"balwatch/internal/shutdown"
	"balwatch/internal/state"
	"balwatch/internal/watcher"
)

var (
	configFile    string
	verbose       bool
	apiPort       int
	resetProgress bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "balwatch",
		Short: "EVM地址余额监控机器人",
		Long:  `监控EVM链上地址余额变动并通过Telegram推送通知的机器人`,
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.Flags().IntVar(&apiPort, "api-port", 0, "运维API端口（0表示使用配置文件）")
	rootCmd.Flags().BoolVar(&resetProgress, "reset-progress", false, "重置扫描进度")

	// 状态查询子命令
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "查看持久化状态与扫描进度",
		RunE:  showState,
	}

	rootCmd.AddCommand(stateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	structured, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("创建结构化日志失败: %w", err)
	}

	requestTimeout, err := time.ParseDuration(cfg.Watcher.RequestTimeout)
	if err != nil {
		return fmt.Errorf("解析RPC超时配置失败: %w", err)
	}

	// 状态存储
	store, err := state.NewStore(cfg.Watcher.StatePath, logger)
	if err != nil {
		return fmt.Errorf("初始化状态存储失败: %w", err)
	}

	// 扫描进度
	progressMgr, err := progress.NewManager(cfg.Watcher.ProgressDBPath, logger)
	if err != nil {
		return fmt.Errorf("初始化进度管理器失败: %w", err)
	}

	if resetProgress {
		logger.Info("重置扫描进度...")
		if err := progressMgr.Reset(); err != nil {
			logger.Warnf("重置进度失败: %v", err)
		}
	}

	// 链上客户端
	chainClient, err := chain.NewClient(cfg.Blockchain, requestTimeout, logger)
	if err != nil {
		return fmt.Errorf("初始化链上客户端失败: %w", err)
	}

	// 通知分发
	telegram := notify.NewTelegramNotifier(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken, logger)
	dispatcher := notify.NewDispatcher(telegram, cfg.Blockchain.NetworkLabel,
		cfg.Telegram.DefaultChatID, logger, structured)

	if cfg.Notify.Kafka != nil && cfg.Notify.Kafka.Enabled {
		kafkaSink, err := notify.NewKafkaSink(cfg.Notify.Kafka.Brokers, cfg.Notify.Kafka.Topic, logger)
		if err != nil {
			return fmt.Errorf("初始化Kafka通知输出失败: %w", err)
		}
		dispatcher.AddSink(kafkaSink)
	}
	if cfg.Notify.JournalPath != "" {
		journalSink, err := notify.NewJournalSink(cfg.Notify.JournalPath, logger)
		if err != nil {
			return fmt.Errorf("初始化通知流水失败: %w", err)
		}
		dispatcher.AddSink(journalSink)
	}

	// 轮询监控器
	pollInterval := time.Duration(cfg.Watcher.PollInterval) * time.Second
	balanceWatcher := watcher.NewWatcher(chainClient, store, progressMgr, dispatcher,
		pollInterval, logger, structured)

	// 命令机器人
	handler := bot.NewHandler(store, chainClient, progressMgr, balanceWatcher,
		cfg.Blockchain.NetworkLabel, requestTimeout, logger)
	updatesClient := bot.NewUpdatesClient(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken,
		cfg.Telegram.PollTimeout, logger)
	commandBot := bot.NewBot(updatesClient, handler, telegram, logger)

	// 优雅停机
	gs := shutdown.NewGracefulShutdown(30*time.Second, logger)
	ctx := gs.Context()

	var wg sync.WaitGroup

	// 运维API
	if cfg.API.Enabled || apiPort > 0 {
		port := cfg.API.Port
		if apiPort > 0 {
			port = apiPort
		}
		apiServer := api.NewServer(cfg, store, balanceWatcher, chainClient, progressMgr, logger, port)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Errorf("API服务器退出: %v", err)
			}
		}()
		gs.Register("API服务器", func(context.Context) error {
			return apiServer.Stop()
		}, shutdown.OrderStopAPI)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := balanceWatcher.Run(ctx); err != nil {
			logger.Errorf("轮询循环退出: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := commandBot.Run(ctx); err != nil {
			logger.Errorf("命令机器人退出: %v", err)
		}
	}()

	gs.Register("等待运行循环退出", func(sctx context.Context) error {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	}, shutdown.OrderStopWatcher)
	gs.Register("通知输出", func(context.Context) error {
		dispatcher.Close()
		return nil
	}, shutdown.OrderFlushSinks)
	gs.Register("链上客户端", func(context.Context) error {
		chainClient.Close()
		return nil
	}, shutdown.OrderCloseChain)
	gs.Register("进度数据库", func(context.Context) error {
		return progressMgr.Close()
	}, shutdown.OrderSaveProgress)

	logger.Infof("监控已启动，网络: %s，轮询间隔: %v，监控地址: %d",
		cfg.Blockchain.NetworkLabel, pollInterval, store.Count())

	gs.Start()
	gs.Wait()

	return nil
}

// showState 显示持久化状态与扫描进度
func showState(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	logger.SetLevel(logrus.WarnLevel)

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	store, err := state.NewStore(cfg.Watcher.StatePath, logger)
	if err != nil {
		return fmt.Errorf("加载状态存储失败: %w", err)
	}

	addresses := store.List()
	fmt.Printf("监控地址（%d个）\n", len(addresses))
	fmt.Println(strings.Repeat("=", 50))
	for _, tracked := range addresses {
		fmt.Printf("%s\n", tracked.Address)
		fmt.Printf("  余额: %s %s\n", notify.FormatBalance(tracked.LastBalance), cfg.Blockchain.NetworkLabel)
		if tracked.ChatID != 0 {
			fmt.Printf("  绑定会话: %d\n", tracked.ChatID)
		}
	}

	subscribers := store.Subscribers()
	fmt.Printf("\n订阅会话（%d个）: %v\n", len(subscribers), subscribers)

	progressMgr, err := progress.NewManager(cfg.Watcher.ProgressDBPath, logger)
	if err != nil {
		return fmt.Errorf("加载进度数据库失败: %w", err)
	}
	defer progressMgr.Close()

	fmt.Println("\n扫描进度")
	fmt.Println(strings.Repeat("=", 50))
	for key, value := range progressMgr.GetStats() {
		fmt.Printf("%-20s: %v\n", key, value)
	}

	return nil
}

// newLogger 创建文本格式的logrus日志器
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
