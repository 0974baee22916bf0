package config

import (
	"fmt"
	"os"
	"strconv"

	"balwatch/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 主配置
type Config struct {
	Blockchain *BlockchainConfig  `mapstructure:"blockchain"`
	Watcher    *WatcherConfig     `mapstructure:"watcher"`
	Telegram   *TelegramConfig    `mapstructure:"telegram"`
	Notify     *NotifyConfig      `mapstructure:"notify"`
	API        *APIConfig         `mapstructure:"api"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	NetworkLabel string        `mapstructure:"network_label"` // 通知文案中的网络名称
	Nodes        []*NodeConfig `mapstructure:"nodes"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	RateLimit int    `mapstructure:"rate_limit"`
	Priority  int    `mapstructure:"priority"`
}

// WatcherConfig 监控器配置
type WatcherConfig struct {
	PollInterval   int    `mapstructure:"poll_interval"`    // 轮询间隔（秒）
	RequestTimeout string `mapstructure:"request_timeout"`  // 单次RPC调用超时
	StatePath      string `mapstructure:"state_path"`       // 状态文档路径
	ProgressDBPath string `mapstructure:"progress_db_path"` // 扫描进度数据库路径
}

// TelegramConfig Telegram机器人配置
type TelegramConfig struct {
	BotToken      string `mapstructure:"bot_token"`
	DefaultChatID int64  `mapstructure:"default_chat_id"` // 全局默认通知会话，0表示未配置
	APIBaseURL    string `mapstructure:"api_base_url"`
	PollTimeout   int    `mapstructure:"poll_timeout"` // getUpdates长轮询超时（秒）
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// NotifyConfig 通知配置
type NotifyConfig struct {
	Kafka       *KafkaConfig `mapstructure:"kafka"`
	JournalPath string       `mapstructure:"journal_path"` // 通知流水文件，空表示关闭
}

// APIConfig 运维API配置
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string) (*Config, error) {
	// 首先尝试从环境变量获取数据库配置
	dbDSN := os.Getenv("BALWATCH_DB_DSN")
	if dbDSN != "" {
		logger := logrus.New()
		dbConfig, err := NewDatabaseConfig(dbDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", err)
		}
		defer dbConfig.Close()

		config, err := dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}

		logger.Info("已从数据库加载配置")
		applyEnvOverrides(config)
		fillDefaults(config)
		return config, nil
	}

	// 检查是否存在数据库配置文件
	dbConfigFile := "configs/database.yaml"
	if _, err := os.Stat(dbConfigFile); err == nil {
		dbViper := viper.New()
		dbViper.SetConfigFile(dbConfigFile)
		dbViper.SetConfigType("yaml")

		if err := dbViper.ReadInConfig(); err == nil {
			dbDSN := dbViper.GetString("database.dsn")
			if dbDSN != "" {
				logger := logrus.New()
				dbConfig, err := NewDatabaseConfig(dbDSN, logger)
				if err == nil {
					defer dbConfig.Close()

					config, err := dbConfig.LoadConfig()
					if err == nil {
						logger.Info("已从数据库加载配置")
						applyEnvOverrides(config)
						fillDefaults(config)
						return config, nil
					}
				}
			}
		}
	}

	// 如果数据库配置不可用，回退到YAML文件
	return LoadConfigFromFile(configPath)
}

// LoadConfigFromFile 从文件加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	var config Config
	if err := v.ReadInConfig(); err != nil {
		// 配置文件缺失时退回默认配置，环境变量仍然生效
		if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
			config = *GetDefaultConfig()
			applyEnvOverrides(&config)
			return &config, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyEnvOverrides(&config)
	fillDefaults(&config)
	return &config, nil
}

// applyEnvOverrides 应用环境变量覆盖
func applyEnvOverrides(config *Config) {
	fillDefaults(config)

	if token := os.Getenv("BALWATCH_BOT_TOKEN"); token != "" {
		config.Telegram.BotToken = token
	}
	if chatID := os.Getenv("BALWATCH_CHAT_ID"); chatID != "" {
		if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			config.Telegram.DefaultChatID = id
		}
	}
	if rpcURL := os.Getenv("BALWATCH_RPC_URL"); rpcURL != "" {
		config.Blockchain.Nodes = []*NodeConfig{
			{
				Name:      "env_node",
				URL:       rpcURL,
				RateLimit: 1000,
				Priority:  1,
			},
		}
	}
	if interval := os.Getenv("BALWATCH_POLL_INTERVAL"); interval != "" {
		if seconds, err := strconv.Atoi(interval); err == nil && seconds > 0 {
			config.Watcher.PollInterval = seconds
		}
	}
}

// fillDefaults 补全缺失的配置段
func fillDefaults(config *Config) {
	defaults := GetDefaultConfig()

	if config.Blockchain == nil {
		config.Blockchain = defaults.Blockchain
	}
	if config.Blockchain.NetworkLabel == "" {
		config.Blockchain.NetworkLabel = defaults.Blockchain.NetworkLabel
	}
	if config.Watcher == nil {
		config.Watcher = defaults.Watcher
	}
	if config.Watcher.PollInterval <= 0 {
		config.Watcher.PollInterval = defaults.Watcher.PollInterval
	}
	if config.Watcher.RequestTimeout == "" {
		config.Watcher.RequestTimeout = defaults.Watcher.RequestTimeout
	}
	if config.Watcher.StatePath == "" {
		config.Watcher.StatePath = defaults.Watcher.StatePath
	}
	if config.Watcher.ProgressDBPath == "" {
		config.Watcher.ProgressDBPath = defaults.Watcher.ProgressDBPath
	}
	if config.Telegram == nil {
		config.Telegram = defaults.Telegram
	}
	if config.Telegram.APIBaseURL == "" {
		config.Telegram.APIBaseURL = defaults.Telegram.APIBaseURL
	}
	if config.Telegram.PollTimeout <= 0 {
		config.Telegram.PollTimeout = defaults.Telegram.PollTimeout
	}
	if config.Notify == nil {
		config.Notify = defaults.Notify
	}
	if config.Notify.Kafka == nil {
		config.Notify.Kafka = defaults.Notify.Kafka
	}
	if config.API == nil {
		config.API = defaults.API
	}
	if config.Logging == nil {
		config.Logging = defaults.Logging
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if len(c.Blockchain.Nodes) == 0 {
		return fmt.Errorf("至少需要配置一个RPC节点")
	}
	for i, node := range c.Blockchain.Nodes {
		if node.Name == "" {
			return fmt.Errorf("节点 %d 的名称不能为空", i)
		}
		if node.URL == "" {
			return fmt.Errorf("节点 %s 的URL不能为空", node.Name)
		}
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("轮询间隔必须大于0")
	}
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("缺少Telegram机器人令牌（BALWATCH_BOT_TOKEN）")
	}
	return nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Blockchain: &BlockchainConfig{
			NetworkLabel: "ETH",
			Nodes: []*NodeConfig{
				{
					Name:      "local_node",
					URL:       "", // 需要在YAML配置、数据库或BALWATCH_RPC_URL中指定
					RateLimit: 1000,
					Priority:  1,
				},
			},
		},
		Watcher: &WatcherConfig{
			PollInterval:   5,
			RequestTimeout: "10s",
			StatePath:      "./data/state.json",
			ProgressDBPath: "./data/progress.db",
		},
		Telegram: &TelegramConfig{
			BotToken:      "",
			DefaultChatID: 0,
			APIBaseURL:    "https://api.telegram.org",
			PollTimeout:   30,
		},
		Notify: &NotifyConfig{
			Kafka: &KafkaConfig{
				Enabled: false,
				Brokers: []string{"localhost:9092"},
				Topic:   "balance_notifications",
			},
			JournalPath: "",
		},
		API: &APIConfig{
			Enabled: false,
			Port:    8080,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
