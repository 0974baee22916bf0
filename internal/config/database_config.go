package config

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	// 加载RPC节点配置
	blockchainConfig, err := dc.loadBlockchainConfig()
	if err != nil {
		return nil, fmt.Errorf("加载区块链配置失败: %w", err)
	}
	if len(blockchainConfig.Nodes) > 0 {
		config.Blockchain.Nodes = blockchainConfig.Nodes
	}
	if blockchainConfig.NetworkLabel != "" {
		config.Blockchain.NetworkLabel = blockchainConfig.NetworkLabel
	}

	// 加载键值设置
	settings, err := dc.loadSettings()
	if err != nil {
		return nil, fmt.Errorf("加载监控器配置失败: %w", err)
	}
	dc.applySettings(config, settings)

	return config, nil
}

// loadBlockchainConfig 加载区块链配置
func (dc *DatabaseConfig) loadBlockchainConfig() (*BlockchainConfig, error) {
	query := `SELECT name, url, rate_limit, priority FROM rpc_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		err := rows.Scan(&node.Name, &node.URL, &node.RateLimit, &node.Priority)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}

	return &BlockchainConfig{
		Nodes: nodes,
	}, nil
}

// loadSettings 加载键值设置表
func (dc *DatabaseConfig) loadSettings() (map[string]string, error) {
	query := `SELECT key, value FROM watcher_settings`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}

	return settings, nil
}

// applySettings 将键值设置应用到配置
func (dc *DatabaseConfig) applySettings(config *Config, settings map[string]string) {
	if v, ok := settings["network_label"]; ok && v != "" {
		config.Blockchain.NetworkLabel = v
	}
	if v, ok := settings["poll_interval"]; ok {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			config.Watcher.PollInterval = seconds
		}
	}
	if v, ok := settings["request_timeout"]; ok && v != "" {
		config.Watcher.RequestTimeout = v
	}
	if v, ok := settings["state_path"]; ok && v != "" {
		config.Watcher.StatePath = v
	}
	if v, ok := settings["bot_token"]; ok && v != "" {
		config.Telegram.BotToken = v
	}
	if v, ok := settings["default_chat_id"]; ok {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Telegram.DefaultChatID = id
		}
	}
	if v, ok := settings["kafka_enabled"]; ok {
		config.Notify.Kafka.Enabled = v == "true"
	}
	if v, ok := settings["kafka_topic"]; ok && v != "" {
		config.Notify.Kafka.Topic = v
	}
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
