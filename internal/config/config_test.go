package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config)
	assert.NotNil(t, config.Blockchain)
	assert.NotNil(t, config.Watcher)
	assert.NotNil(t, config.Telegram)
	assert.NotNil(t, config.Notify)
	assert.NotNil(t, config.API)
	assert.NotNil(t, config.Logging)

	// 测试区块链配置
	assert.Equal(t, "ETH", config.Blockchain.NetworkLabel)
	assert.NotEmpty(t, config.Blockchain.Nodes)
	firstNode := config.Blockchain.Nodes[0]
	assert.Equal(t, "local_node", firstNode.Name)
	assert.Equal(t, "", firstNode.URL) // 应该从环境变量或配置指定，默认为空
	assert.Equal(t, 1, firstNode.Priority)

	// 测试监控器配置
	assert.Equal(t, 5, config.Watcher.PollInterval) // 默认5秒
	assert.Equal(t, "10s", config.Watcher.RequestTimeout)
	assert.Equal(t, "./data/state.json", config.Watcher.StatePath)

	// 测试Telegram配置
	assert.Equal(t, "https://api.telegram.org", config.Telegram.APIBaseURL)
	assert.Equal(t, int64(0), config.Telegram.DefaultChatID)

	// 测试通知配置
	assert.False(t, config.Notify.Kafka.Enabled)
	assert.Equal(t, "balance_notifications", config.Notify.Kafka.Topic)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	content := `
blockchain:
  network_label: "BSC"
  nodes:
    - name: "primary"
      url: "http://localhost:8545"
      rate_limit: 100
      priority: 1
watcher:
  poll_interval: 10
  state_path: "./state.json"
telegram:
  bot_token: "test-token"
  default_chat_id: 12345
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	config, err := LoadConfigFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "BSC", config.Blockchain.NetworkLabel)
	require.Len(t, config.Blockchain.Nodes, 1)
	assert.Equal(t, "primary", config.Blockchain.Nodes[0].Name)
	assert.Equal(t, "http://localhost:8545", config.Blockchain.Nodes[0].URL)
	assert.Equal(t, 10, config.Watcher.PollInterval)
	assert.Equal(t, "test-token", config.Telegram.BotToken)
	assert.Equal(t, int64(12345), config.Telegram.DefaultChatID)

	// 缺失的配置段应被默认值补全
	assert.NotNil(t, config.Notify)
	assert.NotNil(t, config.Logging)
	assert.Equal(t, "10s", config.Watcher.RequestTimeout)
}

func TestLoadConfigFromFile_MissingFileUsesDefaults(t *testing.T) {
	config, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, 5, config.Watcher.PollInterval)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BALWATCH_BOT_TOKEN", "env-token")
	t.Setenv("BALWATCH_CHAT_ID", "-100987")
	t.Setenv("BALWATCH_RPC_URL", "http://env-node:8545")
	t.Setenv("BALWATCH_POLL_INTERVAL", "7")

	config := GetDefaultConfig()
	applyEnvOverrides(config)

	assert.Equal(t, "env-token", config.Telegram.BotToken)
	assert.Equal(t, int64(-100987), config.Telegram.DefaultChatID)
	require.Len(t, config.Blockchain.Nodes, 1)
	assert.Equal(t, "http://env-node:8545", config.Blockchain.Nodes[0].URL)
	assert.Equal(t, 7, config.Watcher.PollInterval)
}

func TestApplyEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	t.Setenv("BALWATCH_CHAT_ID", "not-a-number")
	t.Setenv("BALWATCH_POLL_INTERVAL", "-3")

	config := GetDefaultConfig()
	applyEnvOverrides(config)

	assert.Equal(t, int64(0), config.Telegram.DefaultChatID)
	assert.Equal(t, 5, config.Watcher.PollInterval)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	config.Blockchain.Nodes[0].URL = "http://localhost:8545"
	config.Telegram.BotToken = "token"

	assert.NoError(t, config.Validate())

	// 缺少节点
	noNodes := GetDefaultConfig()
	noNodes.Blockchain.Nodes = nil
	noNodes.Telegram.BotToken = "token"
	assert.Error(t, noNodes.Validate())

	// 缺少机器人令牌
	noToken := GetDefaultConfig()
	noToken.Blockchain.Nodes[0].URL = "http://localhost:8545"
	assert.Error(t, noToken.Validate())

	// 节点URL为空
	emptyURL := GetDefaultConfig()
	emptyURL.Telegram.BotToken = "token"
	assert.Error(t, emptyURL.Validate())
}
