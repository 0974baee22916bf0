package chain

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"balwatch/internal/config"
	"balwatch/internal/errors"
	"balwatch/internal/retry"
	"balwatch/internal/validation"
)

// 节点速率限制冷却时间
const rateLimitCooldown = 5 * time.Minute

// Reader 链上读取接口：轮询循环与命令层只依赖这两个调用
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, address string) (*big.Int, error)
}

// NodeClient 节点客户端
type NodeClient struct {
	Name         string
	URL          string
	RateLimit    int
	Priority     int
	Client       *ethclient.Client
	Available    bool
	LastUsed     time.Time
	RateLimited  bool      // 是否被速率限制
	RateLimitEnd time.Time // 速率限制结束时间
	ErrorCount   int       // 错误计数
	mu           sync.RWMutex
}

// Client 多节点链上客户端：按优先级选择节点，故障与限流时切换
type Client struct {
	nodes            []*NodeClient
	logger           *logrus.Logger
	retrier          *retry.Retrier
	requestTimeout   time.Duration
	mu               sync.RWMutex
	currentNodeIndex int
}

// NewClient 创建链上客户端，逐个连接并探测配置的节点
func NewClient(cfg *config.BlockchainConfig, requestTimeout time.Duration, logger *logrus.Logger) (*Client, error) {
	if cfg == nil || len(cfg.Nodes) == 0 {
		return nil, errors.ErrConfigInvalid.WithCause(
			errors.NewWatchError(errors.ErrorTypeConfig, errors.SeverityCritical,
				"NO_NODES", "至少需要配置一个RPC节点"))
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	var nodes []*NodeClient
	for _, nodeConfig := range cfg.Nodes {
		client, err := ethclient.Dial(nodeConfig.URL)
		if err != nil {
			logger.Warnf("连接节点失败 %s: %v", nodeConfig.Name, err)
			continue
		}

		// 测试节点连接
		probeCtx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		_, err = client.BlockNumber(probeCtx)
		cancel()
		if err != nil {
			logger.Warnf("节点 %s 不可用: %v", nodeConfig.Name, err)
			client.Close()
			continue
		}

		nodes = append(nodes, &NodeClient{
			Name:      nodeConfig.Name,
			URL:       nodeConfig.URL,
			RateLimit: nodeConfig.RateLimit,
			Priority:  nodeConfig.Priority,
			Client:    client,
			Available: true,
			LastUsed:  time.Now(),
		})
		logger.Infof("成功连接到节点: %s", nodeConfig.Name)
	}

	if len(nodes) == 0 {
		return nil, errors.ErrNoAvailableNode
	}

	// 按优先级排序节点（优先级数字越小越优先）
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Priority < nodes[j].Priority
	})

	return &Client{
		nodes:          nodes,
		logger:         logger,
		retrier:        retry.NewRetrier(retry.RPCRetryConfig, logger),
		requestTimeout: requestTimeout,
	}, nil
}

// BlockNumber 获取最新区块高度
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var height uint64

	err := c.retrier.Execute(ctx, "eth_blockNumber", func() error {
		node := c.getNextAvailableNode()
		if node == nil {
			return errors.ErrNoAvailableNode
		}

		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		h, err := node.Client.BlockNumber(callCtx)
		if err != nil {
			c.handleNodeError(node, err)
			return c.classifyError(err)
		}

		height = h
		return nil
	})
	if err != nil {
		return 0, err
	}

	return height, nil
}

// BalanceAt 获取地址的当前余额（wei）
func (c *Client) BalanceAt(ctx context.Context, address string) (*big.Int, error) {
	checksummed := common.HexToAddress(validation.Checksum(address))
	var balance *big.Int

	err := c.retrier.Execute(ctx, "eth_getBalance", func() error {
		node := c.getNextAvailableNode()
		if node == nil {
			return errors.ErrNoAvailableNode
		}

		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()

		b, err := node.Client.BalanceAt(callCtx, checksummed, nil)
		if err != nil {
			c.handleNodeError(node, err)
			return c.classifyError(err)
		}

		balance = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// getNextAvailableNode 获取下一个可用节点
func (c *Client) getNextAvailableNode() *NodeClient {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	// 从当前索引开始查找可用节点
	for i := 0; i < len(c.nodes); i++ {
		index := (c.currentNodeIndex + i) % len(c.nodes)
		node := c.nodes[index]

		node.mu.RLock()
		available := node.Available
		rateLimited := node.RateLimited
		rateLimitEnd := node.RateLimitEnd
		node.mu.RUnlock()

		// 检查速率限制是否已过期
		if rateLimited && now.After(rateLimitEnd) {
			node.mu.Lock()
			node.RateLimited = false
			node.ErrorCount = 0
			node.mu.Unlock()
			c.logger.Infof("节点 %s 速率限制已解除", node.Name)
			rateLimited = false
		}

		if available && !rateLimited {
			c.currentNodeIndex = index
			node.mu.Lock()
			node.LastUsed = now
			node.mu.Unlock()
			return node
		}
	}

	// 没有可用节点时重置未限流节点的状态，下一次调用重新探测
	c.logger.Warn("所有节点都不可用，重置节点状态...")
	for _, node := range c.nodes {
		node.mu.Lock()
		if !node.RateLimited {
			node.Available = true
		}
		node.mu.Unlock()
	}

	for _, node := range c.nodes {
		node.mu.RLock()
		usable := node.Available && !node.RateLimited
		node.mu.RUnlock()
		if usable {
			return node
		}
	}

	return nil
}

// handleNodeError 处理节点错误
func (c *Client) handleNodeError(node *NodeClient, err error) {
	if isRateLimitError(err) {
		node.mu.Lock()
		node.RateLimited = true
		node.RateLimitEnd = time.Now().Add(rateLimitCooldown)
		node.ErrorCount++
		node.mu.Unlock()

		c.logger.Warnf("节点 %s 达到速率限制，%v 后重试: %v", node.Name, rateLimitCooldown, err)
		return
	}

	node.mu.Lock()
	node.ErrorCount++
	// 连续错误过多时暂时下线该节点
	if node.ErrorCount >= 3 {
		node.Available = false
	}
	errorCount := node.ErrorCount
	node.mu.Unlock()

	c.logger.Warnf("节点 %s 调用失败（第 %d 次）: %v", node.Name, errorCount, err)
}

// classifyError 将底层错误归类为统一的链上错误
func (c *Client) classifyError(err error) error {
	if err == nil {
		return nil
	}
	if err == context.DeadlineExceeded || strings.Contains(err.Error(), "deadline exceeded") {
		return errors.ErrChainTimeout.WithCause(err)
	}
	if isRateLimitError(err) {
		return errors.ErrRateLimitExceeded.WithCause(err)
	}
	return errors.ErrChainTransient.WithCause(err)
}

// isRateLimitError 检测是否为429错误
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return containsAny(errStr, []string{
		"429", "Too Many Requests", "rate limit", "Rate limit",
		"quota exceeded", "request limit", "requests per second",
		"API rate limit exceeded", "exceed rate limit",
	})
}

// containsAny 检查字符串是否包含任意一个子字符串
func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// NodeStatus 返回节点状态信息
func (c *Client) NodeStatus() []map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := make([]map[string]interface{}, 0, len(c.nodes))
	for _, node := range c.nodes {
		node.mu.RLock()
		status = append(status, map[string]interface{}{
			"name":         node.Name,
			"priority":     node.Priority,
			"available":    node.Available,
			"rate_limited": node.RateLimited,
			"error_count":  node.ErrorCount,
			"last_used":    node.LastUsed.Format(time.RFC3339),
		})
		node.mu.RUnlock()
	}

	return status
}

// Close 关闭所有节点连接
func (c *Client) Close() {
	for _, node := range c.nodes {
		if node.Client != nil {
			node.Client.Close()
		}
	}
	c.logger.Info("链上客户端已关闭")
}
