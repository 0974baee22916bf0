package bot

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"balwatch/internal/chain"
	"balwatch/internal/errors"
	"balwatch/internal/notify"
	"balwatch/internal/progress"
	"balwatch/internal/state"
	"balwatch/internal/validation"
)

const usageText = `可用命令:
/start - 订阅余额变动通知
/add <地址> - 添加监控地址
/remove <地址> - 移除监控地址
/list - 列出监控地址与余额
/balance <地址> - 查询链上当前余额
/status - 查看运行状态`

// StatusSource 运行状态来源（由轮询循环实现）
type StatusSource interface {
	State() string
	LastObservedHeight() uint64
	PollInterval() time.Duration
}

// Handler 命令处理器：把会话中的命令映射到状态存储与链上查询
type Handler struct {
	store          *state.Store
	chain          chain.Reader
	progress       *progress.Manager
	status         StatusSource
	logger         *logrus.Logger
	networkLabel   string
	requestTimeout time.Duration
}

// NewHandler 创建命令处理器
func NewHandler(store *state.Store, reader chain.Reader, progressMgr *progress.Manager,
	status StatusSource, networkLabel string, requestTimeout time.Duration,
	logger *logrus.Logger) *Handler {
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	return &Handler{
		store:          store,
		chain:          reader,
		progress:       progressMgr,
		status:         status,
		logger:         logger,
		networkLabel:   networkLabel,
		requestTimeout: requestTimeout,
	}
}

// HandleCommand 处理一条命令文本，返回回复内容
// 用户输入错误（格式非法、重复添加等）转换为回复而不是内部错误
func (h *Handler) HandleCommand(ctx context.Context, chatID int64, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return usageText
	}

	// 群组中的命令可能带@botname后缀
	command := fields[0]
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	args := fields[1:]

	h.logger.Debugf("处理命令 %s（会话 %d）", command, chatID)

	switch command {
	case "/start":
		return h.handleStart(chatID)
	case "/add":
		return h.handleAdd(ctx, chatID, args)
	case "/remove":
		return h.handleRemove(args)
	case "/list":
		return h.handleList()
	case "/balance":
		return h.handleBalance(ctx, args)
	case "/status":
		return h.handleStatus()
	default:
		return usageText
	}
}

// handleStart 注册默认通知会话
func (h *Handler) handleStart(chatID int64) string {
	added, err := h.store.Subscribe(chatID)
	if err != nil {
		h.logger.Errorf("注册会话 %d 失败: %v", chatID, err)
		return "订阅失败，请稍后重试"
	}
	if !added {
		return "本会话已订阅余额变动通知"
	}
	return fmt.Sprintf("已订阅 %s 余额变动通知\n使用 /add <地址> 添加监控地址", h.networkLabel)
}

// handleAdd 添加监控地址并绑定发起命令的会话
func (h *Handler) handleAdd(ctx context.Context, chatID int64, args []string) string {
	if len(args) != 1 {
		return "用法: /add <地址>"
	}

	tracked, err := h.store.AddAddress(args[0], chatID)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrInvalidAddress):
			return "地址格式无效，应为0x开头的40位十六进制字符"
		case stderrors.Is(err, errors.ErrAlreadyTracked):
			return "该地址已在监控列表中"
		default:
			h.logger.Errorf("添加地址失败: %v", err)
			return "添加失败，请稍后重试"
		}
	}

	// 立即采样初始余额，失败时留给下次扫描
	fetchCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	balance, err := h.chain.BalanceAt(fetchCtx, tracked.Address)
	if err != nil {
		h.logger.Warnf("地址 %s 初始余额采样失败: %v", tracked.Address, err)
		return fmt.Sprintf("已添加监控地址:\n%s\n初始余额将在下次扫描时采样", tracked.Address)
	}
	if err := h.store.UpdateBalance(tracked.Address, balance); err != nil {
		h.logger.Warnf("保存地址 %s 的初始余额失败: %v", tracked.Address, err)
	}

	return fmt.Sprintf("已添加监控地址:\n%s\n当前余额: %s %s",
		tracked.Address, notify.FormatBalance(balance), h.networkLabel)
}

// handleRemove 移除监控地址
func (h *Handler) handleRemove(args []string) string {
	if len(args) != 1 {
		return "用法: /remove <地址>"
	}

	if err := h.store.RemoveAddress(args[0]); err != nil {
		switch {
		case stderrors.Is(err, errors.ErrInvalidAddress):
			return "地址格式无效，应为0x开头的40位十六进制字符"
		case stderrors.Is(err, errors.ErrNotTracked):
			return "该地址不在监控列表中"
		default:
			h.logger.Errorf("移除地址失败: %v", err)
			return "移除失败，请稍后重试"
		}
	}

	return "已移除监控地址"
}

// handleList 列出所有监控地址
func (h *Handler) handleList() string {
	addresses := h.store.List()
	if len(addresses) == 0 {
		return "监控列表为空\n使用 /add <地址> 添加监控地址"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "监控地址（%d个）:\n", len(addresses))
	for _, tracked := range addresses {
		fmt.Fprintf(&sb, "%s\n余额: %s %s\n",
			tracked.Address, notify.FormatBalance(tracked.LastBalance), h.networkLabel)
	}

	return strings.TrimRight(sb.String(), "\n")
}

// handleBalance 按需查询链上余额，不修改任何状态
func (h *Handler) handleBalance(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "用法: /balance <地址>"
	}

	normalized, err := validation.NormalizeAddress(args[0])
	if err != nil {
		return "地址格式无效，应为0x开头的40位十六进制字符"
	}

	fetchCtx, cancel := context.WithTimeout(ctx, h.requestTimeout)
	defer cancel()

	balance, err := h.chain.BalanceAt(fetchCtx, normalized)
	if err != nil {
		h.logger.Warnf("查询地址 %s 余额失败: %v", normalized, err)
		return "链上查询失败，请稍后重试"
	}

	return fmt.Sprintf("%s\n当前余额: %s %s",
		normalized, notify.FormatBalance(balance), h.networkLabel)
}

// handleStatus 汇报运行状态
func (h *Handler) handleStatus() string {
	var sb strings.Builder
	sb.WriteString("运行状态\n")

	if h.status != nil {
		fmt.Fprintf(&sb, "轮询状态: %s\n", h.status.State())
		if height := h.status.LastObservedHeight(); height > 0 {
			fmt.Fprintf(&sb, "链高度: %d\n", height)
		} else {
			sb.WriteString("链高度: 尚未观察\n")
		}
		fmt.Fprintf(&sb, "轮询间隔: %v\n", h.status.PollInterval())
	}

	fmt.Fprintf(&sb, "监控地址: %d\n", h.store.Count())
	fmt.Fprintf(&sb, "订阅会话: %d", len(h.store.Subscribers()))

	if h.progress != nil {
		info := h.progress.GetProgress()
		fmt.Fprintf(&sb, "\n累计扫描: %d\n累计通知: %d", info.TotalSweeps, info.TotalNotifications)
	}

	return sb.String()
}
