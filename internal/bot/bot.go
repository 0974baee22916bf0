package bot

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"balwatch/internal/notify"
	"balwatch/internal/retry"
)

// Bot 命令机器人：长轮询拉取更新，串行处理命令并回复
// 命令串行执行保证对状态存储的变更不会交错
type Bot struct {
	updates  *UpdatesClient
	handler  *Handler
	notifier notify.Notifier
	logger   *logrus.Logger
	retrier  *retry.Retrier
}

// NewBot 创建命令机器人
func NewBot(updates *UpdatesClient, handler *Handler, notifier notify.Notifier,
	logger *logrus.Logger) *Bot {
	return &Bot{
		updates:  updates,
		handler:  handler,
		notifier: notifier,
		logger:   logger,
		retrier:  retry.NewRetrier(retry.DefaultRetryConfig, logger),
	}
}

// Run 启动更新循环，阻塞直到上下文被取消
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("命令机器人已启动")

	failures := 0
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("命令机器人已停止")
			return nil
		default:
		}

		updates, err := b.updates.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("命令机器人已停止")
				return nil
			}
			failures++
			delay := b.retrier.NextDelay(failures)
			b.logger.Warnf("拉取更新失败（连续第 %d 次）: %v，%v 后重试", failures, err, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		failures = 0

		for _, update := range updates {
			b.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate 处理单条更新
func (b *Bot) handleUpdate(ctx context.Context, update Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}

	chatID := update.Message.Chat.ID
	reply := b.handler.HandleCommand(ctx, chatID, update.Message.Text)
	if reply == "" {
		return
	}

	if err := b.notifier.Send(ctx, chatID, reply); err != nil {
		b.logger.Warnf("回复会话 %d 失败: %v", chatID, err)
	}
}
