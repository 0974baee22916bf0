package notify

import (
	"context"
	"strconv"

	"balwatch/internal/errors"
	"balwatch/internal/logging"
	"balwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// Notifier 会话通知接口
type Notifier interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Sink 非会话类通知输出（Kafka、本地流水等）
type Sink interface {
	Publish(notification *models.Notification) error
	Close() error
}

// Dispatcher 通知分发器：把一条变动通知独立投递到每个目的地
// 任一目的地失败只记录日志，不影响其他目的地，也不影响触发它的扫描
type Dispatcher struct {
	notifier       Notifier
	sinks          []Sink
	networkLabel   string
	overrideChatID int64 // 全局默认会话覆盖，0表示未配置
	logger         *logrus.Logger
	structured     *logging.StructuredLogger
	errorHandler   *errors.ErrorHandler
}

// NewDispatcher 创建通知分发器
func NewDispatcher(notifier Notifier, networkLabel string, overrideChatID int64,
	logger *logrus.Logger, structured *logging.StructuredLogger) *Dispatcher {
	return &Dispatcher{
		notifier:       notifier,
		networkLabel:   networkLabel,
		overrideChatID: overrideChatID,
		logger:         logger,
		structured:     structured,
		errorHandler:   errors.NewErrorHandler(logger),
	}
}

// AddSink 注册一个额外的通知输出
func (d *Dispatcher) AddSink(sink Sink) {
	d.sinks = append(d.sinks, sink)
}

// ResolveDestinations 解析通知目的地：
// 绑定会话优先，其次是全局覆盖，最后落到默认订阅者集合
func (d *Dispatcher) ResolveDestinations(boundChatID int64, subscribers []int64) []int64 {
	if boundChatID != 0 {
		return []int64{boundChatID}
	}
	if d.overrideChatID != 0 {
		return []int64{d.overrideChatID}
	}
	return subscribers
}

// Dispatch 投递一条余额变动通知
func (d *Dispatcher) Dispatch(ctx context.Context, notification *models.Notification, destinations []int64) {
	text := BuildMessage(notification, d.networkLabel)

	if len(destinations) == 0 {
		d.logger.Warnf("地址 %s 的变动通知没有可用目的地", notification.Address)
	}

	for _, chatID := range destinations {
		err := d.notifier.Send(ctx, chatID, text)
		if err != nil {
			d.errorHandler.Handle("notify", errors.ErrDeliveryFailed.
				WithChatID(chatID).WithAddress(notification.Address).WithCause(err))
		}
		if d.structured != nil {
			d.structured.LogNotification(notification.Address, chatLabel(chatID), err == nil, err)
		}
	}

	for _, sink := range d.sinks {
		if err := sink.Publish(notification); err != nil {
			d.errorHandler.Handle("notify", errors.ErrDeliveryFailed.
				WithAddress(notification.Address).WithCause(err))
		}
	}
}

// ErrorStats 返回投递错误统计
func (d *Dispatcher) ErrorStats() *errors.ErrorStats {
	return d.errorHandler.GetStats()
}

// Close 关闭所有通知输出
func (d *Dispatcher) Close() {
	for _, sink := range d.sinks {
		if err := sink.Close(); err != nil {
			d.logger.Warnf("关闭通知输出失败: %v", err)
		}
	}
}

// chatLabel 会话的日志标签
func chatLabel(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}
