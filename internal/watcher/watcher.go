package watcher

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"balwatch/internal/chain"
	"balwatch/internal/errors"
	"balwatch/internal/logging"
	"balwatch/internal/notify"
	"balwatch/internal/progress"
	"balwatch/internal/retry"
	"balwatch/internal/state"
	"balwatch/pkg/models"
)

// 轮询状态
const (
	StateIdle     = "idle"
	StateSweeping = "sweeping"
	StatePaused   = "paused"
)

// Watcher 余额监控器：按固定间隔轮询链高度，高度变化时扫描所有被监控地址
// 同一时刻最多只有一次扫描在执行，扫描期间到达的tick被丢弃
type Watcher struct {
	chain        chain.Reader
	store        *state.Store
	progress     *progress.Manager
	dispatcher   *notify.Dispatcher
	logger       *logrus.Logger
	structured   *logging.StructuredLogger
	retrier      *retry.Retrier
	errorHandler *errors.ErrorHandler

	pollInterval time.Duration

	// 运行期状态
	lastHeight atomic.Uint64 // 最后观察到的链高度，0表示尚未观察
	sweeping   atomic.Bool
	paused     atomic.Bool
	failures   atomic.Int64 // 连续高度查询失败次数
}

// NewWatcher 创建余额监控器
func NewWatcher(reader chain.Reader, store *state.Store, progressMgr *progress.Manager,
	dispatcher *notify.Dispatcher, pollInterval time.Duration,
	logger *logrus.Logger, structured *logging.StructuredLogger) *Watcher {
	w := &Watcher{
		chain:        reader,
		store:        store,
		progress:     progressMgr,
		dispatcher:   dispatcher,
		logger:       logger,
		structured:   structured,
		retrier:      retry.NewRetrier(retry.DefaultRetryConfig, logger),
		errorHandler: errors.NewErrorHandler(logger),
		pollInterval: pollInterval,
	}

	// 重启后沿用持久化的高度，避免把首个观察误判为高度变化
	if progressMgr != nil {
		w.lastHeight.Store(progressMgr.GetLastObservedHeight())
	}

	return w
}

// Run 启动轮询循环，阻塞直到上下文被取消
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Infof("轮询循环已启动，间隔: %v，上次观察高度: %d",
		w.pollInterval, w.lastHeight.Load())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("轮询循环已停止")
			return nil
		case <-ticker.C:
			if w.paused.Load() {
				continue
			}

			w.poll(ctx)

			// 扫描耗时超过一个周期时，丢弃积压的tick而不是补扫
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// poll 执行一次轮询：查询链高度，与上次观察比较，变化时触发扫描
func (w *Watcher) poll(ctx context.Context) {
	height, err := w.chain.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		failures := w.failures.Add(1)
		delay := w.retrier.NextDelay(int(failures))
		w.logger.Warnf("查询链高度失败（连续第 %d 次）: %v，额外等待 %v", failures, err, delay)
		w.errorHandler.Handle("watcher", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
		return
	}
	w.failures.Store(0)

	last := w.lastHeight.Load()
	if last != 0 && height == last {
		w.logger.Debugf("链高度未变化: %d，跳过扫描", height)
		return
	}

	w.sweep(ctx, height)
}

// sweep 扫描所有被监控地址的余额
// 单个地址失败只记录日志，不影响其余地址；首次采样只建立基线，不发通知
func (w *Watcher) sweep(ctx context.Context, height uint64) {
	w.sweeping.Store(true)
	defer w.sweeping.Store(false)

	start := time.Now()
	addresses := w.store.List()

	var changed, failed int
	for _, tracked := range addresses {
		if ctx.Err() != nil {
			return
		}

		balance, err := w.chain.BalanceAt(ctx, tracked.Address)
		if err != nil {
			failed++
			w.errorHandler.Handle("watcher", errors.ErrChainTransient.
				WithAddress(tracked.Address).WithCause(err))
			continue
		}

		// 地址可能在扫描期间被移除，比较前重读移除后的视图
		current, exists := w.store.Get(tracked.Address)
		if !exists {
			continue
		}

		// 首次采样：静默建立基线
		if !current.HasBaseline() {
			if err := w.store.UpdateBalance(current.Address, balance); err != nil {
				failed++
				w.errorHandler.Handle("watcher", err)
				continue
			}
			w.logger.Debugf("地址 %s 首次采样，基线余额: %s", current.Address, balance.String())
			continue
		}

		if balance.Cmp(current.LastBalance) == 0 {
			continue
		}

		changed++
		notification := models.NewNotification(current.Address, current.LastBalance, balance, height)
		destinations := w.dispatcher.ResolveDestinations(current.ChatID, w.store.Subscribers())
		w.dispatcher.Dispatch(ctx, notification, destinations)

		if err := w.store.UpdateBalance(current.Address, balance); err != nil {
			w.errorHandler.Handle("watcher", err)
		}
	}

	w.lastHeight.Store(height)
	if w.progress != nil {
		if err := w.progress.RecordSweep(height, changed); err != nil {
			w.logger.Warnf("保存扫描进度失败: %v", err)
		}
	}

	duration := time.Since(start)
	if w.structured != nil {
		w.structured.LogSweep(height, len(addresses), changed, failed, duration)
	}
	w.logger.Infof("扫描完成，高度: %d，地址: %d，变动: %d，失败: %d，耗时: %v",
		height, len(addresses), changed, failed, duration)
}

// Pause 暂停轮询（暂停期间不查询高度也不扫描）
func (w *Watcher) Pause() {
	if w.paused.CompareAndSwap(false, true) {
		w.logger.Info("轮询已暂停")
	}
}

// Resume 恢复轮询
func (w *Watcher) Resume() {
	if w.paused.CompareAndSwap(true, false) {
		w.logger.Info("轮询已恢复")
	}
}

// IsPaused 是否处于暂停状态
func (w *Watcher) IsPaused() bool {
	return w.paused.Load()
}

// State 返回当前轮询状态
func (w *Watcher) State() string {
	if w.paused.Load() {
		return StatePaused
	}
	if w.sweeping.Load() {
		return StateSweeping
	}
	return StateIdle
}

// LastObservedHeight 返回最后观察到的链高度
func (w *Watcher) LastObservedHeight() uint64 {
	return w.lastHeight.Load()
}

// PollInterval 返回轮询间隔
func (w *Watcher) PollInterval() time.Duration {
	return w.pollInterval
}

// ErrorStats 返回扫描错误统计
func (w *Watcher) ErrorStats() *errors.ErrorStats {
	return w.errorHandler.GetStats()
}
