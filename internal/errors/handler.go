package errors

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorCallback 错误回调函数
type ErrorCallback func(err *WatchError)

// ErrorHandler 错误处理器：统一记录、统计并按严重级别输出日志
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	// 错误回调（供API层订阅最近错误）
	callbacks []ErrorCallback
}

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// RegisterCallback 注册错误回调
func (eh *ErrorHandler) RegisterCallback(cb ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, cb)
}

// Handle 处理错误：记录统计并按严重级别写日志
func (eh *ErrorHandler) Handle(component string, err error) *WatchError {
	watchErr := AsWatchError(err)
	if watchErr.Component == "" {
		clone := *watchErr
		clone.Component = component
		watchErr = &clone
	}

	eh.mu.Lock()
	eh.stats.RecordError(watchErr)
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	entry := eh.logger.WithFields(logrus.Fields{
		"component": watchErr.Component,
		"type":      watchErr.Type.String(),
		"code":      watchErr.Code,
		"retryable": watchErr.Retryable,
	})

	switch watchErr.Severity {
	case SeverityCritical:
		entry.Errorf("严重错误: %v", watchErr)
	case SeverityHigh:
		entry.Errorf("错误: %v", watchErr)
	case SeverityMedium:
		entry.Warnf("警告: %v", watchErr)
	default:
		entry.Debugf("轻微错误: %v", watchErr)
	}

	for _, cb := range callbacks {
		cb(watchErr)
	}

	return watchErr
}

// GetStats 获取错误统计快照
func (eh *ErrorHandler) GetStats() *ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	snapshot := &ErrorStats{
		TotalErrors:       eh.stats.TotalErrors,
		ErrorsByType:      make(map[ErrorType]int, len(eh.stats.ErrorsByType)),
		ErrorsBySeverity:  make(map[ErrorSeverity]int, len(eh.stats.ErrorsBySeverity)),
		ErrorsByComponent: make(map[string]int, len(eh.stats.ErrorsByComponent)),
		RecentErrors:      make([]*WatchError, len(eh.stats.RecentErrors)),
		LastError:         eh.stats.LastError,
		LastErrorTime:     eh.stats.LastErrorTime,
	}
	for k, v := range eh.stats.ErrorsByType {
		snapshot.ErrorsByType[k] = v
	}
	for k, v := range eh.stats.ErrorsBySeverity {
		snapshot.ErrorsBySeverity[k] = v
	}
	for k, v := range eh.stats.ErrorsByComponent {
		snapshot.ErrorsByComponent[k] = v
	}
	copy(snapshot.RecentErrors, eh.stats.RecentErrors)

	return snapshot
}

// AsWatchError 将任意错误转换为WatchError
func AsWatchError(err error) *WatchError {
	if we, ok := err.(*WatchError); ok {
		return we
	}
	return WrapError(err, ErrorTypeSystem, SeverityMedium, "UNCLASSIFIED", "未分类错误")
}
