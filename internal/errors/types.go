package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeConnection
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 链上数据相关错误
	ErrorTypeChain

	// 用户输入相关错误
	ErrorTypeValidation

	// 状态存储相关错误
	ErrorTypeState

	// 通知投递相关错误
	ErrorTypeDelivery

	// 系统相关错误
	ErrorTypeConfig
	ErrorTypeSystem
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// WatchError 自定义错误类型
type WatchError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"cause,omitempty"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	Address   *string                `json:"address,omitempty"`
	ChatID    *int64                 `json:"chat_id,omitempty"`
}

// Error 实现error接口
func (e *WatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *WatchError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，使errors.Is能识别预定义错误的派生副本
func (e *WatchError) Is(target error) bool {
	var we *WatchError
	if errors.As(target, &we) {
		return e.Code == we.Code
	}
	return false
}

// IsRetryable 判断是否可重试
func (e *WatchError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息（返回副本，不修改预定义错误）
func (e *WatchError) WithContext(key string, value interface{}) *WatchError {
	clone := *e
	ctx := make(map[string]interface{}, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	clone.Context = ctx
	return &clone
}

// WithAddress 添加地址信息
func (e *WatchError) WithAddress(address string) *WatchError {
	clone := *e
	clone.Address = &address
	return &clone
}

// WithChatID 添加会话ID
func (e *WatchError) WithChatID(chatID int64) *WatchError {
	clone := *e
	clone.ChatID = &chatID
	return &clone
}

// WithCause 附加底层错误
func (e *WatchError) WithCause(err error) *WatchError {
	clone := *e
	clone.Cause = err
	return &clone
}

// NewWatchError 创建新的错误
func NewWatchError(errorType ErrorType, severity ErrorSeverity, code, message string) *WatchError {
	return &WatchError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *WatchError {
	return &WatchError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeConnection, ErrorTypeTimeout:
		return true
	case ErrorTypeRateLimit:
		return true
	case ErrorTypeChain:
		return true
	case ErrorTypeDelivery:
		// 投递失败只记录日志，由下一次变动自然重发，不做主动重试
		return false
	default:
		return false
	}
}

// 预定义错误
var (
	// 用户输入错误
	ErrInvalidAddress = NewWatchError(
		ErrorTypeValidation,
		SeverityLow,
		"INVALID_ADDRESS_FORMAT",
		"地址格式无效，需要0x开头的40位十六进制",
	)

	ErrAlreadyTracked = NewWatchError(
		ErrorTypeValidation,
		SeverityLow,
		"ALREADY_TRACKED",
		"地址已在监控列表中",
	)

	ErrNotTracked = NewWatchError(
		ErrorTypeValidation,
		SeverityLow,
		"NOT_TRACKED",
		"地址不在监控列表中",
	)

	// 状态存储错误
	ErrCorruptState = NewWatchError(
		ErrorTypeState,
		SeverityCritical,
		"CORRUPT_STATE",
		"状态文件已存在但无法解析",
	)

	ErrStateWrite = NewWatchError(
		ErrorTypeState,
		SeverityHigh,
		"STATE_WRITE_FAILED",
		"状态持久化失败",
	)

	// 链上错误
	ErrChainTransient = NewWatchError(
		ErrorTypeChain,
		SeverityMedium,
		"CHAIN_TRANSIENT",
		"链上数据获取失败",
	)

	ErrChainTimeout = NewWatchError(
		ErrorTypeTimeout,
		SeverityMedium,
		"CHAIN_TIMEOUT",
		"链上请求超时",
	)

	ErrNoAvailableNode = NewWatchError(
		ErrorTypeConnection,
		SeverityHigh,
		"NO_AVAILABLE_NODE",
		"没有可用的RPC节点",
	)

	ErrRateLimitExceeded = NewWatchError(
		ErrorTypeRateLimit,
		SeverityMedium,
		"RATE_LIMIT_EXCEEDED",
		"RPC请求频率超限",
	)

	// 投递错误
	ErrDeliveryFailed = NewWatchError(
		ErrorTypeDelivery,
		SeverityLow,
		"DELIVERY_FAILED",
		"通知投递失败",
	)

	// 系统错误
	ErrConfigInvalid = NewWatchError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:    "Network",
	ErrorTypeConnection: "Connection",
	ErrorTypeTimeout:    "Timeout",
	ErrorTypeRateLimit:  "RateLimit",
	ErrorTypeChain:      "Chain",
	ErrorTypeValidation: "Validation",
	ErrorTypeState:      "State",
	ErrorTypeDelivery:   "Delivery",
	ErrorTypeConfig:     "Config",
	ErrorTypeSystem:     "System",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// IsUserError 判断是否为应直接回复用户的输入类错误
func IsUserError(err error) bool {
	var we *WatchError
	if errors.As(err, &we) {
		return we.Type == ErrorTypeValidation
	}
	return false
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*WatchError         `json:"recent_errors"`
	LastError         *WatchError           `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*WatchError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *WatchError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}
