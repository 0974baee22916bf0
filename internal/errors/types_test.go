package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWatchError(t *testing.T) {
	err := NewWatchError(ErrorTypeNetwork, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeNetwork, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.True(t, err.Retryable) // 网络错误默认可重试
	assert.False(t, err.Timestamp.IsZero())
}

func TestWrapError(t *testing.T) {
	originalErr := stderrors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeState, SeverityHigh, "WRAPPED_ERROR", "包装错误")

	assert.NotNil(t, wrappedErr)
	assert.Equal(t, ErrorTypeState, wrappedErr.Type)
	assert.Equal(t, SeverityHigh, wrappedErr.Severity)
	assert.Equal(t, "WRAPPED_ERROR", wrappedErr.Code)
	assert.Equal(t, originalErr, wrappedErr.Cause)
	assert.Contains(t, wrappedErr.Error(), "原始错误")
	assert.False(t, wrappedErr.Retryable) // 状态错误不可重试
}

func TestWatchError_Error(t *testing.T) {
	// 测试没有原因的错误
	err := NewWatchError(ErrorTypeValidation, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息", err.Error())

	// 测试有原因的错误
	originalErr := stderrors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeValidation, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息: 原始错误", wrappedErr.Error())
}

func TestWatchError_Unwrap(t *testing.T) {
	originalErr := stderrors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeChain, SeverityMedium, "TEST_CODE", "测试消息")

	assert.Equal(t, originalErr, stderrors.Unwrap(wrappedErr))
	assert.True(t, stderrors.Is(wrappedErr, originalErr))
}

func TestWatchError_Is_MatchesByCode(t *testing.T) {
	// 预定义错误的派生副本仍能通过errors.Is匹配
	derived := ErrInvalidAddress.WithAddress("0x123")

	assert.True(t, stderrors.Is(derived, ErrInvalidAddress))
	assert.False(t, stderrors.Is(derived, ErrAlreadyTracked))
}

func TestWatchError_WithContext_DoesNotMutateOriginal(t *testing.T) {
	derived := ErrChainTransient.WithContext("address", "0xabc")

	assert.Nil(t, ErrChainTransient.Context)
	assert.Equal(t, "0xabc", derived.Context["address"])
	assert.Equal(t, ErrChainTransient.Code, derived.Code)
}

func TestWatchError_WithAddress(t *testing.T) {
	addr := "0x1234567890abcdef1234567890abcdef12345678"
	derived := ErrNotTracked.WithAddress(addr)

	assert.NotNil(t, derived.Address)
	assert.Equal(t, addr, *derived.Address)
	assert.Nil(t, ErrNotTracked.Address)
}

func TestDetermineRetryable(t *testing.T) {
	assert.True(t, NewWatchError(ErrorTypeTimeout, SeverityMedium, "A", "a").Retryable)
	assert.True(t, NewWatchError(ErrorTypeRateLimit, SeverityMedium, "B", "b").Retryable)
	assert.True(t, NewWatchError(ErrorTypeChain, SeverityMedium, "C", "c").Retryable)
	assert.False(t, NewWatchError(ErrorTypeValidation, SeverityLow, "D", "d").Retryable)
	assert.False(t, NewWatchError(ErrorTypeDelivery, SeverityLow, "E", "e").Retryable)
	assert.False(t, NewWatchError(ErrorTypeState, SeverityHigh, "F", "f").Retryable)
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(ErrInvalidAddress))
	assert.True(t, IsUserError(ErrAlreadyTracked.WithAddress("0xabc")))
	assert.False(t, IsUserError(ErrChainTransient))
	assert.False(t, IsUserError(stderrors.New("普通错误")))
}

func TestErrorStats_RecordError(t *testing.T) {
	stats := NewErrorStats()

	err1 := NewWatchError(ErrorTypeChain, SeverityMedium, "E1", "错误1")
	err1.Component = "watcher"
	err2 := NewWatchError(ErrorTypeDelivery, SeverityLow, "E2", "错误2")
	err2.Component = "notify"

	stats.RecordError(err1)
	stats.RecordError(err2)

	assert.Equal(t, 2, stats.TotalErrors)
	assert.Equal(t, 1, stats.ErrorsByType[ErrorTypeChain])
	assert.Equal(t, 1, stats.ErrorsByType[ErrorTypeDelivery])
	assert.Equal(t, 1, stats.ErrorsByComponent["watcher"])
	assert.Equal(t, err2, stats.LastError)
	assert.Len(t, stats.RecentErrors, 2)
}

func TestErrorStats_RecentErrorsBounded(t *testing.T) {
	stats := NewErrorStats()

	for i := 0; i < 150; i++ {
		stats.RecordError(NewWatchError(ErrorTypeChain, SeverityLow, "E", "错误"))
	}

	assert.Equal(t, 150, stats.TotalErrors)
	assert.Len(t, stats.RecentErrors, 100) // 只保留最近100个
}

func TestErrorTypeString(t *testing.T) {
	assert.Equal(t, "Chain", ErrorTypeChain.String())
	assert.Equal(t, "Validation", ErrorTypeValidation.String())
	assert.Equal(t, "Delivery", ErrorTypeDelivery.String())
	assert.Contains(t, ErrorType(99).String(), "Unknown")
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "Low", SeverityLow.String())
	assert.Equal(t, "Critical", SeverityCritical.String())
}
