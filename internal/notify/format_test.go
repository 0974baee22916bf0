package notify

import (
	"math/big"
	"testing"

	"balwatch/pkg/models"

	"github.com/stretchr/testify/assert"
)

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("非法测试数值: " + s)
	}
	return v
}

func TestFormatBalance(t *testing.T) {
	testCases := []struct {
		name     string
		wei      *big.Int
		expected string
	}{
		{"整数单位", wei("1000000000000000000"), "1.00000000"},
		{"一个半单位", wei("1500000000000000000"), "1.50000000"},
		{"零", big.NewInt(0), "0.00000000"},
		{"小数截断到8位", wei("1234567891234567890"), "1.23456789"},
		{"小于最小展示精度", wei("1"), "0.00000000"},
		{"负值", wei("-500000000000000000"), "-0.50000000"},
		{"超过64位范围", wei("123456789012345678901234567890"), "123456789012.34567890"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatBalance(tc.wei))
		})
	}
}

func TestFormatBalance_Sentinel(t *testing.T) {
	assert.Equal(t, "未采样", FormatBalance(nil))
}

func TestFormatDelta_ExplicitPlusOnIncrease(t *testing.T) {
	assert.Equal(t, "+0.50000000", FormatDelta(wei("500000000000000000")))
	assert.Equal(t, "-0.50000000", FormatDelta(wei("-500000000000000000")))
	assert.Equal(t, "0.00000000", FormatDelta(big.NewInt(0)))
}

func TestBuildMessage_BalanceIncrease(t *testing.T) {
	// 场景：1.0单位 -> 1.5单位
	n := models.NewNotification(
		"0xabcdef0000000000000000000000000000001234",
		wei("1000000000000000000"),
		wei("1500000000000000000"),
		100,
	)

	text := BuildMessage(n, "ETH")

	assert.Contains(t, text, "0xabcdef0000000000000000000000000000001234")
	assert.Contains(t, text, "ETH")
	assert.Contains(t, text, "1.00000000")
	assert.Contains(t, text, "1.50000000")
	assert.Contains(t, text, "+0.50000000")
}

func TestBuildMessage_BalanceDecrease(t *testing.T) {
	n := models.NewNotification(
		"0xabcdef0000000000000000000000000000001234",
		wei("2000000000000000000"),
		wei("500000000000000000"),
		101,
	)

	text := BuildMessage(n, "ETH")

	assert.Contains(t, text, "-1.50000000")
	assert.False(t, n.Increased())
}

func TestNotificationDelta(t *testing.T) {
	n := models.NewNotification("0xabc", big.NewInt(100), big.NewInt(150), 1)

	assert.Equal(t, int64(50), n.Delta.Int64())
	assert.True(t, n.Increased())

	// 输入不被修改
	assert.Equal(t, int64(100), n.OldBalance.Int64())
	assert.Equal(t, int64(150), n.NewBalance.Int64())
}
