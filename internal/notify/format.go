package notify

import (
	"fmt"
	"math/big"
	"strings"

	"balwatch/pkg/models"
)

// 原生单位精度：1单位 = 10^18 wei，展示保留8位小数
var (
	weiPerUnit  = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	fracDivisor = new(big.Int).Exp(big.NewInt(10), big.NewInt(10), nil) // 10^18 / 10^8
)

// FormatBalance 将wei余额格式化为8位小数的原生单位表示
func FormatBalance(wei *big.Int) string {
	if wei == nil {
		return "未采样"
	}

	abs := new(big.Int).Abs(wei)
	quo, rem := new(big.Int).QuoRem(abs, weiPerUnit, new(big.Int))
	frac := new(big.Int).Quo(rem, fracDivisor)

	sign := ""
	if wei.Sign() < 0 {
		sign = "-"
	}

	return fmt.Sprintf("%s%s.%08d", sign, quo.String(), frac.Int64())
}

// FormatDelta 格式化有符号差值，增加时带显式的+号
func FormatDelta(delta *big.Int) string {
	if delta.Sign() > 0 {
		return "+" + FormatBalance(delta)
	}
	return FormatBalance(delta)
}

// BuildMessage 构建人类可读的余额变动通知文本
func BuildMessage(n *models.Notification, networkLabel string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "⚠️ 余额变动 [%s]\n", networkLabel)
	fmt.Fprintf(&b, "地址: %s\n", n.Address)
	fmt.Fprintf(&b, "变动前: %s %s\n", FormatBalance(n.OldBalance), networkLabel)
	fmt.Fprintf(&b, "变动后: %s %s\n", FormatBalance(n.NewBalance), networkLabel)
	fmt.Fprintf(&b, "变化: %s %s", FormatDelta(n.Delta), networkLabel)

	return b.String()
}
