package validation

import (
	"regexp"
	"strings"

	"balwatch/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// 地址格式：0x + 40位十六进制
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Validator 输入验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下拒绝EIP-55校验和不一致的混合大小写地址
}

// NewValidator 创建输入验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	return &Validator{
		logger:     logger,
		strictMode: strictMode,
	}
}

// NormalizeAddress 规范化地址：验证格式并转为小写
// 规范化是幂等的：normalize(normalize(addr)) == normalize(addr)
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !addressPattern.MatchString(address) {
		return "", errors.ErrInvalidAddress.WithAddress(address)
	}
	return strings.ToLower(address), nil
}

// IsValidAddress 判断地址格式是否有效
func IsValidAddress(address string) bool {
	return addressPattern.MatchString(strings.TrimSpace(address))
}

// ValidateAddress 验证并规范化地址
func (v *Validator) ValidateAddress(address string) (string, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		v.logger.Debugf("地址验证失败: %s", address)
		return "", err
	}

	// 严格模式下校验EIP-55校验和（纯小写或纯大写地址不携带校验和，跳过）
	if v.strictMode && hasMixedCase(address) {
		if common.HexToAddress(normalized).Hex() != strings.TrimSpace(address) {
			v.logger.Debugf("地址校验和验证失败: %s", address)
			return "", errors.ErrInvalidAddress.WithAddress(address).
				WithContext("reason", "EIP-55校验和不匹配")
		}
	}

	return normalized, nil
}

// Checksum 返回EIP-55校验和格式的地址（用于展示和RPC调用）
func Checksum(normalized string) string {
	return common.HexToAddress(normalized).Hex()
}

// hasMixedCase 判断地址十六进制部分是否混合大小写
func hasMixedCase(address string) bool {
	hex := strings.TrimPrefix(strings.TrimSpace(address), "0x")
	return hex != strings.ToLower(hex) && hex != strings.ToUpper(hex)
}
