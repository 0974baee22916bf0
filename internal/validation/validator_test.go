package validation

import (
	stderrors "errors"
	"strings"
	"testing"

	"balwatch/internal/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress_Valid(t *testing.T) {
	normalized, err := NormalizeAddress("0xABCDEF0000000000000000000000000000001234")

	assert.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000001234", normalized)
}

func TestNormalizeAddress_Idempotent(t *testing.T) {
	addr := "0xAbCdEf0000000000000000000000000000001234"

	once, err := NormalizeAddress(addr)
	assert.NoError(t, err)

	twice, err := NormalizeAddress(once)
	assert.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestNormalizeAddress_TrimsWhitespace(t *testing.T) {
	normalized, err := NormalizeAddress("  0xabcdef0000000000000000000000000000001234\n")

	assert.NoError(t, err)
	assert.Equal(t, "0xabcdef0000000000000000000000000000001234", normalized)
}

func TestNormalizeAddress_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		address string
	}{
		{"太短", "0x123"},
		{"缺少前缀", "abcdef0000000000000000000000000000001234"},
		{"非法字符", "0xZZcdef0000000000000000000000000000001234"},
		{"太长", "0xabcdef0000000000000000000000000000001234ff"},
		{"空字符串", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeAddress(tc.address)

			assert.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrInvalidAddress))
		})
	}
}

func TestIsValidAddress(t *testing.T) {
	assert.True(t, IsValidAddress("0xabcdef0000000000000000000000000000001234"))
	assert.True(t, IsValidAddress("0xABCDEF0000000000000000000000000000001234"))
	assert.False(t, IsValidAddress("0x123"))
	assert.False(t, IsValidAddress("not_an_address"))
}

func TestValidateAddress_CaseInsensitiveLookupKey(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, false)

	// 同一地址的不同大小写写法规范化后得到相同的键
	lower, err := validator.ValidateAddress("0xabcdef0000000000000000000000000000001234")
	assert.NoError(t, err)

	upper, err := validator.ValidateAddress("0xABCDEF0000000000000000000000000000001234")
	assert.NoError(t, err)

	assert.Equal(t, lower, upper)
}

func TestValidateAddress_StrictModeChecksum(t *testing.T) {
	logger := logrus.New()
	validator := NewValidator(logger, true)

	// 纯小写地址不携带校验和，严格模式下也应通过
	_, err := validator.ValidateAddress("0xabcdef0000000000000000000000000000001234")
	assert.NoError(t, err)

	// 错误的混合大小写在严格模式下被拒绝
	bad := "0xaBcdef0000000000000000000000000000001234"
	if Checksum(strings.ToLower(bad)) != bad {
		_, err = validator.ValidateAddress(bad)
		assert.Error(t, err)
	}
}

func TestChecksum(t *testing.T) {
	normalized := "0xabcdef0000000000000000000000000000001234"
	checksummed := Checksum(normalized)

	assert.Equal(t, normalized, strings.ToLower(checksummed))
	assert.True(t, strings.HasPrefix(checksummed, "0x"))
	assert.Len(t, checksummed, 42)
}
