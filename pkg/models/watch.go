package models

import (
	"math/big"
)

// TrackedAddress 被监控的地址
type TrackedAddress struct {
	Address     string   `json:"address"` // 规范化后的地址（0x + 40位小写十六进制）
	LastBalance *big.Int `json:"-"`       // 上次观察到的余额（wei），nil 表示尚未采样
	ChatID      int64    `json:"chat_id"` // 添加该地址时绑定的会话，0 表示未绑定
}

// HasBaseline 是否已有余额基线
func (t *TrackedAddress) HasBaseline() bool {
	return t.LastBalance != nil
}

// Clone 返回副本（余额深拷贝）
func (t *TrackedAddress) Clone() *TrackedAddress {
	clone := &TrackedAddress{
		Address: t.Address,
		ChatID:  t.ChatID,
	}
	if t.LastBalance != nil {
		clone.LastBalance = new(big.Int).Set(t.LastBalance)
	}
	return clone
}

// AddressRecord 持久化的地址记录
type AddressRecord struct {
	Balance string `json:"balance"`           // 十进制字符串编码的余额，空字符串表示尚未采样
	ChatID  *int64 `json:"chat_id,omitempty"` // 绑定的会话ID
}

// StateDocument 持久化状态文档（单一JSON文档）
type StateDocument struct {
	Addresses map[string]AddressRecord `json:"addresses"`
	ChatIDs   []int64                  `json:"chat_ids"`
}

// NewStateDocument 创建空的状态文档
func NewStateDocument() *StateDocument {
	return &StateDocument{
		Addresses: make(map[string]AddressRecord),
		ChatIDs:   make([]int64, 0),
	}
}
