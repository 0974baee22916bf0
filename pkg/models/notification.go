package models

import (
	"math/big"
	"time"
)

// Notification 余额变动通知
type Notification struct {
	Address     string    // 发生变动的地址
	OldBalance  *big.Int  // 变动前余额（wei）
	NewBalance  *big.Int  // 变动后余额（wei）
	Delta       *big.Int  // 有符号差值 new - old
	BlockNumber uint64    // 触发本次扫描的区块高度
	Timestamp   time.Time // 检测到变动的时间
}

// NewNotification 创建余额变动通知
func NewNotification(address string, oldBalance, newBalance *big.Int, blockNumber uint64) *Notification {
	return &Notification{
		Address:     address,
		OldBalance:  new(big.Int).Set(oldBalance),
		NewBalance:  new(big.Int).Set(newBalance),
		Delta:       new(big.Int).Sub(newBalance, oldBalance),
		BlockNumber: blockNumber,
		Timestamp:   time.Now(),
	}
}

// Increased 余额是否增加
func (n *Notification) Increased() bool {
	return n.Delta.Sign() > 0
}

// NotificationMessage 通知的序列化形式（余额用十进制字符串，避免精度丢失）
type NotificationMessage struct {
	Address     string `json:"address"`
	OldBalance  string `json:"old_balance"`
	NewBalance  string `json:"new_balance"`
	Delta       string `json:"delta"`
	BlockNumber uint64 `json:"block_number"`
	Timestamp   string `json:"timestamp"`
}

// Wire 转换为序列化形式
func (n *Notification) Wire() *NotificationMessage {
	return &NotificationMessage{
		Address:     n.Address,
		OldBalance:  n.OldBalance.String(),
		NewBalance:  n.NewBalance.String(),
		Delta:       n.Delta.String(),
		BlockNumber: n.BlockNumber,
		Timestamp:   n.Timestamp.Format(time.RFC3339),
	}
}
