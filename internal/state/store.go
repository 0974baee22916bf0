package state

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"balwatch/internal/errors"
	"balwatch/internal/validation"
	"balwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	// 默认状态文档路径
	DefaultStatePath = "./data/state.json"
)

// Store 状态存储：被监控地址与订阅会话的唯一持久化单元
// 所有变更在锁内完成并在持久化成功后才算生效
type Store struct {
	path   string
	logger *logrus.Logger
	mu     sync.Mutex

	// 内存状态
	addresses map[string]*models.TrackedAddress
	chatIDs   map[int64]struct{}
}

// NewStore 创建状态存储并加载已持久化的状态
// 文件不存在时返回空状态；文件存在但无法解析时返回CORRUPT_STATE错误
func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	if path == "" {
		path = DefaultStatePath
	}

	// 确保目录存在
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	store := &Store{
		path:      path,
		logger:    logger,
		addresses: make(map[string]*models.TrackedAddress),
		chatIDs:   make(map[int64]struct{}),
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	logger.Infof("状态存储已初始化，路径: %s，已跟踪地址: %d", path, len(store.addresses))
	return store, nil
}

// load 从磁盘加载状态文档
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			// 尚无持久化状态，使用空状态
			return nil
		}
		return errors.ErrCorruptState.WithCause(err)
	}

	var doc models.StateDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		// 文件存在但无法解析：不能静默以空状态运行
		return errors.ErrCorruptState.WithCause(err)
	}

	for addr, record := range doc.Addresses {
		normalized, err := validation.NormalizeAddress(addr)
		if err != nil {
			return errors.ErrCorruptState.WithCause(
				fmt.Errorf("状态文档包含非法地址 %q", addr))
		}

		tracked := &models.TrackedAddress{Address: normalized}
		if record.Balance != "" {
			balance, ok := new(big.Int).SetString(record.Balance, 10)
			if !ok {
				return errors.ErrCorruptState.WithCause(
					fmt.Errorf("地址 %s 的余额 %q 不是十进制整数", addr, record.Balance))
			}
			tracked.LastBalance = balance
		}
		if record.ChatID != nil {
			tracked.ChatID = *record.ChatID
		}
		s.addresses[normalized] = tracked
	}

	for _, id := range doc.ChatIDs {
		s.chatIDs[id] = struct{}{}
	}

	return nil
}

// document 构建当前状态的持久化文档（调用方需持有锁）
func (s *Store) document() *models.StateDocument {
	doc := models.NewStateDocument()

	for addr, tracked := range s.addresses {
		record := models.AddressRecord{}
		if tracked.LastBalance != nil {
			record.Balance = tracked.LastBalance.String()
		}
		if tracked.ChatID != 0 {
			chatID := tracked.ChatID
			record.ChatID = &chatID
		}
		doc.Addresses[addr] = record
	}

	for id := range s.chatIDs {
		doc.ChatIDs = append(doc.ChatIDs, id)
	}
	sort.Slice(doc.ChatIDs, func(i, j int) bool { return doc.ChatIDs[i] < doc.ChatIDs[j] })

	return doc
}

// persist 原子写入状态文档：写临时文件后rename，读者不会看到半写状态（调用方需持有锁）
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.document(), "", "  ")
	if err != nil {
		return errors.ErrStateWrite.WithCause(err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return errors.ErrStateWrite.WithCause(err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.ErrStateWrite.WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.ErrStateWrite.WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.ErrStateWrite.WithCause(err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return errors.ErrStateWrite.WithCause(err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errors.ErrStateWrite.WithCause(err)
	}

	return nil
}

// AddAddress 添加被监控地址（余额为未采样哨兵值）
func (s *Store) AddAddress(address string, chatID int64) (*models.TrackedAddress, error) {
	normalized, err := validation.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addresses[normalized]; exists {
		return nil, errors.ErrAlreadyTracked.WithAddress(normalized)
	}

	tracked := &models.TrackedAddress{
		Address: normalized,
		ChatID:  chatID,
	}
	s.addresses[normalized] = tracked

	if err := s.persist(); err != nil {
		// 持久化失败则回滚，变更视为未发生
		delete(s.addresses, normalized)
		return nil, err
	}

	s.logger.Infof("已添加监控地址: %s (chat: %d)", normalized, chatID)
	return tracked.Clone(), nil
}

// RemoveAddress 移除被监控地址
func (s *Store) RemoveAddress(address string) error {
	normalized, err := validation.NormalizeAddress(address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, exists := s.addresses[normalized]
	if !exists {
		return errors.ErrNotTracked.WithAddress(normalized)
	}

	delete(s.addresses, normalized)

	if err := s.persist(); err != nil {
		s.addresses[normalized] = tracked
		return err
	}

	s.logger.Infof("已移除监控地址: %s", normalized)
	return nil
}

// UpdateBalance 更新地址余额并持久化
// 地址已被并发移除时静默忽略，避免已删除地址被复活
func (s *Store) UpdateBalance(address string, newBalance *big.Int) error {
	normalized, err := validation.NormalizeAddress(address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, exists := s.addresses[normalized]
	if !exists {
		s.logger.Debugf("地址 %s 已不在监控列表，跳过余额更新", normalized)
		return nil
	}

	previous := tracked.LastBalance
	tracked.LastBalance = new(big.Int).Set(newBalance)

	if err := s.persist(); err != nil {
		tracked.LastBalance = previous
		return err
	}

	return nil
}

// Subscribe 注册默认通知会话，已存在时返回false
func (s *Store) Subscribe(chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chatIDs[chatID]; exists {
		return false, nil
	}

	s.chatIDs[chatID] = struct{}{}

	if err := s.persist(); err != nil {
		delete(s.chatIDs, chatID)
		return false, err
	}

	s.logger.Infof("已注册通知会话: %d", chatID)
	return true, nil
}

// Get 查询单个地址（接受任意大小写），返回副本
func (s *Store) Get(address string) (*models.TrackedAddress, bool) {
	normalized, err := validation.NormalizeAddress(address)
	if err != nil {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tracked, exists := s.addresses[normalized]
	if !exists {
		return nil, false
	}
	return tracked.Clone(), true
}

// List 返回全部被监控地址的副本（按地址排序）
func (s *Store) List() []*models.TrackedAddress {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := make([]*models.TrackedAddress, 0, len(s.addresses))
	for _, tracked := range s.addresses {
		list = append(list, tracked.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Address < list[j].Address })

	return list
}

// Subscribers 返回默认通知会话列表
func (s *Store) Subscribers() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.chatIDs))
	for id := range s.chatIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Count 返回被监控地址数量
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.addresses)
}

// Path 返回状态文档路径
func (s *Store) Path() string {
	return s.path
}
