package progress

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/progress.db"

	// 存储桶名称
	ProgressBucket = "progress"

	// 进度键
	LastObservedHeightKey = "last_observed_height"
	StartTimeKey          = "start_time"
	LastSweepTimeKey      = "last_sweep_time"
	TotalSweepsKey        = "total_sweeps"
	TotalNotificationsKey = "total_notifications"
)

// SweepProgress 扫描进度信息
type SweepProgress struct {
	LastObservedHeight uint64    `json:"last_observed_height"` // 最后观察到的链高度
	StartTime          time.Time `json:"start_time"`
	LastSweepTime      time.Time `json:"last_sweep_time"`
	TotalSweeps        uint64    `json:"total_sweeps"`
	TotalNotifications uint64    `json:"total_notifications"`
	SweepRate          float64   `json:"sweep_rate"` // 扫描/小时
}

// Manager 扫描进度管理器：跨重启保留最后观察到的高度与统计计数
type Manager struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
	mu     sync.RWMutex

	// 内存缓存
	cache *SweepProgress
}

// NewManager 创建进度管理器
func NewManager(dbPath string, logger *logrus.Logger) (*Manager, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}

	// 确保目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	// 打开BoltDB数据库
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开进度数据库失败: %w", err)
	}

	manager := &Manager{
		db:     db,
		logger: logger,
		dbPath: dbPath,
		cache:  &SweepProgress{},
	}

	// 初始化数据库结构
	if err := manager.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	// 加载缓存
	if err := manager.loadCache(); err != nil {
		logger.Warnf("加载进度缓存失败: %v", err)
	}

	logger.Infof("进度管理器已初始化，数据库路径: %s", dbPath)
	return manager, nil
}

// initDB 初始化数据库结构
func (m *Manager) initDB() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ProgressBucket)); err != nil {
			return fmt.Errorf("创建进度存储桶失败: %w", err)
		}
		return nil
	})
}

// loadCache 加载缓存
func (m *Manager) loadCache() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ProgressBucket))
		if bucket == nil {
			return nil
		}

		if data := bucket.Get([]byte(LastObservedHeightKey)); data != nil {
			m.cache.LastObservedHeight = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(TotalSweepsKey)); data != nil {
			m.cache.TotalSweeps = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(TotalNotificationsKey)); data != nil {
			m.cache.TotalNotifications = binary.BigEndian.Uint64(data)
		}
		if data := bucket.Get([]byte(StartTimeKey)); data != nil {
			var startTime time.Time
			if err := json.Unmarshal(data, &startTime); err == nil {
				m.cache.StartTime = startTime
			}
		}
		if data := bucket.Get([]byte(LastSweepTimeKey)); data != nil {
			var lastSweepTime time.Time
			if err := json.Unmarshal(data, &lastSweepTime); err == nil {
				m.cache.LastSweepTime = lastSweepTime
			}
		}

		return nil
	})
}

// GetLastObservedHeight 获取最后观察到的链高度
// 重启后轮询循环用它避免把首个高度误判为高度变化
func (m *Manager) GetLastObservedHeight() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache.LastObservedHeight
}

// RecordSweep 记录一次扫描完成
func (m *Manager) RecordSweep(height uint64, notifications int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	// 更新缓存
	m.cache.LastObservedHeight = height
	m.cache.LastSweepTime = now
	m.cache.TotalSweeps++
	m.cache.TotalNotifications += uint64(notifications)

	if m.cache.StartTime.IsZero() {
		m.cache.StartTime = now
	}

	// 计算扫描速率
	duration := now.Sub(m.cache.StartTime).Hours()
	if duration > 0 {
		m.cache.SweepRate = float64(m.cache.TotalSweeps) / duration
	}

	// 持久化到数据库
	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ProgressBucket))
		if bucket == nil {
			return fmt.Errorf("进度存储桶不存在")
		}

		if err := putUint64(bucket, LastObservedHeightKey, height); err != nil {
			return fmt.Errorf("保存链高度失败: %w", err)
		}
		if err := putUint64(bucket, TotalSweepsKey, m.cache.TotalSweeps); err != nil {
			return fmt.Errorf("保存扫描计数失败: %w", err)
		}
		if err := putUint64(bucket, TotalNotificationsKey, m.cache.TotalNotifications); err != nil {
			return fmt.Errorf("保存通知计数失败: %w", err)
		}

		if startTimeData, err := json.Marshal(m.cache.StartTime); err == nil {
			bucket.Put([]byte(StartTimeKey), startTimeData)
		}
		if sweepTimeData, err := json.Marshal(now); err == nil {
			bucket.Put([]byte(LastSweepTimeKey), sweepTimeData)
		}

		return nil
	})
}

// putUint64 写入大端编码的uint64
func putUint64(bucket *bolt.Bucket, key string, value uint64) error {
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, value)
	return bucket.Put([]byte(key), data)
}

// GetProgress 获取进度信息副本
func (m *Manager) GetProgress() *SweepProgress {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &SweepProgress{
		LastObservedHeight: m.cache.LastObservedHeight,
		StartTime:          m.cache.StartTime,
		LastSweepTime:      m.cache.LastSweepTime,
		TotalSweeps:        m.cache.TotalSweeps,
		TotalNotifications: m.cache.TotalNotifications,
		SweepRate:          m.cache.SweepRate,
	}
}

// GetStats 获取统计信息
func (m *Manager) GetStats() map[string]interface{} {
	info := m.GetProgress()

	stats := map[string]interface{}{
		"last_observed_height": info.LastObservedHeight,
		"total_sweeps":         info.TotalSweeps,
		"total_notifications":  info.TotalNotifications,
		"sweep_rate":           fmt.Sprintf("%.2f sweeps/hour", info.SweepRate),
	}

	if !info.StartTime.IsZero() {
		stats["start_time"] = info.StartTime.Format(time.RFC3339)
		stats["running_duration"] = time.Since(info.StartTime).String()
	}
	if !info.LastSweepTime.IsZero() {
		stats["last_sweep_time"] = info.LastSweepTime.Format(time.RFC3339)
	}

	return stats
}

// Reset 重置进度
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache = &SweepProgress{}

	return m.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ProgressBucket))
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			return bucket.Delete(k)
		})
	})
}

// GetDBPath 获取数据库路径
func (m *Manager) GetDBPath() string {
	return m.dbPath
}

// Close 关闭进度管理器
func (m *Manager) Close() error {
	if m.db != nil {
		m.logger.Info("关闭进度管理器")
		return m.db.Close()
	}
	return nil
}
