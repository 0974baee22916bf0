package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"balwatch/pkg/models"

	"github.com/sirupsen/logrus"
)

// JournalSink 将通知以JSON行的形式追加到本地流水文件
type JournalSink struct {
	logger *logrus.Logger
	path   string
	file   *os.File
	mu     sync.Mutex
}

// NewJournalSink 创建通知流水输出
func NewJournalSink(path string, logger *logrus.Logger) (*JournalSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建流水目录失败: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开流水文件失败: %w", err)
	}

	logger.Infof("通知流水已启用: %s", path)

	return &JournalSink{
		logger: logger,
		path:   path,
		file:   file,
	}, nil
}

// Publish 追加一条通知记录
func (j *JournalSink) Publish(notification *models.Notification) error {
	if notification == nil {
		return nil
	}

	jsonData, err := json.Marshal(notification.Wire())
	if err != nil {
		return fmt.Errorf("序列化通知失败: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("写入流水文件失败: %w", err)
	}

	return nil
}

// Close 关闭流水文件
func (j *JournalSink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		return j.file.Close()
	}
	return nil
}
