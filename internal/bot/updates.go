package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Update Telegram更新
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message Telegram消息
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
}

// Chat Telegram会话
type Chat struct {
	ID int64 `json:"id"`
}

// getUpdatesRequest getUpdates请求体
type getUpdatesRequest struct {
	Offset  int64 `json:"offset"`
	Timeout int   `json:"timeout"`
}

// getUpdatesResponse getUpdates响应
type getUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Result      []Update `json:"result"`
	ErrorCode   int      `json:"error_code,omitempty"`
	Description string   `json:"description,omitempty"`
}

// UpdatesClient Telegram getUpdates长轮询客户端
type UpdatesClient struct {
	logger      *logrus.Logger
	client      *http.Client
	baseURL     string
	token       string
	pollTimeout int
	offset      int64
}

// NewUpdatesClient 创建更新客户端
func NewUpdatesClient(baseURL, token string, pollTimeout int, logger *logrus.Logger) *UpdatesClient {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if pollTimeout <= 0 {
		pollTimeout = 30
	}

	return &UpdatesClient{
		logger:      logger,
		baseURL:     baseURL,
		token:       token,
		pollTimeout: pollTimeout,
		client: &http.Client{
			// HTTP超时必须大于长轮询超时，否则正常的空轮询会被误判为失败
			Timeout: time.Duration(pollTimeout+10) * time.Second,
		},
	}
}

// Poll 拉取一批更新，并推进offset确认已消费的更新
func (u *UpdatesClient) Poll(ctx context.Context) ([]Update, error) {
	body, err := json.Marshal(&getUpdatesRequest{
		Offset:  u.offset,
		Timeout: u.pollTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("序列化getUpdates请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/getUpdates", u.baseURL, u.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("构建getUpdates请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取getUpdates响应失败: %w", err)
	}

	var apiResp getUpdatesResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("解析getUpdates响应失败（HTTP %d）: %w", resp.StatusCode, err)
	}
	if !apiResp.OK {
		return nil, fmt.Errorf("getUpdates返回错误 %d: %s", apiResp.ErrorCode, apiResp.Description)
	}

	for _, update := range apiResp.Result {
		if update.UpdateID >= u.offset {
			u.offset = update.UpdateID + 1
		}
	}

	return apiResp.Result, nil
}
