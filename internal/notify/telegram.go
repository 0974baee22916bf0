package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"balwatch/internal/errors"

	"github.com/sirupsen/logrus"
)

// TelegramNotifier Telegram Bot API通知器
type TelegramNotifier struct {
	logger  *logrus.Logger
	client  *http.Client
	baseURL string
	token   string
}

// sendMessageRequest sendMessage请求体
type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

// apiResponse Telegram API响应
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewTelegramNotifier 创建Telegram通知器
func NewTelegramNotifier(baseURL, token string, logger *logrus.Logger) *TelegramNotifier {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		logger:  logger,
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send 向单个会话发送文本消息
func (t *TelegramNotifier) Send(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(&sendMessageRequest{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return errors.ErrDeliveryFailed.WithChatID(chatID).WithCause(err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.ErrDeliveryFailed.WithChatID(chatID).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.ErrDeliveryFailed.WithChatID(chatID).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.ErrDeliveryFailed.WithChatID(chatID).WithCause(err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return errors.ErrDeliveryFailed.WithChatID(chatID).WithCause(
			fmt.Errorf("解析API响应失败（HTTP %d）: %w", resp.StatusCode, err))
	}

	if !apiResp.OK {
		return errors.ErrDeliveryFailed.WithChatID(chatID).WithCause(
			fmt.Errorf("API返回错误 %d: %s", apiResp.ErrorCode, apiResp.Description))
	}

	t.logger.Debugf("消息已发送到会话 %d", chatID)
	return nil
}
