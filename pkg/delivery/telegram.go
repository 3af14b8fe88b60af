// Package delivery holds the notification transports. The Telegram bot
// API is the only channel; failures are reported to the dispatcher per
// action, never as pipeline errors.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/healthguard-ai/platform/pkg/common/config"
	"github.com/healthguard-ai/platform/pkg/common/logger"
)

type TelegramClient struct {
	httpClient   *http.Client
	botToken     string
	chatID       string
	doctorChatID string
}

func NewTelegramClient(cfg *config.Config) *TelegramClient {
	return &TelegramClient{
		httpClient:   &http.Client{Timeout: cfg.TelegramTimeout},
		botToken:     cfg.TelegramBotToken,
		chatID:       cfg.TelegramChatID,
		doctorChatID: cfg.TelegramDoctorChatID,
	}
}

func (t *TelegramClient) SendMessage(ctx context.Context, text string) error {
	return t.send(ctx, t.chatID, text)
}

// SendDoctorMessage notifies the doctor channel; it falls back to the
// primary chat when no dedicated doctor chat is configured.
func (t *TelegramClient) SendDoctorMessage(ctx context.Context, text string) error {
	chatID := t.doctorChatID
	if chatID == "" {
		chatID = t.chatID
	}
	return t.send(ctx, chatID, text)
}

func (t *TelegramClient) send(ctx context.Context, chatID, text string) error {
	if t.botToken == "" || chatID == "" {
		return fmt.Errorf("telegram not configured")
	}

	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payloadBytes))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return t.do(req)
}

// SendAudio delivers a synthesized voice clip with a caption.
func (t *TelegramClient) SendAudio(ctx context.Context, caption string, audio []byte) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram not configured")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", t.chatID); err != nil {
		return err
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("audio", "alert.mp3")
	if err != nil {
		return err
	}
	if _, err := part.Write(audio); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendAudio", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return t.do(req)
}

func (t *TelegramClient) do(req *http.Request) error {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Log.WithFields(map[string]interface{}{
			"status": resp.StatusCode,
		}).Warn("telegram delivery rejected")
		return fmt.Errorf("telegram status %d: %s", resp.StatusCode, raw)
	}
	return nil
}
