// Package chat is the boundary to the chat front end. Consumers depend
// on Notifier; the Telegram Bot API implementation is the default.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier delivers a message to a chat session.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, html string) error
}

// Telegram sends messages through the Telegram Bot API with HTML
// formatting.
type Telegram struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Telegram notifier.
type Option func(*Telegram)

// WithBaseURL overrides the Bot API endpoint, used in tests.
func WithBaseURL(url string) Option {
	return func(t *Telegram) { t.baseURL = strings.TrimSuffix(url, "/") }
}

// NewTelegram creates a Telegram notifier with the given bot token.
func NewTelegram(token string, opts ...Option) *Telegram {
	t := &Telegram{
		baseURL: "https://api.telegram.org",
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SendMessage posts an HTML-formatted message to the chat.
func (t *Telegram) SendMessage(ctx context.Context, chatID int64, html string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id":    chatID,
		"text":       html,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
