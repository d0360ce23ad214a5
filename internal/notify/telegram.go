package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramTimeout = 5 * time.Second

// Telegram delivers events to a Telegram chat via the bot API.
type Telegram struct {
	botToken   string
	chatID     string
	httpClient *http.Client
}

// NewTelegram creates a Telegram notifier. Returns nil if the token or chat
// ID is missing; callers should fall back to Nop.
func NewTelegram(botToken, chatID string) *Telegram {
	if botToken == "" || chatID == "" {
		return nil
	}
	return &Telegram{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: telegramTimeout},
	}
}

var kindEmoji = map[Kind]string{
	KindTradeExecuted: "💰",
	KindForcedExit:    "🚨",
	KindError:         "❌",
	KindStartup:       "🚀",
	KindShutdown:      "🛑",
}

// Notify sends one message. The hard request timeout keeps a slow Telegram
// API from ever stalling the trading loop.
func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	var b strings.Builder
	if emoji, ok := kindEmoji[ev.Kind]; ok {
		b.WriteString(emoji)
		b.WriteString(" ")
	}
	b.WriteString("<b>")
	b.WriteString(ev.Title)
	b.WriteString("</b>\n")
	b.WriteString(ev.Message)

	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", b.String())
	form.Set("parse_mode", "HTML")

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		var apiErr struct {
			Description string `json:"description"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Description != "" {
			return fmt.Errorf("telegram API: %s", apiErr.Description)
		}
		return fmt.Errorf("telegram API: status %d", resp.StatusCode)
	}
	return nil
}
