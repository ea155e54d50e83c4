/*
telegram.go - Telegram Bot API sender

PURPOSE:
  Implements Sender against the Telegram Bot API. Only two methods are
  used: sendMessage and editMessageText. Messages go out as Markdown;
  if Telegram rejects the markup, the send is retried as plain text so a
  formatting problem never costs a notification.

TIMEOUTS:
  Every call is bounded by the HTTP client timeout. A timeout counts as
  a delivery failure for that destination only; the engine logs it and
  moves on.

SEE ALSO:
  - engine.go: Caller
*/
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	baseURL string
	client  *http.Client
}

// NewTelegramSender creates a sender for the given bot token.
func NewTelegramSender(token string) *TelegramSender {
	return &TelegramSender{
		baseURL: fmt.Sprintf("%s/bot%s", telegramAPIBase, token),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// =============================================================================
// SENDER IMPLEMENTATION
// =============================================================================

// Send posts a new message and returns Telegram's message_id.
func (t *TelegramSender) Send(ctx context.Context, chatID int64, text string) (int64, error) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	result, err := t.call(ctx, "sendMessage", payload)
	if err != nil {
		// Fallback: strip the markup and retry as plain text.
		payload = map[string]any{
			"chat_id": chatID,
			"text":    stripMarkdown(text),
		}
		result, err = t.call(ctx, "sendMessage", payload)
		if err != nil {
			return 0, err
		}
	}

	return result.MessageID, nil
}

// Edit replaces the text of an existing message.
func (t *TelegramSender) Edit(ctx context.Context, chatID int64, messageID int64, text string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "Markdown",
	}

	_, err := t.call(ctx, "editMessageText", payload)
	return err
}

// =============================================================================
// TRANSPORT
// =============================================================================

type telegramResult struct {
	MessageID int64 `json:"message_id"`
}

type telegramResponse struct {
	OK          bool           `json:"ok"`
	Description string         `json:"description"`
	Result      telegramResult `json:"result"`
}

func (t *TelegramSender) call(ctx context.Context, method string, payload map[string]any) (telegramResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return telegramResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/%s", t.baseURL, method), bytes.NewReader(body))
	if err != nil {
		return telegramResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return telegramResult{}, fmt.Errorf("telegram %s: %w", method, err)
	}
	defer resp.Body.Close()

	var decoded telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return telegramResult{}, fmt.Errorf("telegram %s: decoding response: %w", method, err)
	}
	if !decoded.OK {
		return telegramResult{}, fmt.Errorf("telegram %s: %s", method, decoded.Description)
	}

	return decoded.Result, nil
}

func stripMarkdown(text string) string {
	r := strings.NewReplacer("*", "", "_", "")
	return r.Replace(text)
}
