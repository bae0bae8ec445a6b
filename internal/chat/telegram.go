package chat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/browserpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxMessageLength is the Bot API limit for one text message, in UTF-16 code units.
// Splitting on runes keeps us safely under it for BMP text.
const maxMessageLength = 4096

// Update is the subset of a Telegram update the webhook acts on.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
	Voice     *Voice `json:"voice,omitempty"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Voice marks a voice note. Only its presence matters here.
type Voice struct {
	FileID string `json:"file_id"`
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// TelegramClient sends replies through the Bot API sendMessage method.
type TelegramClient struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewTelegramClient creates a sender. Telegram allows roughly thirty messages per
// second per bot, so the limiter is set a little below that.
func NewTelegramClient(cfg config.ServerConfig, logger *zap.Logger) *TelegramClient {
	return &TelegramClient{
		baseURL: strings.TrimRight(cfg.TelegramAPIBase, "/"),
		token:   cfg.TelegramToken,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		logger:  logger.Named("telegram"),
	}
}

// SendMessage delivers text to chatID, split into as many messages as the length
// limit requires.
func (c *TelegramClient) SendMessage(ctx context.Context, chatID int64, text string) error {
	if c.token == "" {
		return fmt.Errorf("telegram bot token is not configured")
	}
	for _, part := range splitMessage(text, maxMessageLength) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.send(ctx, sendMessageRequest{ChatID: chatID, Text: part}); err != nil {
			return err
		}
	}
	return nil
}

func (c *TelegramClient) send(ctx context.Context, msg sendMessageRequest) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode sendMessage request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sendMessage request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read sendMessage response: %w", err)
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("sendMessage returned status %d with an undecodable body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK {
		return fmt.Errorf("sendMessage failed with status %d: %s", resp.StatusCode, out.Description)
	}

	c.logger.Debug("Message sent.", zap.Int64("chat_id", msg.ChatID), zap.Int("length", len(msg.Text)))
	return nil
}

// splitMessage cuts text into chunks of at most limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i > limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
