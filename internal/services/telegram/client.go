package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/amaumene/multimediabot/internal/config"
	"github.com/sirupsen/logrus"
)

const defaultAPIBase = "https://api.telegram.org"

// APIError is an error reported by the Bot API
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  int // seconds, set on 429
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("telegram %s failed (%d): %s, retry after %ds", e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("telegram %s failed (%d): %s", e.Method, e.Code, e.Description)
}

// Temporary reports whether retrying the same call may succeed
func (e *APIError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsNotModified reports whether an edit was rejected because nothing changed
func IsNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

// IsTemporary reports whether err is worth retrying. Network failures are
// treated as temporary, client errors (bad request, forbidden) are not.
func IsTemporary(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return err != nil && !errors.Is(err, context.Canceled)
}

// RetryAfter returns the server requested pause for rate limited calls
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// Client talks to the Telegram Bot API over HTTPS
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a new Bot API client
func NewClient(cfg *config.Config, logger *logrus.Logger) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = defaultAPIBase
	}

	return &Client{
		baseURL: baseURL,
		token:   cfg.BotToken,
		// long polling holds the connection for up to pollTimeout
		httpClient: &http.Client{Timeout: pollTimeout + 15*time.Second},
		logger:     logger,
	}, nil
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// call performs a Bot API method with a JSON payload
func (c *Client) call(ctx context.Context, method string, payload interface{}, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithField("method", method).Debug("Making Telegram API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: method, Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}

	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// GetMe returns the bot's own user
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	var me User
	if err := c.call(ctx, "getMe", struct{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// CopyOptions tweaks a copied message
type CopyOptions struct {
	Caption             *string
	ReplyMarkup         *InlineKeyboardMarkup
	DisableNotification bool
}

// CopyMessage copies a message by reference and returns the new message id
func (c *Client) CopyMessage(ctx context.Context, toChat, fromChat int64, messageID int, opts CopyOptions) (int, error) {
	payload := map[string]interface{}{
		"chat_id":      toChat,
		"from_chat_id": fromChat,
		"message_id":   messageID,
	}
	if opts.Caption != nil {
		payload["caption"] = *opts.Caption
	}
	if opts.ReplyMarkup != nil {
		payload["reply_markup"] = opts.ReplyMarkup
	}
	if opts.DisableNotification {
		payload["disable_notification"] = true
	}

	var result struct {
		MessageID int `json:"message_id"`
	}
	if err := c.call(ctx, "copyMessage", payload, &result); err != nil {
		return 0, err
	}
	return result.MessageID, nil
}

// SendText sends an HTML formatted text message
func (c *Client) SendText(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (int, error) {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendPhoto sends a photo given a file_id or an HTTP URL
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo, caption string, markup *InlineKeyboardMarkup) (int, error) {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"photo":      photo,
		"caption":    caption,
		"parse_mode": "HTML",
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}

	var msg Message
	if err := c.call(ctx, "sendPhoto", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditButtons replaces the inline keyboard of a message. Edits that change
// nothing are not errors.
func (c *Client) EditButtons(ctx context.Context, chatID int64, messageID int, markup *InlineKeyboardMarkup) error {
	if markup == nil {
		markup = &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{}}
	}
	payload := map[string]interface{}{
		"chat_id":      chatID,
		"message_id":   messageID,
		"reply_markup": markup,
	}
	err := c.call(ctx, "editMessageReplyMarkup", payload, nil)
	if IsNotModified(err) {
		return nil
	}
	return err
}

// EditText replaces the text (and optionally the keyboard) of a message
func (c *Client) EditText(ctx context.Context, chatID int64, messageID int, text string, markup *InlineKeyboardMarkup) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"message_id":               messageID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if markup != nil {
		payload["reply_markup"] = markup
	}
	err := c.call(ctx, "editMessageText", payload, nil)
	if IsNotModified(err) {
		return nil
	}
	return err
}

// DeleteMessage deletes a message
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	return c.call(ctx, "deleteMessage", payload, nil)
}

// AnswerCallback acknowledges a button press
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]interface{}{
		"callback_query_id": callbackID,
	}
	if text != "" {
		payload["text"] = text
	}
	return c.call(ctx, "answerCallbackQuery", payload, nil)
}
