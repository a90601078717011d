package telegram

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// pollTimeout is the long-polling wait passed to getUpdates
const pollTimeout = 50 * time.Second

// UpdateHandler receives every update fetched from the Bot API
type UpdateHandler func(update Update)

// GetUpdates fetches pending updates after offset, waiting up to timeout
func (c *Client) GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]Update, error) {
	payload := map[string]interface{}{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}

	var updates []Update
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SetWebhook registers url as the update destination. Telegram echoes
// secret in the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	payload := map[string]interface{}{
		"url":             url,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if secret != "" {
		payload["secret_token"] = secret
	}
	return c.call(ctx, "setWebhook", payload, nil)
}

// DeleteWebhook removes any registered webhook so getUpdates can be used
func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]interface{}{}, nil)
}

// Poller drives a long-polling getUpdates loop
type Poller struct {
	client  *Client
	handler UpdateHandler
	logger  *logrus.Logger
	timeout time.Duration
}

// NewPoller creates a new poller delivering updates to handler
func NewPoller(client *Client, handler UpdateHandler, logger *logrus.Logger) *Poller {
	return &Poller{
		client:  client,
		handler: handler,
		logger:  logger,
		timeout: pollTimeout,
	}
}

// Run polls until ctx is cancelled. Failed polls are retried with an
// exponential backoff that resets after every successful poll.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.client.DeleteWebhook(ctx); err != nil {
		p.logger.WithError(err).Warn("Failed to delete webhook before polling")
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	offset := 0
	p.logger.Info("Started polling for updates")

	for {
		if ctx.Err() != nil {
			p.logger.Info("Stopped polling for updates")
			return nil
		}

		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			wait := RetryAfter(err)
			if wait == 0 {
				wait = bo.NextBackOff()
			}
			p.logger.WithError(err).WithField("retry_in", wait).Warn("Failed to fetch updates")
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			p.handler(update)
		}
	}
}
