package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const maxRetryAfter = time.Minute

// Retrier runs remote operations with a bounded exponential backoff
type Retrier struct {
	attempts int
	initial  time.Duration
	logger   *logrus.Logger
}

// NewRetrier creates a retrier making at most attempts calls per operation
func NewRetrier(attempts int, initial time.Duration, logger *logrus.Logger) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrier{attempts: attempts, initial: initial, logger: logger}
}

// Do runs op until it succeeds, fails permanently, or the attempts run out.
// Rate limited calls wait for the server requested delay before retrying.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initial
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(r.attempts-1)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		if wait := telegram.RetryAfter(err); wait > 0 && attempt < r.attempts {
			if wait > maxRetryAfter {
				wait = maxRetryAfter
			}
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			case <-time.After(wait):
			}
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		r.logger.WithFields(logrus.Fields{
			"operation": name,
			"attempt":   attempt,
			"retry_in":  next,
		}).WithError(err).Warn("Remote call failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		retryFailures.WithLabelValues(name).Inc()
		return err
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, models.ErrDuplicateSeason) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return telegram.IsTemporary(err)
}
