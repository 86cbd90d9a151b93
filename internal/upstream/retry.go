package upstream

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

// RetryConfig задаёт повтор идемпотентных чтений у order- и product-service.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig: одна попытка, повторов нет.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	return c
}

// shouldRetry: повторяются только сбои транспорта. "Не найдено" и открытый
// breaker возвращаются сразу.
func shouldRetry(err error) bool {
	if errors.Is(err, domain.ErrRemoteNotFound) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, domain.ErrRemoteUnavailable)
}

// withRetry выполняет attempt до MaxAttempts раз с экспоненциальной паузой.
// Пауза прерывается отменой ctx; тогда возвращается последняя ошибка вызова.
func withRetry(ctx context.Context, cfg RetryConfig, logger *log.Entry, operation string, attempt func() error) error {
	delay := cfg.InitialDelay

	var err error
	for n := 1; n <= cfg.MaxAttempts; n++ {
		err = attempt()
		if err == nil || !shouldRetry(err) || n == cfg.MaxAttempts {
			return err
		}

		logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"attempt":   n,
			"delay":     delay,
		}).Debug("upstream call failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
