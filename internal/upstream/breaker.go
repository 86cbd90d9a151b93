package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

// ErrCircuitOpen возвращается без обращения к сервису, пока breaker открыт.
var ErrCircuitOpen = fmt.Errorf("%w: circuit breaker is open", domain.ErrRemoteUnavailable)

// CircuitState: состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker размыкает цепь после maxFailures подряд неудачных вызовов
// и пропускает один пробный вызов по истечении resetTimeout.
// Ответ "не найдено" и отмена вызывающей стороной неудачей не считаются.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	probing     bool
}

// NewCircuitBreaker создаёт breaker для сервиса name.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}

	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		logger:       logger.WithField("upstream", name),
		now:          time.Now,
		state:        CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет fn через breaker.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	if err := cb.acquire(operation); err != nil {
		return err
	}

	err := fn()
	cb.record(operation, err)
	return err
}

func (cb *CircuitBreaker) acquire(operation string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.probing = true
		cb.logger.WithField("operation", operation).Info("Circuit breaker half-open")
	case CircuitHalfOpen:
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(operation string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	halfOpen := cb.state == CircuitHalfOpen
	cb.probing = false

	if countsAsFailure(err) {
		cb.failures++
		cb.lastFailure = cb.now()

		if halfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  cb.failures,
				}).Warn("Circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return
	}

	if halfOpen {
		if err != nil && !errors.Is(err, domain.ErrRemoteNotFound) {
			// Проба отменена вызывающей стороной: следующий вызов станет новой пробой.
			return
		}
		cb.logger.WithField("operation", operation).Info("Circuit breaker closed")
	}
	cb.state = CircuitClosed
	cb.failures = 0
}

func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrRemoteNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
