/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/signature-relay/pkg/metrics"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that open the circuit.
	// Default: 5
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again.
	// Default: 2
	SuccessThreshold int
	// OpenTimeout is how long the circuit stays open before probing.
	// Default: 30s
	OpenTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calls to a failing sink until it had time to recover.
// In the half-open state a single probe is allowed at a time.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *zap.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	probing         bool
	lastStateChange time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}

	cb := &CircuitBreaker{
		name:   name,
		config: cfg,
		logger: logger.Named("circuit-breaker").With(zap.String("sink", name)),
		now:    time.Now,
	}
	cb.lastStateChange = cb.now()
	metrics.AuditCircuitBreakerState.WithLabelValues(name).Set(float64(CircuitClosed))
	return cb
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.allow() {
		metrics.AuditCircuitBreakerRejections.WithLabelValues(cb.name).Inc()
		return ErrCircuitOpen
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.config.OpenTimeout {
			return false
		}
		cb.transitionTo(CircuitHalfOpen)
		cb.probing = true
		return true
	default:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	}
}

// onFailure and onSuccess run with mu held.
func (cb *CircuitBreaker) onFailure() {
	cb.successes = 0
	cb.failures++
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failures = 0
	cb.successes++
	if cb.state == CircuitHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		cb.transitionTo(CircuitClosed)
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	if cb.state == state {
		return
	}
	from := cb.state
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0

	cb.logger.Info("circuit breaker state changed",
		zap.String("from", from.String()),
		zap.String("to", state.String()))
	metrics.AuditCircuitBreakerState.WithLabelValues(cb.name).Set(float64(state))
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerSink wraps a Sink with circuit breaker protection.
type CircuitBreakerSink struct {
	sink    Sink
	breaker *CircuitBreaker
}

// NewCircuitBreakerSink wraps a sink with circuit breaker protection.
func NewCircuitBreakerSink(sink Sink, cfg CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerSink {
	return &CircuitBreakerSink{
		sink:    sink,
		breaker: NewCircuitBreaker(sink.Name(), cfg, logger),
	}
}

// Write forwards the event while the circuit is closed or probing.
func (s *CircuitBreakerSink) Write(ctx context.Context, event *Event) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.sink.Write(ctx, event)
	})
}

// Close closes the underlying sink.
func (s *CircuitBreakerSink) Close() error {
	return s.sink.Close()
}

// Name returns the wrapped sink's name.
func (s *CircuitBreakerSink) Name() string {
	return s.sink.Name()
}

// State returns the breaker state.
func (s *CircuitBreakerSink) State() CircuitState {
	return s.breaker.State()
}
