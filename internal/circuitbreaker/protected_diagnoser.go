package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/diagnose"
)

// Diagnoser mirrors the ingest.Diagnoser interface to avoid circular imports.
type Diagnoser interface {
	Diagnose(ctx context.Context, req diagnose.Request) (*diagnose.Result, error)
}

// ProtectedDiagnoser wraps a Diagnoser with a CircuitBreaker.
// When the reasoning service starts failing (outage, auth, rate limits),
// the circuit opens and diagnosis calls fail fast instead of burning the
// request budget on a dead service. The caller treats the rejection like
// any other diagnostic error, so the record still reaches a terminal status.
type ProtectedDiagnoser struct {
	inner   Diagnoser
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedDiagnoser wraps a diagnoser with circuit breaker protection.
func NewProtectedDiagnoser(inner Diagnoser, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedDiagnoser {
	return &ProtectedDiagnoser{
		inner:   inner,
		breaker: breaker,
		logger:  logger,
	}
}

// Diagnose attempts a diagnosis through the circuit breaker.
// If the circuit is open, returns ErrCircuitOpen immediately (fail fast).
func (p *ProtectedDiagnoser) Diagnose(ctx context.Context, req diagnose.Request) (*diagnose.Result, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected diagnosis, failing fast",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("function_id", req.FunctionID),
			zap.String("state", p.breaker.GetState().String()),
		)
		return nil, fmt.Errorf("%w: reasoning service unavailable", ErrCircuitOpen)
	}

	result, err := p.inner.Diagnose(ctx, req)
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Debug("circuit breaker recorded failure",
			zap.String("breaker", p.breaker.config.Name),
			zap.Error(err),
		)
		return nil, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}

// Breaker returns the underlying circuit breaker for metrics/monitoring.
func (p *ProtectedDiagnoser) Breaker() *CircuitBreaker {
	return p.breaker
}
