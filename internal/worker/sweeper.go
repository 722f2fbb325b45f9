// Package worker runs the background sweeper that recovers failure
// records stuck in pending status.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/db"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/diagnose"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/metrics"
)

// Repository is the subset of db operations the sweeper needs.
type Repository interface {
	ListStalePendingFailures(ctx context.Context, olderThan time.Duration, limit int) ([]*db.FailureEvent, error)
	UpdateFailureResult(ctx context.Context, id uuid.UUID, fixedPayload json.RawMessage, analysis string, confidence *string, status string) error
}

// Diagnoser produces a structured diagnosis for one failure.
type Diagnoser interface {
	Diagnose(ctx context.Context, req diagnose.Request) (*diagnose.Result, error)
}

// Sweeper periodically finds records that stayed pending past the cutoff
// (the process crashed between the pending insert and the terminal
// update) and re-runs their diagnosis. This keeps the invariant that no
// record is ever left pending, across restarts.
type Sweeper struct {
	repo      Repository
	diagnoser Diagnoser
	config    Config
	logger    *zap.Logger
}

type Config struct {
	Interval  time.Duration
	Cutoff    time.Duration
	BatchSize int
}

func New(repo Repository, diagnoser Diagnoser, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Cutoff == 0 {
		cfg.Cutoff = 5 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	return &Sweeper{
		repo:      repo,
		diagnoser: diagnoser,
		config:    cfg,
		logger:    logger,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	events, err := s.repo.ListStalePendingFailures(ctx, s.config.Cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.Error("failed to list stale pending failures", zap.Error(err))
		return
	}

	if len(events) == 0 {
		return
	}

	s.logger.Info("recovering stale pending records", zap.Int("count", len(events)))

	for _, event := range events {
		s.recover(ctx, event)
	}
}

// recover re-runs diagnosis for one interrupted record and moves it to a
// terminal status. A per-record failure does not stop the sweep.
func (s *Sweeper) recover(ctx context.Context, event *db.FailureEvent) {
	req, err := requestFromRecord(event)
	if err != nil {
		s.logger.Error("cannot rebuild diagnosis request",
			zap.Error(err),
			zap.String("failure_id", event.ID.String()),
		)
		analysis := fmt.Sprintf("AI analysis failed: %v", err)
		s.finalize(ctx, event.ID, nil, analysis, nil, db.StatusFailed)
		return
	}

	result, err := s.diagnoser.Diagnose(ctx, req)
	if err != nil {
		analysis := fmt.Sprintf("AI analysis failed: %v", err)
		s.finalize(ctx, event.ID, nil, analysis, nil, db.StatusFailed)
		return
	}

	status := db.StatusFailed
	if result.FixedPayload != nil {
		status = db.StatusFixed
	}
	analysis := fmt.Sprintf("%s\n\nRoot Cause: %s", result.Analysis, result.RootCause)
	confidence := result.Confidence

	s.finalize(ctx, event.ID, result.FixedPayload, analysis, &confidence, status)
}

func (s *Sweeper) finalize(ctx context.Context, id uuid.UUID, fixedPayload json.RawMessage, analysis string, confidence *string, status string) {
	if err := s.repo.UpdateFailureResult(ctx, id, fixedPayload, analysis, confidence, status); err != nil {
		s.logger.Error("failed to finalize swept record",
			zap.Error(err),
			zap.String("failure_id", id.String()),
		)
		return
	}

	metrics.RecordSweptRecord()
	s.logger.Info("stale pending record recovered",
		zap.String("failure_id", id.String()),
		zap.String("status", status),
	)
}

// requestFromRecord rebuilds the diagnosis request from the persisted
// original payload. The stored record does not keep the error type or
// stack, so those degrade to a generic type and no trace.
func requestFromRecord(event *db.FailureEvent) (diagnose.Request, error) {
	var original struct {
		Name string          `json:"name"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(event.OriginalPayload, &original); err != nil {
		return diagnose.Request{}, fmt.Errorf("unparsable original payload: %w", err)
	}

	return diagnose.Request{
		FunctionID:   event.FunctionID,
		EventName:    original.Name,
		EventData:    original.Data,
		ErrorMessage: event.ErrorMessage,
		ErrorType:    "Error",
	}, nil
}
