package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/db"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/diagnose"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/metrics"
)

// ProjectAll is the sentinel project id meaning "no explicit tenant";
// resolution falls back to the most recently created project.
const ProjectAll = "all"

// Repository is the subset of db operations the pipeline needs.
type Repository interface {
	GetProject(ctx context.Context, id uuid.UUID) (*db.Project, error)
	LatestProject(ctx context.Context) (*db.Project, error)
	CreateFailureEvent(ctx context.Context, event *db.FailureEvent) error
	UpdateFailureResult(ctx context.Context, id uuid.UUID, fixedPayload json.RawMessage, analysis string, confidence *string, status string) error
}

// Diagnoser produces a structured diagnosis for one failure.
type Diagnoser interface {
	Diagnose(ctx context.Context, req diagnose.Request) (*diagnose.Result, error)
}

// Alerter is notified after a record reaches a terminal status.
// Implementations must not fail the pipeline.
type Alerter interface {
	FailureDiagnosed(ctx context.Context, project *db.Project, event *db.FailureEvent)
}

// Outcome classifies what happened to one batch item.
type Outcome string

const (
	// OutcomeProcessed: a record was created and reached a terminal status.
	OutcomeProcessed Outcome = "processed"
	// OutcomeSkipped: no record was created, by design (non-failure event,
	// invalid notification, no project, bad signature).
	OutcomeSkipped Outcome = "skipped"
	// OutcomeError: an infrastructure failure prevented record creation.
	OutcomeError Outcome = "error"
)

// ItemResult is the per-item outcome collected for the whole batch.
// Per-item failures never abort sibling processing.
type ItemResult struct {
	Index     int
	Outcome   Outcome
	Reason    string
	FailureID uuid.UUID // zero when no record was created
	Status    string    // terminal status when processed
}

// Pipeline runs the failure-ingestion flow for webhook batches.
type Pipeline struct {
	repo      Repository
	diagnoser Diagnoser
	alerter   Alerter // nil when alerts are not configured
	logger    *zap.Logger
}

// New creates a new ingestion pipeline.
func New(repo Repository, diagnoser Diagnoser, alerter Alerter, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		repo:      repo,
		diagnoser: diagnoser,
		alerter:   alerter,
		logger:    logger,
	}
}

// ProcessBatch runs each notification in the batch through the pipeline,
// sequentially and in order. rawBody is the unparsed request body the
// signature was computed over; projectID pins the tenant ("" or "all"
// falls back to the latest project).
func (p *Pipeline) ProcessBatch(
	ctx context.Context,
	projectID string,
	rawBody []byte,
	signatureHeader string,
	items []json.RawMessage,
) []ItemResult {
	results := make([]ItemResult, 0, len(items))

	for i, item := range items {
		result := p.processItem(ctx, projectID, rawBody, signatureHeader, item)
		result.Index = i
		metrics.RecordWebhookItem(string(result.Outcome))
		results = append(results, result)
	}

	return results
}

func (p *Pipeline) processItem(
	ctx context.Context,
	projectID string,
	rawBody []byte,
	signatureHeader string,
	raw json.RawMessage,
) ItemResult {
	notif, err := Normalize(raw)
	if err != nil {
		if errors.Is(err, ErrNotFailure) {
			p.logger.Debug("skipping non-failure event")
			return ItemResult{Outcome: OutcomeSkipped, Reason: "not a failure event"}
		}
		p.logger.Warn("skipping invalid notification", zap.Error(err))
		return ItemResult{Outcome: OutcomeSkipped, Reason: err.Error()}
	}

	project, err := p.resolveProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			p.logger.Warn("skipping notification: no project available",
				zap.String("function_id", notif.FunctionID),
			)
			return ItemResult{Outcome: OutcomeSkipped, Reason: "no project available"}
		}
		p.logger.Error("project lookup failed", zap.Error(err))
		return ItemResult{Outcome: OutcomeError, Reason: "project lookup failed"}
	}

	signingKey := ""
	if project.SigningKey != nil {
		signingKey = *project.SigningKey
	}
	if !VerifySignature(signingKey, rawBody, signatureHeader) {
		p.logger.Warn("skipping notification: invalid signature",
			zap.String("project_id", project.ID.String()),
			zap.String("function_id", notif.FunctionID),
		)
		return ItemResult{Outcome: OutcomeSkipped, Reason: "invalid signature"}
	}

	eventID := notif.Event.ID
	if eventID == "" {
		eventID = "gen_" + uuid.NewString()[:8]
	}

	originalPayload, err := json.Marshal(notif.Event)
	if err != nil {
		p.logger.Error("failed to marshal original event", zap.Error(err))
		return ItemResult{Outcome: OutcomeError, Reason: "marshal original event"}
	}

	event := &db.FailureEvent{
		ID:              uuid.New(),
		ProjectID:       project.ID,
		UserID:          project.UserID,
		EventID:         eventID,
		FunctionID:      notif.FunctionID,
		RunID:           notif.RunID,
		ErrorMessage:    notif.Error.Message,
		OriginalPayload: originalPayload,
		Status:          db.StatusPending,
	}

	// Durability first: the pending row must exist before diagnosis so a
	// crash mid-diagnosis still leaves an auditable record.
	if err := p.repo.CreateFailureEvent(ctx, event); err != nil {
		p.logger.Error("failed to persist pending failure",
			zap.Error(err),
			zap.String("function_id", notif.FunctionID),
		)
		return ItemResult{Outcome: OutcomeError, Reason: "persistence failed"}
	}

	status := p.diagnoseAndFinalize(ctx, event, diagnose.Request{
		FunctionID:   notif.FunctionID,
		EventName:    notif.Event.Name,
		EventData:    notif.Event.Data,
		ErrorMessage: notif.Error.Message,
		ErrorType:    notif.Error.Name,
		Stack:        notif.Error.Stack,
	})

	if p.alerter != nil {
		p.alerter.FailureDiagnosed(ctx, project, event)
	}

	return ItemResult{
		Outcome:   OutcomeProcessed,
		FailureID: event.ID,
		Status:    status,
	}
}

// diagnoseAndFinalize runs the diagnosis and moves the record to a
// terminal status no matter what happened. The record is mutated in place
// so callers (and alerts) see the final state.
func (p *Pipeline) diagnoseAndFinalize(ctx context.Context, event *db.FailureEvent, req diagnose.Request) string {
	start := time.Now()
	result, err := p.diagnoser.Diagnose(ctx, req)
	if err != nil {
		analysis := fmt.Sprintf("AI analysis failed: %v", err)
		p.finalize(ctx, event, nil, analysis, nil, db.StatusFailed)
		metrics.RecordDiagnosis(db.StatusFailed, "", time.Since(start))
		return db.StatusFailed
	}

	status := db.StatusFailed
	if result.FixedPayload != nil {
		status = db.StatusFixed
	}

	analysis := fmt.Sprintf("%s\n\nRoot Cause: %s", result.Analysis, result.RootCause)
	confidence := result.Confidence

	p.finalize(ctx, event, result.FixedPayload, analysis, &confidence, status)
	metrics.RecordDiagnosis(status, confidence, time.Since(start))
	return status
}

func (p *Pipeline) finalize(ctx context.Context, event *db.FailureEvent, fixedPayload json.RawMessage, analysis string, confidence *string, status string) {
	if err := p.repo.UpdateFailureResult(ctx, event.ID, fixedPayload, analysis, confidence, status); err != nil {
		// The record stays pending in the store; the sweeper picks it up.
		p.logger.Error("failed to finalize failure record",
			zap.Error(err),
			zap.String("failure_id", event.ID.String()),
		)
		return
	}

	event.FixedPayload = fixedPayload
	event.AIAnalysis = &analysis
	event.FixConfidence = confidence
	event.Status = status

	p.logger.Info("failure record finalized",
		zap.String("failure_id", event.ID.String()),
		zap.String("status", status),
	)
}

// resolveProject maps an optional explicit project id to exactly one
// project. Absent or "all" falls back to the most recently created
// project across the whole store.
func (p *Pipeline) resolveProject(ctx context.Context, projectID string) (*db.Project, error) {
	if projectID == "" || projectID == ProjectAll {
		return p.repo.LatestProject(ctx)
	}

	id, err := uuid.Parse(projectID)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", projectID, db.ErrNotFound)
	}

	return p.repo.GetProject(ctx, id)
}
