package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a project or failure event does not exist.
// Callers that treat a miss as a normal condition (tenant resolution)
// branch on this instead of parsing error strings.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for projects and failure events
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreateProject inserts a new project
func (r *Repository) CreateProject(ctx context.Context, project *Project) error {
	query := `
		INSERT INTO projects (
			id, user_id, project_name, signing_key, event_key, alert_email
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		project.ID,
		project.UserID,
		project.ProjectName,
		project.SigningKey,
		project.EventKey,
		project.AlertEmail,
	).Scan(&project.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create project",
			zap.Error(err),
			zap.String("project_id", project.ID.String()),
		)
		return fmt.Errorf("insert project: %w", err)
	}

	r.logger.Info("project created",
		zap.String("project_id", project.ID.String()),
		zap.String("project_name", project.ProjectName),
	)

	return nil
}

// GetProject retrieves a project by ID
func (r *Repository) GetProject(ctx context.Context, id uuid.UUID) (*Project, error) {
	query := `
		SELECT id, user_id, project_name, signing_key, event_key, alert_email, created_at
		FROM projects
		WHERE id = $1
	`

	var project Project
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&project.ID,
		&project.UserID,
		&project.ProjectName,
		&project.SigningKey,
		&project.EventKey,
		&project.AlertEmail,
		&project.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	if err != nil {
		r.logger.Error("failed to get project",
			zap.Error(err),
			zap.String("project_id", id.String()),
		)
		return nil, fmt.Errorf("query project: %w", err)
	}

	return &project, nil
}

// LatestProject returns the most recently created project across all tenants.
// Used as the fallback when a webhook arrives without an explicit project id.
func (r *Repository) LatestProject(ctx context.Context) (*Project, error) {
	query := `
		SELECT id, user_id, project_name, signing_key, event_key, alert_email, created_at
		FROM projects
		ORDER BY created_at DESC
		LIMIT 1
	`

	var project Project
	err := r.db.Pool().QueryRow(ctx, query).Scan(
		&project.ID,
		&project.UserID,
		&project.ProjectName,
		&project.SigningKey,
		&project.EventKey,
		&project.AlertEmail,
		&project.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no projects registered: %w", ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("query latest project: %w", err)
	}

	return &project, nil
}

// ListProjects retrieves projects for a user, newest first
func (r *Repository) ListProjects(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Project, error) {
	query := `
		SELECT id, user_id, project_name, signing_key, event_key, alert_email, created_at
		FROM projects
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var project Project
		err := rows.Scan(
			&project.ID,
			&project.UserID,
			&project.ProjectName,
			&project.SigningKey,
			&project.EventKey,
			&project.AlertEmail,
			&project.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, &project)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return projects, nil
}

// DeleteProject removes a project and, via cascade, its failure events
func (r *Repository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}

	r.logger.Info("project deleted", zap.String("project_id", id.String()))

	return nil
}

// CreateFailureEvent inserts a failure record in pending status.
// The insert happens before diagnosis so a crash mid-diagnosis still
// leaves an auditable row.
func (r *Repository) CreateFailureEvent(ctx context.Context, event *FailureEvent) error {
	query := `
		INSERT INTO failure_events (
			id, project_id, user_id, event_id, function_id, run_id,
			error_message, original_payload, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		event.ID,
		event.ProjectID,
		event.UserID,
		event.EventID,
		event.FunctionID,
		event.RunID,
		event.ErrorMessage,
		event.OriginalPayload,
		event.Status,
	).Scan(&event.CreatedAt, &event.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create failure event",
			zap.Error(err),
			zap.String("failure_id", event.ID.String()),
		)
		return fmt.Errorf("insert failure event: %w", err)
	}

	r.logger.Info("failure event created",
		zap.String("failure_id", event.ID.String()),
		zap.String("project_id", event.ProjectID.String()),
		zap.String("function_id", event.FunctionID),
	)

	return nil
}

// UpdateFailureResult moves a failure event to a terminal status with
// the diagnosis outcome. Confidence is nullable: a reasoning-service
// call failure leaves it unset.
func (r *Repository) UpdateFailureResult(
	ctx context.Context,
	id uuid.UUID,
	fixedPayload json.RawMessage,
	analysis string,
	confidence *string,
	status string,
) error {
	query := `
		UPDATE failure_events
		SET fixed_payload = $1, ai_analysis = $2, fix_confidence = $3,
		    status = $4, updated_at = NOW()
		WHERE id = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, fixedPayload, analysis, confidence, status, id)
	if err != nil {
		r.logger.Error("failed to update failure result",
			zap.Error(err),
			zap.String("failure_id", id.String()),
		)
		return fmt.Errorf("update failure result: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("failure event %s: %w", id, ErrNotFound)
	}

	return nil
}

// GetFailureEvent retrieves a failure event by ID
func (r *Repository) GetFailureEvent(ctx context.Context, id uuid.UUID) (*FailureEvent, error) {
	query := `
		SELECT
			id, project_id, user_id, event_id, function_id, run_id,
			error_message, original_payload, fixed_payload, ai_analysis,
			fix_confidence, status, created_at, updated_at
		FROM failure_events
		WHERE id = $1
	`

	var event FailureEvent
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&event.ID,
		&event.ProjectID,
		&event.UserID,
		&event.EventID,
		&event.FunctionID,
		&event.RunID,
		&event.ErrorMessage,
		&event.OriginalPayload,
		&event.FixedPayload,
		&event.AIAnalysis,
		&event.FixConfidence,
		&event.Status,
		&event.CreatedAt,
		&event.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failure event %s: %w", id, ErrNotFound)
	}

	if err != nil {
		r.logger.Error("failed to get failure event",
			zap.Error(err),
			zap.String("failure_id", id.String()),
		)
		return nil, fmt.Errorf("query failure event: %w", err)
	}

	return &event, nil
}

// ListFailureEventsByProject retrieves failure events for a project with pagination
func (r *Repository) ListFailureEventsByProject(
	ctx context.Context,
	projectID uuid.UUID,
	limit int,
	offset int,
) ([]*FailureEvent, error) {
	query := `
		SELECT
			id, project_id, user_id, event_id, function_id, run_id,
			error_message, original_payload, fixed_payload, ai_analysis,
			fix_confidence, status, created_at, updated_at
		FROM failure_events
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query failure events: %w", err)
	}
	defer rows.Close()

	var events []*FailureEvent
	for rows.Next() {
		var event FailureEvent
		err := rows.Scan(
			&event.ID,
			&event.ProjectID,
			&event.UserID,
			&event.EventID,
			&event.FunctionID,
			&event.RunID,
			&event.ErrorMessage,
			&event.OriginalPayload,
			&event.FixedPayload,
			&event.AIAnalysis,
			&event.FixConfidence,
			&event.Status,
			&event.CreatedAt,
			&event.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failure event: %w", err)
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return events, nil
}

// ListStalePendingFailures returns records that have stayed pending longer
// than the cutoff. A healthy pipeline moves every record to a terminal
// status within its request; anything here was interrupted by a crash.
func (r *Repository) ListStalePendingFailures(ctx context.Context, olderThan time.Duration, limit int) ([]*FailureEvent, error) {
	query := `
		SELECT
			id, project_id, user_id, event_id, function_id, run_id,
			error_message, original_payload, fixed_payload, ai_analysis,
			fix_confidence, status, created_at, updated_at
		FROM failure_events
		WHERE status = 'pending' AND created_at < NOW() - $1::interval
		ORDER BY created_at ASC
		LIMIT $2
	`

	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))

	rows, err := r.db.Pool().Query(ctx, query, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale pending failures: %w", err)
	}
	defer rows.Close()

	var events []*FailureEvent
	for rows.Next() {
		var event FailureEvent
		err := rows.Scan(
			&event.ID,
			&event.ProjectID,
			&event.UserID,
			&event.EventID,
			&event.FunctionID,
			&event.RunID,
			&event.ErrorMessage,
			&event.OriginalPayload,
			&event.FixedPayload,
			&event.AIAnalysis,
			&event.FixConfidence,
			&event.Status,
			&event.CreatedAt,
			&event.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failure event: %w", err)
		}
		events = append(events, &event)
	}

	return events, nil
}
