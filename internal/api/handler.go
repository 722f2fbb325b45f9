package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/db"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/ingest"
)

// SignatureHeader carries the webhook signature in t=...&s=... format.
const SignatureHeader = "x-inngest-signature"

// Repository defines the database operations the API handlers need
type Repository interface {
	CreateProject(ctx context.Context, project *db.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*db.Project, error)
	ListProjects(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*db.Project, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error
	GetFailureEvent(ctx context.Context, id uuid.UUID) (*db.FailureEvent, error)
	ListFailureEventsByProject(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]*db.FailureEvent, error)
}

// WebhookResponse is returned after a batch is accepted. Per-item
// failures are internal, logged outcomes and do not affect the response.
type WebhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ProjectRequest represents the incoming project creation body
type ProjectRequest struct {
	UserID      string  `json:"user_id"`
	ProjectName string  `json:"project_name"`
	SigningKey  *string `json:"signing_key,omitempty"`
	EventKey    *string `json:"event_key,omitempty"`
	AlertEmail  *string `json:"alert_email,omitempty"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	repo     Repository
	pipeline *ingest.Pipeline
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, pipeline *ingest.Pipeline) *Handler {
	return &Handler{
		logger:   logger,
		repo:     repo,
		pipeline: pipeline,
	}
}

// HandleWebhook handles POST /api/webhook/inngest?project_id=xxx
// The body is a single notification object or an array of them, in any
// of the historical wire shapes. Item-level failures are isolated: the
// response is 200 as long as the batch itself parsed.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body", err.Error())
		return
	}

	items, err := splitBatch(rawBody)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	projectID := r.URL.Query().Get("project_id")
	signature := r.Header.Get(SignatureHeader)

	h.logger.Info("webhook batch received",
		zap.String("project_id", orAll(projectID)),
		zap.Int("items", len(items)),
		zap.Bool("signed", signature != ""),
	)

	results := h.pipeline.ProcessBatch(ctx, projectID, rawBody, signature, items)

	var processed, skipped, failed int
	for _, result := range results {
		switch result.Outcome {
		case ingest.OutcomeProcessed:
			processed++
		case ingest.OutcomeSkipped:
			skipped++
		default:
			failed++
		}
	}

	h.logger.Info("webhook batch complete",
		zap.Int("processed", processed),
		zap.Int("skipped", skipped),
		zap.Int("errors", failed),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(WebhookResponse{
		Success: true,
		Message: fmt.Sprintf("processed %d event(s)", len(items)),
	})
}

// splitBatch turns the raw body into individual notification objects.
// A single object becomes a one-item batch. Anything that is not a JSON
// object or array of objects is a client error.
func splitBatch(rawBody []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(rawBody)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		if !json.Valid(trimmed) {
			return nil, errors.New("invalid JSON object")
		}
		return []json.RawMessage{trimmed}, nil
	default:
		return nil, errors.New("body must be a JSON object or array")
	}
}

func orAll(projectID string) string {
	if projectID == "" {
		return ingest.ProjectAll
	}
	return projectID
}

// GetFailure handles GET /v1/failures/{id}
// The optional user_id query parameter restricts the lookup to the
// owning user (the dashboard's read path).
func (h *Handler) GetFailure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	failureID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid failure ID", "ID must be a valid UUID")
		return
	}

	event, err := h.repo.GetFailureEvent(ctx, failureID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Failure record not found", "")
			return
		}
		h.logger.Error("failed to get failure record",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get failure record", "")
		return
	}

	if userIDStr := r.URL.Query().Get("user_id"); userIDStr != "" {
		userID, err := uuid.Parse(userIDStr)
		if err != nil || event.UserID != userID {
			h.writeError(w, http.StatusNotFound, "not_found", "Failure record not found", "")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(event)
}

// ListFailures handles GET /v1/failures?project_id=xxx&limit=20&offset=0
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projectIDStr := r.URL.Query().Get("project_id")
	if projectIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing project_id", "project_id query parameter is required")
		return
	}

	projectID, err := uuid.Parse(projectIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid project_id", "project_id must be a valid UUID")
		return
	}

	limit, offset := pagination(r)

	events, err := h.repo.ListFailureEventsByProject(ctx, projectID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list failure records",
			zap.Error(err),
			zap.String("project_id", projectIDStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list failure records", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   events,
		"limit":  limit,
		"offset": offset,
		"count":  len(events),
	})
}

// CreateProject handles POST /v1/projects
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" || req.ProjectName == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and project_name are required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	project := &db.Project{
		ID:          uuid.New(),
		UserID:      userID,
		ProjectName: req.ProjectName,
		SigningKey:  req.SigningKey,
		EventKey:    req.EventKey,
		AlertEmail:  req.AlertEmail,
	}

	if err := h.repo.CreateProject(ctx, project); err != nil {
		h.logger.Error("failed to create project",
			zap.Error(err),
			zap.String("project_name", req.ProjectName),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to create project", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(project)
}

// GetProject handles GET /v1/projects/{id}
func (h *Handler) GetProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	projectID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid project ID", "ID must be a valid UUID")
		return
	}

	project, err := h.repo.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Project not found", "")
			return
		}
		h.logger.Error("failed to get project",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get project", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(project)
}

// ListProjects handles GET /v1/projects?user_id=xxx&limit=20&offset=0
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userIDStr := r.URL.Query().Get("user_id")
	if userIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id query parameter is required")
		return
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid user_id", "user_id must be a valid UUID")
		return
	}

	limit, offset := pagination(r)

	projects, err := h.repo.ListProjects(ctx, userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list projects",
			zap.Error(err),
			zap.String("user_id", userIDStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list projects", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   projects,
		"limit":  limit,
		"offset": offset,
		"count":  len(projects),
	})
}

// DeleteProject handles DELETE /v1/projects/{id}
func (h *Handler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	projectID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid project ID", "ID must be a valid UUID")
		return
	}

	if err := h.repo.DeleteProject(ctx, projectID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Project not found", "")
			return
		}
		h.logger.Error("failed to delete project",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to delete project", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pagination parses limit/offset query parameters with defaults
func pagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	return limit, offset
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
