package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Project is a registered tenant. The ingestion pipeline only reads
// projects; they are created and deleted through the management API.
type Project struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	ProjectName string    `json:"project_name"`
	SigningKey  *string   `json:"signing_key,omitempty"`
	EventKey    *string   `json:"event_key,omitempty"`
	AlertEmail  *string   `json:"alert_email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FailureEvent is one ingested function failure and its diagnosis.
type FailureEvent struct {
	ID              uuid.UUID       `json:"id"`
	ProjectID       uuid.UUID       `json:"project_id"`
	UserID          uuid.UUID       `json:"user_id"`
	EventID         string          `json:"event_id"`
	FunctionID      string          `json:"function_id"`
	RunID           string          `json:"run_id"`
	ErrorMessage    string          `json:"error_message"`
	OriginalPayload json.RawMessage `json:"original_payload"`
	FixedPayload    json.RawMessage `json:"fixed_payload,omitempty"`
	AIAnalysis      *string         `json:"ai_analysis,omitempty"`
	FixConfidence   *string         `json:"fix_confidence,omitempty"`
	Status          string          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Status constants. A record moves pending -> fixed or pending -> failed
// exactly once. Replayed is reserved for replay-with-fix and is never
// written by the ingestion pipeline.
const (
	StatusPending  = "pending"
	StatusFixed    = "fixed"
	StatusFailed   = "failed"
	StatusReplayed = "replayed"
)

// Confidence constants for FixConfidence
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)
