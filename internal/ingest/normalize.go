// Package ingest implements the failure-ingestion pipeline: it normalizes
// webhook payloads across the wire shapes Inngest has used over time,
// verifies per-project signatures, persists a pending failure record and
// drives the diagnosis to a terminal status.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFailure marks an event that parsed fine but is not a function
// failure. These are skipped silently.
var ErrNotFailure = errors.New("not a failure event")

// ErrInvalid marks a failure event missing required fields. The item is
// skipped with a logged reason; siblings in the batch are unaffected.
var ErrInvalid = errors.New("invalid failure notification")

// failureAliases are the discriminator spellings producers have used for
// function failures. The literal set matters: different Inngest versions
// emit different names for the same event.
var failureAliases = map[string]bool{
	"function/failed":         true,
	"function.failed":         true,
	"inngest/function.failed": true,
}

// Event is the original event that triggered the failed run.
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"ts"`
}

// FailureError describes the error the failed function threw.
type FailureError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Notification is the canonical internal record every wire shape reduces
// to. The rest of the pipeline never sees the original shapes.
type Notification struct {
	EventType  string
	FunctionID string
	RunID      string
	Event      Event
	Error      FailureError
}

// wirePayload covers every historical webhook shape at once. Fields that
// changed position between versions appear both at the top level and in
// the envelope; extraction falls back in a fixed order.
type wirePayload struct {
	Name       string          `json:"name"`
	Event      json.RawMessage `json:"event"` // legacy: a string discriminator
	Data       json.RawMessage `json:"data"`
	EventData  json.RawMessage `json:"event_data"`
	FunctionID string          `json:"function_id"`
	RunID      string          `json:"run_id"`
}

// envelope is the payload body holding the triggering event and error.
type envelope struct {
	Event      json.RawMessage `json:"event"`
	Error      json.RawMessage `json:"error"`
	FunctionID string          `json:"function_id"`
	RunID      string          `json:"run_id"`
}

// Normalize reduces a raw webhook object of unknown shape to the canonical
// Notification. It returns ErrNotFailure for events that should be skipped
// silently and ErrInvalid (with a reason) for failure events missing
// required fields.
func Normalize(raw json.RawMessage) (*Notification, error) {
	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: unparsable object: %v", ErrInvalid, err)
	}

	// Discriminator: top-level "name", falling back to a top-level
	// "event" holding a string (the oldest shape).
	eventType := w.Name
	if eventType == "" && len(w.Event) > 0 {
		var s string
		if err := json.Unmarshal(w.Event, &s); err == nil {
			eventType = s
		}
	}

	if !failureAliases[eventType] {
		return nil, ErrNotFailure
	}

	// Envelope: "data", falling back to "event_data".
	env := w.Data
	if isEmptyJSON(env) {
		env = w.EventData
	}

	var body envelope
	if !isEmptyJSON(env) {
		if err := json.Unmarshal(env, &body); err != nil {
			return nil, fmt.Errorf("%w: unparsable envelope: %v", ErrInvalid, err)
		}
	}

	functionID := w.FunctionID
	if functionID == "" {
		functionID = body.FunctionID
	}
	runID := w.RunID
	if runID == "" {
		runID = body.RunID
	}

	var missing []string
	if functionID == "" {
		missing = append(missing, "function_id")
	}
	if runID == "" {
		missing = append(missing, "run_id")
	}
	if isEmptyJSON(body.Event) {
		missing = append(missing, "event")
	}
	if isEmptyJSON(body.Error) {
		missing = append(missing, "error")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}

	notif := &Notification{
		EventType:  eventType,
		FunctionID: functionID,
		RunID:      runID,
	}
	if err := json.Unmarshal(body.Event, &notif.Event); err != nil {
		return nil, fmt.Errorf("%w: unparsable event: %v", ErrInvalid, err)
	}
	if err := json.Unmarshal(body.Error, &notif.Error); err != nil {
		return nil, fmt.Errorf("%w: unparsable error: %v", ErrInvalid, err)
	}

	return notif, nil
}

// isEmptyJSON reports whether a raw value is absent, null, or blank.
func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
