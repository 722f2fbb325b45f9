package diagnose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// TextCompleter is the reasoning-service call the diagnosis needs.
// Satisfied by *Client; tests substitute a fake.
type TextCompleter interface {
	CreateMessage(ctx context.Context, prompt string) (string, error)
}

// Request carries the failure context handed to the model.
type Request struct {
	FunctionID   string
	EventName    string
	EventData    json.RawMessage
	ErrorMessage string
	ErrorType    string
	Stack        string
}

// Service orchestrates one diagnosis: build the prompt, call the model,
// parse the templated response.
type Service struct {
	client TextCompleter
	logger *zap.Logger
}

// NewService creates a new diagnosis service.
func NewService(client TextCompleter, logger *zap.Logger) *Service {
	return &Service{
		client: client,
		logger: logger,
	}
}

// Diagnose asks the model to analyze a failure and propose a corrected
// payload. It returns an error only when the reasoning-service call itself
// fails; a malformed response degrades to defaults and still succeeds.
func (s *Service) Diagnose(ctx context.Context, req Request) (*Result, error) {
	prompt := buildPrompt(req)

	text, err := s.client.CreateMessage(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("reasoning service call: %w", err)
	}

	result := ParseResponse(text)

	s.logger.Info("diagnosis complete",
		zap.String("function_id", req.FunctionID),
		zap.String("confidence", result.Confidence),
		zap.Bool("has_fix", result.FixedPayload != nil),
	)

	return result, nil
}

// buildPrompt renders the failure context into the fixed four-section
// instruction template the parser expects back.
func buildPrompt(req Request) string {
	payload := "null"
	if len(req.EventData) > 0 {
		if pretty, err := json.MarshalIndent(json.RawMessage(req.EventData), "", "  "); err == nil {
			payload = string(pretty)
		} else {
			payload = string(req.EventData)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are debugging an Inngest function failure.

Function ID: %s
Event Name: %s

Error Message: %s
Error Type: %s

Original Event Payload:
`+"```json\n%s\n```\n", req.FunctionID, req.EventName, req.ErrorMessage, req.ErrorType, payload)

	if req.Stack != "" {
		fmt.Fprintf(&b, "\nStack Trace:\n```\n%s\n```\n", req.Stack)
	}

	fmt.Fprintf(&b, `
Your task:
1. Identify what field(s) are missing or incorrect
2. Explain the root cause in simple terms
3. Provide a FIXED version of the event.data payload
4. Rate your confidence (low/medium/high)

Respond in this exact format:
ANALYSIS: [brief explanation of what went wrong]
ROOT_CAUSE: [why it happened]
CONFIDENCE: [low/medium/high]
FIXED_PAYLOAD:
`+"```json\n"+`{
  "name": "%s",
  "data": {
    [corrected data object here]
  }
}
`+"```\n", req.EventName)

	return b.String()
}
