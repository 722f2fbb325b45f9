package diagnose

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// fakeCompleter returns a canned response and captures the prompt.
type fakeCompleter struct {
	response string
	err      error
	prompt   string
}

func (f *fakeCompleter) CreateMessage(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestDiagnoseSuccess(t *testing.T) {
	completer := &fakeCompleter{response: wellFormedResponse}
	svc := NewService(completer, zap.NewNop())

	result, err := svc.Diagnose(context.Background(), Request{
		FunctionID:   "sync-orders",
		EventName:    "order/created",
		EventData:    json.RawMessage(`{"order_id": 42}`),
		ErrorMessage: "cannot read undefined",
		ErrorType:    "TypeError",
	})
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}

	if result.Confidence != "high" {
		t.Errorf("expected confidence high, got %q", result.Confidence)
	}
	if result.FixedPayload == nil {
		t.Error("expected a fixed payload")
	}
}

func TestDiagnoseCallFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("connection refused")}
	svc := NewService(completer, zap.NewNop())

	_, err := svc.Diagnose(context.Background(), Request{FunctionID: "fn"})
	if err == nil {
		t.Fatal("expected error when the model call fails")
	}
	if !strings.Contains(err.Error(), "reasoning service call") {
		t.Errorf("expected wrapped call error, got %v", err)
	}
}

func TestDiagnoseMalformedResponseDegrades(t *testing.T) {
	completer := &fakeCompleter{response: "no structure here"}
	svc := NewService(completer, zap.NewNop())

	result, err := svc.Diagnose(context.Background(), Request{FunctionID: "fn"})
	if err != nil {
		t.Fatalf("malformed response must not fail the diagnosis: %v", err)
	}
	if result.Analysis != "Analysis failed" || result.FixedPayload != nil {
		t.Errorf("expected degraded defaults, got %+v", result)
	}
}

func TestBuildPromptIncludesContext(t *testing.T) {
	completer := &fakeCompleter{response: wellFormedResponse}
	svc := NewService(completer, zap.NewNop())

	_, err := svc.Diagnose(context.Background(), Request{
		FunctionID:   "sync-orders",
		EventName:    "order/created",
		EventData:    json.RawMessage(`{"order_id": 42}`),
		ErrorMessage: "cannot read undefined",
		ErrorType:    "TypeError",
		Stack:        "at sync.js:10",
	})
	if err != nil {
		t.Fatalf("Diagnose failed: %v", err)
	}

	for _, want := range []string{
		"Function ID: sync-orders",
		"Event Name: order/created",
		"Error Message: cannot read undefined",
		"Error Type: TypeError",
		"Stack Trace:",
		"ANALYSIS:",
		"ROOT_CAUSE:",
		"CONFIDENCE:",
		"FIXED_PAYLOAD:",
	} {
		if !strings.Contains(completer.prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPromptOmitsEmptyStack(t *testing.T) {
	prompt := buildPrompt(Request{FunctionID: "fn", EventName: "x"})

	if strings.Contains(prompt, "Stack Trace:") {
		t.Error("prompt should not include a stack section when none was captured")
	}
	if !strings.Contains(prompt, "null") {
		t.Error("missing payload should render as null")
	}
}
