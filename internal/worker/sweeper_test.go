package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/db"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/diagnose"
)

type mockRepo struct {
	stale   []*db.FailureEvent
	listErr error

	updates map[string]string // failure id -> terminal status
}

func newMockRepo() *mockRepo {
	return &mockRepo{updates: make(map[string]string)}
}

func (m *mockRepo) ListStalePendingFailures(ctx context.Context, olderThan time.Duration, limit int) ([]*db.FailureEvent, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.stale, nil
}

func (m *mockRepo) UpdateFailureResult(ctx context.Context, id uuid.UUID, fixedPayload json.RawMessage, analysis string, confidence *string, status string) error {
	m.updates[id.String()] = status
	return nil
}

type mockDiagnoser struct {
	result *diagnose.Result
	err    error
	reqs   []diagnose.Request
}

func (m *mockDiagnoser) Diagnose(ctx context.Context, req diagnose.Request) (*diagnose.Result, error) {
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func staleEvent() *db.FailureEvent {
	return &db.FailureEvent{
		ID:              uuid.New(),
		ProjectID:       uuid.New(),
		UserID:          uuid.New(),
		EventID:         "evt_1",
		FunctionID:      "sync-orders",
		RunID:           "run_1",
		ErrorMessage:    "cannot read undefined",
		OriginalPayload: json.RawMessage(`{"id": "evt_1", "name": "order/created", "data": {"order_id": 42}}`),
		Status:          db.StatusPending,
		CreatedAt:       time.Now().Add(-10 * time.Minute),
	}
}

func TestSweepRecoversStaleRecord(t *testing.T) {
	repo := newMockRepo()
	event := staleEvent()
	repo.stale = []*db.FailureEvent{event}

	diagnoser := &mockDiagnoser{result: &diagnose.Result{
		Analysis:     "missing field",
		RootCause:    "schema drift",
		Confidence:   "medium",
		FixedPayload: json.RawMessage(`{"order_id": 42}`),
	}}

	s := New(repo, diagnoser, Config{}, zap.NewNop())
	s.sweep(context.Background())

	if status := repo.updates[event.ID.String()]; status != db.StatusFixed {
		t.Errorf("expected record moved to fixed, got %q", status)
	}
	if len(diagnoser.reqs) != 1 {
		t.Fatalf("expected one diagnosis, got %d", len(diagnoser.reqs))
	}

	req := diagnoser.reqs[0]
	if req.FunctionID != "sync-orders" || req.EventName != "order/created" {
		t.Errorf("request not rebuilt from record: %+v", req)
	}
}

func TestSweepDiagnosisErrorMarksFailed(t *testing.T) {
	repo := newMockRepo()
	event := staleEvent()
	repo.stale = []*db.FailureEvent{event}

	diagnoser := &mockDiagnoser{err: errors.New("circuit breaker is open")}

	s := New(repo, diagnoser, Config{}, zap.NewNop())
	s.sweep(context.Background())

	if status := repo.updates[event.ID.String()]; status != db.StatusFailed {
		t.Errorf("expected record moved to failed, got %q", status)
	}
}

func TestSweepUnparsablePayloadMarksFailed(t *testing.T) {
	repo := newMockRepo()
	event := staleEvent()
	event.OriginalPayload = json.RawMessage(`not json`)
	repo.stale = []*db.FailureEvent{event}

	diagnoser := &mockDiagnoser{}

	s := New(repo, diagnoser, Config{}, zap.NewNop())
	s.sweep(context.Background())

	if status := repo.updates[event.ID.String()]; status != db.StatusFailed {
		t.Errorf("expected record moved to failed, got %q", status)
	}
	if len(diagnoser.reqs) != 0 {
		t.Errorf("diagnosis should not run for an unparsable record")
	}
}

func TestSweepPerRecordIsolation(t *testing.T) {
	repo := newMockRepo()
	bad := staleEvent()
	bad.OriginalPayload = json.RawMessage(`broken`)
	good := staleEvent()
	repo.stale = []*db.FailureEvent{bad, good}

	diagnoser := &mockDiagnoser{result: &diagnose.Result{
		Analysis:   "ok",
		RootCause:  "x",
		Confidence: "low",
	}}

	s := New(repo, diagnoser, Config{}, zap.NewNop())
	s.sweep(context.Background())

	if len(repo.updates) != 2 {
		t.Errorf("both records should be finalized, got %d", len(repo.updates))
	}
}

func TestSweepListErrorIsNonFatal(t *testing.T) {
	repo := newMockRepo()
	repo.listErr = errors.New("database error")

	s := New(repo, &mockDiagnoser{}, Config{}, zap.NewNop())
	s.sweep(context.Background())
}

func TestRequestFromRecordErrorType(t *testing.T) {
	req, err := requestFromRecord(staleEvent())
	if err != nil {
		t.Fatalf("requestFromRecord failed: %v", err)
	}
	if req.ErrorType != "Error" {
		t.Errorf("stored records degrade to a generic error type, got %q", req.ErrorType)
	}
	if req.ErrorMessage != "cannot read undefined" {
		t.Errorf("error message not carried over: %q", req.ErrorMessage)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	repo := newMockRepo()
	s := New(repo, &mockDiagnoser{}, Config{Interval: 10 * time.Millisecond}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
