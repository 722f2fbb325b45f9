package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/db"
	"github.com/gabrielazambujatechuser/fluffy-robot-tech/internal/diagnose"
)

var errDatabase = errors.New("database error")

// MockRepository is a fake store for pipeline tests.
type MockRepository struct {
	projects map[string]*db.Project
	latest   *db.Project
	events   map[string]*db.FailureEvent

	// statusAtCreate records the status of each event as inserted.
	statusAtCreate []string

	failCreate bool
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		projects: make(map[string]*db.Project),
		events:   make(map[string]*db.FailureEvent),
	}
}

func (m *MockRepository) addProject(p *db.Project) {
	m.projects[p.ID.String()] = p
	m.latest = p
}

func (m *MockRepository) GetProject(ctx context.Context, id uuid.UUID) (*db.Project, error) {
	p, ok := m.projects[id.String()]
	if !ok {
		return nil, db.ErrNotFound
	}
	return p, nil
}

func (m *MockRepository) LatestProject(ctx context.Context) (*db.Project, error) {
	if m.latest == nil {
		return nil, db.ErrNotFound
	}
	return m.latest, nil
}

func (m *MockRepository) CreateFailureEvent(ctx context.Context, event *db.FailureEvent) error {
	if m.failCreate {
		return errDatabase
	}
	m.statusAtCreate = append(m.statusAtCreate, event.Status)
	copied := *event
	m.events[event.ID.String()] = &copied
	return nil
}

func (m *MockRepository) UpdateFailureResult(ctx context.Context, id uuid.UUID, fixedPayload json.RawMessage, analysis string, confidence *string, status string) error {
	event, ok := m.events[id.String()]
	if !ok {
		return db.ErrNotFound
	}
	event.FixedPayload = fixedPayload
	event.AIAnalysis = &analysis
	event.FixConfidence = confidence
	event.Status = status
	event.UpdatedAt = time.Now()
	return nil
}

// MockDiagnoser returns a canned result or error.
type MockDiagnoser struct {
	result *diagnose.Result
	err    error
	calls  int
}

func (m *MockDiagnoser) Diagnose(ctx context.Context, req diagnose.Request) (*diagnose.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func fixedResult() *diagnose.Result {
	return &diagnose.Result{
		Analysis:     "The payload was missing the order_id field.",
		RootCause:    "Upstream schema change",
		Confidence:   "high",
		FixedPayload: json.RawMessage(`{"order_id": 42}`),
	}
}

func failureItem() json.RawMessage {
	return json.RawMessage(`{
		"name": "inngest/function.failed",
		"data": {
			"function_id": "sync-orders",
			"run_id": "run_123",
			"event": {"id": "evt_1", "name": "order/created", "data": {"order_id": 42}},
			"error": {"name": "TypeError", "message": "cannot read undefined", "stack": "at sync.js:10"}
		}
	}`)
}

func testProject() *db.Project {
	return &db.Project{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		ProjectName: "checkout",
	}
}

func TestProcessBatchCreatesOneRecordPerFailure(t *testing.T) {
	repo := NewMockRepository()
	repo.addProject(testProject())
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	items := []json.RawMessage{
		failureItem(),
		json.RawMessage(`{"name": "test/other", "data": {}}`),
	}

	results := p.ProcessBatch(context.Background(), "", []byte("body"), "", items)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Outcome != OutcomeProcessed {
		t.Errorf("expected first item processed, got %s (%s)", results[0].Outcome, results[0].Reason)
	}
	if results[1].Outcome != OutcomeSkipped {
		t.Errorf("expected second item skipped, got %s", results[1].Outcome)
	}
	if len(repo.events) != 1 {
		t.Errorf("expected exactly one record, got %d", len(repo.events))
	}
}

func TestProcessItemPendingBeforeDiagnosis(t *testing.T) {
	repo := NewMockRepository()
	repo.addProject(testProject())
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	results := p.ProcessBatch(context.Background(), "", []byte("body"), "", []json.RawMessage{failureItem()})

	if len(repo.statusAtCreate) != 1 || repo.statusAtCreate[0] != db.StatusPending {
		t.Fatalf("expected record inserted as pending, got %v", repo.statusAtCreate)
	}
	if results[0].Status != db.StatusFixed {
		t.Errorf("expected terminal status fixed, got %s", results[0].Status)
	}

	event := repo.events[results[0].FailureID.String()]
	if event.Status != db.StatusFixed {
		t.Errorf("expected stored record fixed, got %s", event.Status)
	}
	if event.AIAnalysis == nil || !strings.Contains(*event.AIAnalysis, "Root Cause: Upstream schema change") {
		t.Errorf("expected analysis with root cause, got %v", event.AIAnalysis)
	}
	if event.FixConfidence == nil || *event.FixConfidence != "high" {
		t.Errorf("expected confidence high, got %v", event.FixConfidence)
	}
}

func TestProcessItemDiagnosisErrorMarksFailed(t *testing.T) {
	repo := NewMockRepository()
	repo.addProject(testProject())
	diagnoser := &MockDiagnoser{err: errors.New("api timeout")}
	p := New(repo, diagnoser, nil, zap.NewNop())

	results := p.ProcessBatch(context.Background(), "", []byte("body"), "", []json.RawMessage{failureItem()})

	if results[0].Outcome != OutcomeProcessed {
		t.Fatalf("diagnosis error still counts as processed, got %s", results[0].Outcome)
	}
	if results[0].Status != db.StatusFailed {
		t.Errorf("expected status failed, got %s", results[0].Status)
	}

	event := repo.events[results[0].FailureID.String()]
	if event.AIAnalysis == nil || !strings.Contains(*event.AIAnalysis, "AI analysis failed") {
		t.Errorf("expected failure note in analysis, got %v", event.AIAnalysis)
	}
	if event.FixConfidence != nil {
		t.Errorf("expected no confidence on diagnosis error, got %v", *event.FixConfidence)
	}
	if event.FixedPayload != nil {
		t.Errorf("expected no fixed payload on diagnosis error")
	}
}

func TestProcessItemNoFixedPayloadMarksFailed(t *testing.T) {
	repo := NewMockRepository()
	repo.addProject(testProject())
	diagnoser := &MockDiagnoser{result: &diagnose.Result{
		Analysis:   "Cause is unclear.",
		RootCause:  "Unknown",
		Confidence: "low",
	}}
	p := New(repo, diagnoser, nil, zap.NewNop())

	results := p.ProcessBatch(context.Background(), "", []byte("body"), "", []json.RawMessage{failureItem()})

	if results[0].Status != db.StatusFailed {
		t.Errorf("no repaired payload: expected status failed, got %s", results[0].Status)
	}
}

func TestProcessItemLatestProjectFallback(t *testing.T) {
	repo := NewMockRepository()
	older := testProject()
	newer := testProject()
	repo.addProject(older)
	repo.addProject(newer)
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	for _, pin := range []string{"", "all"} {
		results := p.ProcessBatch(context.Background(), pin, []byte("body"), "", []json.RawMessage{failureItem()})
		event := repo.events[results[0].FailureID.String()]
		if event.ProjectID != newer.ID {
			t.Errorf("pin %q: expected latest project %s, got %s", pin, newer.ID, event.ProjectID)
		}
	}
}

func TestProcessItemExplicitProjectPin(t *testing.T) {
	repo := NewMockRepository()
	pinned := testProject()
	repo.addProject(pinned)
	repo.addProject(testProject()) // newer project should not be used
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	results := p.ProcessBatch(context.Background(), pinned.ID.String(), []byte("body"), "", []json.RawMessage{failureItem()})

	event := repo.events[results[0].FailureID.String()]
	if event.ProjectID != pinned.ID {
		t.Errorf("expected pinned project %s, got %s", pinned.ID, event.ProjectID)
	}
}

func TestProcessItemNoProjectSkips(t *testing.T) {
	repo := NewMockRepository()
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	results := p.ProcessBatch(context.Background(), "", []byte("body"), "", []json.RawMessage{failureItem()})

	if results[0].Outcome != OutcomeSkipped {
		t.Errorf("expected skip when no project exists, got %s", results[0].Outcome)
	}
	if len(repo.events) != 0 {
		t.Errorf("expected no record created")
	}
	if diagnoser.calls != 0 {
		t.Errorf("diagnosis must not run without a project")
	}
}

func TestProcessItemUnknownProjectIDSkips(t *testing.T) {
	repo := NewMockRepository()
	repo.addProject(testProject())
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	for _, pin := range []string{uuid.NewString(), "not-a-uuid"} {
		results := p.ProcessBatch(context.Background(), pin, []byte("body"), "", []json.RawMessage{failureItem()})
		if results[0].Outcome != OutcomeSkipped {
			t.Errorf("pin %q: expected skip, got %s", pin, results[0].Outcome)
		}
	}
}

func TestProcessItemInvalidSignatureSkips(t *testing.T) {
	repo := NewMockRepository()
	project := testProject()
	key := "signkey-test-abc"
	project.SigningKey = &key
	repo.addProject(project)
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	results := p.ProcessBatch(context.Background(), "", []byte("body"), "t=1&s=bogus", []json.RawMessage{failureItem()})

	if results[0].Outcome != OutcomeSkipped || results[0].Reason != "invalid signature" {
		t.Errorf("expected signature skip, got %s (%s)", results[0].Outcome, results[0].Reason)
	}
	if len(repo.events) != 0 {
		t.Errorf("expected no record on bad signature")
	}
}

func TestProcessItemGeneratesEventID(t *testing.T) {
	repo := NewMockRepository()
	repo.addProject(testProject())
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	item := json.RawMessage(`{
		"name": "function/failed",
		"data": {
			"function_id": "fn",
			"run_id": "run",
			"event": {"name": "x", "data": {}},
			"error": {"name": "Error", "message": "boom"}
		}
	}`)

	results := p.ProcessBatch(context.Background(), "", []byte("body"), "", []json.RawMessage{item})

	event := repo.events[results[0].FailureID.String()]
	if !strings.HasPrefix(event.EventID, "gen_") {
		t.Errorf("expected generated event id with gen_ prefix, got %q", event.EventID)
	}
}

func TestProcessBatchIsolatesItemErrors(t *testing.T) {
	repo := NewMockRepository()
	repo.addProject(testProject())
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	repo.failCreate = true
	items := []json.RawMessage{failureItem(), failureItem()}
	results := p.ProcessBatch(context.Background(), "", []byte("body"), "", items)

	if len(results) != 2 {
		t.Fatalf("expected both items attempted, got %d results", len(results))
	}
	for i, r := range results {
		if r.Outcome != OutcomeError {
			t.Errorf("item %d: expected error outcome, got %s", i, r.Outcome)
		}
	}
}

func TestProcessItemDuplicateDeliveriesBothRecorded(t *testing.T) {
	repo := NewMockRepository()
	repo.addProject(testProject())
	diagnoser := &MockDiagnoser{result: fixedResult()}
	p := New(repo, diagnoser, nil, zap.NewNop())

	items := []json.RawMessage{failureItem(), failureItem()}
	p.ProcessBatch(context.Background(), "", []byte("body"), "", items)

	if len(repo.events) != 2 {
		t.Errorf("duplicate deliveries create duplicate records, got %d", len(repo.events))
	}
}
