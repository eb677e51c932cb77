package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/convogate/convogate/internal/audit"
	"github.com/convogate/convogate/internal/config"
	"github.com/convogate/convogate/internal/confidence"
	"github.com/convogate/convogate/internal/decision"
	"github.com/convogate/convogate/internal/dedupe"
	"github.com/convogate/convogate/internal/fsm"
	"github.com/convogate/convogate/internal/governor"
	"github.com/convogate/convogate/internal/models"
	"github.com/convogate/convogate/internal/store"
	"github.com/convogate/convogate/internal/validator"
)

// newTestServer builds a server over in-memory components and a fixed
// high-confidence decision source.
func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()

	policy, err := config.Default()
	if err != nil {
		t.Fatal(err)
	}
	if errs := policy.Validate(); len(errs) > 0 {
		t.Fatalf("default policy invalid: %v", errs)
	}

	transitions := policy.TransitionMap()
	sessions := store.NewMemoryStore()
	consolidator, err := confidence.NewConsolidator(policy.Weights, policy.Overrides.ForceClose, policy.Overrides.ForceEscalate)
	if err != nil {
		t.Fatal(err)
	}

	source := &decision.StaticSource{Decision: &models.RawDecision{
		NextState:    string(models.StateTriage),
		ResponseText: "How can I help you today?",
		MessageType:  "question",
		Confidence:   0.95,
	}}
	v := validator.New(transitions, validator.NewPIIScanner(nil), nil, policy.Thresholds.Low, policy.Thresholds.Accept)

	g := governor.New(governor.Config{
		AcceptThreshold: policy.Thresholds.Accept,
	}, fsm.NewMachine(transitions), sessions, dedupe.NewMemoryGuard(), source, v, consolidator, audit.NewStoreSink(sessions))

	return NewServer(g, sessions, policy), sessions
}

func postMessage(t *testing.T, handler http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMessagesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postMessage(t, srv.Handler(), models.InboundMessage{
		MessageID: "api-m1",
		SessionID: "api-s1",
		Text:      "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var outcome models.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatal(err)
	}
	if outcome.State != models.StateTriage {
		t.Errorf("expected TRIAGE, got %s", outcome.State)
	}
	if outcome.ValidationType != models.ValidationApproved {
		t.Errorf("expected approved, got %q", outcome.ValidationType)
	}
}

func TestMessagesEndpointAssignsMessageID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postMessage(t, srv.Handler(), models.InboundMessage{
		SessionID: "api-s2",
		Text:      "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var outcome models.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatal(err)
	}
	if outcome.MessageID == "" {
		t.Error("expected an assigned message ID")
	}
}

func TestMessagesEndpointDuplicate(t *testing.T) {
	srv, _ := newTestServer(t)
	msg := models.InboundMessage{MessageID: "api-m3", SessionID: "api-s3", Text: "hello"}
	if rec := postMessage(t, srv.Handler(), msg); rec.Code != http.StatusOK {
		t.Fatalf("first delivery: expected 200, got %d", rec.Code)
	}
	rec := postMessage(t, srv.Handler(), msg)
	if rec.Code != http.StatusConflict {
		t.Errorf("redelivery: expected 409, got %d", rec.Code)
	}
	var outcome models.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatal(err)
	}
	if !outcome.Duplicate {
		t.Error("expected duplicate outcome")
	}
}

func TestMessagesEndpointRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: expected 400, got %d", rec.Code)
	}

	if rec := postMessage(t, srv.Handler(), models.InboundMessage{MessageID: "api-m4", Text: "no session"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing session_id: expected 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: expected 405, got %d", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	if rec := postMessage(t, srv.Handler(), models.InboundMessage{MessageID: "api-m5", SessionID: "api-s5", Text: "hi"}); rec.Code != http.StatusOK {
		t.Fatalf("setup message failed: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/api-s5", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var session models.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatal(err)
	}
	if session.CurrentState != models.StateTriage || session.TurnCount != 1 {
		t.Errorf("unexpected session: %+v", session)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/api-s5/audit", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: expected 200, got %d", rec.Code)
	}
	var records []models.AuditRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("expected one audit record, got %d", len(records))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/absent", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session: expected 404, got %d", rec.Code)
	}
}

func TestPolicyAndHealthEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/policy", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("policy: expected 200, got %d", rec.Code)
	}
	var policy config.Policy
	if err := json.Unmarshal(rec.Body.Bytes(), &policy); err != nil {
		t.Fatal(err)
	}
	if policy.Version <= 0 {
		t.Errorf("expected positive policy version, got %d", policy.Version)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}
}
