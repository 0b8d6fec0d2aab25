package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autodev-labs/autodev-engine/internal/broadcast"
	"github.com/autodev-labs/autodev-engine/internal/domain"
	"github.com/autodev-labs/autodev-engine/internal/guard"
	"github.com/autodev-labs/autodev-engine/internal/guardrails"
	"github.com/autodev-labs/autodev-engine/internal/hitl"
	"github.com/autodev-labs/autodev-engine/internal/llm"
	"github.com/autodev-labs/autodev-engine/internal/orchestrator"
	"github.com/autodev-labs/autodev-engine/internal/store"
	"github.com/autodev-labs/autodev-engine/internal/workflow"
)

type testServer struct {
	srv         *httptest.Server
	handler     *Handler
	checkpoints *hitl.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := broadcast.New(func(ev domain.StreamEvent) {
		_ = st.AppendEvent(context.Background(), ev)
	})
	ledger := workflow.NewBudgetLedger()
	checkpoints := hitl.NewManager(hitl.ManagerConfig{
		ReviewTimeout: time.Hour,
		OnUpdate: func(cp domain.Checkpoint) {
			_ = st.SaveCheckpoint(context.Background(), cp)
		},
	})
	orch := orchestrator.New(nil, llm.NewTemplateSource(), ledger,
		guard.NewGuard(ledger, guard.GuardConfig{}), guardrails.NewEngine(),
		checkpoints, bus, st, orchestrator.Config{DemoMode: true})

	h := &Handler{Orchestrator: orch, Checkpoints: checkpoints, Bus: bus, Store: st}
	server := NewServer(h, "127.0.0.1:0")
	srv := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, handler: h, checkpoints: checkpoints}
}

func (ts *testServer) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(ts.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (ts *testServer) createExecution(t *testing.T, userID string) string {
	t.Helper()
	resp := ts.post(t, "/api/v1/executions", domain.ExecutionRequest{
		TemplateID:  "rest_api",
		Description: "billing service",
		BudgetUSD:   5,
		UserID:      userID,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created CreateExecutionResponse
	decode(t, resp, &created)
	if created.ExecutionID == "" {
		t.Fatal("empty execution_id")
	}
	return created.ExecutionID
}

func (ts *testServer) waitForCheckpoint(t *testing.T, executionID string) domain.Checkpoint {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if pending := ts.checkpoints.ListPending(executionID); len(pending) > 0 {
			return pending[0]
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a checkpoint")
	return domain.Checkpoint{}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.get(t, "/api/v1/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestCreateExecution_Validation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/v1/executions", map[string]interface{}{"description": "no template"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing template_id status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.post(t, "/api/v1/executions", domain.ExecutionRequest{TemplateID: "rest_api", BudgetUSD: -1})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative budget status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetExecution(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createExecution(t, "u-get")

	resp := ts.get(t, "/api/v1/executions/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var status domain.ExecutionStatus
	decode(t, resp, &status)
	if status.ExecutionID != id || status.TemplateID != "rest_api" {
		t.Errorf("status = %+v", status)
	}

	resp = ts.get(t, "/api/v1/executions/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown execution status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCancelExecution(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createExecution(t, "u-cancel")
	ts.waitForCheckpoint(t, id)

	resp := ts.post(t, "/api/v1/executions/"+id+"/cancel", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var status domain.ExecutionStatus
		resp := ts.get(t, "/api/v1/executions/"+id)
		decode(t, resp, &status)
		if status.Phase == domain.PhaseCancelled {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Cancelling a settled execution conflicts.
	resp = ts.post(t, "/api/v1/executions/"+id+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.post(t, "/api/v1/executions/unknown/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown cancel status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestResolveCheckpoint(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createExecution(t, "u-resolve")
	cp := ts.waitForCheckpoint(t, id)

	resp := ts.post(t, "/api/v1/checkpoints/"+cp.ID+"/resolve", ResolveCheckpointRequest{
		Decision: domain.DecisionApprove,
		Reviewer: "alice",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d, want 200", resp.StatusCode)
	}
	var resolved domain.Checkpoint
	decode(t, resp, &resolved)
	if resolved.Status != domain.CheckpointApproved {
		t.Errorf("checkpoint = %+v", resolved)
	}

	resp = ts.post(t, "/api/v1/checkpoints/"+cp.ID+"/resolve", ResolveCheckpointRequest{
		Decision: domain.DecisionReject,
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("double resolve status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.post(t, "/api/v1/checkpoints/unknown/resolve", ResolveCheckpointRequest{
		Decision: domain.DecisionApprove,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown checkpoint status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.post(t, "/api/v1/checkpoints/"+cp.ID+"/resolve", ResolveCheckpointRequest{
		Decision: domain.Decision("maybe"),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid decision status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListCheckpoints(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createExecution(t, "u-list-cp")
	ts.waitForCheckpoint(t, id)

	resp := ts.get(t, "/api/v1/checkpoints?execution_id="+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var pending []domain.Checkpoint
	decode(t, resp, &pending)
	if len(pending) != 1 || pending[0].ExecutionID != id {
		t.Errorf("pending = %+v", pending)
	}
}

func TestListEvents_SinceSeq(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createExecution(t, "u-events")
	ts.waitForCheckpoint(t, id)

	resp := ts.get(t, "/api/v1/executions/"+id+"/events")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var events []domain.StreamEvent
	decode(t, resp, &events)
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least 2", len(events))
	}
	if events[0].Type != domain.EventExecutionStarted {
		t.Errorf("first event = %q, want execution_started", events[0].Type)
	}

	cut := events[1].SeqNo
	resp = ts.get(t, "/api/v1/executions/"+id+"/events?since_seq="+strconv.FormatInt(cut, 10))
	var tail []domain.StreamEvent
	decode(t, resp, &tail)
	for _, ev := range tail {
		if ev.SeqNo <= cut {
			t.Errorf("event seq %d not after %d", ev.SeqNo, cut)
		}
	}
	if len(tail) != len(events)-2 {
		t.Errorf("tail has %d events, want %d", len(tail), len(events)-2)
	}
}

func TestGetCost(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createExecution(t, "u-cost")
	ts.waitForCheckpoint(t, id)

	resp := ts.get(t, "/api/v1/executions/"+id+"/cost")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var summary CostSummary
	decode(t, resp, &summary)
	if summary.BudgetUSD != 5 {
		t.Errorf("BudgetUSD = %f, want 5", summary.BudgetUSD)
	}
	if summary.Deltas == nil {
		t.Error("Deltas is nil, want empty slice")
	}

	resp = ts.get(t, "/api/v1/executions/unknown/cost")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown cost status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStreamEvents_WebSocket(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createExecution(t, "u-ws")
	ts.waitForCheckpoint(t, id)

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/api/v1/executions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// First frame is the connection acknowledgement.
	var ack domain.StreamEvent
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != domain.EventLogMessage || !strings.Contains(ack.Message, "Connected to execution") {
		t.Errorf("ack = %+v", ack)
	}

	// Ping is answered with pong.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong clientMessage
	if err := conn.ReadJSON(&pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != "pong" {
		t.Errorf("reply = %+v, want pong", pong)
	}

	// A published event reaches the subscriber.
	ts.handler.Bus.Log(id, "test", "info", "hello subscriber")
	var ev domain.StreamEvent
	for {
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Message == "hello subscriber" {
			break
		}
	}
	if ev.Type != domain.EventLogMessage || ev.ExecutionID != id {
		t.Errorf("event = %+v", ev)
	}
}
