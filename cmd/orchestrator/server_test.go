package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnipong/internal/config"
)

func newTestApp(t *testing.T, backend string) *app {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Backend = backend
	cfg.Storage.Root = filepath.Join(dir, "docs")
	cfg.Storage.DBPath = filepath.Join(dir, "db", "omnipong.db")

	a, err := newApp(context.Background(), cfg, hclog.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndAgents(t *testing.T) {
	a := newTestApp(t, "file")
	h := a.routes()

	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/agents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	agents := decode[[]agentView](t, rec)
	ids := make([]string, 0, len(agents))
	for _, ag := range agents {
		ids = append(ids, ag.ID)
	}
	assert.Equal(t, []string{"EdgeNodeAgent_1", "FogNodeAgent_1", "ProblemSolver_1"}, ids)
}

func TestRemoveAgentRoute(t *testing.T) {
	a := newTestApp(t, "file")
	h := a.routes()

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/agents/FogNodeAgent_1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/agents/FogNodeAgent_1", "").Code)
	assert.Equal(t, []string{"EdgeNodeAgent_1", "ProblemSolver_1"}, a.svc.AgentIDs())
}

func TestEnqueueAndDispatch(t *testing.T) {
	a := newTestApp(t, "sqlite")
	h := a.routes()

	rec := do(t, h, http.MethodPost, "/tasks", `{"type":"aggregate_data","data":[[1,2],[3,4]]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/tasks", `{"type":"collect_data","sensor_id":"s9","priority":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["scheduled"])

	pending := decode[map[string]any](t, do(t, h, http.MethodGet, "/tasks/pending", ""))
	assert.Len(t, pending["queued"], 1)
	assert.Equal(t, 1.0, pending["scheduled"])

	rec = do(t, h, http.MethodPost, "/dispatch?flush=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	result := decode[map[string]any](t, rec)
	assert.Equal(t, 2.0, result["dispatched"])
	assert.Equal(t, 1.0, result["flushed"])

	kb := decode[map[string]any](t, do(t, h, http.MethodGet, "/knowledge", ""))
	assert.Equal(t, []any{2.0, 3.0}, kb["aggregated_data"])

	reports := decode[[]map[string]any](t, do(t, h, http.MethodGet, "/reports?limit=10", ""))
	assert.Len(t, reports, 2)
}

func TestEnqueueRejectsBadTask(t *testing.T) {
	a := newTestApp(t, "file")
	h := a.routes()
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/tasks", `{"sensor_id":"s"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/tasks", `nope`).Code)
}

func TestDeadLettersRoute(t *testing.T) {
	a := newTestApp(t, "file")
	h := a.routes()
	do(t, h, http.MethodPost, "/tasks", `{"type":"explore","topic":"ai"}`)
	do(t, h, http.MethodPost, "/dispatch", "")

	dead := decode[[]map[string]any](t, do(t, h, http.MethodGet, "/dead-letters", ""))
	require.Len(t, dead, 1)
	assert.Equal(t, "no capable agent", dead[0]["reason"])
}

func TestKnowledgePersistRestoreRoutes(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			a := newTestApp(t, backend)
			h := a.routes()

			assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/knowledge/restore", "").Code)

			a.svc.ReceiveReport("x", map[string]any{"answer": 42})
			require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/knowledge/persist", "").Code)
			a.svc.ReceiveReport("x", map[string]any{"answer": 0})
			require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/knowledge/restore", "").Code)
			assert.Equal(t, 42.0, a.svc.KnowledgeBase()["answer"])
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	a := newTestApp(t, "file")
	h := a.routes()
	do(t, h, http.MethodPost, "/tasks", `{"type":"collect_data"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "omnipong_tasks_enqueued_total 1")
	assert.Contains(t, rec.Body.String(), "omnipong_registered_agents 3")
}

func TestPersistAndRestoreAgentState(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Root = filepath.Join(dir, "docs")
	cfg.Storage.DBPath = filepath.Join(dir, "omnipong.db")

	first, err := newApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	first.svc.EnqueueTask(map[string]any{"type": "collect_data"})
	first.svc.DispatchAll(context.Background())
	first.persist(context.Background())
	first.close()

	second, err := newApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer second.close()
	second.restore(context.Background())

	ag, ok := second.svc.Agent("EdgeNodeAgent_1")
	require.True(t, ok)
	assert.Equal(t, 1.0, ag.(stateful).State()["tasks_handled"])
	assert.NotEmpty(t, second.svc.KnowledgeBase()["result"])
}

func TestEnqueueScheduleUsesDefaultPriority(t *testing.T) {
	a := newTestApp(t, "file")
	a.cfg.Scheduler.DefaultPriority = 7
	h := a.routes()

	rec := do(t, h, http.MethodPost, "/tasks?schedule=true", `{"type":"collect_data"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["scheduled"])
	assert.Equal(t, 7.0, body["priority"])

	rec = do(t, h, http.MethodPost, "/tasks", `{"type":"collect_data","priority":null}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 7.0, decode[map[string]any](t, rec)["priority"])
	assert.Equal(t, 2, a.sched.Len())
}

func TestRunDispatchesPeriodicallyAndStops(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Root = filepath.Join(dir, "docs")
	cfg.Storage.DBPath = filepath.Join(dir, "omnipong.db")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Orchestrator.DispatchIntervalMS = 10
	cfg.Scheduler.ForwardIntervalMS = 10

	a, err := newApp(context.Background(), cfg, hclog.NewNullLogger())
	require.NoError(t, err)
	defer a.close()
	a.svc.EnqueueTask(map[string]any{"type": "collect_data"})
	a.sched.AddTask(map[string]any{"type": "aggregate_data", "data": []any{[]any{1.0, 3.0}}}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool {
		kb := a.svc.KnowledgeBase()
		return kb["result"] != nil && kb["aggregated_data"] != nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.Empty(t, a.svc.PendingTasks())
}
