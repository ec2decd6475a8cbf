package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rivo/tview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnipong/internal/domain"
)

func TestParseTaskInputShorthand(t *testing.T) {
	task, err := parseTaskInput("  collect_data sensor_id=s1 priority=2 ratio=0.5 live=true ")
	require.NoError(t, err)
	assert.Equal(t, domain.Task{
		"type":      "collect_data",
		"sensor_id": "s1",
		"priority":  2,
		"ratio":     0.5,
		"live":      true,
	}, task)
}

func TestParseTaskInputJSON(t *testing.T) {
	task, err := parseTaskInput(`{"type":"solve_problem","problem":"route packets"}`)
	require.NoError(t, err)
	assert.Equal(t, "solve_problem", task.Type())
	assert.Equal(t, "route packets", task.String("problem"))
}

func TestParseTaskInputErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "sensor_id=s1", "collect_data oops", `{"problem":"p"}`, `{"type":`} {
		_, err := parseTaskInput(input)
		assert.Error(t, err, input)
	}
}

func TestRenderKnowledgeSortsKeys(t *testing.T) {
	assert.Equal(t, "(empty)", renderKnowledge(nil))
	out := renderKnowledge(map[string]any{"b": 2.0, "a": "x", "c": []any{1.0}})
	assert.Equal(t, "[green]a[-]: x\n[green]b[-]: 2\n[green]c[-]: [1]\n", out)
}

func TestRenderQueue(t *testing.T) {
	out := renderQueue(pendingView{
		Queued:    []domain.Task{{"type": "collect_data", "sensor_id": "s1"}},
		Scheduled: 3,
	})
	assert.Contains(t, out, "queued[-] 1")
	assert.Contains(t, out, "scheduled[-] 3")
	assert.Contains(t, out, "collect_data sensor_id=s1")
}

func TestRenderDeadLettersNewestFirst(t *testing.T) {
	now := time.Now()
	out := renderDeadLetters([]deadLetterView{
		{Task: domain.Task{"type": "first"}, Reason: "no capable agent", Rejected: now},
		{Task: domain.Task{"type": "second"}, Reason: "no capable agent", Rejected: now},
	})
	assert.Less(t, strings.Index(out, "second"), strings.Index(out, "first"))
	assert.Equal(t, "(none)", renderDeadLetters(nil))
}

func TestRenderReportsMarksFailures(t *testing.T) {
	out := renderReports([]reportView{
		{AgentID: "a", Report: domain.Report{"agent": "a", "result": 1.0}},
		{AgentID: "b", Report: domain.Report{"agent": "b", "error": "boom"}, Failed: true},
	})
	assert.Contains(t, out, "[green]ok[-] agent,result")
	assert.Contains(t, out, "[red]boom[-]")
}

func TestRenderAgentsTable(t *testing.T) {
	table := tview.NewTable()
	renderAgentsTable(table, []agentView{
		{ID: "EdgeNodeAgent_1", State: map[string]any{"tasks_handled": 4.0, "last": "x"}},
		{ID: "FogNodeAgent_1"},
	})
	assert.Equal(t, 3, table.GetRowCount())
	assert.Equal(t, "4", table.GetCell(1, 1).Text)
	assert.Equal(t, "last=x", table.GetCell(1, 2).Text)
	assert.Equal(t, "-", table.GetCell(2, 1).Text)
}

func TestTrimLine(t *testing.T) {
	assert.Equal(t, "abc", trimLine("abc", 5))
	assert.Equal(t, "ab...", trimLine("abcdefgh", 5))
}

func TestClientRoundTrip(t *testing.T) {
	var enqueued domain.Task
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&enqueued))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"scheduled":false}`))
	})
	mux.HandleFunc("/dispatch", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("flush"))
		_, _ = w.Write([]byte(`{"dispatched":2,"flushed":1}`))
	})
	mux.HandleFunc("/tasks/pending", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"queued":[{"type":"x"}],"scheduled":4}`))
	})
	mux.HandleFunc("/knowledge", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newClient(srv.URL + "/")
	require.NoError(t, c.waitHealth(time.Second))

	require.NoError(t, c.enqueue(domain.Task{"type": "collect_data"}))
	assert.Equal(t, "collect_data", enqueued.Type())

	res, err := c.dispatch(true)
	require.NoError(t, err)
	assert.Equal(t, dispatchResult{Dispatched: 2, Flushed: 1}, res)

	pending, err := c.pending()
	require.NoError(t, err)
	assert.Len(t, pending.Queued, 1)
	assert.Equal(t, 4, pending.Scheduled)

	_, err = c.knowledge()
	assert.ErrorContains(t, err, "down")
}
