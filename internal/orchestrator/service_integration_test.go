package orchestrator

import (
	"context"
	"path/filepath"
	"testing"

	"omnipong/internal/agent"
	"omnipong/internal/domain"
	"omnipong/internal/scheduler"
	sqlitestore "omnipong/internal/store/sqlite"
)

func newHarness(t *testing.T) (*Service, *sqlitestore.Store) {
	t.Helper()
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := New(store, store, nil, Config{}, nil)
	factory := agent.Factory{Docs: store}
	for _, kind := range []string{agent.KindEdgeNode, agent.KindFogNode, agent.KindProblemSolver} {
		a, err := factory.Create(kind, kind+"_1", nil)
		if err != nil {
			t.Fatalf("create %s: %v", kind, err)
		}
		svc.RegisterAgent(a)
	}
	return svc, store
}

func TestReferenceAgentsEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, store := newHarness(t)

	sched := scheduler.New(nil, nil)
	sched.AddTask(domain.NewTask(domain.TaskTypeSolveProblem, map[string]any{"problem": "climate change"}), 3)
	sched.AddTask(domain.NewTask(domain.TaskTypeAggregateData, map[string]any{
		"data": []any{[]any{1.0, 3.0}, []any{3.0, 5.0}},
	}), 2)
	sched.AddTask(domain.NewTask(domain.TaskTypeCollectData, map[string]any{"sensor_id": "s1"}), 1)
	sched.AddTask(domain.NewTask(domain.TaskTypeExplore, map[string]any{"topic": "ai"}), 1)
	if n := sched.Drain(svc); n != 4 {
		t.Fatalf("drained=%d want=4", n)
	}

	if n := svc.DispatchAll(ctx); n != 3 {
		t.Fatalf("dispatched=%d want=3", n)
	}
	if dead := svc.DeadLetters(); len(dead) != 1 || dead[0].Task.Type() != domain.TaskTypeExplore {
		t.Fatalf("dead letters=%v", dead)
	}

	kb := svc.KnowledgeBase()
	if kb["problem"] != "climate change" {
		t.Fatalf("solver result missing from kb: %v", kb)
	}
	if kb[domain.FieldAgent] != "ProblemSolver_1" {
		t.Fatalf("last writer should be the solver, got %v", kb[domain.FieldAgent])
	}
	mean, ok := kb["aggregated_data"].([]any)
	if !ok || len(mean) != 2 || mean[0] != 2.0 || mean[1] != 4.0 {
		t.Fatalf("aggregated_data=%v", kb["aggregated_data"])
	}

	want := []string{"EdgeNode_1", "FogNode_1", "ProblemSolver_1"}
	got := svc.AgentIDs()
	if len(got) != len(want) {
		t.Fatalf("ephemeral workers left in registry: %v", got)
	}

	entries, err := store.ListReports(ctx, "", 50)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	// edge + fog + four workers + solver
	if len(entries) != 7 {
		t.Fatalf("report history=%d want=7", len(entries))
	}
	if entries[0].AgentID != "ProblemSolver_1" {
		t.Fatalf("newest report from %s", entries[0].AgentID)
	}

	if err := svc.PersistKnowledgeBase(ctx, ""); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := store.ReadDocument(ctx, "knowledge_base.json"); err != nil {
		t.Fatalf("knowledge base document: %v", err)
	}
}
