package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"omnipong/internal/agent"
	"omnipong/internal/config"
	"omnipong/internal/domain"
	"omnipong/internal/fs"
	"omnipong/internal/learning"
	"omnipong/internal/logging"
	"omnipong/internal/messaging/inproc"
	"omnipong/internal/metrics"
	"omnipong/internal/orchestrator"
	"omnipong/internal/relay"
	"omnipong/internal/scheduler"
	sqlitestore "omnipong/internal/store/sqlite"
)

const (
	shutdownTimeout     = 10 * time.Second
	httpShutdownTimeout = 5 * time.Second
)

// stateful is implemented by every agent built on agent.Base.
type stateful interface {
	State() map[string]any
	SaveState(ctx context.Context, path string) error
	LoadState(ctx context.Context, path string) error
}

type app struct {
	cfg      config.Config
	logger   hclog.Logger
	registry *prometheus.Registry
	store    *sqlitestore.Store
	docs     orchestrator.DocumentStore
	svc      *orchestrator.Service
	sched    *scheduler.Scheduler
	bus      *inproc.Bus
	relay    *relay.Relay
}

func newApp(ctx context.Context, cfg config.Config, logger hclog.Logger) (*app, error) {
	logger = logging.OrNull(logger)
	dbPath := filepath.Clean(cfg.Storage.DBPath)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	var docs orchestrator.DocumentStore
	switch strings.ToLower(cfg.Storage.Backend) {
	case "sqlite":
		docs = store
	case "file", "":
		files, err := fs.NewDocumentStore(cfg.Storage.Root, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		docs = files
	default:
		_ = store.Close()
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	svc := orchestrator.New(docs, store, m, orchestrator.Config{
		DispatchInterval:  cfg.DispatchInterval(),
		DeadLetterLimit:   cfg.Orchestrator.DeadLetterLimit,
		KnowledgeBasePath: cfg.Orchestrator.KnowledgeBasePath,
	}, logger)
	sched := scheduler.New(logger, m)
	bus := inproc.New(cfg.Transport.Buffer)
	rl := relay.New(bus, svc, sched, relay.Config{
		TasksTopic:      cfg.Transport.TasksTopic,
		ReportsTopic:    cfg.Transport.ReportsTopic,
		DefaultPriority: cfg.Scheduler.DefaultPriority,
	}, logger)
	svc.OnReport(rl.PublishReport)

	factory := agent.Factory{
		Docs:    docs,
		Solver:  solverConfig(cfg.Learning),
		Metrics: m,
		Logger:  logger.Named("agents"),
	}
	for _, def := range cfg.Agents {
		a, err := factory.Create(def.Kind, def.ID, nil)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("create agent %s: %w", def.ID, err)
		}
		svc.RegisterAgent(a)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
		docs:     docs,
		svc:      svc,
		sched:    sched,
		bus:      bus,
		relay:    rl,
	}, nil
}

func solverConfig(c config.LearningConfig) agent.SolverConfig {
	return agent.SolverConfig{
		Learner: agent.LearnerConfig{
			Loop: learning.Config{
				MemorySize:   c.MemorySize,
				Gamma:        c.Gamma,
				Epsilon:      c.Epsilon,
				EpsilonMin:   c.EpsilonMin,
				EpsilonDecay: c.EpsilonDecay,
			},
			States:       c.States,
			BatchSize:    c.BatchSize,
			LearningRate: c.LearningRate,
		},
	}
}

func (a *app) run(ctx context.Context) error {
	if a.cfg.Orchestrator.RestoreOnStart {
		a.restore(ctx)
	}

	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	a.svc.Start(gctx)
	g.Go(func() error {
		a.svc.Wait()
		return nil
	})
	g.Go(func() error {
		a.sched.Run(gctx, a.svc, a.cfg.ForwardInterval())
		return nil
	})
	g.Go(func() error {
		return a.relay.Run(gctx)
	})

	err := g.Wait()
	a.shutdown()
	return err
}

// shutdown flushes the scheduler, runs a last dispatch pass and persists
// state when configured to.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if n := a.sched.Drain(a.svc); n > 0 {
		a.logger.Info("flushed scheduler on shutdown", "tasks", n)
	}
	if n := a.svc.DispatchAll(ctx); n > 0 {
		a.logger.Info("final dispatch pass", "dispatched", n)
	}
	if a.cfg.Orchestrator.PersistOnShutdown {
		a.persist(ctx)
	}
}

func (a *app) restore(ctx context.Context) {
	if err := a.svc.RestoreKnowledgeBase(ctx, ""); err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		a.logger.Warn("starting with empty knowledge base", "error", err)
	}
	for _, id := range a.svc.AgentIDs() {
		ag, ok := a.svc.Agent(id)
		if !ok {
			continue
		}
		if s, ok := ag.(stateful); ok {
			_ = s.LoadState(ctx, agentStatePath(id))
		}
		if solver, ok := ag.(*agent.ProblemSolver); ok {
			if err := solver.Learner().LoadModel(ctx, a.docs, agentModelPath(id)); err != nil {
				a.logger.Debug("no stored model", "agent", id, "error", err)
			}
		}
	}
}

func (a *app) persist(ctx context.Context) {
	_ = a.svc.PersistKnowledgeBase(ctx, "")
	for _, id := range a.svc.AgentIDs() {
		ag, ok := a.svc.Agent(id)
		if !ok {
			continue
		}
		if s, ok := ag.(stateful); ok {
			_ = s.SaveState(ctx, agentStatePath(id))
		}
		if solver, ok := ag.(*agent.ProblemSolver); ok {
			if err := solver.Learner().SaveModel(ctx, a.docs, agentModelPath(id)); err != nil {
				a.logger.Error("save model failed", "agent", id, "error", err)
			}
		}
	}
}

func (a *app) close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("close store failed", "error", err)
	}
}

func agentStatePath(id string) string {
	return "agents/" + id + ".json"
}

func agentModelPath(id string) string {
	return "models/" + id + ".json"
}
