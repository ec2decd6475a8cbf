package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"omnipong/internal/agent"
	"omnipong/internal/domain"
	"omnipong/internal/logging"
	"omnipong/internal/metrics"
)

type DocumentStore interface {
	WriteDocument(ctx context.Context, path string, content []byte) error
	ReadDocument(ctx context.Context, path string) ([]byte, error)
}

// ReportLog keeps a history of every report received.
type ReportLog interface {
	LogReport(ctx context.Context, agentID string, report domain.Report) error
}

// ReportHook observes reports after they are merged.
type ReportHook func(agentID string, report domain.Report)

type Config struct {
	DispatchInterval  time.Duration
	DeadLetterLimit   int
	KnowledgeBasePath string
}

func (c Config) withDefaults() Config {
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 5 * time.Second
	}
	if c.DeadLetterLimit <= 0 {
		c.DeadLetterLimit = 256
	}
	if c.KnowledgeBasePath == "" {
		c.KnowledgeBasePath = "knowledge_base.json"
	}
	return c
}

// DeadLetter is a task that no registered agent could handle.
type DeadLetter struct {
	Task     domain.Task `json:"task"`
	Reason   string      `json:"reason"`
	Rejected time.Time   `json:"rejected_at"`
}

// Service owns the agent registry, the FIFO task queue and the knowledge
// base. Agents run outside every lock.
type Service struct {
	docs      DocumentStore
	reportLog ReportLog
	metrics   *metrics.Metrics
	cfg       Config
	logger    hclog.Logger

	wg sync.WaitGroup

	agentsMu sync.RWMutex
	agents   map[string]agent.Agent
	order    []string

	queueMu sync.Mutex
	queue   []domain.Task

	kbMu sync.RWMutex
	kb   map[string]any

	deadMu sync.Mutex
	dead   []DeadLetter

	hooksMu sync.RWMutex
	hooks   []ReportHook
}

var _ agent.Core = (*Service)(nil)

// New builds a Service. docs, reportLog and m may be nil.
func New(docs DocumentStore, reportLog ReportLog, m *metrics.Metrics, cfg Config, logger hclog.Logger) *Service {
	return &Service{
		docs:      docs,
		reportLog: reportLog,
		metrics:   m,
		cfg:       cfg.withDefaults(),
		logger:    logging.OrNull(logger).Named("orchestrator"),
		agents:    make(map[string]agent.Agent),
		kb:        make(map[string]any),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.RunPeriodicDispatch(ctx, s.cfg.DispatchInterval)
	}()
}

func (s *Service) Wait() {
	s.wg.Wait()
}

// OnReport adds a hook called for every report after it is merged.
func (s *Service) OnReport(h ReportHook) {
	if h == nil {
		return
	}
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hooksMu.Unlock()
}

// RegisterAgent adds a under its id and binds it to s. Re-registering an id
// replaces the agent but keeps its place in the dispatch order.
func (s *Service) RegisterAgent(a agent.Agent) {
	if a == nil {
		return
	}
	id := a.ID()
	if id == "" {
		s.logger.Warn("ignoring agent with empty id")
		return
	}

	s.agentsMu.Lock()
	_, exists := s.agents[id]
	s.agents[id] = a
	if !exists {
		s.order = append(s.order, id)
	}
	n := len(s.order)
	s.agentsMu.Unlock()

	a.Bind(s)
	s.metrics.RegisteredAgents(n)
	if exists {
		s.logger.Warn("agent re-registered, previous instance replaced", "agent", id)
		return
	}
	s.logger.Info("agent registered", "agent", id)
}

func (s *Service) RemoveAgent(id string) {
	s.agentsMu.Lock()
	if _, ok := s.agents[id]; !ok {
		s.agentsMu.Unlock()
		return
	}
	delete(s.agents, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	n := len(s.order)
	s.agentsMu.Unlock()

	s.metrics.RegisteredAgents(n)
	s.logger.Info("agent removed", "agent", id)
}

func (s *Service) Agent(id string) (agent.Agent, bool) {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

// AgentIDs lists registered agents in dispatch order.
func (s *Service) AgentIDs() []string {
	s.agentsMu.RLock()
	defer s.agentsMu.RUnlock()
	return slices.Clone(s.order)
}

func (s *Service) EnqueueTask(task domain.Task) {
	task = task.Clone()
	s.queueMu.Lock()
	s.queue = append(s.queue, task)
	depth := len(s.queue)
	s.queueMu.Unlock()

	s.metrics.TaskEnqueued(depth)
	s.logger.Debug("task enqueued", "task", task.Summary(), "depth", depth)
}

func (s *Service) PendingTasks() []domain.Task {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	out := make([]domain.Task, 0, len(s.queue))
	for _, task := range s.queue {
		out = append(out, task.Clone())
	}
	return out
}

// DispatchAll drains the queue, handing each task to the first registered
// agent that can handle it. Tasks nobody can handle are dead-lettered. It
// returns the number of tasks handed to an agent.
func (s *Service) DispatchAll(ctx context.Context) int {
	dispatched := 0
	for {
		if ctx.Err() != nil {
			return dispatched
		}
		task, depth, ok := s.popTask()
		if !ok {
			return dispatched
		}

		a := s.selectAgent(task)
		if a == nil {
			s.deadLetter(task, "no capable agent")
			s.metrics.TaskDropped(depth)
			s.logger.Warn("no agent can handle task, dropping", "task", task.Summary())
			continue
		}

		s.metrics.TaskDispatched(a.ID(), depth)
		s.logger.Debug("dispatching task", "task", task.Type(), "agent", a.ID())
		s.deliver(ctx, a, task)
		dispatched++
	}
}

func (s *Service) popTask() (domain.Task, int, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return nil, 0, false
	}
	task := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return task, len(s.queue), true
}

func (s *Service) selectAgent(task domain.Task) agent.Agent {
	s.agentsMu.RLock()
	candidates := make([]agent.Agent, 0, len(s.order))
	for _, id := range s.order {
		candidates = append(candidates, s.agents[id])
	}
	s.agentsMu.RUnlock()

	for _, a := range candidates {
		if s.canHandle(a, task) {
			return a
		}
	}
	return nil
}

func (s *Service) canHandle(a agent.Agent, task domain.Task) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.AgentPanic(a.ID())
			s.logger.Error("capability check panicked", "agent", a.ID(), "panic", r)
			ok = false
		}
	}()
	return a.CanHandle(task)
}

func (s *Service) deliver(ctx context.Context, a agent.Agent, task domain.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.AgentPanic(a.ID())
			s.logger.Error("agent panicked", "agent", a.ID(), "task", task.Type(), "panic", r)
			s.ReceiveReport(a.ID(), domain.ErrorReport(a.ID(), fmt.Errorf("agent panic: %v", r)))
		}
	}()
	a.ReceiveTask(ctx, task)
}

func (s *Service) deadLetter(task domain.Task, reason string) {
	s.deadMu.Lock()
	defer s.deadMu.Unlock()
	s.dead = append(s.dead, DeadLetter{Task: task, Reason: reason, Rejected: time.Now().UTC()})
	if over := len(s.dead) - s.cfg.DeadLetterLimit; over > 0 {
		s.dead = slices.Delete(s.dead, 0, over)
	}
}

// DeadLetters returns the most recent undeliverable tasks, oldest first.
func (s *Service) DeadLetters() []DeadLetter {
	s.deadMu.Lock()
	defer s.deadMu.Unlock()
	return slices.Clone(s.dead)
}

// ReceiveReport merges report into the knowledge base key by key, last
// writer wins. Values are stored in their JSON form so a persisted knowledge
// base restores to an identical map.
func (s *Service) ReceiveReport(agentID string, report domain.Report) {
	values, bad := domain.JSONReport(report)
	if len(bad) > 0 {
		s.logger.Warn("report values are not JSON encodable, knowledge base will not persist", "agent", agentID, "keys", bad)
	}
	s.kbMu.Lock()
	for k, v := range values {
		s.kb[k] = v
	}
	s.kbMu.Unlock()

	failed := report.Err() != ""
	s.metrics.ReportReceived(failed)
	if failed {
		s.logger.Warn("agent reported error", "agent", agentID, "error", report.Err())
	} else {
		s.logger.Info("report received", "agent", agentID, "keys", len(report))
	}

	if s.reportLog != nil {
		if err := s.reportLog.LogReport(context.Background(), agentID, report); err != nil {
			s.logger.Error("record report failed", "agent", agentID, "error", err)
		}
	}

	s.hooksMu.RLock()
	hooks := slices.Clone(s.hooks)
	s.hooksMu.RUnlock()
	for _, h := range hooks {
		h(agentID, report)
	}
}

func (s *Service) KnowledgeBase() map[string]any {
	s.kbMu.RLock()
	defer s.kbMu.RUnlock()
	out := make(map[string]any, len(s.kb))
	for k, v := range s.kb {
		out[k] = v
	}
	return out
}

// PersistKnowledgeBase writes the knowledge base as JSON. An empty path uses
// the configured one.
func (s *Service) PersistKnowledgeBase(ctx context.Context, path string) error {
	if path == "" {
		path = s.cfg.KnowledgeBasePath
	}
	if s.docs == nil {
		return errors.New("no document store configured")
	}
	data, err := json.Marshal(s.KnowledgeBase())
	if err != nil {
		s.logger.Error("encode knowledge base failed", "error", err)
		return fmt.Errorf("encode knowledge base: %w", err)
	}
	if err := s.docs.WriteDocument(ctx, path, data); err != nil {
		s.logger.Error("persist knowledge base failed", "path", path, "error", err)
		return fmt.Errorf("persist knowledge base: %w", err)
	}
	s.logger.Info("knowledge base persisted", "path", path, "bytes", len(data))
	return nil
}

// RestoreKnowledgeBase replaces the knowledge base with the stored document.
// On failure the in-memory knowledge base is left as it was.
func (s *Service) RestoreKnowledgeBase(ctx context.Context, path string) error {
	if path == "" {
		path = s.cfg.KnowledgeBasePath
	}
	if s.docs == nil {
		return errors.New("no document store configured")
	}
	data, err := s.docs.ReadDocument(ctx, path)
	if err != nil {
		s.logger.Error("restore knowledge base failed", "path", path, "error", err)
		return fmt.Errorf("restore knowledge base: %w", err)
	}
	kb, err := domain.DecodeDocument(data)
	if err != nil {
		s.logger.Error("decode knowledge base failed", "path", path, "error", err)
		return fmt.Errorf("decode knowledge base: %w", err)
	}

	s.kbMu.Lock()
	s.kb = kb
	s.kbMu.Unlock()
	s.logger.Info("knowledge base restored", "path", path, "keys", len(kb))
	return nil
}

// RunPeriodicDispatch calls DispatchAll every interval until ctx is done.
func (s *Service) RunPeriodicDispatch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.DispatchInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.DispatchAll(ctx); n > 0 {
				s.logger.Debug("dispatch pass finished", "dispatched", n)
			}
		}
	}
}
