// Package relay connects the orchestrator to a publish/subscribe transport:
// tasks arrive on one topic and every report leaves on another.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"omnipong/internal/domain"
	"omnipong/internal/logging"
	"omnipong/internal/messaging/inproc"
)

type Bus interface {
	Subscribe(topic string, handler func(payload []byte)) (unsubscribe func())
	Publish(topic string, payload []byte) error
}

type Sink interface {
	EnqueueTask(task domain.Task)
}

type Scheduler interface {
	AddTask(task domain.Task, priority int)
}

type Config struct {
	TasksTopic      string
	ReportsTopic    string
	DefaultPriority int
}

func (c Config) withDefaults() Config {
	if c.TasksTopic == "" {
		c.TasksTopic = "tasks"
	}
	if c.ReportsTopic == "" {
		c.ReportsTopic = "reports"
	}
	if c.DefaultPriority <= 0 {
		c.DefaultPriority = 1
	}
	return c
}

// Envelope is the wire form of a report on the reports topic.
type Envelope struct {
	ID      string        `json:"id"`
	AgentID string        `json:"agent_id"`
	Report  domain.Report `json:"report"`
	SentAt  time.Time     `json:"sent_at"`
}

type Relay struct {
	bus    Bus
	sink   Sink
	sched  Scheduler
	cfg    Config
	logger hclog.Logger
}

// New builds a relay. Tasks carrying a priority go through sched when it is
// set; everything else goes straight to sink.
func New(bus Bus, sink Sink, sched Scheduler, cfg Config, logger hclog.Logger) *Relay {
	return &Relay{
		bus:    bus,
		sink:   sink,
		sched:  sched,
		cfg:    cfg.withDefaults(),
		logger: logging.OrNull(logger).Named("relay"),
	}
}

// Run consumes the tasks topic until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	unsubscribe := r.bus.Subscribe(r.cfg.TasksTopic, r.handleTask)
	defer unsubscribe()
	r.logger.Info("relay listening", "topic", r.cfg.TasksTopic)
	<-ctx.Done()
	return nil
}

func (r *Relay) handleTask(payload []byte) {
	task, priority, scheduled, err := DecodeTask(payload, r.cfg.DefaultPriority)
	if err != nil {
		r.logger.Warn("rejecting task message", "error", err)
		return
	}
	if scheduled && r.sched != nil {
		r.sched.AddTask(task, priority)
		r.logger.Debug("task scheduled", "task", task.Type(), "priority", priority)
		return
	}
	r.sink.EnqueueTask(task)
	r.logger.Debug("task enqueued", "task", task.Type())
}

// DecodeTask parses a JSON task. The priority field, when present, is
// removed from the task and returned separately; a null priority schedules
// the task at defaultPriority.
func DecodeTask(payload []byte, defaultPriority int) (task domain.Task, priority int, scheduled bool, err error) {
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, 0, false, fmt.Errorf("decode task: %w", err)
	}
	if task.Type() == "" {
		return nil, 0, false, errors.New("task has no type")
	}
	raw, ok := task[domain.FieldPriority]
	if !ok {
		return task, 0, false, nil
	}
	if raw == nil {
		delete(task, domain.FieldPriority)
		return task, defaultPriority, true, nil
	}
	p, ok := raw.(float64)
	if !ok || p != float64(int(p)) {
		return nil, 0, false, fmt.Errorf("priority must be an integer, got %v", raw)
	}
	delete(task, domain.FieldPriority)
	return task, int(p), true, nil
}

// PublishReport sends report to the reports topic. It matches the
// orchestrator's report hook signature.
func (r *Relay) PublishReport(agentID string, report domain.Report) {
	data, err := json.Marshal(Envelope{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Report:  report,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		r.logger.Error("encode report failed", "agent", agentID, "error", err)
		return
	}
	switch err := r.bus.Publish(r.cfg.ReportsTopic, data); {
	case err == nil:
	case errors.Is(err, inproc.ErrNoSubscribers):
		r.logger.Trace("no report subscribers", "agent", agentID)
	default:
		r.logger.Warn("publish report failed", "agent", agentID, "error", err)
	}
}
