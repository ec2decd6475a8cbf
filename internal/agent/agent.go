package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"

	"omnipong/internal/domain"
	"omnipong/internal/logging"
)

// Agent is anything the orchestrator can register and dispatch to.
type Agent interface {
	ID() string
	CanHandle(task domain.Task) bool
	ReceiveTask(ctx context.Context, task domain.Task)
	Bind(core Core)
}

// Core is the registry handle injected into an agent when it is registered.
// The agent does not own it.
type Core interface {
	RegisterAgent(a Agent)
	RemoveAgent(id string)
	ReceiveReport(agentID string, report domain.Report)
}

type DocumentStore interface {
	WriteDocument(ctx context.Context, path string, content []byte) error
	ReadDocument(ctx context.Context, path string) ([]byte, error)
}

var errNoDocumentStore = errors.New("agent has no document store")

// Base carries identity, the core binding and a private key/value state. It
// handles nothing by itself; concrete agents embed it and override CanHandle
// and ReceiveTask.
type Base struct {
	id     string
	docs   DocumentStore
	logger hclog.Logger

	mu    sync.RWMutex
	core  Core
	state map[string]any
}

func NewBase(id string, docs DocumentStore, logger hclog.Logger) *Base {
	return &Base{
		id:     id,
		docs:   docs,
		logger: logging.OrNull(logger).Named(id),
		state:  make(map[string]any),
	}
}

func (b *Base) ID() string {
	return b.id
}

func (b *Base) Logger() hclog.Logger {
	return b.logger
}

func (b *Base) Bind(core Core) {
	b.mu.Lock()
	b.core = core
	b.mu.Unlock()
}

func (b *Base) Core() Core {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.core
}

func (b *Base) CanHandle(domain.Task) bool {
	return false
}

func (b *Base) ReceiveTask(context.Context, domain.Task) {}

// Report forwards report to the bound core. Unbound agents log and drop it.
func (b *Base) Report(report domain.Report) {
	core := b.Core()
	if core == nil {
		b.logger.Warn("no core bound, dropping report", "keys", len(report))
		return
	}
	core.ReceiveReport(b.id, report)
}

func (b *Base) UpdateState(key string, value any) {
	b.mu.Lock()
	b.state[key] = value
	b.mu.Unlock()
	b.logger.Debug("state updated", "key", key)
}

func (b *Base) GetState(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.state[key]
	return v, ok
}

func (b *Base) State() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.state))
	for k, v := range b.state {
		out[k] = v
	}
	return out
}

func (b *Base) SaveState(ctx context.Context, path string) error {
	if b.docs == nil {
		return errNoDocumentStore
	}
	data, err := json.Marshal(b.State())
	if err != nil {
		b.logger.Error("encode state failed", "error", err)
		return fmt.Errorf("encode state: %w", err)
	}
	if err := b.docs.WriteDocument(ctx, path, data); err != nil {
		b.logger.Error("save state failed", "path", path, "error", err)
		return fmt.Errorf("save state: %w", err)
	}
	b.logger.Info("state saved", "path", path)
	return nil
}

// LoadState replaces the state with the stored document. On any failure the
// current state is kept.
func (b *Base) LoadState(ctx context.Context, path string) error {
	if b.docs == nil {
		return errNoDocumentStore
	}
	data, err := b.docs.ReadDocument(ctx, path)
	if err != nil {
		b.logger.Error("load state failed", "path", path, "error", err)
		return fmt.Errorf("load state: %w", err)
	}
	state, err := domain.DecodeDocument(data)
	if err != nil {
		b.logger.Error("decode state failed", "path", path, "error", err)
		return fmt.Errorf("decode state: %w", err)
	}
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
	b.logger.Info("state loaded", "path", path)
	return nil
}
