package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"omnipong/internal/domain"
	"omnipong/internal/logging"
	"omnipong/internal/metrics"
)

// Sink receives tasks as they leave the scheduler.
type Sink interface {
	EnqueueTask(task domain.Task)
}

type entry struct {
	priority int
	seq      uint64
	task     domain.Task
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// Scheduler orders tasks by priority, lowest first, and FIFO within a
// priority.
type Scheduler struct {
	mu      sync.Mutex
	heap    entryHeap
	seq     uint64
	logger  hclog.Logger
	metrics *metrics.Metrics
}

func New(logger hclog.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		logger:  logging.OrNull(logger).Named("scheduler"),
		metrics: m,
	}
}

func (s *Scheduler) AddTask(task domain.Task, priority int) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.heap, entry{priority: priority, seq: s.seq, task: task.Clone()})
	depth := s.heap.Len()
	s.mu.Unlock()

	s.metrics.TaskScheduled(depth)
	s.logger.Debug("task scheduled", "task", task.Type(), "priority", priority, "depth", depth)
}

func (s *Scheduler) PopNext() (domain.Task, bool) {
	s.mu.Lock()
	if s.heap.Len() == 0 {
		s.mu.Unlock()
		return nil, false
	}
	e := heap.Pop(&s.heap).(entry)
	depth := s.heap.Len()
	s.mu.Unlock()

	s.metrics.SchedulerDepth(depth)
	return e.task, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

// Run forwards at most one task to sink per interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context, sink Sink, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, ok := s.PopNext()
			if !ok {
				continue
			}
			s.logger.Debug("forwarding task", "task", task.Type())
			sink.EnqueueTask(task)
		}
	}
}

// Drain forwards every queued task to sink in priority order and returns how
// many were forwarded.
func (s *Scheduler) Drain(sink Sink) int {
	n := 0
	for {
		task, ok := s.PopNext()
		if !ok {
			return n
		}
		sink.EnqueueTask(task)
		n++
	}
}
