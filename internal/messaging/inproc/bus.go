package inproc

import (
	"errors"
	"sync"
)

var (
	ErrNoSubscribers       = errors.New("topic has no subscribers")
	ErrSubscriberQueueFull = errors.New("subscriber queue is full")
	ErrBusClosed           = errors.New("bus is closed")
)

// Handler receives one published payload. Each subscription runs its handler
// on its own goroutine, one payload at a time.
type Handler = func(payload []byte)

type subscription struct {
	ch   chan []byte
	once sync.Once
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscription
	nextID uint64
	buffer int
	closed bool
	wg     sync.WaitGroup
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]map[uint64]*subscription),
		buffer: buffer,
	}
}

// Subscribe registers handler for topic and returns a func that removes the
// subscription. Calling it more than once is safe.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	sub := &subscription{ch: make(chan []byte, b.buffer)}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*subscription)
	}
	b.subs[topic][id] = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for payload := range sub.ch {
			handler(payload)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subs, topic)
			}
		}
		sub.close()
	}
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Publish fans payload out to every subscriber of topic without blocking.
// Subscribers with a full queue miss the payload and ErrSubscriberQueueFull
// is returned after the others have been served.
func (b *Bus) Publish(topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	subs := b.subs[topic]
	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	var err error
	for _, sub := range subs {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case sub.ch <- msg:
		default:
			err = ErrSubscriberQueueFull
		}
	}
	return err
}

// Close drops every subscription and waits for in-flight handlers to return.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
		delete(b.subs, topic)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
