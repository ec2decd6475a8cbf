package learning

import (
	"math/rand/v2"
)

type Experience struct {
	State     int     `json:"state"`
	Action    int     `json:"action"`
	Reward    float64 `json:"reward"`
	NextState int     `json:"next_state"`
	Done      bool    `json:"done"`
}

// ReplayBuffer is a fixed-capacity ring of experiences. Once full, each Add
// overwrites the oldest entry.
type ReplayBuffer struct {
	items []Experience
	next  int
	size  int
}

func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReplayBuffer{items: make([]Experience, capacity)}
}

func (b *ReplayBuffer) Add(e Experience) {
	b.items[b.next] = e
	b.next = (b.next + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

func (b *ReplayBuffer) Len() int {
	return b.size
}

func (b *ReplayBuffer) Cap() int {
	return len(b.items)
}

// Items returns the stored experiences oldest first.
func (b *ReplayBuffer) Items() []Experience {
	out := make([]Experience, 0, b.size)
	start := b.next - b.size
	if start < 0 {
		start += len(b.items)
	}
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(start+i)%len(b.items)])
	}
	return out
}

// Sample draws n distinct experiences uniformly at random.
func (b *ReplayBuffer) Sample(rng *rand.Rand, n int) ([]Experience, error) {
	if n > b.size {
		return nil, &InsufficientExperienceError{Have: b.size, Want: n}
	}
	if n <= 0 {
		return nil, nil
	}
	items := b.Items()
	perm := rng.Perm(len(items))
	out := make([]Experience, n)
	for i := 0; i < n; i++ {
		out[i] = items[perm[i]]
	}
	return out, nil
}
