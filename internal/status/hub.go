// Package status fans job-state transitions out to real-time
// subscribers. Delivery is best-effort per subscriber and strictly
// ordered per job: the engine publishes from the single goroutine that
// owns the job, and the hub never reorders within a topic.
package status

import (
	"sync"

	"github.com/awlabs/trellis/pkg/api"
)

type (
	// Hub manages per-job subscriber sets. It is safe for concurrent
	// use by connect/disconnect events and publish calls.
	Hub struct {
		mu     sync.Mutex
		topics map[api.JobID]*topic

		// retained orders jobs with a final marker, oldest first, so the
		// retention cap can evict in arrival order
		retained []api.JobID
	}

	topic struct {
		subs   map[int]chan *api.JobUpdate
		nextID int

		// final is retained after the terminal publish so that late
		// subscribers receive exactly one closing message instead of
		// waiting forever. Each marker is small.
		final *api.JobUpdate
	}
)

// subscriberBufferSize is the channel buffer for each subscriber. A
// subscriber that falls this far behind is dropped rather than allowed
// to block the publisher.
const subscriberBufferSize = 16

// MaxRetainedFinals caps the terminal markers kept for late
// subscribers. The oldest marker is discarded once the cap is reached;
// a subscriber arriving after that reads the outcome from the job store
// instead.
const MaxRetainedFinals = 1024

// NewHub creates an empty status hub
func NewHub() *Hub {
	return &Hub{topics: map[api.JobID]*topic{}}
}

// Subscribe returns a channel of updates for the given job and an
// unsubscribe function. If the job already reached a terminal state the
// channel delivers the retained final message and is then closed.
func (h *Hub) Subscribe(id api.JobID) (<-chan *api.JobUpdate, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[id]
	if !ok {
		t = &topic{subs: map[int]chan *api.JobUpdate{}}
		h.topics[id] = t
	}

	if t.final != nil {
		ch := make(chan *api.JobUpdate, 1)
		ch <- t.final
		close(ch)
		return ch, func() {}
	}

	ch := make(chan *api.JobUpdate, subscriberBufferSize)
	subID := t.nextID
	t.nextID++
	t.subs[subID] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := t.subs[subID]; ok {
			delete(t.subs, subID)
			close(ch)
		}
		// drop the topic once nothing references it, so probing an
		// unknown job ID leaves no trace
		if len(t.subs) == 0 && t.final == nil && h.topics[id] == t {
			delete(h.topics, id)
		}
	}
}

// Publish delivers an update to every current subscriber of the job.
// Subscribers whose buffers are full are evicted. A final update closes
// and evicts all subscribers; subsequent publishes are ignored.
func (h *Hub) Publish(id api.JobID, u *api.JobUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[id]
	if !ok {
		if u.IsFinal() {
			h.topics[id] = &topic{
				subs:  map[int]chan *api.JobUpdate{},
				final: u,
			}
			h.retainFinal(id)
		}
		return
	}
	if t.final != nil {
		return
	}

	for subID, ch := range t.subs {
		select {
		case ch <- u:
		default:
			delete(t.subs, subID)
			close(ch)
		}
	}

	if u.IsFinal() {
		t.final = u
		for subID, ch := range t.subs {
			delete(t.subs, subID)
			close(ch)
		}
		h.retainFinal(id)
	}
}

// retainFinal records a terminal marker and evicts the oldest retained
// topic beyond the cap. Callers hold h.mu.
func (h *Hub) retainFinal(id api.JobID) {
	h.retained = append(h.retained, id)
	if len(h.retained) <= MaxRetainedFinals {
		return
	}
	oldest := h.retained[0]
	h.retained = h.retained[1:]
	delete(h.topics, oldest)
}

// Subscribers returns the current subscriber count for a job
func (h *Hub) Subscribers(id api.JobID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.topics[id]; ok {
		return len(t.subs)
	}
	return 0
}

// Topics returns the number of job topics currently held
func (h *Hub) Topics() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics)
}
