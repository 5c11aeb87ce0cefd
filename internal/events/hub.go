// Package events fans run lifecycle events out to status clients.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher.
const (
	TypeRunStarted        = "run.started"
	TypeWorkerStarted     = "worker.started"
	TypeWorkerExited      = "worker.exited"
	TypeWorkerSpawnFailed = "worker.spawn_failed"
	TypeLedgerWritten     = "ledger.written"
	TypeRunFinished       = "run.finished"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// WorkerStarted is the payload of worker.started.
type WorkerStarted struct {
	Slot   int    `json:"slot"`
	PID    int    `json:"pid"`
	Record uint64 `json:"record"`
}

// WorkerExited is the payload of worker.exited.
type WorkerExited struct {
	Slot     int     `json:"slot"`
	PID      int     `json:"pid"`
	Record   uint64  `json:"record"`
	ExitCode int     `json:"exit_code"`
	Signal   string  `json:"signal,omitempty"`
	Seconds  float64 `json:"seconds"`
}

// SpawnFailed is the payload of worker.spawn_failed.
type SpawnFailed struct {
	Slot   int    `json:"slot"`
	Record uint64 `json:"record"`
	Error  string `json:"error"`
}

// LedgerWritten is the payload of ledger.written.
type LedgerWritten struct {
	Value uint64 `json:"value"`
}

// RunFinished is the payload of run.finished.
type RunFinished struct {
	RunID      string `json:"run_id"`
	Consumed   uint64 `json:"consumed"`
	Dispatched uint64 `json:"dispatched"`
	Error      string `json:"error,omitempty"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish never blocks; a nil Hub drops the event.
func (h *Hub) Publish(eventType string, data any) {
	if h == nil {
		return
	}
	id := h.nextID.Add(1)

	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	ev := Event{
		ID:   id,
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Slow clients lose events rather than stall the dispatcher.
		select {
		case ch <- ev:
		default:
		}
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}

	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if capacity == 0 {
		return
	}

	if h.size < capacity {
		idx := (h.start + h.size) % capacity
		h.ring[idx] = ev
		h.size++
		return
	}

	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
