package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/zerolink/internal/observability"
	"github.com/danmuck/zerolink/internal/protocol/frame"
)

const (
	MinCorrelationID byte = 1
	MaxCorrelationID byte = 254
	// MaxInFlight is the number of ids usable at once.
	MaxInFlight = int(MaxCorrelationID - MinCorrelationID + 1)
)

// Outcome completes a pending request: either a Success frame or an error.
type Outcome struct {
	Frame frame.Frame
	Err   error
}

// PendingRequest tracks one request awaiting its reply.
type PendingRequest struct {
	ID        byte
	Op        frame.Opcode
	CreatedAt time.Time
	Deadline  time.Time

	done chan Outcome
}

// Done yields exactly one Outcome unless the entry was cancelled.
func (p *PendingRequest) Done() <-chan Outcome {
	return p.done
}

// PendingTable maps in-flight correlation ids to their requests. Whoever
// removes an entry from the map is the only party allowed to complete it.
type PendingTable struct {
	mu    sync.Mutex
	items map[byte]*PendingRequest
	last  byte
	slots chan struct{}
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[byte]*PendingRequest),
		slots: make(chan struct{}, MaxInFlight),
	}
}

// Register allocates the next free id and records the request. It blocks
// while all ids are in flight, until one is released or ctx ends.
func (t *PendingTable) Register(ctx context.Context, op frame.Opcode, createdAt, deadline time.Time) (*PendingRequest, error) {
	select {
	case t.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	t.mu.Lock()
	id := t.allocateLocked()
	p := &PendingRequest{
		ID:        id,
		Op:        op,
		CreatedAt: createdAt,
		Deadline:  deadline,
		done:      make(chan Outcome, 1),
	}
	t.items[id] = p
	t.mu.Unlock()
	observability.AddPending(1)
	return p, nil
}

// allocateLocked walks forward from the last id, wrapping 254 -> 1 and
// skipping ids still in flight. A slot is held, so a free id exists.
func (t *PendingTable) allocateLocked() byte {
	id := t.last
	for {
		if id >= MaxCorrelationID {
			id = MinCorrelationID
		} else {
			id++
		}
		if _, busy := t.items[id]; !busy {
			t.last = id
			return id
		}
	}
}

// Resolve removes id and delivers out. It reports false when id is not
// pending (already completed, timed out or never issued).
func (t *PendingTable) Resolve(id byte, out Outcome) bool {
	p, ok := t.take(id)
	if !ok {
		return false
	}
	p.done <- out
	return true
}

// Cancel removes id without delivering anything. It reports false when a
// resolver got there first; the caller should then read Done.
func (t *PendingTable) Cancel(id byte) bool {
	_, ok := t.take(id)
	return ok
}

// FailAll rejects every pending request with err and returns how many.
func (t *PendingTable) FailAll(err error) int {
	t.mu.Lock()
	drained := make([]*PendingRequest, 0, len(t.items))
	for id, p := range t.items {
		drained = append(drained, p)
		delete(t.items, id)
	}
	t.mu.Unlock()

	for _, p := range drained {
		<-t.slots
		p.done <- Outcome{Err: err}
	}
	observability.AddPending(-len(drained))
	return len(drained)
}

func (t *PendingTable) take(id byte) (*PendingRequest, bool) {
	t.mu.Lock()
	p, ok := t.items[id]
	if ok {
		delete(t.items, id)
	}
	t.mu.Unlock()
	if ok {
		<-t.slots
		observability.AddPending(-1)
	}
	return p, ok
}

func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *PendingTable) Contains(id byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.items[id]
	return ok
}

// List returns a snapshot ordered by id.
func (t *PendingTable) List() []PendingRequest {
	t.mu.Lock()
	out := make([]PendingRequest, 0, len(t.items))
	for _, p := range t.items {
		out = append(out, PendingRequest{ID: p.ID, Op: p.Op, CreatedAt: p.CreatedAt, Deadline: p.Deadline})
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
