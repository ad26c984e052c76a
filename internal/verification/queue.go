package verification

import (
	"context"
	"sync"
	"time"
)

// Queue holds verification requests between submission and teacher decision.
// Insertion is append-only; List preserves insertion order for stable display.
type Queue interface {
	Enqueue(ctx context.Context, req Request) (Request, error)
	// List returns requests, optionally filtered by status ("" means all).
	List(ctx context.Context, status Status) ([]Request, error)
	Get(ctx context.Context, id string) (Request, error)
	// Transition applies a compare-and-set on status: it succeeds only if the
	// request is currently pending. A non-pending target fails
	// ErrInvalidTransition; a missing id fails ErrNotFound.
	Transition(ctx context.Context, id string, to Status, decidedBy string) (Request, error)
}

// Memory is a mutex-guarded in-memory queue for dev and tests, mirroring the
// production Postgres queue's semantics.
type Memory struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*Request
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{byID: make(map[string]*Request)}
}

// Enqueue appends a request.
func (m *Memory) Enqueue(ctx context.Context, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Status == "" {
		req.Status = StatusPending
	}
	cp := req
	m.byID[req.ID] = &cp
	m.order = append(m.order, req.ID)
	return req, nil
}

// List returns requests in insertion order.
func (m *Memory) List(ctx context.Context, status Status) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.order))
	for _, id := range m.order {
		r := m.byID[id]
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// Get returns a request by id.
func (m *Memory) Get(ctx context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return *r, nil
}

// Transition performs the compare-and-set under the queue lock.
func (m *Memory) Transition(ctx context.Context, id string, to Status, decidedBy string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if r.Status != StatusPending {
		return Request{}, ErrInvalidTransition
	}
	now := time.Now().UTC()
	r.Status = to
	r.DecidedBy = decidedBy
	r.DecidedAt = &now
	return *r, nil
}
