package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/cryptolctl/internal/protocol"
)

// PendingRequest tracks one request awaiting its response.
type PendingRequest struct {
	ID         uint64
	Method     protocol.Method
	SentAt     time.Time
	DeadlineAt time.Time
}

// PendingTable stores in-flight requests by correlation id.
type PendingTable struct {
	mu    sync.RWMutex
	items map[uint64]PendingRequest
}

func NewPendingTable() *PendingTable {
	return &PendingTable{
		items: make(map[uint64]PendingRequest),
	}
}

// Add registers item. It returns false when the id is already pending.
func (p *PendingTable) Add(item PendingRequest) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.items[item.ID]; exists {
		return false
	}
	p.items[item.ID] = item
	return true
}

// Resolve removes and returns the entry for id.
func (p *PendingTable) Resolve(id uint64) (PendingRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	item, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	return item, ok
}

func (p *PendingTable) Remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, id)
}

func (p *PendingTable) Get(id uint64) (PendingRequest, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.items[id]
	return item, ok
}

func (p *PendingTable) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

func (p *PendingTable) List() []PendingRequest {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PendingRequest, 0, len(p.items))
	for _, item := range p.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}
