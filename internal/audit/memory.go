package audit

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// DefaultMemoryCapacity bounds MemoryLog when no capacity is given.
const DefaultMemoryCapacity = 10000

// MemoryLog keeps the most recent audit entries in process memory. It backs
// the timeline for the in-memory store and forwards every entry to next.
type MemoryLog struct {
	mu       sync.RWMutex
	entries  []TimelineRow
	nextID   int64
	capacity int
	next     shared.AuditRecorder
}

// NewMemoryLog builds a MemoryLog. next may be nil.
func NewMemoryLog(next shared.AuditRecorder, capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryLog{capacity: capacity, next: next}
}

// Record implements shared.AuditRecorder.
func (l *MemoryLog) Record(ctx context.Context, entry shared.AuditLog) error {
	if l.next != nil {
		if err := l.next.Record(ctx, entry); err != nil {
			return err
		}
	}
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.entries = append(l.entries, TimelineRow{
		ID:       l.nextID,
		At:       at.UTC(),
		ActorID:  entry.ActorID,
		Action:   entry.Action,
		Entity:   entry.Entity,
		EntityID: entry.EntityID,
		Meta:     maps.Clone(entry.Meta),
	})
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
	return nil
}

// TimelineWindow implements Repository.
func (l *MemoryLog) TimelineWindow(_ context.Context, params WindowParams) ([]TimelineRow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []TimelineRow{}
	skipped := 0
	for i := len(l.entries) - 1; i >= 0; i-- {
		row := l.entries[i]
		if !params.matches(row) {
			continue
		}
		if skipped < params.Offset {
			skipped++
			continue
		}
		row.Meta = maps.Clone(row.Meta)
		out = append(out, row)
		if params.Limit > 0 && len(out) == params.Limit {
			break
		}
	}
	return out, nil
}
