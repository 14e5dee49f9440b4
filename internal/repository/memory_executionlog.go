package repository

import (
	"context"
	"sync"

	"plangate/pkg/models"
)

// DefaultExecutionLogCapacity is used when NewExecutionLog is given a capacity <= 0.
const DefaultExecutionLogCapacity = 1000

// ExecutionLog is an in-memory AuditStore that keeps the most recent entries
// in a fixed-size ring.
type ExecutionLog struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	next    int
	full    bool
}

// NewExecutionLog creates an ExecutionLog holding at most capacity entries.
func NewExecutionLog(capacity int) *ExecutionLog {
	if capacity <= 0 {
		capacity = DefaultExecutionLogCapacity
	}
	return &ExecutionLog{entries: make([]models.AuditEntry, capacity)}
}

// Record appends an entry, overwriting the oldest one once the log is full.
func (l *ExecutionLog) Record(_ context.Context, entry models.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	return nil
}

// Get retrieves the newest entry for a validation ID.
func (l *ExecutionLog) Get(_ context.Context, validationID string) (*models.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.newestFirst(l.size()) {
		if e.ValidationID == validationID {
			found := e
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// List returns up to limit entries, newest first. A limit <= 0 returns all.
func (l *ExecutionLog) List(_ context.Context, limit int) ([]models.AuditEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := l.size()
	if limit > 0 && limit < n {
		n = limit
	}
	return l.newestFirst(n), nil
}

// Len returns the number of entries held.
func (l *ExecutionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size()
}

func (l *ExecutionLog) size() int {
	if l.full {
		return len(l.entries)
	}
	return l.next
}

// newestFirst copies the n newest entries. The caller holds the lock.
func (l *ExecutionLog) newestFirst(n int) []models.AuditEntry {
	out := make([]models.AuditEntry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}
