package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/sumire/buildd/internal/domain"
)

// Registry tracks the last heartbeat seen from each worker. It is the
// only in-process mutable shared state; all access goes through one
// mutex. Entries are never deleted — staleness is applied at read time
// by the status reporter. A restart loses the map, which self-heals
// within one heartbeat interval.
type Registry struct {
	mu      sync.Mutex
	workers map[domain.WorkerIdentifier]domain.WorkerStatus
	now     func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		workers: make(map[domain.WorkerIdentifier]domain.WorkerStatus),
		now:     time.Now,
	}
}

// RecordHeartbeat inserts or updates the entry for id, stamping it with
// the current time. Arrival time comes from receipt, not the message.
func (r *Registry) RecordHeartbeat(id domain.WorkerIdentifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[id] = domain.WorkerStatus{LastHeartbeat: r.now()}
}

// Entry is one row of a registry snapshot.
type Entry struct {
	Identifier domain.WorkerIdentifier
	Status     domain.WorkerStatus
}

// Snapshot returns a consistent copy of the registry, ordered by the
// worker identifier's natural order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	entries := make([]Entry, 0, len(r.workers))
	for id, status := range r.workers {
		entries = append(entries, Entry{Identifier: id, Status: status})
	}
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Identifier.Compare(entries[j].Identifier) < 0
	})
	return entries
}
