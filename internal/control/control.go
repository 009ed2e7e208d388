package control

import (
	"sort"
	"sync"
	"time"

	"github.com/vietddude/fetchkit/internal/core/domain"
	"github.com/vietddude/fetchkit/internal/task"
)

// StatusBoard tracks background task states for the health endpoints. Updates arrive
// through task notifiers, which the app posts on its dispatch loop.
type StatusBoard struct {
	mu      sync.RWMutex
	tasks   map[string]*task.Task
	uris    map[string]string
	entries map[string]domain.TaskSnapshot
}

// NewStatusBoard creates an empty board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{
		tasks:   make(map[string]*task.Task),
		uris:    make(map[string]string),
		entries: make(map[string]domain.TaskSnapshot),
	}
}

// Notifier returns the notifier to attach to the task named name.
func (b *StatusBoard) Notifier(name string) task.Notifier {
	return task.NotifierFunc(func() { b.refresh(name) })
}

// Track registers t and records its current state.
func (b *StatusBoard) Track(t *task.Task, uri string) {
	b.mu.Lock()
	b.tasks[t.Name()] = t
	b.uris[t.Name()] = uri
	b.mu.Unlock()
	b.refresh(t.Name())
}

// Snapshot returns the tracked tasks ordered by name.
func (b *StatusBoard) Snapshot() []domain.TaskSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]domain.TaskSnapshot, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the snapshot of one task.
func (b *StatusBoard) Get(name string) (domain.TaskSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[name]
	return e, ok
}

func (b *StatusBoard) refresh(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[name]
	if !ok {
		// Completed before Track; Track records it.
		return
	}

	snap := domain.TaskSnapshot{
		Name:      name,
		URI:       b.uris[name],
		Status:    t.Status(),
		Progress:  t.Progress(),
		UpdatedAt: time.Now(),
	}
	if ev, ok := t.LastEvent(); ok {
		snap.RunID = ev.RunID
		snap.Elapsed = ev.Elapsed
		if ev.Err != nil {
			snap.Error = ev.Err.Error()
		}
	}
	b.entries[name] = snap
}
