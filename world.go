package proxvoice

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrNoEntity is returned when an operation names an entity ID
	// that is not in the World. This is a contract violation by the
	// caller, not a recoverable network condition.
	ErrNoEntity = errors.New("no such entity")

	ErrDuplicateEntity = errors.New("entity id already in use")
	ErrIDsExhausted    = errors.New("entity id space exhausted")
)

// A WorldObserver receives entity lifecycle events. Destroy events
// fire exactly once per entity. Bulk Clear and Reset do NOT fire
// per-entity destroy events; they fire WorldReset instead.
type WorldObserver interface {
	EntityCreated(*Entity)
	EntityDestroyed(*Entity)
	WorldReset()
}

// A World owns a set of entities keyed by small integer IDs. The
// server's World is authoritative; a client's mirrors it. Safe for
// concurrent use: entities are added by the receive path and removed
// by both the receive path and timer sweeps.
type World struct {
	mu       sync.RWMutex
	entities map[int]*Entity
	observer WorldObserver
}

func NewWorld() *World {
	return &World{entities: make(map[int]*Entity)}
}

// SetObserver installs the single lifecycle observer. Pass nil to
// detach.
func (w *World) SetObserver(o WorldObserver) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.observer = o
}

// CreateEntity allocates the smallest unused non-negative ID and adds
// a fresh entity under it. IDs are reused after destroy.
func (w *World) CreateEntity() (*Entity, error) {
	w.mu.Lock()

	id := 0
	for ; ; id++ {
		if _, ok := w.entities[id]; !ok {
			break
		}
		if id == math.MaxInt32 {
			w.mu.Unlock()
			return nil, ErrIDsExhausted
		}
	}

	e := newEntity(id)
	w.entities[id] = e
	o := w.observer
	w.mu.Unlock()

	if o != nil {
		o.EntityCreated(e)
	}
	return e, nil
}

// AddEntity inserts an existing entity, failing on an ID collision.
func (w *World) AddEntity(e *Entity) error {
	w.mu.Lock()

	if _, ok := w.entities[e.ID()]; ok {
		w.mu.Unlock()
		return fmt.Errorf("add entity %d: %w", e.ID(), ErrDuplicateEntity)
	}
	w.entities[e.ID()] = e
	o := w.observer
	w.mu.Unlock()

	if o != nil {
		o.EntityCreated(e)
	}
	return nil
}

// Entity returns the entity with the given ID, or nil.
func (w *World) Entity(id int) *Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.entities[id]
}

// Len returns the number of live entities.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return len(w.entities)
}

// ForEach calls f for every live entity in ascending ID order.
func (w *World) ForEach(f func(*Entity)) {
	w.mu.RLock()
	ids := make([]int, 0, len(w.entities))
	for id := range w.entities {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	es := make([]*Entity, len(ids))
	for i, id := range ids {
		es[i] = w.entities[id]
	}
	w.mu.RUnlock()

	for _, e := range es {
		f(e)
	}
}

// DestroyEntity removes the entity with the given ID, marking it
// destroyed and firing the destroy event exactly once. An unknown ID
// is a hard error.
func (w *World) DestroyEntity(id int) error {
	w.mu.Lock()

	e, ok := w.entities[id]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("destroy entity %d: %w", id, ErrNoEntity)
	}
	delete(w.entities, id)
	o := w.observer
	w.mu.Unlock()

	e.destroy()
	if o != nil {
		o.EntityDestroyed(e)
	}
	return nil
}

// Clear drops every entity without firing individual destroy events.
// Used for full resets.
func (w *World) Clear() {
	w.mu.Lock()
	old := w.entities
	w.entities = make(map[int]*Entity)
	w.mu.Unlock()

	for _, e := range old {
		e.destroy()
	}
}

// Reset clears the World and fires a single WorldReset event.
func (w *World) Reset() {
	w.Clear()

	w.mu.RLock()
	o := w.observer
	w.mu.RUnlock()

	if o != nil {
		o.WorldReset()
	}
}
