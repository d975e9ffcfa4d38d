package eventdb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/voltgrid/oadr2/go/event"
)

// Memory is a Store kept entirely in process memory, used by tests and as
// the ephemeral mode when no database path is configured. Events are deep
// copied in and out so callers never alias stored state.
type Memory struct {
	mu     sync.Mutex
	events map[string]*event.Event
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{events: make(map[string]*event.Event)}
}

func (m *Memory) Add(e *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[e.ID]; ok {
		return fmt.Errorf("event %s is already stored", e.ID)
	}
	m.events[e.ID] = e.Copy()
	return nil
}

func (m *Memory) Update(e *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[e.ID] = e.Copy()
	return nil
}

func (m *Memory) Get(id string) (*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var e, ok = m.events[id]
	if !ok {
		return nil, nil
	}
	return e.Copy(), nil
}

func (m *Memory) Remove(ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.events, id)
	}
	return nil
}

func (m *Memory) Active() ([]*event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out = make([]*event.Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
