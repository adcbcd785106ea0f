// ABOUTME: In-memory content store for tests
// ABOUTME: Event emission is under explicit test control via Emit

package store

import (
	"sort"
	"sync"
)

// Memory is an in-memory Store. Tests drive its event stream directly.
type Memory struct {
	mu      sync.Mutex
	tasks   map[string]Task
	docs    map[string]Doc
	config  map[string]any
	subs    map[int]func(Event)
	nextSub int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tasks:  make(map[string]Task),
		docs:   make(map[string]Doc),
		config: make(map[string]any),
		subs:   make(map[int]func(Event)),
	}
}

// Emit delivers an event to all subscribers.
func (m *Memory) Emit(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Subscribe registers fn for events.
func (m *Memory) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// AddTask seeds a task without emitting an event.
func (m *Memory) AddTask(t Task) {
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
}

// AddDoc seeds a doc without emitting an event.
func (m *Memory) AddDoc(d Doc) {
	m.mu.Lock()
	m.docs[d.ID] = d
	m.mu.Unlock()
}

func (m *Memory) Tasks() ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Task(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *Memory) PutTask(id, raw string) error {
	m.mu.Lock()
	m.tasks[id] = Task{ID: id, Title: firstHeading(raw, id), Raw: raw}
	m.mu.Unlock()
	m.Emit(Event{Kind: EventChanged})
	return nil
}

func (m *Memory) Docs() ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Doc, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Doc(id string) (*Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (m *Memory) Config() (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.config))
	for k, v := range m.config {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) SetConfig(cfg map[string]any) error {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	m.Emit(Event{Kind: EventChanged})
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.subs = make(map[int]func(Event))
	m.mu.Unlock()
	return nil
}
