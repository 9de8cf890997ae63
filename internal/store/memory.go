package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/TimurManjosov/contentship/internal/rules"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It is suitable for development, testing, or single-instance deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]rules.Definition
	assignments map[assignmentKey]Assignment
	views       map[string]map[string]int64

	now      func() time.Time
	notifier *notifier
}

type assignmentKey struct {
	testID, userKey string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]rules.Definition),
		assignments: make(map[assignmentKey]Assignment),
		views:       make(map[string]map[string]int64),
		now:         func() time.Time { return time.Now().UTC() },
		notifier:    newNotifier(),
	}
}

// ListDefinitions returns all definitions ordered by id.
func (m *MemoryStore) ListDefinitions(ctx context.Context) ([]rules.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]rules.Definition, 0, len(m.definitions))
	for _, d := range m.definitions {
		result = append(result, cloneDefinition(d))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetDefinition retrieves a single definition by id.
func (m *MemoryStore) GetDefinition(ctx context.Context, id string) (*rules.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.definitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneDefinition(d)
	return &out, nil
}

// UpsertDefinition creates or replaces a definition.
func (m *MemoryStore) UpsertDefinition(ctx context.Context, d rules.Definition) (rules.Definition, error) {
	m.mu.Lock()
	d = cloneDefinition(d)
	d.UpdatedAt = m.now()
	m.definitions[d.ID] = d
	m.mu.Unlock()

	m.notifier.publish(d.ID)
	return cloneDefinition(d), nil
}

// DeleteDefinition removes a definition and its view counters.
func (m *MemoryStore) DeleteDefinition(ctx context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.definitions[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.definitions, id)
	delete(m.views, id)
	m.mu.Unlock()

	m.notifier.publish(id)
	return nil
}

func (m *MemoryStore) GetAssignment(ctx context.Context, testID, userKey string) (*Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assignments[assignmentKey{testID, userKey}]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) PutAssignmentIfAbsent(ctx context.Context, a Assignment) (Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assignmentKey{a.TestID, a.UserKey}
	if existing, ok := m.assignments[key]; ok && !existing.Expired(a.AssignedAt) {
		return existing, nil
	}
	m.assignments[key] = a
	return a, nil
}

func (m *MemoryStore) PurgeAssignments(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, a := range m.assignments {
		if a.Expired(before) {
			delete(m.assignments, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AddViews(ctx context.Context, contentID, variantID string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	counters, ok := m.views[contentID]
	if !ok {
		counters = make(map[string]int64)
		m.views[contentID] = counters
	}
	counters[variantID] += n
	return nil
}

func (m *MemoryStore) Views(ctx context.Context, contentID string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int64, len(m.views[contentID]))
	for k, v := range m.views[contentID] {
		out[k] = v
	}
	return out, nil
}

// Subscribe delivers ids changed through this store.
func (m *MemoryStore) Subscribe(ctx context.Context) (<-chan string, error) {
	return m.notifier.subscribe(ctx), nil
}

// Close closes every subscription.
func (m *MemoryStore) Close() error {
	m.notifier.closeAll()
	return nil
}

// cloneDefinition copies the variant and condition slices so callers cannot
// mutate stored state. Condition values are shared; they are never mutated.
func cloneDefinition(d rules.Definition) rules.Definition {
	out := d
	if d.Variants == nil {
		return out
	}
	out.Variants = make([]rules.Variant, len(d.Variants))
	for i, v := range d.Variants {
		if v.Conditions != nil {
			v.Conditions = append([]rules.Condition(nil), v.Conditions...)
		}
		out.Variants[i] = v
	}
	return out
}
