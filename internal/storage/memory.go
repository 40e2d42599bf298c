package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory implements Store with mutex-guarded maps. It backs local
// development and tests, and mirrors Dynamo's query semantics exactly
// (full-limit pages, exclusive cursors, exclusive After / inclusive Before).
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Item
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]Item)}
}

func (m *Memory) Put(ctx context.Context, item Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(item)
	return nil
}

func (m *Memory) putLocked(item Item) {
	coll, ok := m.collections[item.Collection]
	if !ok {
		coll = make(map[string]Item)
		m.collections[item.Collection] = coll
	}
	// Deep-copy so callers can't mutate stored state through shared slices.
	stored := item
	stored.Data = append([]byte(nil), item.Data...)
	if item.Indexed != nil {
		stored.Indexed = make(map[string]string, len(item.Indexed))
		for k, v := range item.Indexed {
			stored.Indexed[k] = v
		}
	}
	coll[item.Key] = stored
}

func (m *Memory) Get(ctx context.Context, collection, key string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.collections[collection][key]
	if !ok {
		return nil, nil
	}
	out := item
	out.Data = append([]byte(nil), item.Data...)
	return &out, nil
}

func (m *Memory) Query(ctx context.Context, q Query) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Item
	for _, item := range m.collections[q.Collection] {
		if q.After != "" && item.SortKey <= q.After {
			continue
		}
		if q.Before != "" && item.SortKey > q.Before {
			continue
		}
		if !matchesEquals(item, q.Equals) {
			continue
		}
		matched = append(matched, item)
	}

	sort.Slice(matched, func(i, j int) bool {
		a := matched[i].SortKey + "#" + matched[i].Key
		b := matched[j].SortKey + "#" + matched[j].Key
		if q.Descending {
			return a > b
		}
		return a < b
	})

	if q.StartAfter != "" {
		sortKey, key, ok := splitCursor(q.StartAfter)
		if ok {
			cursor := sortKey + "#" + key
			cut := 0
			for i, item := range matched {
				pos := item.SortKey + "#" + item.Key
				past := pos > cursor
				if q.Descending {
					past = pos < cursor
				}
				if past {
					cut = i
					break
				}
				cut = i + 1
			}
			matched = matched[cut:]
		}
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Item, len(matched))
	for i, item := range matched {
		out[i] = item
		out[i].Data = append([]byte(nil), item.Data...)
	}
	return out, nil
}

func matchesEquals(item Item, equals map[string]string) bool {
	for field, want := range equals {
		if item.Indexed[field] != want {
			return false
		}
	}
	return true
}

func (m *Memory) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], key)
	return nil
}

func (m *Memory) TransactWrite(ctx context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		switch {
		case w.Put != nil:
			m.putLocked(*w.Put)
		case w.Delete != nil:
			delete(m.collections[w.Delete.Collection], w.Delete.Key)
		}
	}
	return nil
}

func (m *Memory) EnsureSchema(ctx context.Context) error {
	probe := Item{
		Collection: CollectionSubscribers,
		Key:        "_schema_probe",
		SortKey:    "0",
		Data:       []byte(`{"probe":true}`),
	}
	if err := m.Put(ctx, probe); err != nil {
		return err
	}
	return m.Delete(ctx, probe.Collection, probe.Key)
}

// Len reports the number of documents in a collection. Test helper.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// Dump returns raw documents whose key has the given prefix. Test helper
// for verifying anonymization directly against storage.
func (m *Memory) Dump(collection, keyPrefix string) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Item
	for key, item := range m.collections[collection] {
		if strings.HasPrefix(key, keyPrefix) {
			out = append(out, item)
		}
	}
	return out
}
