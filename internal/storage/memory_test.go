package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedItems(t *testing.T, m *Memory, n int) []Item {
	t.Helper()
	items := make([]Item, n)
	for i := 0; i < n; i++ {
		item := Item{
			Collection: CollectionSubscribers,
			Key:        fmt.Sprintf("key-%02d", i),
			SortKey:    fmt.Sprintf("2026-01-%02dT00:00:00Z", i+1),
			Data:       []byte(fmt.Sprintf(`{"i":%d}`, i)),
			Indexed:    map[string]string{"parity": fmt.Sprintf("%d", i%2)},
		}
		require.NoError(t, m.Put(context.Background(), item))
		items[i] = item
	}
	return items
}

func TestMemoryPutGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	got, err := m.Get(ctx, CollectionSubscribers, "missing")
	require.NoError(t, err)
	assert.Nil(t, got, "absent key returns nil, not an error")

	item := Item{Collection: CollectionSubscribers, Key: "a", SortKey: "1", Data: []byte(`{}`)}
	require.NoError(t, m.Put(ctx, item))

	got, err = m.Get(ctx, CollectionSubscribers, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "1", got.SortKey)

	require.NoError(t, m.Delete(ctx, CollectionSubscribers, "a"))
	require.NoError(t, m.Delete(ctx, CollectionSubscribers, "a"), "double delete is not an error")

	got, err = m.Get(ctx, CollectionSubscribers, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueryOrderingAndBounds(t *testing.T) {
	m := NewMemory()
	seedItems(t, m, 5)
	ctx := context.Background()

	items, err := m.Query(ctx, Query{Collection: CollectionSubscribers})
	require.NoError(t, err)
	require.Len(t, items, 5)
	for i := 1; i < len(items); i++ {
		assert.Less(t, items[i-1].SortKey, items[i].SortKey, "ascending by sort key")
	}

	items, err = m.Query(ctx, Query{Collection: CollectionSubscribers, Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "key-04", items[0].Key)
	assert.Equal(t, "key-03", items[1].Key)

	// After is exclusive, Before inclusive.
	items, err = m.Query(ctx, Query{
		Collection: CollectionSubscribers,
		After:      "2026-01-02T00:00:00Z",
		Before:     "2026-01-04T00:00:00Z",
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "key-02", items[0].Key)
	assert.Equal(t, "key-03", items[1].Key)
}

func TestMemoryQueryEqualsFilter(t *testing.T) {
	m := NewMemory()
	seedItems(t, m, 6)

	items, err := m.Query(context.Background(), Query{
		Collection: CollectionSubscribers,
		Equals:     map[string]string{"parity": "1"},
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, "1", item.Indexed["parity"])
	}
}

func TestMemoryQueryCursorPaging(t *testing.T) {
	m := NewMemory()
	seeded := seedItems(t, m, 7)
	ctx := context.Background()

	var seen []string
	cursor := ""
	pages := 0
	for {
		q := Query{Collection: CollectionSubscribers, Limit: 3, StartAfter: cursor}
		items, err := m.Query(ctx, q)
		require.NoError(t, err)
		for _, item := range items {
			seen = append(seen, item.Key)
		}
		pages++
		if len(items) < q.Limit {
			break
		}
		cursor = Cursor(items[len(items)-1])
	}

	assert.Equal(t, 3, pages, "7 items at page size 3")
	require.Len(t, seen, len(seeded))
	for i, item := range seeded {
		assert.Equal(t, item.Key, seen[i], "no item skipped or repeated across pages")
	}
}

func TestMemoryQueryCursorDescending(t *testing.T) {
	m := NewMemory()
	seedItems(t, m, 4)
	ctx := context.Background()

	first, err := m.Query(ctx, Query{Collection: CollectionSubscribers, Descending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)

	rest, err := m.Query(ctx, Query{
		Collection: CollectionSubscribers,
		Descending: true,
		Limit:      2,
		StartAfter: Cursor(first[1]),
	})
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "key-01", rest[0].Key)
	assert.Equal(t, "key-00", rest[1].Key)
}

func TestMemoryTransactWrite(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, Item{Collection: CollectionSubscribers, Key: "old", SortKey: "1", Data: []byte(`{}`)}))

	newItem := Item{Collection: CollectionSubscribers, Key: "new", SortKey: "2", Data: []byte(`{}`)}
	err := m.TransactWrite(ctx, []Write{
		{Delete: &Ref{Collection: CollectionSubscribers, Key: "old"}},
		{Put: &newItem},
	})
	require.NoError(t, err)

	old, _ := m.Get(ctx, CollectionSubscribers, "old")
	assert.Nil(t, old)
	got, _ := m.Get(ctx, CollectionSubscribers, "new")
	assert.NotNil(t, got)
	assert.Equal(t, 1, m.Len(CollectionSubscribers))
}

func TestMemoryDeepCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	data := []byte(`{"v":1}`)
	require.NoError(t, m.Put(ctx, Item{Collection: CollectionSubscribers, Key: "a", SortKey: "1", Data: data}))

	data[5] = '9' // mutate caller's slice after Put

	got, err := m.Get(ctx, CollectionSubscribers, "a")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got.Data))
}

func TestMemoryEnsureSchemaLeavesNoResidue(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.EnsureSchema(context.Background()))
	assert.Equal(t, 0, m.Len(CollectionSubscribers))
}
