package subscriber

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-vc/backoffice/internal/domain"
)

func seedSubscribers(t *testing.T, r *Registry, n int, source string) {
	t.Helper()
	for i := 0; i < n; i++ {
		res, err := r.Create(context.Background(), CreateInput{
			Name:   "Subscriber Test",
			Email:  fmt.Sprintf("sub-%s-%02d@example.com", source, i),
			Source: source,
		})
		require.NoError(t, err)
		require.True(t, res.Success)
	}
}

func TestGetByStatusFilters(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	seedSubscribers(t, r, 3, "signup_form")
	seedSubscribers(t, r, 2, "import")
	_, err := r.UpdateStatus(ctx, "sub-import-00@example.com", domain.SubscriberUnsubscribed, nil)
	require.NoError(t, err)

	active, err := r.GetActive(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, active, 4)

	fromImport, err := r.GetByStatus(ctx, domain.SubscriberActive, ListOptions{Source: "import"})
	require.NoError(t, err)
	assert.Len(t, fromImport, 1)

	unsubscribed, err := r.GetByStatus(ctx, domain.SubscriberUnsubscribed, ListOptions{})
	require.NoError(t, err)
	require.Len(t, unsubscribed, 1)
	assert.Equal(t, "sub-import-00@example.com", unsubscribed[0].Email)
}

func TestGetByStatusNewestFirst(t *testing.T) {
	r, _ := newTestRegistry()
	seedSubscribers(t, r, 4, "signup_form")

	subs, err := r.GetActive(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, subs, 4)
	for i := 1; i < len(subs); i++ {
		assert.False(t, subs[i-1].SubscribedAt.Before(subs[i].SubscribedAt))
	}
}

func TestBatchIterator(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	seedSubscribers(t, r, 7, "signup_form")

	it := r.BatchActive(3)
	var total int
	seen := map[string]bool{}
	pages := 0
	for {
		page, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		pages++
		require.NotEmpty(t, page)
		assert.LessOrEqual(t, len(page), 3)
		for _, sub := range page {
			assert.False(t, seen[sub.Email], "no subscriber repeated across pages")
			seen[sub.Email] = true
			total++
		}
	}

	assert.Equal(t, 3, pages, "7 subscribers in pages of 3")
	assert.Equal(t, 7, total)
}

func TestBatchIteratorExactMultiple(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	seedSubscribers(t, r, 6, "signup_form")

	it := r.BatchActive(3)
	pages := 0
	for {
		page, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		pages++
		assert.Len(t, page, 3)
	}
	assert.Equal(t, 2, pages, "iteration terminates on the empty trailing page")
}

func TestBatchIteratorEmptySet(t *testing.T) {
	r, _ := newTestRegistry()

	page, ok, err := r.BatchActive(10).Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, page)
}

func TestStats(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	seedSubscribers(t, r, 3, "signup_form")
	seedSubscribers(t, r, 2, "import")
	_, err := r.UpdateStatus(ctx, "sub-import-00@example.com", domain.SubscriberUnsubscribed, nil)
	require.NoError(t, err)
	_, err = r.UpdateStatus(ctx, "sub-import-01@example.com", domain.SubscriberBounced, nil)
	require.NoError(t, err)

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 3, stats.Active)
	assert.Equal(t, 1, stats.Unsubscribed)
	assert.Equal(t, 1, stats.Bounced)
	assert.Equal(t, 3, stats.BySource["signup_form"])
	assert.Equal(t, 2, stats.BySource["import"])
}
