package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-vc/backoffice/internal/domain"
	"github.com/meridian-vc/backoffice/internal/storage"
)

// ListOptions filter status-scoped listings.
type ListOptions struct {
	Limit            int
	Source           string
	SubscribedAfter  time.Time
	SubscribedBefore time.Time
}

// GetActive returns active subscribers, newest first.
func (r *Registry) GetActive(ctx context.Context, limit int) ([]domain.Subscriber, error) {
	return r.GetByStatus(ctx, domain.SubscriberActive, ListOptions{Limit: limit})
}

// GetByStatus returns subscribers in a status, newest first, with optional
// source and subscription-window filters.
func (r *Registry) GetByStatus(ctx context.Context, status domain.SubscriberStatus, opts ListOptions) ([]domain.Subscriber, error) {
	q := storage.Query{
		Collection: storage.CollectionSubscribers,
		Equals:     map[string]string{"status": string(status)},
		Descending: true,
		Limit:      opts.Limit,
	}
	if opts.Source != "" {
		q.Equals["source"] = opts.Source
	}
	if !opts.SubscribedAfter.IsZero() {
		q.After = opts.SubscribedAfter.UTC().Format(time.RFC3339Nano)
	}
	if !opts.SubscribedBefore.IsZero() {
		q.Before = opts.SubscribedBefore.UTC().Format(time.RFC3339Nano)
	}

	items, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers by status: %w", err)
	}
	return decodeAll(items)
}

// BatchIterator pages through active subscribers ordered by subscription
// time descending. Pull-based: each Next is one store query, so memory is
// bounded by the batch size regardless of list size. Iteration restarts
// from the beginning on a new iterator; cursors do not survive restarts.
type BatchIterator struct {
	registry  *Registry
	batchSize int
	cursor    string
	done      bool
}

// BatchActive creates an iterator over the active set in pages of batchSize.
func (r *Registry) BatchActive(batchSize int) *BatchIterator {
	if batchSize < 1 {
		batchSize = 100
	}
	return &BatchIterator{registry: r, batchSize: batchSize}
}

// Next returns the next page. ok is false when iteration is complete; the
// final non-empty page is returned with ok true, and the following call
// reports completion. A page shorter than the batch size ends iteration.
func (it *BatchIterator) Next(ctx context.Context) (page []domain.Subscriber, ok bool, err error) {
	if it.done {
		return nil, false, nil
	}

	items, err := it.registry.store.Query(ctx, storage.Query{
		Collection: storage.CollectionSubscribers,
		Equals:     map[string]string{"status": string(domain.SubscriberActive)},
		Descending: true,
		Limit:      it.batchSize,
		StartAfter: it.cursor,
	})
	if err != nil {
		return nil, false, fmt.Errorf("querying subscriber batch: %w", err)
	}
	if len(items) == 0 {
		it.done = true
		return nil, false, nil
	}

	it.cursor = storage.Cursor(items[len(items)-1])
	if len(items) < it.batchSize {
		it.done = true
	}

	page, err = decodeAll(items)
	if err != nil {
		return nil, false, err
	}
	return page, true, nil
}

// Stats aggregates the whole subscriber collection by status and source.
// This loads every record; acceptable at the list sizes this service holds,
// and the store offers no server-side aggregation.
func (r *Registry) Stats(ctx context.Context) (*domain.SubscriberStats, error) {
	items, err := r.store.Query(ctx, storage.Query{
		Collection: storage.CollectionSubscribers,
	})
	if err != nil {
		return nil, fmt.Errorf("scanning subscribers for stats: %w", err)
	}

	stats := &domain.SubscriberStats{BySource: make(map[string]int)}
	for _, item := range items {
		sub, err := decodeSubscriber(item)
		if err != nil {
			continue
		}
		switch sub.Status {
		case domain.SubscriberActive:
			stats.Active++
		case domain.SubscriberUnsubscribed:
			stats.Unsubscribed++
		case domain.SubscriberBounced:
			stats.Bounced++
		default:
			// Anonymized shells are not part of the operational counts.
			continue
		}
		stats.Total++
		if sub.Source != "" {
			stats.BySource[sub.Source]++
		}
	}
	return stats, nil
}

func decodeAll(items []storage.Item) ([]domain.Subscriber, error) {
	subs := make([]domain.Subscriber, 0, len(items))
	for _, item := range items {
		sub, err := decodeSubscriber(item)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
