// Package storage provides the document store the back-office sits on:
// a small collection/document abstraction with filtered, cursor-based
// queries and atomic multi-document batches.
//
// Two implementations exist: Dynamo (production, DynamoDB single-table)
// and Memory (dev and tests). Uniqueness of document keys is enforced by
// the application via query-before-write, not by the store; two concurrent
// writers can race on the existence check (accepted at this scale).
package storage

import (
	"context"
	"errors"
)

// Collection names. A document's identity is (collection, key).
const (
	CollectionSubscribers    = "SUBSCRIBER"
	CollectionConsent        = "CONSENT"
	CollectionRequests       = "PRIVACY_REQUEST"
	CollectionCommunications = "COMMUNICATION"
)

// ErrTransactionFailed is returned when an atomic batch could not be
// committed as a unit.
var ErrTransactionFailed = errors.New("storage: transaction failed")

// Item is a stored document. Data carries the JSON-encoded payload;
// Indexed carries the handful of fields queries may filter on equality.
// SortKey orders the collection (RFC3339Nano timestamps in practice).
type Item struct {
	Collection string
	Key        string
	SortKey    string
	Data       []byte
	Indexed    map[string]string
}

// Query describes a filtered, ordered, cursor-paged read of a collection.
//
// After is an exclusive lower bound and Before an inclusive upper bound on
// SortKey. StartAfter is an opaque cursor from Cursor(); results resume
// strictly past it in the traversal direction. Limit counts matching items:
// a result shorter than Limit means the collection is exhausted.
type Query struct {
	Collection string
	Equals     map[string]string
	After      string
	Before     string
	Descending bool
	Limit      int
	StartAfter string
}

// Write is one element of an atomic batch: exactly one of Put or Delete.
type Write struct {
	Put    *Item
	Delete *Ref
}

// Ref identifies a document for deletion.
type Ref struct {
	Collection string
	Key        string
}

// Store is the capability interface the registry, ledger, and privacy
// handler are built against.
type Store interface {
	// Put creates or replaces a document.
	Put(ctx context.Context, item Item) error

	// Get returns the document or (nil, nil) when absent.
	Get(ctx context.Context, collection, key string) (*Item, error)

	// Query returns matching documents ordered by SortKey.
	Query(ctx context.Context, q Query) ([]Item, error)

	// Delete removes a document. Deleting an absent document is not an error.
	Delete(ctx context.Context, collection, key string) error

	// TransactWrite commits all writes atomically, or none of them.
	TransactWrite(ctx context.Context, writes []Write) error

	// EnsureSchema idempotently bootstraps the backing table: verifies it
	// is reachable and writes-then-deletes a placeholder document. One-time
	// operational setup, not steady-state behavior.
	EnsureSchema(ctx context.Context) error
}

// Cursor builds the StartAfter value for resuming a query after item.
func Cursor(item Item) string {
	return item.SortKey + "|" + item.Key
}

func splitCursor(cursor string) (sortKey, key string, ok bool) {
	for i := len(cursor) - 1; i >= 0; i-- {
		if cursor[i] == '|' {
			return cursor[:i], cursor[i+1:], true
		}
	}
	return "", "", false
}
