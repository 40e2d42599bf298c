package privacy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-vc/backoffice/internal/domain"
	"github.com/meridian-vc/backoffice/internal/storage"
)

// LogCommunication persists one sent-communication record. Records are keyed
// by opaque id and indexed by email for export and erasure lookups.
func LogCommunication(ctx context.Context, store storage.Store, rec domain.CommunicationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	rec.Email = domain.NormalizeEmail(rec.Email)
	return store.Put(ctx, encodeCommunication(rec))
}

func encodeCommunication(rec domain.CommunicationRecord) storage.Item {
	data, _ := json.Marshal(rec)
	return storage.Item{
		Collection: storage.CollectionCommunications,
		Key:        rec.ID,
		SortKey:    rec.SentAt.UTC().Format(time.RFC3339Nano),
		Data:       data,
		Indexed:    map[string]string{"email": rec.Email},
	}
}

func decodeCommunications(items []storage.Item) ([]domain.CommunicationRecord, error) {
	recs := make([]domain.CommunicationRecord, 0, len(items))
	for _, item := range items {
		var rec domain.CommunicationRecord
		if err := json.Unmarshal(item.Data, &rec); err != nil {
			return nil, fmt.Errorf("decoding communication %s: %w", item.Key, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// recentCommunications returns the newest records first, capped at limit.
func (h *Handler) recentCommunications(ctx context.Context, email string, limit int) ([]domain.CommunicationRecord, error) {
	items, err := h.store.Query(ctx, storage.Query{
		Collection: storage.CollectionCommunications,
		Equals:     map[string]string{"email": email},
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	return decodeCommunications(items)
}

func (h *Handler) allCommunications(ctx context.Context, email string) ([]domain.CommunicationRecord, error) {
	items, err := h.store.Query(ctx, storage.Query{
		Collection: storage.CollectionCommunications,
		Equals:     map[string]string{"email": email},
	})
	if err != nil {
		return nil, err
	}
	return decodeCommunications(items)
}
