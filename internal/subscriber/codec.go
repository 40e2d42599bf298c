package subscriber

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridian-vc/backoffice/internal/domain"
	"github.com/meridian-vc/backoffice/internal/storage"
)

// encodeSubscriber maps a subscriber onto its stored document. Live records
// are keyed by normalized email; anonymized shells are keyed by opaque id
// (see ShellKey) so the original email can never be looked up again.
func encodeSubscriber(sub domain.Subscriber) storage.Item {
	key := sub.Email
	if sub.Status == domain.SubscriberDeleted {
		key = ShellKey(sub.ID)
	}
	data, _ := json.Marshal(sub)
	return storage.Item{
		Collection: storage.CollectionSubscribers,
		Key:        key,
		SortKey:    sub.SubscribedAt.UTC().Format(time.RFC3339Nano),
		Data:       data,
		Indexed: map[string]string{
			"status": string(sub.Status),
			"source": sub.Source,
			"token":  sub.UnsubscribeToken,
		},
	}
}

func decodeSubscriber(item storage.Item) (domain.Subscriber, error) {
	var sub domain.Subscriber
	if err := json.Unmarshal(item.Data, &sub); err != nil {
		return sub, fmt.Errorf("decoding subscriber document %s: %w", item.Key, err)
	}
	return sub, nil
}

// ItemFor returns the stored document for a subscriber. Exposed for
// batches that must commit subscriber mutations atomically alongside
// records from other collections.
func ItemFor(sub domain.Subscriber) storage.Item {
	return encodeSubscriber(sub)
}

// ShellKey is the document key of an anonymized subscriber shell.
func ShellKey(subscriberID string) string {
	return "deleted#" + subscriberID
}
