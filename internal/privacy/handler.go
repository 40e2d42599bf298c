// Package privacy implements the data subject request handler: access,
// deletion (with legal-hold anonymization), and rectification, composed
// from the subscriber registry and the consent ledger. Every invocation
// leaves exactly one DataSubjectRequest audit record, written only after
// the underlying operation has fully succeeded.
package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-vc/backoffice/internal/audit"
	"github.com/meridian-vc/backoffice/internal/consent"
	"github.com/meridian-vc/backoffice/internal/domain"
	"github.com/meridian-vc/backoffice/internal/pkg/logger"
	"github.com/meridian-vc/backoffice/internal/storage"
	"github.com/meridian-vc/backoffice/internal/subscriber"
)

// ErrRequestFailed is the only error callers see for infrastructure
// failures. Internal detail stays in server-side logs and audit events.
var ErrRequestFailed = errors.New("failed to process data subject request")

// ErrEmailInUse rejects an email correction whose target address already
// belongs to a different subscriber.
var ErrEmailInUse = errors.New("corrected email already belongs to another subscriber")

// Sentinel values overwriting PII during anonymization.
const (
	deletedName  = "[deleted]"
	deletedEmail = "deleted@anonymized.invalid"
)

// exportCommunicationLimit bounds the communication history included in an
// access export.
const exportCommunicationLimit = 100

// Handler fulfills data subject rights requests.
type Handler struct {
	store    storage.Store
	registry *subscriber.Registry
	ledger   *consent.Ledger
	audit    audit.Sink
}

// New creates a Handler composing the registry and ledger over the store.
func New(store storage.Store, registry *subscriber.Registry, ledger *consent.Ledger, sink audit.Sink) *Handler {
	return &Handler{store: store, registry: registry, ledger: ledger, audit: sink}
}

// HandleAccessRequest assembles a full export of the subject's data. The
// three sources are fetched in parallel; any fetch failure aborts the whole
// request (no partial exports).
func (h *Handler) HandleAccessRequest(ctx context.Context, email, verificationMethod string) (*domain.UserDataExport, error) {
	email = domain.NormalizeEmail(email)

	var (
		wg      sync.WaitGroup
		sub     *domain.Subscriber
		history []domain.ConsentRecord
		comms   []domain.CommunicationRecord
		errs    [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		sub, errs[0] = h.registry.GetByEmail(ctx, email)
	}()
	go func() {
		defer wg.Done()
		history, errs[1] = h.ledger.History(ctx, email)
	}()
	go func() {
		defer wg.Done()
		comms, errs[2] = h.recentCommunications(ctx, email, exportCommunicationLimit)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, h.fail(ctx, audit.EventAccessError, email, err)
		}
	}

	export := assembleExport(email, sub, history, comms)

	err := h.writeRequestRecord(ctx, email, domain.RequestAccess, verificationMethod, map[string]any{
		"exportId":    export.ExportID,
		"recordCount": export.RecordCount,
	})
	if err != nil {
		return nil, h.fail(ctx, audit.EventAccessError, email, err)
	}

	h.audit.LogEvent(ctx, audit.EventAccessRequest, map[string]any{
		"email":        audit.MaskEmail(email),
		"export_id":    export.ExportID,
		"record_count": export.RecordCount,
	})
	return export, nil
}

func assembleExport(email string, sub *domain.Subscriber, history []domain.ConsentRecord, comms []domain.CommunicationRecord) *domain.UserDataExport {
	export := &domain.UserDataExport{
		ExportID:       "export-" + uuid.NewString(),
		Email:          email,
		GeneratedAt:    time.Now().UTC(),
		Subscriber:     sub,
		ConsentHistory: history,
		Communications: comms,
		IPAddresses:    domain.RedactedIPPlaceholder,
	}

	agents := map[string]bool{}
	var last time.Time
	observe := func(t time.Time) {
		if t.After(last) {
			last = t
		}
	}

	if sub != nil {
		export.RecordCount++
		if sub.UserAgent != "" {
			agents[sub.UserAgent] = true
		}
		observe(sub.LastUpdated)
		// Exports never include the unsubscribe secret or the IP hash.
		redacted := *sub
		redacted.UnsubscribeToken = ""
		redacted.IPHash = ""
		export.Subscriber = &redacted
	}
	for _, rec := range history {
		export.RecordCount++
		if rec.UserAgent != "" {
			agents[rec.UserAgent] = true
		}
		observe(rec.Timestamp)
	}
	for _, c := range comms {
		export.RecordCount++
		observe(c.SentAt)
	}

	for agent := range agents {
		export.UserAgents = append(export.UserAgents, agent)
	}
	if !last.IsZero() {
		export.LastActivity = &last
	}
	return export
}

// DeletionSummary reports what a deletion request touched.
type DeletionSummary struct {
	SubscribersAffected   int  `json:"subscribersAffected"`
	CommunicationsDeleted int  `json:"communicationsDeleted"`
	Anonymized            bool `json:"anonymized"`
}

// HandleDeletionRequest erases the subject's data. With retainForLegal the
// subscriber record is anonymized in place of deletion: PII fields get
// sentinel values, the status flips to the deleted marker, and the shell is
// rekeyed by opaque id so the original email can never be looked up again.
// All record mutations commit in one atomic batch; consent withdrawal is
// appended separately afterwards so the ledger keeps its audit continuity.
func (h *Handler) HandleDeletionRequest(ctx context.Context, email, verificationMethod string, retainForLegal bool) (*DeletionSummary, error) {
	email = domain.NormalizeEmail(email)
	now := time.Now().UTC()

	sub, err := h.registry.GetByEmail(ctx, email)
	if err != nil {
		return nil, h.fail(ctx, audit.EventDeletionError, email, err)
	}
	comms, err := h.allCommunications(ctx, email)
	if err != nil {
		return nil, h.fail(ctx, audit.EventDeletionError, email, err)
	}

	var writes []storage.Write
	summary := &DeletionSummary{Anonymized: retainForLegal}

	if sub != nil {
		summary.SubscribersAffected = 1
		writes = append(writes, storage.Write{Delete: &storage.Ref{
			Collection: storage.CollectionSubscribers,
			Key:        sub.Email,
		}})
		if retainForLegal {
			shell := subscriber.ItemFor(anonymizeSubscriber(*sub, now))
			writes = append(writes, storage.Write{Put: &shell})
		}
	}

	for _, c := range comms {
		summary.CommunicationsDeleted++
		if retainForLegal {
			// Overwrite in place: keys are opaque ids, so scrubbing the
			// payload and the indexed email is enough to unlink the record.
			anon := c
			anon.Email = deletedEmail
			anon.Subject = ""
			item := encodeCommunication(anon)
			writes = append(writes, storage.Write{Put: &item})
		} else {
			writes = append(writes, storage.Write{Delete: &storage.Ref{
				Collection: storage.CollectionCommunications,
				Key:        c.ID,
			}})
		}
	}

	if len(writes) > 0 {
		if err := h.store.TransactWrite(ctx, writes); err != nil {
			return nil, h.fail(ctx, audit.EventDeletionError, email, err)
		}
	}

	if err := h.ledger.WithdrawConsent(ctx, email, domain.ConsentNewsletter, "data_deletion_request", "", ""); err != nil {
		return nil, h.fail(ctx, audit.EventDeletionError, email, err)
	}

	err = h.writeRequestRecord(ctx, email, domain.RequestDeletion, verificationMethod, map[string]any{
		"subscribersAffected":   summary.SubscribersAffected,
		"communicationsDeleted": summary.CommunicationsDeleted,
		"anonymized":            retainForLegal,
	})
	if err != nil {
		return nil, h.fail(ctx, audit.EventDeletionError, email, err)
	}

	h.audit.LogEvent(ctx, audit.EventDeletionRequest, map[string]any{
		"email":      audit.MaskEmail(email),
		"anonymized": retainForLegal,
		"records":    summary.SubscribersAffected + summary.CommunicationsDeleted,
	})
	return summary, nil
}

func anonymizeSubscriber(sub domain.Subscriber, now time.Time) domain.Subscriber {
	sub.Email = deletedEmail
	sub.Name = deletedName
	sub.Status = domain.SubscriberDeleted
	sub.IPHash = ""
	sub.UserAgent = ""
	sub.UnsubscribeToken = ""
	sub.DeletedAt = &now
	sub.LastUpdated = now
	return sub
}

// rectifiableFields is the allow-list of correctable subscriber fields.
var rectifiableFields = map[string]bool{"name": true, "email": true}

// HandleRectificationRequest applies allow-listed corrections to the
// subject's subscriber record in one atomic batch. Unknown correction keys
// are ignored.
func (h *Handler) HandleRectificationRequest(ctx context.Context, email string, corrections map[string]string, verificationMethod string) error {
	email = domain.NormalizeEmail(email)
	now := time.Now().UTC()

	sub, err := h.registry.GetByEmail(ctx, email)
	if err != nil {
		return h.fail(ctx, audit.EventRectificationError, email, err)
	}

	applied := map[string]bool{}
	if sub != nil {
		oldKey := sub.Email
		for field, value := range corrections {
			if !rectifiableFields[field] {
				continue
			}
			switch field {
			case "name":
				sub.Name = value
			case "email":
				sub.Email = domain.NormalizeEmail(value)
			}
			applied[field] = true
		}

		if len(applied) > 0 {
			if sub.Email != oldKey {
				// An email correction rekeys the document; the target key
				// must not already hold another subscriber.
				taken, err := h.registry.GetByEmail(ctx, sub.Email)
				if err != nil {
					return h.fail(ctx, audit.EventRectificationError, email, err)
				}
				if taken != nil {
					return ErrEmailInUse
				}
			}

			sub.RectifiedAt = &now
			sub.LastUpdated = now

			item := subscriber.ItemFor(*sub)
			writes := []storage.Write{{Put: &item}}
			if sub.Email != oldKey {
				writes = append(writes, storage.Write{Delete: &storage.Ref{
					Collection: storage.CollectionSubscribers,
					Key:        oldKey,
				}})
			}
			if err := h.store.TransactWrite(ctx, writes); err != nil {
				return h.fail(ctx, audit.EventRectificationError, email, err)
			}
		}
	}

	fields := make([]string, 0, len(applied))
	for f := range applied {
		fields = append(fields, f)
	}
	err = h.writeRequestRecord(ctx, email, domain.RequestRectification, verificationMethod, map[string]any{
		"fieldsCorrected": fields,
		"recordsAffected": len(applied),
	})
	if err != nil {
		return h.fail(ctx, audit.EventRectificationError, email, err)
	}

	h.audit.LogEvent(ctx, audit.EventRectification, map[string]any{
		"email":  audit.MaskEmail(email),
		"fields": fields,
	})
	return nil
}

// writeRequestRecord persists the per-invocation audit record. Requests are
// handled synchronously end-to-end, so the persisted status is terminal.
func (h *Handler) writeRequestRecord(ctx context.Context, email string, rt domain.RequestType, verificationMethod string, responseData map[string]any) error {
	now := time.Now().UTC()
	req := domain.DataSubjectRequest{
		ID:                 uuid.NewString(),
		Email:              email,
		RequestType:        rt,
		Status:             domain.RequestCompleted,
		VerificationMethod: verificationMethod,
		RequestDate:        now,
		CompletionDate:     &now,
		ResponseData:       responseData,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request record: %w", err)
	}
	return h.store.Put(ctx, storage.Item{
		Collection: storage.CollectionRequests,
		Key:        req.ID,
		SortKey:    now.Format(time.RFC3339Nano),
		Data:       data,
		Indexed: map[string]string{
			"email":        email,
			"request_type": string(rt),
		},
	})
}

// fail logs full internal detail, emits the error audit event, and returns
// the fixed non-leaky error.
func (h *Handler) fail(ctx context.Context, event, email string, err error) error {
	logger.Error("data subject request failed", "event", event, "email", email, "error", err)
	h.audit.LogEvent(ctx, event, map[string]any{
		"email": audit.MaskEmail(email),
		"error": err.Error(),
	})
	return ErrRequestFailed
}
