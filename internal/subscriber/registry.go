// Package subscriber implements the subscriber registry: creation with
// uniqueness enforcement, status transitions, unsubscribe token issuance,
// and the listing/aggregation reads the back-office depends on.
package subscriber

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-vc/backoffice/internal/audit"
	"github.com/meridian-vc/backoffice/internal/domain"
	"github.com/meridian-vc/backoffice/internal/pkg/logger"
	"github.com/meridian-vc/backoffice/internal/storage"
)

// ErrDuplicateEmail is the business-rule message for an existing email.
// Any prior record counts, regardless of status; re-opt-in after an
// unsubscribe goes through Reactivate instead.
const ErrDuplicateEmail = "Email already exists"

// Registry owns the subscriber collection.
type Registry struct {
	store  storage.Store
	audit  audit.Sink
	ipSalt string
}

// New creates a Registry on the given store.
func New(store storage.Store, sink audit.Sink, ipSalt string) *Registry {
	return &Registry{store: store, audit: sink, ipSalt: ipSalt}
}

// HashIP returns the salted SHA-256 of an IP address. The raw address is
// never persisted.
func (r *Registry) HashIP(ip string) string {
	if ip == "" {
		return ""
	}
	h := sha256.Sum256([]byte(r.ipSalt + ip))
	return hex.EncodeToString(h[:])
}

func mintToken() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the process is unusable anyway.
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// CreateInput is the subscription form payload.
type CreateInput struct {
	Name      string
	Email     string
	Source    string
	UserAgent string
	IPAddress string
}

// CreateResult reports the outcome of Create. Validation and business-rule
// failures land here as data; only infrastructure failures surface as errors.
type CreateResult struct {
	Success          bool     `json:"success"`
	SubscriberID     string   `json:"subscriberId,omitempty"`
	Error            string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validationErrors,omitempty"`
}

// Create validates the payload, enforces email uniqueness, mints an
// unsubscribe token, and persists a new active subscriber.
func (r *Registry) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	if res := domain.ValidateSubscription(in.Name, in.Email); !res.IsValid {
		return &CreateResult{Success: false, Error: "validation failed", ValidationErrors: res.Errors}, nil
	}

	email := domain.NormalizeEmail(in.Email)
	existing, err := r.store.Get(ctx, storage.CollectionSubscribers, email)
	if err != nil {
		return nil, fmt.Errorf("checking existing subscriber: %w", err)
	}
	if existing != nil {
		return &CreateResult{Success: false, Error: ErrDuplicateEmail}, nil
	}

	now := time.Now().UTC()
	sub := domain.Subscriber{
		ID:               uuid.NewString(),
		Email:            email,
		Name:             in.Name,
		Status:           domain.SubscriberActive,
		Source:           in.Source,
		SubscribedAt:     now,
		IPHash:           r.HashIP(in.IPAddress),
		UserAgent:        in.UserAgent,
		LastUpdated:      now,
		UnsubscribeToken: mintToken(),
	}

	if err := r.store.Put(ctx, encodeSubscriber(sub)); err != nil {
		return nil, fmt.Errorf("persisting subscriber: %w", err)
	}

	logger.Info("subscriber created", "email", email, "source", in.Source, "id", sub.ID)
	r.audit.LogEvent(ctx, audit.EventSubscriberCreated, map[string]any{
		"email":  audit.MaskEmail(email),
		"source": in.Source,
	})
	return &CreateResult{Success: true, SubscriberID: sub.ID}, nil
}

// ExistsResult is the answer to a CheckEmailExists lookup.
type ExistsResult struct {
	Exists     bool               `json:"exists"`
	Subscriber *domain.Subscriber `json:"subscriber,omitempty"`
	DocID      string             `json:"docId,omitempty"`
}

// CheckEmailExists performs a case-insensitive, trimmed exact-match lookup.
// Anonymized shells never match.
func (r *Registry) CheckEmailExists(ctx context.Context, email string) (*ExistsResult, error) {
	sub, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &ExistsResult{Exists: false}, nil
	}
	return &ExistsResult{Exists: true, Subscriber: sub, DocID: sub.Email}, nil
}

// GetByEmail returns the subscriber for a normalized email, or nil.
func (r *Registry) GetByEmail(ctx context.Context, email string) (*domain.Subscriber, error) {
	item, err := r.store.Get(ctx, storage.CollectionSubscribers, domain.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("fetching subscriber: %w", err)
	}
	if item == nil {
		return nil, nil
	}
	sub, err := decodeSubscriber(*item)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.SubscriberDeleted {
		return nil, nil
	}
	return &sub, nil
}

// GetByToken returns the subscriber holding the given unsubscribe token.
func (r *Registry) GetByToken(ctx context.Context, token string) (*domain.Subscriber, error) {
	if token == "" {
		return nil, nil
	}
	items, err := r.store.Query(ctx, storage.Query{
		Collection: storage.CollectionSubscribers,
		Equals:     map[string]string{"token": token},
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("querying subscriber by token: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	sub, err := decodeSubscriber(items[0])
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateResult reports the outcome of a status update.
type UpdateResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StatusPatch carries optional metadata applied alongside a status change.
type StatusPatch struct {
	UserAgent string
	IPAddress string
}

// UpdateStatus transitions a subscriber's status. Fails with a result error
// when no subscriber exists for the email. Always stamps LastUpdated.
func (r *Registry) UpdateStatus(ctx context.Context, email string, status domain.SubscriberStatus, patch *StatusPatch) (*UpdateResult, error) {
	if !domain.ValidStatus(status) {
		return &UpdateResult{Success: false, Error: fmt.Sprintf("unknown status %q", status)}, nil
	}

	sub, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &UpdateResult{Success: false, Error: "subscriber not found"}, nil
	}

	now := time.Now().UTC()
	sub.Status = status
	sub.LastUpdated = now
	switch status {
	case domain.SubscriberUnsubscribed:
		sub.UnsubscribedAt = &now
	case domain.SubscriberBounced:
		sub.BounceCount++
	}
	if patch != nil {
		if patch.UserAgent != "" {
			sub.UserAgent = patch.UserAgent
		}
		if patch.IPAddress != "" {
			sub.IPHash = r.HashIP(patch.IPAddress)
		}
	}

	if err := r.store.Put(ctx, encodeSubscriber(*sub)); err != nil {
		return nil, fmt.Errorf("updating subscriber status: %w", err)
	}

	logger.Info("subscriber status updated", "email", sub.Email, "status", string(status))
	r.audit.LogEvent(ctx, audit.EventSubscriberStatusChanged, map[string]any{
		"email":  audit.MaskEmail(sub.Email),
		"status": string(status),
	})
	return &UpdateResult{Success: true}, nil
}

// Reactivate flips an unsubscribed subscriber back to active and re-mints
// the unsubscribe token. This is the explicit re-opt-in path; Create keeps
// treating any existing record as a duplicate.
func (r *Registry) Reactivate(ctx context.Context, email string) (*UpdateResult, error) {
	sub, err := r.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return &UpdateResult{Success: false, Error: "subscriber not found"}, nil
	}
	if sub.Status == domain.SubscriberActive {
		return &UpdateResult{Success: false, Error: "subscriber is already active"}, nil
	}

	now := time.Now().UTC()
	sub.Status = domain.SubscriberActive
	sub.UnsubscribedAt = nil
	sub.UnsubscribeToken = mintToken()
	sub.LastUpdated = now

	if err := r.store.Put(ctx, encodeSubscriber(*sub)); err != nil {
		return nil, fmt.Errorf("reactivating subscriber: %w", err)
	}

	logger.Info("subscriber reactivated", "email", sub.Email)
	r.audit.LogEvent(ctx, audit.EventSubscriberStatusChanged, map[string]any{
		"email":  audit.MaskEmail(sub.Email),
		"status": string(domain.SubscriberActive),
	})
	return &UpdateResult{Success: true}, nil
}
