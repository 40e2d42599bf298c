// Package consent implements the consent ledger: an append-mostly log of
// grant and withdrawal events per (subject, purpose), with point-in-time
// status queries, full-history export, and signed unsubscribe tokens.
package consent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-vc/backoffice/internal/audit"
	"github.com/meridian-vc/backoffice/internal/domain"
	"github.com/meridian-vc/backoffice/internal/storage"
)

// Ledger owns the consent collection. All mutations emit an audit event
// with a masked email; audit failures never abort the mutation.
type Ledger struct {
	store  storage.Store
	audit  audit.Sink
	ipSalt string
	secret []byte

	policyVersion  string
	consentVersion string
	tokenMaxAge    time.Duration
}

// Options configure a Ledger.
type Options struct {
	IPSalt         string
	TokenSecret    string
	PolicyVersion  string
	ConsentVersion string
	// TokenMaxAge bounds unsubscribe token validity; zero disables expiry.
	TokenMaxAge time.Duration
}

// New creates a Ledger on the given store.
func New(store storage.Store, sink audit.Sink, opts Options) *Ledger {
	return &Ledger{
		store:          store,
		audit:          sink,
		ipSalt:         opts.IPSalt,
		secret:         []byte(opts.TokenSecret),
		policyVersion:  opts.PolicyVersion,
		consentVersion: opts.ConsentVersion,
		tokenMaxAge:    opts.TokenMaxAge,
	}
}

// RecordInput describes one consent event to append.
type RecordInput struct {
	Email      string
	Type       domain.ConsentType
	Given      bool
	Method     domain.ConsentMethod
	Source     string
	LegalBasis domain.LegalBasis
	Purposes   []string
	IPAddress  string
	UserAgent  string

	// Jurisdiction overrides. When nil the conservative default applies:
	// treat the regulation as applicable.
	GDPRApplies *bool
	CCPAApplies *bool
}

func applies(override *bool) bool {
	if override != nil {
		return *override
	}
	return true
}

// RecordConsent appends a new immutable record with a server-assigned
// timestamp and returns its id.
func (l *Ledger) RecordConsent(ctx context.Context, in RecordInput) (string, error) {
	if !domain.ValidConsentType(in.Type) {
		return "", fmt.Errorf("unknown consent type %q", in.Type)
	}

	rec := domain.ConsentRecord{
		ID:                     uuid.NewString(),
		Email:                  domain.NormalizeEmail(in.Email),
		ConsentType:            in.Type,
		ConsentGiven:           in.Given,
		Method:                 in.Method,
		ConsentSource:          in.Source,
		LegalBasis:             in.LegalBasis,
		DataProcessingPurposes: in.Purposes,
		IPHash:                 l.hashIP(in.IPAddress),
		UserAgent:              in.UserAgent,
		Timestamp:              time.Now().UTC(),
		Metadata: domain.ConsentMetadata{
			GDPRApplies:          applies(in.GDPRApplies),
			CCPAApplies:          applies(in.CCPAApplies),
			PrivacyPolicyVersion: l.policyVersion,
			ConsentVersion:       l.consentVersion,
		},
	}
	if rec.Method == "" {
		rec.Method = domain.MethodCheckbox
	}
	if rec.LegalBasis == "" {
		rec.LegalBasis = domain.BasisConsent
	}

	if err := l.store.Put(ctx, encodeRecord(rec)); err != nil {
		return "", fmt.Errorf("persisting consent record: %w", err)
	}

	l.audit.LogEvent(ctx, audit.EventConsentRecorded, map[string]any{
		"email":        audit.MaskEmail(rec.Email),
		"consent_type": string(rec.ConsentType),
		"given":        rec.ConsentGiven,
		"method":       string(rec.Method),
		"source":       rec.ConsentSource,
	})
	return rec.ID, nil
}

// WithdrawConsent records a withdrawal. Two-part effect: the latest active
// grant, if any, is marked withdrawn in place; then a terminal
// consentGiven=false record is appended unconditionally, so the ledger
// reflects the withdrawn state even when no prior grant exists. Withdrawal
// of nonexistent consent is not an error.
func (l *Ledger) WithdrawConsent(ctx context.Context, email string, ct domain.ConsentType, method, ip, userAgent string) error {
	email = domain.NormalizeEmail(email)
	now := time.Now().UTC()

	grant, err := l.latestActiveGrant(ctx, email, ct)
	if err != nil {
		return err
	}
	if grant != nil {
		grant.ConsentGiven = false
		grant.WithdrawalTimestamp = &now
		grant.WithdrawalMethod = method
		if err := l.store.Put(ctx, encodeRecord(*grant)); err != nil {
			return fmt.Errorf("marking grant withdrawn: %w", err)
		}
	}

	rec := domain.ConsentRecord{
		ID:                  uuid.NewString(),
		Email:               email,
		ConsentType:         ct,
		ConsentGiven:        false,
		Method:              domain.MethodOptIn,
		ConsentSource:       "withdrawal",
		LegalBasis:          domain.BasisConsent,
		IPHash:              l.hashIP(ip),
		UserAgent:           userAgent,
		Timestamp:           now,
		WithdrawalTimestamp: &now,
		WithdrawalMethod:    method,
		Metadata: domain.ConsentMetadata{
			GDPRApplies:          true,
			CCPAApplies:          true,
			PrivacyPolicyVersion: l.policyVersion,
			ConsentVersion:       l.consentVersion,
		},
	}
	if err := l.store.Put(ctx, encodeRecord(rec)); err != nil {
		return fmt.Errorf("appending withdrawal record: %w", err)
	}

	l.audit.LogEvent(ctx, audit.EventConsentWithdrawn, map[string]any{
		"email":        audit.MaskEmail(email),
		"consent_type": string(ct),
		"method":       method,
		"had_grant":    grant != nil,
	})
	return nil
}

// GetStatus returns the latest record for (email, type), representing the
// current effective consent status, or nil when no record exists.
func (l *Ledger) GetStatus(ctx context.Context, email string, ct domain.ConsentType) (*domain.ConsentRecord, error) {
	items, err := l.store.Query(ctx, storage.Query{
		Collection: storage.CollectionConsent,
		Equals: map[string]string{
			"email":        domain.NormalizeEmail(email),
			"consent_type": string(ct),
		},
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("querying consent status: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	rec, err := decodeRecord(items[0])
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// History returns the subject's full consent history across all types,
// newest first. Used for data-portability exports.
func (l *Ledger) History(ctx context.Context, email string) ([]domain.ConsentRecord, error) {
	items, err := l.store.Query(ctx, storage.Query{
		Collection: storage.CollectionConsent,
		Equals:     map[string]string{"email": domain.NormalizeEmail(email)},
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("querying consent history: %w", err)
	}

	records := make([]domain.ConsentRecord, 0, len(items))
	for _, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// UpdateForPolicyChange stamps the new privacy policy version onto all
// currently-active grant records for (email, type). A metadata correction,
// not a consent event: no new records are appended.
func (l *Ledger) UpdateForPolicyChange(ctx context.Context, email string, ct domain.ConsentType, newVersion string) error {
	email = domain.NormalizeEmail(email)
	items, err := l.store.Query(ctx, storage.Query{
		Collection: storage.CollectionConsent,
		Equals: map[string]string{
			"email":        email,
			"consent_type": string(ct),
			"given":        "true",
		},
	})
	if err != nil {
		return fmt.Errorf("querying active grants: %w", err)
	}

	updated := 0
	for _, item := range items {
		rec, err := decodeRecord(item)
		if err != nil {
			return err
		}
		if rec.WithdrawalTimestamp != nil {
			continue
		}
		rec.Metadata.PrivacyPolicyVersion = newVersion
		if err := l.store.Put(ctx, encodeRecord(rec)); err != nil {
			return fmt.Errorf("updating policy version on record %s: %w", rec.ID, err)
		}
		updated++
	}

	l.audit.LogEvent(ctx, audit.EventPolicyVersionBump, map[string]any{
		"email":        audit.MaskEmail(email),
		"consent_type": string(ct),
		"new_version":  newVersion,
		"updated":      updated,
	})
	return nil
}

func (l *Ledger) latestActiveGrant(ctx context.Context, email string, ct domain.ConsentType) (*domain.ConsentRecord, error) {
	items, err := l.store.Query(ctx, storage.Query{
		Collection: storage.CollectionConsent,
		Equals: map[string]string{
			"email":        email,
			"consent_type": string(ct),
			"given":        "true",
		},
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("querying active grant: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	rec, err := decodeRecord(items[0])
	if err != nil {
		return nil, err
	}
	if rec.WithdrawalTimestamp != nil {
		return nil, nil
	}
	return &rec, nil
}

func (l *Ledger) hashIP(ip string) string {
	if ip == "" {
		return ""
	}
	h := sha256.Sum256([]byte(l.ipSalt + ip))
	return hex.EncodeToString(h[:])
}

func encodeRecord(rec domain.ConsentRecord) storage.Item {
	data, _ := json.Marshal(rec)
	return storage.Item{
		Collection: storage.CollectionConsent,
		Key:        rec.Email + "#" + string(rec.ConsentType) + "#" + rec.ID,
		SortKey:    rec.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:       data,
		Indexed: map[string]string{
			"email":        rec.Email,
			"consent_type": string(rec.ConsentType),
			"given":        fmt.Sprintf("%t", rec.ConsentGiven),
		},
	}
}

func decodeRecord(item storage.Item) (domain.ConsentRecord, error) {
	var rec domain.ConsentRecord
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return rec, fmt.Errorf("decoding consent document %s: %w", item.Key, err)
	}
	return rec, nil
}
