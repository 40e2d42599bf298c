package domain

import "time"

// ConsentType enumerates the processing purposes a subject can consent to.
type ConsentType string

const (
	ConsentNewsletter ConsentType = "newsletter_subscription"
	ConsentProcessing ConsentType = "data_processing"
	ConsentMarketing  ConsentType = "marketing_communications"
)

// ConsentMethod enumerates how consent was captured.
type ConsentMethod string

const (
	MethodCheckbox    ConsentMethod = "checkbox"
	MethodOptIn       ConsentMethod = "opt_in"
	MethodDoubleOptIn ConsentMethod = "double_opt_in"
	MethodImplied     ConsentMethod = "implied"
)

// LegalBasis enumerates the GDPR-style justification for processing.
type LegalBasis string

const (
	BasisConsent            LegalBasis = "consent"
	BasisLegitimateInterest LegalBasis = "legitimate_interest"
	BasisContract           LegalBasis = "contract"
	BasisLegalObligation    LegalBasis = "legal_obligation"
)

// ConsentMetadata captures the jurisdiction and policy versions in effect
// when a consent record was written.
type ConsentMetadata struct {
	GDPRApplies          bool   `json:"gdpr_applies"`
	CCPAApplies          bool   `json:"ccpa_applies"`
	PrivacyPolicyVersion string `json:"privacy_policy_version,omitempty"`
	ConsentVersion       string `json:"consent_version,omitempty"`
}

// ConsentRecord is one entry in the consent ledger: a grant or a withdrawal.
// Records are immutable once written, with a single narrow exception: an
// active grant may be marked withdrawn in place when the subject withdraws,
// in addition to the terminal withdrawal record that is always appended.
type ConsentRecord struct {
	ID           string        `json:"id"`
	Email        string        `json:"email"`
	ConsentType  ConsentType   `json:"consent_type"`
	ConsentGiven bool          `json:"consent_given"`
	Method       ConsentMethod `json:"consent_method"`

	// ConsentSource names the UI or flow that produced the event.
	ConsentSource string     `json:"consent_source,omitempty"`
	LegalBasis    LegalBasis `json:"legal_basis"`

	// DataProcessingPurposes preserves insertion order.
	DataProcessingPurposes []string `json:"data_processing_purposes,omitempty"`

	IPHash    string    `json:"ip_hash,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	WithdrawalTimestamp *time.Time `json:"withdrawal_timestamp,omitempty"`
	WithdrawalMethod    string     `json:"withdrawal_method,omitempty"`

	Metadata ConsentMetadata `json:"metadata"`
}

// ValidConsentType reports whether t is a known consent type.
func ValidConsentType(t ConsentType) bool {
	switch t {
	case ConsentNewsletter, ConsentProcessing, ConsentMarketing:
		return true
	}
	return false
}
