package domain

import "time"

// RequestType enumerates the data subject rights a request can exercise.
type RequestType string

const (
	RequestAccess        RequestType = "access"
	RequestDeletion      RequestType = "deletion"
	RequestPortability   RequestType = "portability"
	RequestRectification RequestType = "rectification"
	RequestRestriction   RequestType = "restriction"
)

// RequestStatus enumerates the lifecycle of a data subject request record.
// Handling is synchronous end-to-end, so persisted records are terminal:
// completed on success, rejected on confirmed failure.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestProcessing RequestStatus = "processing"
	RequestCompleted  RequestStatus = "completed"
	RequestRejected   RequestStatus = "rejected"
)

// DataSubjectRequest is the audit record written for every privacy request
// handled. It is written only after the underlying operation has fully
// succeeded or been confirmed failed; it is an audit trail, not a work queue.
type DataSubjectRequest struct {
	ID                 string         `json:"id"`
	Email              string         `json:"email"`
	RequestType        RequestType    `json:"request_type"`
	Status             RequestStatus  `json:"status"`
	VerificationMethod string         `json:"verification_method"`
	RequestDate        time.Time      `json:"request_date"`
	CompletionDate     *time.Time     `json:"completion_date,omitempty"`
	ResponseData       map[string]any `json:"response_data,omitempty"`
}

// CommunicationRecord is one entry in a subscriber's communication log
// (emails sent, confirmations, notices). Exports include at most the 100
// most recent entries.
type CommunicationRecord struct {
	ID      string    `json:"id"`
	Email   string    `json:"email"`
	Kind    string    `json:"kind"`
	Subject string    `json:"subject,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

// UserDataExport is the assembled response to an access/portability request.
// IP addresses are emitted only as a redacted placeholder, never the stored
// hash and never the raw value.
type UserDataExport struct {
	ExportID    string    `json:"export_id"`
	Email       string    `json:"email"`
	GeneratedAt time.Time `json:"generated_at"`

	Subscriber     *Subscriber           `json:"subscriber,omitempty"`
	ConsentHistory []ConsentRecord       `json:"consent_history"`
	Communications []CommunicationRecord `json:"communications"`

	UserAgents   []string   `json:"user_agents,omitempty"`
	IPAddresses  string     `json:"ip_addresses"` // always RedactedIPPlaceholder
	LastActivity *time.Time `json:"last_activity,omitempty"`
	RecordCount  int        `json:"record_count"`
}

// RedactedIPPlaceholder is the only value ever emitted for IP data in exports.
const RedactedIPPlaceholder = "[redacted]"
