package domain

import (
	"strings"
	"time"
)

// SubscriberStatus enumerates the states a subscriber can be in.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"

	// SubscriberDeleted marks an anonymized shell left behind by a deletion
	// request with legal retention. Deleted records never match email lookups.
	SubscriberDeleted SubscriberStatus = "deleted"
)

// ValidStatus reports whether s is a status callers may set directly.
// The deleted marker is reserved for the privacy handler.
func ValidStatus(s SubscriberStatus) bool {
	switch s {
	case SubscriberActive, SubscriberUnsubscribed, SubscriberBounced:
		return true
	}
	return false
}

// Subscriber represents a single newsletter recipient.
// At most one non-deleted subscriber exists per normalized email.
type Subscriber struct {
	ID     string           `json:"id"`
	Email  string           `json:"email"`
	Name   string           `json:"name"`
	Status SubscriberStatus `json:"status"`

	// Source is the free-text channel tag from the signup surface,
	// e.g. "newsletter-modal" or "founders-page".
	Source       string    `json:"source"`
	SubscribedAt time.Time `json:"subscribed_at"`

	// IPHash is a salted SHA-256 of the signup IP. The raw address is
	// never stored.
	IPHash      string     `json:"ip_hash,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
	LastUpdated time.Time  `json:"last_updated"`

	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
	BounceCount    int        `json:"bounce_count,omitempty"`

	// UnsubscribeToken authorizes self-service unsubscribe without a login.
	UnsubscribeToken string `json:"unsubscribe_token,omitempty"`

	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	RectifiedAt *time.Time `json:"rectified_at,omitempty"`
}

// NormalizeEmail lowercases and trims an email address. All uniqueness
// checks and lookups operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SubscriberStats aggregates the subscriber collection by status and source.
type SubscriberStats struct {
	Total        int            `json:"total"`
	Active       int            `json:"active"`
	Unsubscribed int            `json:"unsubscribed"`
	Bounced      int            `json:"bounced"`
	BySource     map[string]int `json:"by_source"`
}
