// Package audit provides the append-only security/audit event sink shared
// by the consent ledger and the privacy handler. Publishing is
// fire-and-forget: a sink failure must never abort the primary operation.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/meridian-vc/backoffice/internal/pkg/logger"
)

// Event names emitted by the registry, the ledger, and the privacy handler.
const (
	EventSubscriberCreated       = "SUBSCRIBER_CREATED"
	EventSubscriberStatusChanged = "SUBSCRIBER_STATUS_CHANGED"

	EventConsentRecorded    = "CONSENT_RECORDED"
	EventConsentWithdrawn   = "CONSENT_WITHDRAWN"
	EventPolicyVersionBump  = "CONSENT_POLICY_VERSION_UPDATED"
	EventAccessRequest      = "DATA_ACCESS_REQUEST"
	EventAccessError        = "DATA_ACCESS_ERROR"
	EventDeletionRequest    = "DATA_DELETION_REQUEST"
	EventDeletionError      = "DATA_DELETION_ERROR"
	EventRectification      = "DATA_RECTIFICATION_REQUEST"
	EventRectificationError = "DATA_RECTIFICATION_ERROR"
)

// Sink receives audit events. Implementations must not block the caller
// beyond serialization and must swallow their own failures.
type Sink interface {
	LogEvent(ctx context.Context, event string, details map[string]any)
}

// MaskEmail redacts an email for inclusion in audit payloads. Audit events
// never carry raw subscriber emails.
func MaskEmail(email string) string {
	return logger.RedactEmail(email)
}

type envelope struct {
	Event     string         `json:"event"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SQSSink publishes audit events to an SQS queue. Delivery happens on a
// background goroutine with a bounded timeout; errors are logged and
// dropped.
type SQSSink struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSSink creates an SQS-backed audit sink.
func NewSQSSink(client *sqs.Client, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

func (s *SQSSink) LogEvent(ctx context.Context, event string, details map[string]any) {
	body, err := json.Marshal(envelope{
		Event:     event,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logger.Error("marshal audit event", "event", event, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(s.queueURL),
			MessageBody: aws.String(string(body)),
		})
		if err != nil {
			logger.Error("publishing audit event", "event", event, "error", err)
		}
	}()
}

// LogSink writes audit events to the structured log. Used in development
// and as the fallback when no queue is configured.
type LogSink struct{}

func (LogSink) LogEvent(ctx context.Context, event string, details map[string]any) {
	fields := []any{"audit_event", event}
	for k, v := range details {
		fields = append(fields, k, v)
	}
	logger.Info("audit", fields...)
}

// Recorder captures events in memory for tests.
type Recorder struct {
	Events []RecordedEvent
}

// RecordedEvent is one captured audit event.
type RecordedEvent struct {
	Event   string
	Details map[string]any
}

func (r *Recorder) LogEvent(ctx context.Context, event string, details map[string]any) {
	r.Events = append(r.Events, RecordedEvent{Event: event, Details: details})
}

// Has reports whether an event with the given name was recorded.
func (r *Recorder) Has(event string) bool {
	for _, e := range r.Events {
		if e.Event == event {
			return true
		}
	}
	return false
}
