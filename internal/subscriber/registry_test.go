package subscriber

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-vc/backoffice/internal/audit"
	"github.com/meridian-vc/backoffice/internal/domain"
	"github.com/meridian-vc/backoffice/internal/storage"
)

func newTestRegistry() (*Registry, *storage.Memory) {
	store := storage.NewMemory()
	return New(store, audit.LogSink{}, "salt"), store
}

func create(t *testing.T, r *Registry, name, email string) *CreateResult {
	t.Helper()
	res, err := r.Create(context.Background(), CreateInput{
		Name:      name,
		Email:     email,
		Source:    "signup_form",
		UserAgent: "Mozilla/5.0",
		IPAddress: "203.0.113.7",
	})
	require.NoError(t, err)
	return res
}

func TestCreateSubscriber(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()

	res := create(t, r, "Alice Chen", "Alice@Example.com")
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.SubscriberID)
	assert.Equal(t, 1, store.Len(storage.CollectionSubscribers))

	sub, err := r.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "alice@example.com", sub.Email, "email stored normalized")
	assert.Equal(t, domain.SubscriberActive, sub.Status)
	assert.NotEmpty(t, sub.UnsubscribeToken)
	assert.NotEqual(t, "203.0.113.7", sub.IPHash, "raw IP never stored")
	assert.Len(t, sub.IPHash, 64)
}

func TestCreateValidationFailure(t *testing.T) {
	r, store := newTestRegistry()

	res := create(t, r, "", "not-an-email")
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ValidationErrors)
	assert.Equal(t, 0, store.Len(storage.CollectionSubscribers))
}

func TestCreateDuplicateEmail(t *testing.T) {
	r, store := newTestRegistry()

	first := create(t, r, "Alice Chen", "alice@example.com")
	require.True(t, first.Success)

	second := create(t, r, "Alice Chen", "  ALICE@example.COM  ")
	assert.False(t, second.Success)
	assert.Equal(t, ErrDuplicateEmail, second.Error, "uniqueness is case- and whitespace-insensitive")
	assert.Equal(t, 1, store.Len(storage.CollectionSubscribers))
}

func TestSubscribeLifecycle(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	res, err := r.Create(ctx, CreateInput{
		Name:   "Alice Chen",
		Email:  "alice@example.com",
		Source: "newsletter-modal",
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.NotEmpty(t, res.SubscriberID)

	again, err := r.Create(ctx, CreateInput{
		Name:   "Alice Chen",
		Email:  "alice@example.com",
		Source: "newsletter-modal",
	})
	require.NoError(t, err)
	assert.False(t, again.Success)
	assert.Equal(t, "Email already exists", again.Error)

	upd, err := r.UpdateStatus(ctx, "alice@example.com", domain.SubscriberUnsubscribed, nil)
	require.NoError(t, err)
	require.True(t, upd.Success)

	sub, err := r.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.SubscriberUnsubscribed, sub.Status)
	assert.Equal(t, "newsletter-modal", sub.Source)
}

func TestCheckEmailExists(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	res, err := r.CheckEmailExists(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, res.Exists)

	create(t, r, "Alice Chen", "alice@example.com")

	res, err = r.CheckEmailExists(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.True(t, res.Exists)
	require.NotNil(t, res.Subscriber)
	assert.Equal(t, "alice@example.com", res.DocID)
}

func TestGetByToken(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	create(t, r, "Alice Chen", "alice@example.com")
	sub, err := r.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)

	found, err := r.GetByToken(ctx, sub.UnsubscribeToken)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "alice@example.com", found.Email)

	missing, err := r.GetByToken(ctx, "no-such-token")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := r.GetByToken(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty, "empty token never matches")
}

func TestUpdateStatus(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	create(t, r, "Alice Chen", "alice@example.com")

	res, err := r.UpdateStatus(ctx, "alice@example.com", domain.SubscriberUnsubscribed, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)

	sub, err := r.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriberUnsubscribed, sub.Status)
	assert.NotNil(t, sub.UnsubscribedAt)

	res, err = r.UpdateStatus(ctx, "nobody@example.com", domain.SubscriberUnsubscribed, nil)
	require.NoError(t, err, "missing subscriber is a result failure, not an error")
	assert.False(t, res.Success)

	res, err = r.UpdateStatus(ctx, "alice@example.com", domain.SubscriberStatus("vip"), nil)
	require.NoError(t, err)
	assert.False(t, res.Success, "unknown status rejected")
}

func TestUpdateStatusBounceCount(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	create(t, r, "Alice Chen", "alice@example.com")
	for i := 0; i < 3; i++ {
		res, err := r.UpdateStatus(ctx, "alice@example.com", domain.SubscriberBounced, nil)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	sub, err := r.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, sub.BounceCount)
}

func TestReactivate(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	create(t, r, "Alice Chen", "alice@example.com")
	before, _ := r.GetByEmail(ctx, "alice@example.com")

	res, err := r.Reactivate(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, res.Success, "active subscriber cannot reactivate")

	_, err = r.UpdateStatus(ctx, "alice@example.com", domain.SubscriberUnsubscribed, nil)
	require.NoError(t, err)

	res, err = r.Reactivate(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.Success)

	after, err := r.GetByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriberActive, after.Status)
	assert.Nil(t, after.UnsubscribedAt)
	assert.NotEqual(t, before.UnsubscribeToken, after.UnsubscribeToken, "token re-minted on re-opt-in")
}

func TestRegistryAuditEvents(t *testing.T) {
	store := storage.NewMemory()
	rec := &audit.Recorder{}
	r := New(store, rec, "salt")
	ctx := context.Background()

	res, err := r.Create(ctx, CreateInput{Name: "Alice Chen", Email: "alice@example.com", Source: "signup_form"})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, rec.Has(audit.EventSubscriberCreated))
	assert.Equal(t, audit.MaskEmail("alice@example.com"), rec.Events[0].Details["email"], "audit events carry masked emails only")

	_, err = r.UpdateStatus(ctx, "alice@example.com", domain.SubscriberUnsubscribed, nil)
	require.NoError(t, err)
	assert.True(t, rec.Has(audit.EventSubscriberStatusChanged))

	rec.Events = nil
	_, err = r.Reactivate(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, rec.Has(audit.EventSubscriberStatusChanged), "reactivation emits a status change")
}
