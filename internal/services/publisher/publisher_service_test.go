package publisher

import (
	"context"
	"crypto/hmac"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/events"
	"github.com/ternarybob/fabrica/internal/storage/badger"
)

func TestSign(t *testing.T) {
	// Bare lowercase hex digest, no scheme prefix
	signature := Sign("secret", []byte(`{"event":"x"}`))
	assert.Len(t, signature, 64)
	assert.Regexp(t, "^[0-9a-f]{64}$", signature)

	// Deterministic for the same secret and body, different otherwise
	assert.Equal(t, signature, Sign("secret", []byte(`{"event":"x"}`)))
	assert.NotEqual(t, signature, Sign("other", []byte(`{"event":"x"}`)))
	assert.NotEqual(t, signature, Sign("secret", []byte(`{"event":"y"}`)))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 60*time.Second, Backoff(1))
	assert.Equal(t, 120*time.Second, Backoff(2))
	assert.Equal(t, 240*time.Second, Backoff(3))
}

func setupTestPublisher(t *testing.T) (*Service, *badger.Manager) {
	t.Helper()

	logger := arbor.NewLogger()
	stores, err := badger.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	service := NewService(stores.Subscriptions, stores.Deliveries, events.NewService(logger), &common.PublisherConfig{
		PollInterval:   "5s",
		MaxRetries:     3,
		RequestTimeout: "2s",
	}, logger)
	return service, stores
}

func createSubscription(t *testing.T, stores *badger.Manager, kind models.SubscriptionKind, url, secret string, eventTypes ...models.EventType) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		ID:         common.NewID(),
		CustomerID: "cust-a",
		Kind:       kind,
		URL:        url,
		Secret:     secret,
		Events:     eventTypes,
		Enabled:    true,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, stores.Subscriptions.CreateSubscription(context.Background(), sub))
	return sub
}

func jobEvent(eventType models.EventType) models.Event {
	return models.Event{
		EventID:    common.NewEventID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CustomerID: "cust-a",
		Payload:    map[string]interface{}{"job_id": "job-1"},
	}
}

func TestWebhookDelivery(t *testing.T) {
	service, stores := setupTestPublisher(t)
	ctx := context.Background()

	var gotSignature atomic.Value
	var gotBody atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		gotSignature.Store(r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	createSubscription(t, stores, models.SubscriptionWebhook, server.URL, "hook-secret")
	require.NoError(t, service.recordDeliveries(ctx, jobEvent(models.EventJobFailed)))
	service.deliverPending(ctx)

	signature, _ := gotSignature.Load().(string)
	body, _ := gotBody.Load().([]byte)
	require.NotEmpty(t, signature)
	assert.True(t, hmac.Equal([]byte(signature), []byte(Sign("hook-secret", body))))

	// The delivery row is terminal: a second pass sends nothing
	due, err := stores.Deliveries.ListPendingDue(ctx, time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestWebhookFailureSchedulesRetry(t *testing.T) {
	service, stores := setupTestPublisher(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	createSubscription(t, stores, models.SubscriptionWebhook, server.URL, "hook-secret")
	require.NoError(t, service.recordDeliveries(ctx, jobEvent(models.EventJobFailed)))
	service.deliverPending(ctx)

	// Not due yet: the retry is pushed out by the backoff
	due, err := stores.Deliveries.ListPendingDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = stores.Deliveries.ListPendingDue(ctx, time.Now().UTC().Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)
	assert.Contains(t, due[0].LastError, "502")
}

func TestDeliveryAbandonedAfterMaxRetries(t *testing.T) {
	service, stores := setupTestPublisher(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	createSubscription(t, stores, models.SubscriptionWebhook, server.URL, "")
	require.NoError(t, service.recordDeliveries(ctx, jobEvent(models.EventJobFailed)))

	due, err := stores.Deliveries.ListPendingDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	delivery := due[0]
	for i := 0; i < 3; i++ {
		service.attempt(ctx, delivery)
	}
	assert.Equal(t, models.DeliveryFailed, delivery.Status)
	assert.Equal(t, 3, delivery.Attempts)
}

func TestRecordDeliveries_FiltersSubscriptions(t *testing.T) {
	service, stores := setupTestPublisher(t)
	ctx := context.Background()

	// Interested, disabled, and wrong-event subscriptions
	createSubscription(t, stores, models.SubscriptionWebhook, "http://a.invalid", "", models.EventJobFailed)
	disabled := createSubscription(t, stores, models.SubscriptionWebhook, "http://b.invalid", "")
	disabled.Enabled = false
	require.NoError(t, stores.Subscriptions.UpdateSubscription(ctx, disabled))
	createSubscription(t, stores, models.SubscriptionWebhook, "http://c.invalid", "", models.EventDriftDetected)

	require.NoError(t, service.recordDeliveries(ctx, jobEvent(models.EventJobFailed)))

	due, err := stores.Deliveries.ListPendingDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestEmailSenderAlwaysSucceeds(t *testing.T) {
	sender := &EmailSender{logger: arbor.NewLogger()}
	event := jobEvent(models.EventJobSuccess)
	err := sender.Send(context.Background(), &models.Subscription{Email: "noc@example.com"}, &event)
	assert.NoError(t, err)
}
