package publisher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// SignatureHeader carries the HMAC-SHA256 of the request body, keyed by
// the subscription secret
const SignatureHeader = "X-Webhook-Signature-256"

// Sender delivers one event to one subscription target. Chat and email
// senders plug in beside the webhook sender.
type Sender interface {
	Send(ctx context.Context, sub *models.Subscription, event *models.Event) error
	Kind() models.SubscriptionKind
}

// Service fans events out to external subscribers. Delivery state is a
// durable table scanned by a pull loop, so retries and backoff survive
// restarts. The in-process bus hands events in; failures never propagate
// back to the transition that produced them.
type Service struct {
	subscriptions interfaces.SubscriptionStorage
	deliveries    interfaces.DeliveryStorage
	events        interfaces.EventService
	logger        arbor.ILogger
	senders       map[models.SubscriptionKind]Sender

	pollInterval time.Duration
	maxRetries   int

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewService creates the publisher service
func NewService(
	subscriptions interfaces.SubscriptionStorage,
	deliveries interfaces.DeliveryStorage,
	events interfaces.EventService,
	config *common.PublisherConfig,
	logger arbor.ILogger,
) *Service {
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	requestTimeout := common.Duration(config.RequestTimeout, 10*time.Second)
	client := &http.Client{Timeout: requestTimeout}

	s := &Service{
		subscriptions: subscriptions,
		deliveries:    deliveries,
		events:        events,
		logger:        logger,
		pollInterval:  common.Duration(config.PollInterval, 5*time.Second),
		maxRetries:    maxRetries,
		senders:       make(map[models.SubscriptionKind]Sender),
	}
	s.Register(&WebhookSender{client: client})
	s.Register(&ChatSender{client: client})
	s.Register(&EmailSender{logger: logger})
	return s
}

// Register adds a sender for a subscription kind
func (s *Service) Register(sender Sender) {
	s.senders[sender.Kind()] = sender
}

// Start subscribes to the event bus and launches the delivery loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("publisher already running")
	}

	for _, eventType := range []models.EventType{
		models.EventJobCreated, models.EventJobUpdated,
		models.EventJobSuccess, models.EventJobPartial,
		models.EventJobFailed, models.EventJobCancelled,
		models.EventDeviceCreated, models.EventDeviceUpdated,
		models.EventComplianceViolation, models.EventDriftDetected,
	} {
		if err := s.events.Subscribe(eventType, s.recordDeliveries); err != nil {
			return fmt.Errorf("failed to subscribe publisher: %w", err)
		}
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.deliverPending(context.Background())
			}
		}
	}()

	s.logger.Info().Str("poll", s.pollInterval.String()).Msg("Event publisher started")
	return nil
}

// Stop terminates the delivery loop
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	<-s.done
	s.logger.Info().Msg("Event publisher stopped")
}

// recordDeliveries is the bus handler: one durable delivery row per
// interested subscription
func (s *Service) recordDeliveries(ctx context.Context, event models.Event) error {
	subs, err := s.subscriptions.ListSubscriptions(ctx, event.CustomerID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, sub := range subs {
		if !sub.Enabled || !sub.Wants(event.Type) {
			continue
		}
		delivery := &models.Delivery{
			ID:             common.NewID(),
			SubscriptionID: sub.ID,
			CustomerID:     event.CustomerID,
			Event:          event,
			Status:         models.DeliveryPending,
			NextAttemptAt:  now,
			CreatedAt:      now,
		}
		if err := s.deliveries.CreateDelivery(ctx, delivery); err != nil {
			s.logger.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to record event delivery")
		}
	}
	return nil
}

// deliverPending attempts every due pending delivery once
func (s *Service) deliverPending(ctx context.Context) {
	due, err := s.deliveries.ListPendingDue(ctx, time.Now().UTC(), 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list pending deliveries")
		return
	}
	for _, delivery := range due {
		s.attempt(ctx, delivery)
	}
}

func (s *Service) attempt(ctx context.Context, delivery *models.Delivery) {
	now := time.Now().UTC()
	delivery.Attempts++

	sub, err := s.subscriptions.GetSubscription(ctx, delivery.SubscriptionID)
	if err != nil {
		// Subscription deleted; nothing left to deliver to.
		delivery.Status = models.DeliveryFailed
		delivery.LastError = "subscription no longer exists"
		s.update(ctx, delivery)
		return
	}

	sender, ok := s.senders[sub.Kind]
	if !ok {
		delivery.Status = models.DeliveryFailed
		delivery.LastError = fmt.Sprintf("no sender for kind %s", sub.Kind)
		s.update(ctx, delivery)
		return
	}

	if err := sender.Send(ctx, sub, &delivery.Event); err != nil {
		delivery.LastError = err.Error()
		if delivery.Attempts >= s.maxRetries {
			delivery.Status = models.DeliveryFailed
			s.logger.Warn().
				Str("delivery_id", delivery.ID).
				Str("event_id", delivery.Event.EventID).
				Int("attempts", delivery.Attempts).
				Msg("Event delivery abandoned")
		} else {
			delivery.NextAttemptAt = now.Add(Backoff(delivery.Attempts))
		}
		s.update(ctx, delivery)
		return
	}

	delivery.Status = models.DeliveryDelivered
	delivery.DeliveredAt = &now
	delivery.LastError = ""
	s.update(ctx, delivery)
	s.logger.Debug().
		Str("delivery_id", delivery.ID).
		Str("event_id", delivery.Event.EventID).
		Str("kind", string(sub.Kind)).
		Msg("Event delivered")
}

func (s *Service) update(ctx context.Context, delivery *models.Delivery) {
	if err := s.deliveries.UpdateDelivery(ctx, delivery); err != nil {
		s.logger.Error().Err(err).Str("delivery_id", delivery.ID).Msg("Failed to update delivery row")
	}
}

// Backoff returns the delay before retry n (1-based): 60s doubling per
// failed attempt
func Backoff(attempt int) time.Duration {
	d := 60 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Sign computes the bare hex HMAC-SHA256 of the body under the secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSender POSTs the event envelope as JSON, signed with the
// subscription secret
type WebhookSender struct {
	client *http.Client
}

func (w *WebhookSender) Kind() models.SubscriptionKind { return models.SubscriptionWebhook }

func (w *WebhookSender) Send(ctx context.Context, sub *models.Subscription, event *models.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(sub.Secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// ChatSender posts a short formatted message to a chat webhook URL
type ChatSender struct {
	client *http.Client
}

func (c *ChatSender) Kind() models.SubscriptionKind { return models.SubscriptionChat }

func (c *ChatSender) Send(ctx context.Context, sub *models.Subscription, event *models.Event) error {
	text := fmt.Sprintf("[%s] %s", event.Type, event.EventID)
	if jobID, ok := event.Payload["job_id"].(string); ok {
		text = fmt.Sprintf("[%s] job %s", event.Type, jobID)
	}
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailSender logs the notification. Wiring an SMTP relay is deployment
// specific; the delivery row still records the attempt chain.
type EmailSender struct {
	logger arbor.ILogger
}

func (e *EmailSender) Kind() models.SubscriptionKind { return models.SubscriptionEmail }

func (e *EmailSender) Send(ctx context.Context, sub *models.Subscription, event *models.Event) error {
	e.logger.Info().
		Str("email", sub.Email).
		Str("event_type", string(event.Type)).
		Str("event_id", event.EventID).
		Msg("Email notification")
	return nil
}
