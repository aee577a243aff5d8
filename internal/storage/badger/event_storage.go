package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SubscriptionStorage implements the SubscriptionStorage interface for Badger
type SubscriptionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSubscriptionStorage creates a new SubscriptionStorage instance
func NewSubscriptionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SubscriptionStorage {
	return &SubscriptionStorage{db: db, logger: logger}
}

func (s *SubscriptionStorage) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := s.db.Store().Insert(sub.ID, sub); err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStorage) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.Store().Get(id, &sub); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (s *SubscriptionStorage) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := s.db.Store().Update(sub.ID, sub); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStorage) DeleteSubscription(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Subscription{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *SubscriptionStorage) ListSubscriptions(ctx context.Context, customerID string) ([]*models.Subscription, error) {
	var subs []models.Subscription
	query := badgerhold.Where(badgerhold.Key).Ne("")
	if customerID != "" {
		query = badgerhold.Where("CustomerID").Eq(customerID)
	}
	if err := s.db.Store().Find(&subs, query); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	result := make([]*models.Subscription, len(subs))
	for i := range subs {
		result[i] = &subs[i]
	}
	return result, nil
}

// DeliveryStorage implements the DeliveryStorage interface for Badger
type DeliveryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDeliveryStorage creates a new DeliveryStorage instance
func NewDeliveryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DeliveryStorage {
	return &DeliveryStorage{db: db, logger: logger}
}

func (s *DeliveryStorage) CreateDelivery(ctx context.Context, d *models.Delivery) error {
	if err := s.db.Store().Insert(d.ID, d); err != nil {
		return fmt.Errorf("failed to create delivery: %w", err)
	}
	return nil
}

func (s *DeliveryStorage) UpdateDelivery(ctx context.Context, d *models.Delivery) error {
	if err := s.db.Store().Update(d.ID, d); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update delivery: %w", err)
	}
	return nil
}

func (s *DeliveryStorage) ListPendingDue(ctx context.Context, cutoff time.Time, limit int) ([]*models.Delivery, error) {
	var deliveries []models.Delivery
	query := badgerhold.Where("Status").Eq(models.DeliveryPending).SortBy("NextAttemptAt")
	if err := s.db.Store().Find(&deliveries, query); err != nil {
		return nil, fmt.Errorf("failed to list pending deliveries: %w", err)
	}
	due := make([]*models.Delivery, 0, len(deliveries))
	for i := range deliveries {
		if deliveries[i].NextAttemptAt.After(cutoff) {
			break
		}
		due = append(due, &deliveries[i])
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}
