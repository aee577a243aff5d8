package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// queueMessage is the internal envelope stored in Badger
type queueMessage struct {
	ID           string             `json:"id"`
	Body         models.TaskMessage `json:"body"`
	EnqueuedAt   time.Time          `json:"enqueued_at"`
	VisibleAt    time.Time          `json:"visible_at"`
	ReceiveCount int                `json:"receive_count"`
}

// Broker is a persistent multi-queue message broker over BadgerDB. Messages
// are keyed per queue with a visibility index so Receive scans only ready
// messages. Delivery is at-least-once: a received message reappears after
// the visibility timeout unless deleted, and is dropped once its receive
// count exceeds the cap.
type Broker struct {
	db                *badger.DB
	logger            arbor.ILogger
	defaultQueue      string
	visibilityTimeout time.Duration
	maxReceive        int
}

// NewBroker creates a broker over an existing Badger connection
func NewBroker(db *badger.DB, logger arbor.ILogger, config *common.BrokerConfig) (*Broker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	visibility := common.Duration(config.VisibilityTimeout, 5*time.Minute)
	maxReceive := config.MaxReceive
	if maxReceive <= 0 {
		maxReceive = 3
	}
	return &Broker{
		db:                db,
		logger:            logger,
		defaultQueue:      config.DefaultQueue,
		visibilityTimeout: visibility,
		maxReceive:        maxReceive,
	}, nil
}

// Enqueue adds a message to its queue, immediately visible
func (b *Broker) Enqueue(ctx context.Context, msg *models.TaskMessage) error {
	queue := msg.Queue
	if queue == "" {
		queue = b.defaultQueue
	}
	msg.Queue = queue
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}

	qMsg := queueMessage{
		ID:         common.NewID(),
		Body:       *msg,
		EnqueuedAt: msg.EnqueuedAt,
		VisibleAt:  time.Now(),
	}
	data, err := json.Marshal(qMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(msgKey(queue, qMsg.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(queue, qMsg.VisibleAt, qMsg.ID), []byte{})
	})
}

// Receive pulls the next visible message from the queue. The returned
// receipt identifies the claim for Delete or Release.
func (b *Broker) Receive(ctx context.Context, queue string) (*models.TaskMessage, string, error) {
	if queue == "" {
		queue = b.defaultQueue
	}

	var qMsg queueMessage
	err := b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := indexPrefix(queue)
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id, err := parseIndexKey(queue, key)
			if err != nil {
				continue
			}
			// Index keys sort by timestamp; the first future entry ends
			// the scan.
			if ts.After(now) {
				break
			}

			item, err := txn.Get(msgKey(queue, id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up
					if err := txn.Delete(key); err != nil {
						return err
					}
					continue
				}
				return err
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &qMsg)
			}); err != nil {
				return err
			}

			if qMsg.ReceiveCount >= b.maxReceive {
				b.logger.Warn().
					Str("queue", queue).
					Str("job_id", qMsg.Body.JobID).
					Int("receive_count", qMsg.ReceiveCount).
					Msg("Dropping message after max receives")
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(msgKey(queue, id)); err != nil {
					return err
				}
				continue
			}

			// Claim: bump receive count and push visibility forward
			qMsg.ReceiveCount++
			qMsg.VisibleAt = now.Add(b.visibilityTimeout)
			data, err := json.Marshal(qMsg)
			if err != nil {
				return err
			}
			if err := txn.Set(msgKey(queue, id), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			return txn.Set(indexKey(queue, qMsg.VisibleAt, id), []byte{})
		}
		return models.ErrNoMessage
	})
	if err != nil {
		return nil, "", err
	}
	return &qMsg.Body, qMsg.ID, nil
}

// Delete acknowledges a claimed message
func (b *Broker) Delete(ctx context.Context, queue string, receipt string) error {
	if queue == "" {
		queue = b.defaultQueue
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := msgKey(queue, receipt)
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil // Already gone
			}
			return err
		}
		var qMsg queueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &qMsg)
		}); err != nil {
			return err
		}
		if err := txn.Delete(indexKey(queue, qMsg.VisibleAt, receipt)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(key)
	})
}

// Release makes a claimed message immediately visible again
func (b *Broker) Release(ctx context.Context, queue string, receipt string) error {
	if queue == "" {
		queue = b.defaultQueue
	}
	return b.db.Update(func(txn *badger.Txn) error {
		key := msgKey(queue, receipt)
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		var qMsg queueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &qMsg)
		}); err != nil {
			return err
		}

		oldIndex := indexKey(queue, qMsg.VisibleAt, receipt)
		qMsg.VisibleAt = time.Now()
		data, err := json.Marshal(qMsg)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(indexKey(queue, qMsg.VisibleAt, receipt), []byte{})
	})
}

// Stats returns visible and in-flight counts for every queue
func (b *Broker) Stats(ctx context.Context) (map[string]interfaces.QueueStats, error) {
	stats := make(map[string]interfaces.QueueStats)
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte("queue:")
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			queue, ts, ok := parseAnyIndexKey(it.Item().Key())
			if !ok {
				continue
			}
			s := stats[queue]
			if ts.After(now) {
				s.InFlight++
			} else {
				s.Visible++
			}
			stats[queue] = s
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to collect queue stats: %w", err)
	}
	return stats, nil
}

// Close is a no-op; the Badger connection is owned by the storage manager
func (b *Broker) Close() error {
	return nil
}

func msgKey(queue, id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", queue, id))
}

func indexPrefix(queue string) []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", queue))
}

func indexKey(queue string, visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so string sorting matches numeric sorting
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", queue, visibleAt.UnixNano(), id))
}

func parseIndexKey(queue string, key []byte) (time.Time, string, error) {
	prefix := indexPrefix(queue)
	if len(key) < len(prefix)+21 {
		return time.Time{}, "", fmt.Errorf("invalid index key")
	}
	suffix := string(key[len(prefix):])
	var ts int64
	if _, err := fmt.Sscanf(suffix[:20], "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}

// parseAnyIndexKey extracts the queue name and timestamp from an index key
// of any queue, for stats
func parseAnyIndexKey(key []byte) (string, time.Time, bool) {
	s := string(key)
	const head = "queue:"
	if len(s) <= len(head) {
		return "", time.Time{}, false
	}
	rest := s[len(head):]
	// rest is "{queue}:index:{ts}:{id}" or "{queue}:msg:{id}"
	sep := -1
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return "", time.Time{}, false
	}
	queue := rest[:sep]
	tail := rest[sep+1:]
	const marker = "index:"
	if len(tail) < len(marker)+21 || tail[:len(marker)] != marker {
		return "", time.Time{}, false
	}
	var ts int64
	if _, err := fmt.Sscanf(tail[len(marker):len(marker)+20], "%d", &ts); err != nil {
		return "", time.Time{}, false
	}
	return queue, time.Unix(0, ts), true
}
