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

// SnapshotStorage implements the SnapshotStorage interface for Badger
type SnapshotStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSnapshotStorage creates a new SnapshotStorage instance
func NewSnapshotStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SnapshotStorage {
	return &SnapshotStorage{db: db, logger: logger}
}

func (s *SnapshotStorage) CreateSnapshot(ctx context.Context, snap *models.ConfigSnapshot) error {
	if err := s.db.Store().Insert(snap.ID, snap); err != nil {
		return fmt.Errorf("failed to create config snapshot: %w", err)
	}
	return nil
}

func (s *SnapshotStorage) GetSnapshot(ctx context.Context, id string) (*models.ConfigSnapshot, error) {
	var snap models.ConfigSnapshot
	if err := s.db.Store().Get(id, &snap); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get config snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SnapshotStorage) LatestSnapshot(ctx context.Context, deviceID string) (*models.ConfigSnapshot, error) {
	var snaps []models.ConfigSnapshot
	query := badgerhold.Where("DeviceID").Eq(deviceID).SortBy("TakenAt").Reverse().Limit(1)
	if err := s.db.Store().Find(&snaps, query); err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

func (s *SnapshotStorage) ListSnapshots(ctx context.Context, deviceID string, limit int) ([]*models.ConfigSnapshot, error) {
	query := badgerhold.Where("DeviceID").Eq(deviceID).SortBy("TakenAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	var snaps []models.ConfigSnapshot
	if err := s.db.Store().Find(&snaps, query); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	result := make([]*models.ConfigSnapshot, len(snaps))
	for i := range snaps {
		result[i] = &snaps[i]
	}
	return result, nil
}

// ComplianceStorage implements the ComplianceStorage interface for Badger
type ComplianceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewComplianceStorage creates a new ComplianceStorage instance
func NewComplianceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ComplianceStorage {
	return &ComplianceStorage{db: db, logger: logger}
}

func (s *ComplianceStorage) CreateResult(ctx context.Context, result *models.ComplianceResult) error {
	if err := s.db.Store().Insert(result.ID, result); err != nil {
		return fmt.Errorf("failed to create compliance result: %w", err)
	}
	return nil
}

func (s *ComplianceStorage) ListResultsByJob(ctx context.Context, jobID string) ([]*models.ComplianceResult, error) {
	var results []models.ComplianceResult
	if err := s.db.Store().Find(&results, badgerhold.Where("JobID").Eq(jobID).SortBy("Hostname")); err != nil {
		return nil, fmt.Errorf("failed to list compliance results: %w", err)
	}
	out := make([]*models.ComplianceResult, len(results))
	for i := range results {
		out[i] = &results[i]
	}
	return out, nil
}

func (s *ComplianceStorage) ListResultsByDevice(ctx context.Context, deviceID string, limit int) ([]*models.ComplianceResult, error) {
	query := badgerhold.Where("DeviceID").Eq(deviceID).SortBy("CheckedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	var results []models.ComplianceResult
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list compliance results: %w", err)
	}
	out := make([]*models.ComplianceResult, len(results))
	for i := range results {
		out[i] = &results[i]
	}
	return out, nil
}

// TopologyStorage implements the TopologyStorage interface for Badger
type TopologyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTopologyStorage creates a new TopologyStorage instance
func NewTopologyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TopologyStorage {
	return &TopologyStorage{db: db, logger: logger}
}

// UpsertLink refreshes last_seen on an existing row, preserving first_seen.
func (s *TopologyStorage) UpsertLink(ctx context.Context, link *models.TopologyLink) error {
	var existing models.TopologyLink
	err := s.db.Store().Get(link.ID, &existing)
	if err == nil {
		link.FirstSeen = existing.FirstSeen
	} else if err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to check existing topology link: %w", err)
	}
	if link.FirstSeen.IsZero() {
		link.FirstSeen = time.Now().UTC()
	}
	if link.LastSeen.IsZero() {
		link.LastSeen = time.Now().UTC()
	}
	if err := s.db.Store().Upsert(link.ID, link); err != nil {
		return fmt.Errorf("failed to upsert topology link: %w", err)
	}
	return nil
}

func (s *TopologyStorage) ListLinks(ctx context.Context, customerID string) ([]*models.TopologyLink, error) {
	var links []models.TopologyLink
	if err := s.db.Store().Find(&links, badgerhold.Where("CustomerID").Eq(customerID).SortBy("LocalHostname")); err != nil {
		return nil, fmt.Errorf("failed to list topology links: %w", err)
	}
	result := make([]*models.TopologyLink, len(links))
	for i := range links {
		result[i] = &links[i]
	}
	return result, nil
}

func (s *TopologyStorage) ListLinksByDevice(ctx context.Context, deviceID string) ([]*models.TopologyLink, error) {
	var links []models.TopologyLink
	if err := s.db.Store().Find(&links, badgerhold.Where("LocalDeviceID").Eq(deviceID).SortBy("LocalInterface")); err != nil {
		return nil, fmt.Errorf("failed to list topology links: %w", err)
	}
	result := make([]*models.TopologyLink, len(links))
	for i := range links {
		result[i] = &links[i]
	}
	return result, nil
}
