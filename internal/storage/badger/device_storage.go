package badger

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DeviceStorage implements the DeviceStorage interface for Badger
type DeviceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDeviceStorage creates a new DeviceStorage instance
func NewDeviceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DeviceStorage {
	return &DeviceStorage{db: db, logger: logger}
}

func (s *DeviceStorage) CreateDevice(ctx context.Context, device *models.Device) error {
	existing, err := s.findByHostname(device.CustomerID, device.Hostname)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("device with hostname %s already exists in customer", device.Hostname)
	}
	if err := s.db.Store().Insert(device.ID, device); err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

func (s *DeviceStorage) findByHostname(customerID, hostname string) (*models.Device, error) {
	var devices []models.Device
	query := badgerhold.Where("Hostname").Eq(hostname).And("CustomerID").Eq(customerID).Limit(1)
	if err := s.db.Store().Find(&devices, query); err != nil {
		return nil, fmt.Errorf("failed to query device by hostname: %w", err)
	}
	if len(devices) == 0 {
		return nil, nil
	}
	return &devices[0], nil
}

func (s *DeviceStorage) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	if err := s.db.Store().Get(id, &device); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}

func (s *DeviceStorage) UpdateDevice(ctx context.Context, device *models.Device) error {
	existing, err := s.findByHostname(device.CustomerID, device.Hostname)
	if err != nil {
		return err
	}
	if existing != nil && existing.ID != device.ID {
		return fmt.Errorf("device with hostname %s already exists in customer", device.Hostname)
	}
	if err := s.db.Store().Update(device.ID, device); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update device: %w", err)
	}
	return nil
}

func (s *DeviceStorage) DeleteDevice(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Device{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

func (s *DeviceStorage) ListDevices(ctx context.Context, customerID string) ([]*models.Device, error) {
	var devices []models.Device
	if err := s.db.Store().Find(&devices, badgerhold.Where("CustomerID").Eq(customerID).SortBy("Hostname")); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	result := make([]*models.Device, len(devices))
	for i := range devices {
		result[i] = &devices[i]
	}
	return result, nil
}

// ResolveTargets expands target filters into the enabled devices they match.
// Filters are conjunctive; an empty filter set targets the customer's full
// enabled fleet.
func (s *DeviceStorage) ResolveTargets(ctx context.Context, customerID string, filters models.TargetFilters) ([]*models.Device, error) {
	var ipNet *net.IPNet
	if filters.IPRange != "" {
		_, parsed, err := net.ParseCIDR(filters.IPRange)
		if err != nil {
			return nil, fmt.Errorf("invalid ip_range filter: %w", err)
		}
		ipNet = parsed
	}

	devices, err := s.ListDevices(ctx, customerID)
	if err != nil {
		return nil, err
	}

	wantIDs := make(map[string]bool, len(filters.DeviceIDs))
	for _, id := range filters.DeviceIDs {
		wantIDs[id] = true
	}

	matched := make([]*models.Device, 0, len(devices))
	for _, d := range devices {
		if !d.Enabled {
			continue
		}
		if len(wantIDs) > 0 && !wantIDs[d.ID] {
			continue
		}
		if filters.Site != "" && !strings.EqualFold(d.Site, filters.Site) {
			continue
		}
		if filters.Role != "" && !strings.EqualFold(d.Role, filters.Role) {
			continue
		}
		if filters.Vendor != "" && !strings.EqualFold(d.Vendor, filters.Vendor) {
			continue
		}
		if filters.Hostname != "" && !strings.Contains(strings.ToLower(d.Hostname), strings.ToLower(filters.Hostname)) {
			continue
		}
		if filters.Tag != "" && !d.HasTag(filters.Tag) {
			continue
		}
		if ipNet != nil {
			ip := net.ParseIP(d.ManagementIP)
			if ip == nil || !ipNet.Contains(ip) {
				continue
			}
		}
		matched = append(matched, d)
	}
	return matched, nil
}

// RegionStorage implements the RegionStorage interface for Badger
type RegionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRegionStorage creates a new RegionStorage instance
func NewRegionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RegionStorage {
	return &RegionStorage{db: db, logger: logger}
}

func (s *RegionStorage) CreateRegion(ctx context.Context, region *models.Region) error {
	existing, err := s.GetRegionByIdentifier(ctx, region.Identifier)
	if err == nil && existing != nil {
		return fmt.Errorf("region with identifier %s already exists", region.Identifier)
	}
	if err := s.db.Store().Insert(region.ID, region); err != nil {
		return fmt.Errorf("failed to create region: %w", err)
	}
	return nil
}

func (s *RegionStorage) GetRegion(ctx context.Context, id string) (*models.Region, error) {
	var region models.Region
	if err := s.db.Store().Get(id, &region); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get region: %w", err)
	}
	return &region, nil
}

func (s *RegionStorage) GetRegionByIdentifier(ctx context.Context, identifier string) (*models.Region, error) {
	var regions []models.Region
	if err := s.db.Store().Find(&regions, badgerhold.Where("Identifier").Eq(identifier).Limit(1)); err != nil {
		return nil, fmt.Errorf("failed to get region by identifier: %w", err)
	}
	if len(regions) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &regions[0], nil
}

func (s *RegionStorage) UpdateRegion(ctx context.Context, region *models.Region) error {
	if err := s.db.Store().Update(region.ID, region); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update region: %w", err)
	}
	return nil
}

func (s *RegionStorage) DeleteRegion(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Region{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete region: %w", err)
	}
	return nil
}

func (s *RegionStorage) ListRegions(ctx context.Context) ([]*models.Region, error) {
	var regions []models.Region
	if err := s.db.Store().Find(&regions, badgerhold.Where(badgerhold.Key).Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	result := make([]*models.Region, len(regions))
	for i := range regions {
		result[i] = &regions[i]
	}
	return result, nil
}

// DiscoveredDeviceStorage implements the DiscoveredDeviceStorage interface
// for Badger
type DiscoveredDeviceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDiscoveredDeviceStorage creates a new DiscoveredDeviceStorage instance
func NewDiscoveredDeviceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DiscoveredDeviceStorage {
	return &DiscoveredDeviceStorage{db: db, logger: logger}
}

func (s *DiscoveredDeviceStorage) UpsertDiscovered(ctx context.Context, d *models.DiscoveredDevice) error {
	if err := s.db.Store().Upsert(d.ID, d); err != nil {
		return fmt.Errorf("failed to upsert discovered device: %w", err)
	}
	return nil
}

func (s *DiscoveredDeviceStorage) GetDiscovered(ctx context.Context, id string) (*models.DiscoveredDevice, error) {
	var d models.DiscoveredDevice
	if err := s.db.Store().Get(id, &d); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get discovered device: %w", err)
	}
	return &d, nil
}

func (s *DiscoveredDeviceStorage) UpdateDiscovered(ctx context.Context, d *models.DiscoveredDevice) error {
	if err := s.db.Store().Update(d.ID, d); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update discovered device: %w", err)
	}
	return nil
}

func (s *DiscoveredDeviceStorage) ListDiscovered(ctx context.Context, customerID string, state string) ([]*models.DiscoveredDevice, error) {
	query := badgerhold.Where("CustomerID").Eq(customerID)
	if state != "" {
		query = query.And("State").Eq(state)
	}
	var found []models.DiscoveredDevice
	if err := s.db.Store().Find(&found, query.SortBy("Hostname")); err != nil {
		return nil, fmt.Errorf("failed to list discovered devices: %w", err)
	}
	result := make([]*models.DiscoveredDevice, len(found))
	for i := range found {
		result[i] = &found[i]
	}
	return result, nil
}
