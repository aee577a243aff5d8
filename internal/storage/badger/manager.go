package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
)

// Manager bundles every Badger-backed store over one database connection
type Manager struct {
	db *BadgerDB

	Jobs          interfaces.JobStorage
	JobLogs       interfaces.JobLogStorage
	Customers     interfaces.CustomerStorage
	Users         interfaces.UserStorage
	Credentials   interfaces.CredentialStorage
	IPRanges      interfaces.IPRangeStorage
	Devices       interfaces.DeviceStorage
	Regions       interfaces.RegionStorage
	Discovered    interfaces.DiscoveredDeviceStorage
	Schedules     interfaces.ScheduleStorage
	Snapshots     interfaces.SnapshotStorage
	Compliance    interfaces.ComplianceStorage
	Topology      interfaces.TopologyStorage
	Subscriptions interfaces.SubscriptionStorage
	Deliveries    interfaces.DeliveryStorage
}

// NewManager opens the database and wires all stores
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return &Manager{
		db:            db,
		Jobs:          NewJobStorage(db, logger),
		JobLogs:       NewJobLogStorage(db, logger),
		Customers:     NewCustomerStorage(db, logger),
		Users:         NewUserStorage(db, logger),
		Credentials:   NewCredentialStorage(db, logger),
		IPRanges:      NewIPRangeStorage(db, logger),
		Devices:       NewDeviceStorage(db, logger),
		Regions:       NewRegionStorage(db, logger),
		Discovered:    NewDiscoveredDeviceStorage(db, logger),
		Schedules:     NewScheduleStorage(db, logger),
		Snapshots:     NewSnapshotStorage(db, logger),
		Compliance:    NewComplianceStorage(db, logger),
		Topology:      NewTopologyStorage(db, logger),
		Subscriptions: NewSubscriptionStorage(db, logger),
		Deliveries:    NewDeliveryStorage(db, logger),
	}, nil
}

// DB returns the underlying connection, used by the broker which shares it
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}
