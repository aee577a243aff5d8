package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/models"
)

func newTestDevice(customerID, hostname, ip string) *models.Device {
	now := time.Now().UTC()
	return &models.Device{
		ID:           common.NewID(),
		CustomerID:   customerID,
		Hostname:     hostname,
		ManagementIP: ip,
		Vendor:       "cisco",
		Platform:     "ios",
		Role:         "access",
		Site:         "syd",
		Enabled:      true,
		CredentialID: "cred-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestCreateDevice_HostnameUniquePerCustomer(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewDeviceStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateDevice(ctx, newTestDevice("cust-a", "sw-01", "10.0.0.1")))

	// Same hostname, same customer: rejected
	err := storage.CreateDevice(ctx, newTestDevice("cust-a", "sw-01", "10.0.0.2"))
	assert.Error(t, err)

	// Same hostname, different customer: fine
	assert.NoError(t, storage.CreateDevice(ctx, newTestDevice("cust-b", "sw-01", "10.0.0.3")))
}

func TestResolveTargets_EmptyFiltersResolveFullFleet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewDeviceStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.CreateDevice(ctx, newTestDevice("cust-a", "sw-01", "10.0.0.1")))
	require.NoError(t, storage.CreateDevice(ctx, newTestDevice("cust-a", "sw-02", "10.0.0.2")))
	disabled := newTestDevice("cust-a", "sw-03", "10.0.0.3")
	disabled.Enabled = false
	require.NoError(t, storage.CreateDevice(ctx, disabled))
	require.NoError(t, storage.CreateDevice(ctx, newTestDevice("cust-b", "sw-01", "10.0.1.1")))

	devices, err := storage.ResolveTargets(ctx, "cust-a", models.TargetFilters{})
	require.NoError(t, err)
	assert.Len(t, devices, 2, "empty filters target the customer's enabled fleet")
}

func TestResolveTargets_FiltersAreConjunctive(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewDeviceStorage(db, arbor.NewLogger())
	ctx := context.Background()

	match := newTestDevice("cust-a", "core-sw-01", "10.1.0.1")
	match.Role = "core"
	wrongSite := newTestDevice("cust-a", "core-sw-02", "10.1.0.2")
	wrongSite.Role = "core"
	wrongSite.Site = "mel"
	wrongRole := newTestDevice("cust-a", "edge-sw-01", "10.1.0.3")

	for _, d := range []*models.Device{match, wrongSite, wrongRole} {
		require.NoError(t, storage.CreateDevice(ctx, d))
	}

	devices, err := storage.ResolveTargets(ctx, "cust-a", models.TargetFilters{Site: "syd", Role: "core"})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, match.ID, devices[0].ID)
}

func TestResolveTargets_IPRange(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewDeviceStorage(db, arbor.NewLogger())
	ctx := context.Background()

	inside := newTestDevice("cust-a", "sw-in", "192.168.10.5")
	outside := newTestDevice("cust-a", "sw-out", "192.168.20.5")
	require.NoError(t, storage.CreateDevice(ctx, inside))
	require.NoError(t, storage.CreateDevice(ctx, outside))

	devices, err := storage.ResolveTargets(ctx, "cust-a", models.TargetFilters{IPRange: "192.168.10.0/24"})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, inside.ID, devices[0].ID)

	_, err = storage.ResolveTargets(ctx, "cust-a", models.TargetFilters{IPRange: "not-a-cidr"})
	assert.Error(t, err)
}

func TestResolveTargets_SkipsDisabledDevices(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewDeviceStorage(db, arbor.NewLogger())
	ctx := context.Background()

	disabled := newTestDevice("cust-a", "sw-01", "10.0.0.1")
	disabled.Enabled = false
	require.NoError(t, storage.CreateDevice(ctx, disabled))

	devices, err := storage.ResolveTargets(ctx, "cust-a", models.TargetFilters{Hostname: "sw"})
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestResolveTargets_TagAndDeviceIDs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewDeviceStorage(db, arbor.NewLogger())
	ctx := context.Background()

	tagged := newTestDevice("cust-a", "sw-01", "10.0.0.1")
	tagged.Tags = []string{"wan", "backup"}
	other := newTestDevice("cust-a", "sw-02", "10.0.0.2")
	require.NoError(t, storage.CreateDevice(ctx, tagged))
	require.NoError(t, storage.CreateDevice(ctx, other))

	devices, err := storage.ResolveTargets(ctx, "cust-a", models.TargetFilters{Tag: "wan"})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, tagged.ID, devices[0].ID)

	devices, err = storage.ResolveTargets(ctx, "cust-a", models.TargetFilters{DeviceIDs: []string{other.ID}})
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, other.ID, devices[0].ID)
}
