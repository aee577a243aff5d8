package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/fabrica/internal/models"
)

func region(name, identifier string, priority int, enabled bool, health models.RegionHealth) *models.Region {
	return &models.Region{
		ID:         identifier,
		Name:       name,
		Identifier: identifier,
		Priority:   priority,
		Enabled:    enabled,
		Health:     health,
	}
}

func device(hostname, regionID string) *models.Device {
	return &models.Device{
		ID:       hostname,
		Hostname: hostname,
		RegionID: regionID,
		Enabled:  true,
	}
}

func TestSelect_FollowsDevicePlacement(t *testing.T) {
	// Melbourne outranks Sydney, but the targets all sit in Sydney
	regions := []*models.Region{
		region("Sydney", "syd", 10, true, models.RegionHealthy),
		region("Melbourne", "mel", 20, true, models.RegionHealthy),
	}
	devices := []*models.Device{
		device("sw-01", "syd"),
		device("sw-02", "syd"),
	}

	selected := Select(devices, regions)
	assert.Equal(t, "syd", selected.Identifier)
}

func TestSelect_HighestPriorityAmongDeviceRegions(t *testing.T) {
	regions := []*models.Region{
		region("Sydney", "syd", 10, true, models.RegionHealthy),
		region("Melbourne", "mel", 20, true, models.RegionHealthy),
		region("Brisbane", "bne", 30, true, models.RegionHealthy),
	}
	// Devices span syd and mel; bne has no targets and never routes
	devices := []*models.Device{
		device("sw-01", "syd"),
		device("sw-02", "mel"),
	}

	selected := Select(devices, regions)
	assert.Equal(t, "mel", selected.Identifier)
}

func TestSelect_NameBreaksPriorityTies(t *testing.T) {
	regions := []*models.Region{
		region("Sydney", "syd", 10, true, models.RegionHealthy),
		region("Adelaide", "adl", 10, true, models.RegionHealthy),
	}
	devices := []*models.Device{
		device("sw-01", "syd"),
		device("sw-02", "adl"),
	}

	selected := Select(devices, regions)
	assert.Equal(t, "adl", selected.Identifier)
}

func TestSelect_UnassignedDevicesRouteNowhere(t *testing.T) {
	// A healthy high-priority region with none of the targets in it must
	// not attract the job
	regions := []*models.Region{
		region("Melbourne", "mel", 100, true, models.RegionHealthy),
	}
	devices := []*models.Device{
		device("sw-01", ""),
		device("sw-02", ""),
	}

	assert.Nil(t, Select(devices, regions))
	assert.Nil(t, Select(nil, regions))
}

func TestSelect_SkipsUnavailableRegions(t *testing.T) {
	// Disabled and offline regions never route; degraded still does
	regions := []*models.Region{
		region("Sydney", "syd", 30, false, models.RegionHealthy),
		region("Melbourne", "mel", 20, true, models.RegionOffline),
		region("Brisbane", "bne", 10, true, models.RegionDegraded),
	}
	devices := []*models.Device{
		device("sw-01", "syd"),
		device("sw-02", "mel"),
		device("sw-03", "bne"),
	}

	selected := Select(devices, regions)
	assert.Equal(t, "bne", selected.Identifier)
}

func TestSelect_NoAvailableRegion(t *testing.T) {
	regions := []*models.Region{
		region("Sydney", "syd", 30, false, models.RegionHealthy),
		region("Melbourne", "mel", 20, true, models.RegionOffline),
	}
	devices := []*models.Device{
		device("sw-01", "syd"),
		device("sw-02", "mel"),
	}

	assert.Nil(t, Select(devices, regions))
	assert.Nil(t, Select(devices, nil))
}

func TestSelect_DoesNotMutateInput(t *testing.T) {
	regions := []*models.Region{
		region("Sydney", "syd", 10, true, models.RegionHealthy),
		region("Melbourne", "mel", 20, true, models.RegionHealthy),
	}
	devices := []*models.Device{
		device("sw-01", "syd"),
		device("sw-02", "mel"),
	}

	Select(devices, regions)
	assert.Equal(t, "syd", regions[0].Identifier)
	assert.Equal(t, "mel", regions[1].Identifier)
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, "fabrica_default", QueueFor(nil, "fabrica_default"))
	assert.Equal(t, "region_syd", QueueFor(region("Sydney", "syd", 10, true, models.RegionHealthy), "fabrica_default"))
}
