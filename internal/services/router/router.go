package router

import (
	"sort"

	"github.com/ternarybob/fabrica/internal/models"
)

// Select picks the region a job dispatches to, following target placement:
// candidates are the distinct regions the target devices are assigned to,
// filtered to available ones, highest priority first with name ascending on
// ties. Returns nil when the devices sit in no available region; the caller
// falls back to the default queue.
//
// Pure function over its inputs so routing decisions are reproducible from
// the device and region tables alone.
func Select(devices []*models.Device, regions []*models.Region) *models.Region {
	wanted := make(map[string]bool, len(devices))
	for _, d := range devices {
		if d.RegionID != "" {
			wanted[d.RegionID] = true
		}
	}
	if len(wanted) == 0 {
		return nil
	}

	candidates := make([]*models.Region, 0, len(wanted))
	for _, r := range regions {
		if wanted[r.ID] && r.Available() {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Name < candidates[j].Name
	})
	return candidates[0]
}

// QueueFor returns the broker queue for the selected region, or the given
// default when no region is selected
func QueueFor(region *models.Region, defaultQueue string) string {
	if region == nil {
		return defaultQueue
	}
	return region.QueueName()
}
