package handlers

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/tenant"
)

// maxImportBytes caps the CSV import body
const maxImportBytes = 5 << 20

// DeviceHandler handles device inventory requests
type DeviceHandler struct {
	devices    interfaces.DeviceStorage
	discovered interfaces.DiscoveredDeviceStorage
	tenants    *tenant.Service
	events     interfaces.EventService
	logger     arbor.ILogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(
	devices interfaces.DeviceStorage,
	discovered interfaces.DiscoveredDeviceStorage,
	tenants *tenant.Service,
	events interfaces.EventService,
	logger arbor.ILogger,
) *DeviceHandler {
	return &DeviceHandler{
		devices:    devices,
		discovered: discovered,
		tenants:    tenants,
		events:     events,
		logger:     logger,
	}
}

// DevicesHandler handles the collection route
// GET /api/devices (list), POST /api/devices (create)
func (h *DeviceHandler) DevicesHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listDevices(w, r)
	case http.MethodPost:
		h.createDevice(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *DeviceHandler) listDevices(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleViewer)
	if tc == nil {
		return
	}
	if tc.CustomerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "customer_id required")
		return
	}

	filters := models.TargetFilters{
		Site:     r.URL.Query().Get("site"),
		Role:     r.URL.Query().Get("role"),
		Vendor:   r.URL.Query().Get("vendor"),
		Tag:      r.URL.Query().Get("tag"),
		Hostname: r.URL.Query().Get("search"),
	}

	var list []*models.Device
	var err error
	if filters.IsEmpty() {
		list, err = h.devices.ListDevices(r.Context(), tc.CustomerID)
	} else {
		list, err = h.devices.ResolveTargets(r.Context(), tc.CustomerID, filters)
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list devices")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": list, "count": len(list)})
}

type deviceRequest struct {
	Hostname     string   `json:"hostname"`
	ManagementIP string   `json:"management_ip"`
	Vendor       string   `json:"vendor"`
	Platform     string   `json:"platform"`
	Role         string   `json:"role,omitempty"`
	Site         string   `json:"site,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
	RegionID     string   `json:"region_id,omitempty"`
	CredentialID string   `json:"credential_id"`
	CustomerID   string   `json:"customer_id,omitempty"`
}

func (h *DeviceHandler) createDevice(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}

	var req deviceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Hostname == "" || req.ManagementIP == "" {
		writeError(w, http.StatusUnprocessableEntity, "hostname and management_ip required")
		return
	}

	customerID, err := h.resolveCustomer(r, tc, req.CustomerID, req.ManagementIP)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	now := time.Now().UTC()
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	device := &models.Device{
		ID:           common.NewID(),
		CustomerID:   customerID,
		Hostname:     req.Hostname,
		ManagementIP: req.ManagementIP,
		Vendor:       req.Vendor,
		Platform:     req.Platform,
		Role:         req.Role,
		Site:         req.Site,
		Tags:         req.Tags,
		Enabled:      enabled,
		RegionID:     req.RegionID,
		CredentialID: req.CredentialID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.devices.CreateDevice(r.Context(), device); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}

	h.publishEvent(r, models.EventDeviceCreated, device)
	writeJSON(w, http.StatusCreated, device)
}

// resolveCustomer picks the owning tenant for a new device: the explicit
// selector if permitted, the request scope, or deterministically by the
// management IP's assigned range.
func (h *DeviceHandler) resolveCustomer(r *http.Request, tc *models.TenantContext, explicit, managementIP string) (string, error) {
	if explicit != "" {
		if !tc.CanAccess(explicit) {
			return "", tenant.ErrForbidden
		}
		return explicit, nil
	}
	if tc.CustomerID != "" {
		return tc.CustomerID, nil
	}
	return h.tenants.ResolveCustomerForIP(r.Context(), managementIP)
}

// DeviceRoutesHandler dispatches /api/devices/{id}
func (h *DeviceHandler) DeviceRoutesHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleViewer)
	if tc == nil {
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	if deviceID == "" || strings.Contains(deviceID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	device, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !tc.CanAccess(device.CustomerID) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, device)
	case http.MethodPut:
		h.updateDevice(w, r, tc, device)
	case http.MethodDelete:
		h.deleteDevice(w, r, tc, device)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *DeviceHandler) updateDevice(w http.ResponseWriter, r *http.Request, tc *models.TenantContext, device *models.Device) {
	if tc = requireRole(w, r, models.RoleOperator); tc == nil {
		return
	}

	var req deviceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Hostname != "" {
		device.Hostname = req.Hostname
	}
	if req.ManagementIP != "" {
		device.ManagementIP = req.ManagementIP
	}
	if req.Vendor != "" {
		device.Vendor = req.Vendor
	}
	if req.Platform != "" {
		device.Platform = req.Platform
	}
	device.Role = req.Role
	device.Site = req.Site
	if req.Tags != nil {
		device.Tags = req.Tags
	}
	if req.Enabled != nil {
		device.Enabled = *req.Enabled
	}
	device.RegionID = req.RegionID
	if req.CredentialID != "" {
		device.CredentialID = req.CredentialID
	}
	device.UpdatedAt = time.Now().UTC()

	if err := h.devices.UpdateDevice(r.Context(), device); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	h.publishEvent(r, models.EventDeviceUpdated, device)
	writeJSON(w, http.StatusOK, device)
}

func (h *DeviceHandler) deleteDevice(w http.ResponseWriter, r *http.Request, tc *models.TenantContext, device *models.Device) {
	if tc = requireRole(w, r, models.RoleOperator); tc == nil {
		return
	}
	if err := h.devices.DeleteDevice(r.Context(), device.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ImportHandler ingests a CSV inventory. Columns: hostname, management_ip,
// vendor, platform, role, site, tags (semicolon separated), credential_id.
// Rows resolve their tenant by management IP unless the request carries a
// customer scope. Bad rows are reported, good rows land.
// POST /api/devices/import (multipart, max 5 MiB)
func (h *DeviceHandler) ImportHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "import file too large (max 5 MiB)")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		writeError(w, http.StatusBadRequest, "empty or unreadable CSV")
		return
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := col["hostname"]; !ok {
		writeError(w, http.StatusBadRequest, "CSV must have a hostname column")
		return
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	created := 0
	var rowErrors []string
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("line %d: unreadable row", line))
			continue
		}

		hostname := field(record, "hostname")
		managementIP := field(record, "management_ip")
		if hostname == "" || managementIP == "" {
			rowErrors = append(rowErrors, fmt.Sprintf("line %d: hostname and management_ip required", line))
			continue
		}

		customerID, err := h.resolveCustomer(r, tc, field(record, "customer_id"), managementIP)
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("line %d: %s", line, err))
			continue
		}

		var tags []string
		if raw := field(record, "tags"); raw != "" {
			tags = strings.Split(raw, ";")
		}
		now := time.Now().UTC()
		device := &models.Device{
			ID:           common.NewID(),
			CustomerID:   customerID,
			Hostname:     hostname,
			ManagementIP: managementIP,
			Vendor:       field(record, "vendor"),
			Platform:     field(record, "platform"),
			Role:         field(record, "role"),
			Site:         field(record, "site"),
			Tags:         tags,
			Enabled:      true,
			CredentialID: field(record, "credential_id"),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := h.devices.CreateDevice(r.Context(), device); err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("line %d: %s", line, err))
			continue
		}
		h.publishEvent(r, models.EventDeviceCreated, device)
		created++
	}

	h.logger.Info().Int("created", created).Int("errors", len(rowErrors)).Msg("Device import finished")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"created": created,
		"errors":  rowErrors,
	})
}

// DiscoveredHandler lists staged discovered devices
// GET /api/devices/discovered?state=pending
func (h *DeviceHandler) DiscoveredHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleViewer)
	if tc == nil {
		return
	}
	if tc.CustomerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "customer_id required")
		return
	}
	state := r.URL.Query().Get("state")
	list, err := h.discovered.ListDiscovered(r.Context(), tc.CustomerID, state)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"discovered": list, "count": len(list)})
}

// DiscoveredRoutesHandler dispatches /api/devices/discovered/{id}/promote
// and /discard
func (h *DeviceHandler) DiscoveredRoutesHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/devices/discovered/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, action := parts[0], parts[1]

	d, err := h.discovered.GetDiscovered(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !tc.CanAccess(d.CustomerID) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if d.State != "pending" {
		writeError(w, http.StatusConflict, "discovered device already reviewed")
		return
	}

	switch action {
	case "promote":
		var req struct {
			CredentialID string `json:"credential_id"`
			Vendor       string `json:"vendor,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		now := time.Now().UTC()
		device := &models.Device{
			ID:           common.NewID(),
			CustomerID:   d.CustomerID,
			Hostname:     d.Hostname,
			ManagementIP: d.ManagementIP,
			Vendor:       req.Vendor,
			Platform:     d.Platform,
			Enabled:      true,
			CredentialID: req.CredentialID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := h.devices.CreateDevice(r.Context(), device); err != nil {
			writeServiceError(w, err)
			return
		}
		d.State = "promoted"
		if err := h.discovered.UpdateDiscovered(r.Context(), d); err != nil {
			writeServiceError(w, err)
			return
		}
		h.publishEvent(r, models.EventDeviceCreated, device)
		writeJSON(w, http.StatusCreated, device)
	case "discard":
		d.State = "discarded"
		if err := h.discovered.UpdateDiscovered(r.Context(), d); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *DeviceHandler) publishEvent(r *http.Request, eventType models.EventType, device *models.Device) {
	event := models.Event{
		EventID:    common.NewEventID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CustomerID: device.CustomerID,
		Payload: map[string]interface{}{
			"device_id": device.ID,
			"hostname":  device.Hostname,
		},
	}
	if err := h.events.Publish(r.Context(), event); err != nil {
		h.logger.Warn().Err(err).Str("device_id", device.ID).Msg("Failed to publish device event")
	}
}

