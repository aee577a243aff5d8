package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/tenant"
)

// AdminHandler handles customer, user, credential, and IP range management.
// Everything here is admin-gated except read access to the caller's own
// tenancy.
type AdminHandler struct {
	customers   interfaces.CustomerStorage
	users       interfaces.UserStorage
	credentials interfaces.CredentialStorage
	ipRanges    interfaces.IPRangeStorage
	tenants     *tenant.Service
	logger      arbor.ILogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	customers interfaces.CustomerStorage,
	users interfaces.UserStorage,
	credentials interfaces.CredentialStorage,
	ipRanges interfaces.IPRangeStorage,
	tenants *tenant.Service,
	logger arbor.ILogger,
) *AdminHandler {
	return &AdminHandler{
		customers:   customers,
		users:       users,
		credentials: credentials,
		ipRanges:    ipRanges,
		tenants:     tenants,
		logger:      logger,
	}
}

// CustomersHandler handles GET (list) and POST (create) on /api/customers
func (h *AdminHandler) CustomersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tc := requireRole(w, r, models.RoleViewer)
		if tc == nil {
			return
		}
		list, err := h.customers.ListCustomers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !tc.IsAdmin() {
			visible := make([]*models.Customer, 0, len(list))
			for _, c := range list {
				if tc.CanAccess(c.ID) {
					visible = append(visible, c)
				}
			}
			list = visible
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"customers": list})
	case http.MethodPost:
		if requireRole(w, r, models.RoleAdmin) == nil {
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &req); err != nil || req.Name == "" {
			writeError(w, http.StatusBadRequest, "name required")
			return
		}
		now := time.Now().UTC()
		customer := &models.Customer{
			ID:        common.NewID(),
			Name:      req.Name,
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := h.customers.CreateCustomer(r.Context(), customer); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, customer)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CustomerRoutesHandler dispatches /api/customers/{id}
func (h *AdminHandler) CustomerRoutesHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/customers/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		tc := requireRole(w, r, models.RoleViewer)
		if tc == nil {
			return
		}
		if !tc.CanAccess(id) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		customer, err := h.customers.GetCustomer(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, customer)
	case http.MethodPut:
		if requireRole(w, r, models.RoleAdmin) == nil {
			return
		}
		customer, err := h.customers.GetCustomer(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		var req struct {
			Name   string `json:"name,omitempty"`
			Active *bool  `json:"active,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name != "" {
			customer.Name = req.Name
		}
		if req.Active != nil {
			customer.Active = *req.Active
		}
		customer.UpdatedAt = time.Now().UTC()
		if err := h.customers.UpdateCustomer(r.Context(), customer); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, customer)
	case http.MethodDelete:
		if requireRole(w, r, models.RoleAdmin) == nil {
			return
		}
		if err := h.customers.DeleteCustomer(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		h.logger.Info().Str("customer_id", id).Msg("Customer deleted")
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// UsersHandler handles GET (list) and POST (create) on /api/users
func (h *AdminHandler) UsersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tc := requireRole(w, r, models.RoleAdmin)
		if tc == nil {
			return
		}
		list, err := h.users.ListUsers(r.Context(), r.URL.Query().Get("customer_id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"users": list})
	case http.MethodPost:
		if requireRole(w, r, models.RoleAdmin) == nil {
			return
		}
		var req struct {
			Email       string      `json:"email"`
			Name        string      `json:"name"`
			Password    string      `json:"password"`
			Role        models.Role `json:"role"`
			CustomerIDs []string    `json:"customer_ids"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Email == "" || req.Password == "" {
			writeError(w, http.StatusUnprocessableEntity, "email and password required")
			return
		}
		if !req.Role.Valid() {
			writeError(w, http.StatusUnprocessableEntity, "invalid role")
			return
		}

		hash, err := h.tenants.HashPassword(req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		now := time.Now().UTC()
		user := &models.User{
			ID:           common.NewID(),
			Email:        req.Email,
			Name:         req.Name,
			Role:         req.Role,
			PasswordHash: hash,
			Active:       true,
			CustomerIDs:  req.CustomerIDs,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := h.users.CreateUser(r.Context(), user); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// UserRoutesHandler dispatches /api/users/{id}
func (h *AdminHandler) UserRoutesHandler(w http.ResponseWriter, r *http.Request) {
	if requireRole(w, r, models.RoleAdmin) == nil {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/users/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := h.users.GetUser(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		user, err := h.users.GetUser(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		var req struct {
			Name        string      `json:"name,omitempty"`
			Password    string      `json:"password,omitempty"`
			Role        models.Role `json:"role,omitempty"`
			Active      *bool       `json:"active,omitempty"`
			CustomerIDs []string    `json:"customer_ids,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name != "" {
			user.Name = req.Name
		}
		if req.Password != "" {
			hash, err := h.tenants.HashPassword(req.Password)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			user.PasswordHash = hash
		}
		if req.Role != "" {
			if !req.Role.Valid() {
				writeError(w, http.StatusUnprocessableEntity, "invalid role")
				return
			}
			user.Role = req.Role
		}
		if req.Active != nil {
			user.Active = *req.Active
		}
		if req.CustomerIDs != nil {
			user.CustomerIDs = req.CustomerIDs
		}
		user.UpdatedAt = time.Now().UTC()
		if err := h.users.UpdateUser(r.Context(), user); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := h.users.DeleteUser(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CredentialsHandler handles GET (list) and POST (create) on
// /api/credentials. Secrets go in encrypted and never come back out; list
// responses carry metadata only.
func (h *AdminHandler) CredentialsHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if tc.CustomerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "customer_id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := h.credentials.ListCredentials(r.Context(), tc.CustomerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"credentials": list})
	case http.MethodPost:
		var req struct {
			Name     string `json:"name"`
			Username string `json:"username"`
			Password string `json:"password"`
			Enable   string `json:"enable,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" || req.Username == "" || req.Password == "" {
			writeError(w, http.StatusUnprocessableEntity, "name, username, and password required")
			return
		}

		encPassword, err := h.tenants.EncryptSecret(req.Password)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		encEnable := ""
		if req.Enable != "" {
			if encEnable, err = h.tenants.EncryptSecret(req.Enable); err != nil {
				writeServiceError(w, err)
				return
			}
		}

		now := time.Now().UTC()
		cred := &models.Credential{
			ID:                common.NewID(),
			CustomerID:        tc.CustomerID,
			Name:              req.Name,
			Username:          req.Username,
			EncryptedPassword: encPassword,
			EncryptedEnable:   encEnable,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := h.credentials.CreateCredential(r.Context(), cred); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, cred)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// CredentialRoutesHandler dispatches /api/credentials/{id}
func (h *AdminHandler) CredentialRoutesHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/credentials/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	cred, err := h.credentials.GetCredential(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !tc.CanAccess(cred.CustomerID) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, cred)
	case http.MethodPut:
		var req struct {
			Name     string `json:"name,omitempty"`
			Username string `json:"username,omitempty"`
			Password string `json:"password,omitempty"`
			Enable   string `json:"enable,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name != "" {
			cred.Name = req.Name
		}
		if req.Username != "" {
			cred.Username = req.Username
		}
		if req.Password != "" {
			enc, err := h.tenants.EncryptSecret(req.Password)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			cred.EncryptedPassword = enc
		}
		if req.Enable != "" {
			enc, err := h.tenants.EncryptSecret(req.Enable)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			cred.EncryptedEnable = enc
		}
		cred.UpdatedAt = time.Now().UTC()
		if err := h.credentials.UpdateCredential(r.Context(), cred); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cred)
	case http.MethodDelete:
		if err := h.credentials.DeleteCredential(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// IPRangesHandler handles GET (list) and POST (create) on /api/ip-ranges.
// New ranges must not overlap any assigned range across all customers.
func (h *AdminHandler) IPRangesHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleAdmin)
	if tc == nil {
		return
	}

	switch r.Method {
	case http.MethodGet:
		customerID := r.URL.Query().Get("customer_id")
		var list []*models.IPRange
		var err error
		if customerID != "" {
			list, err = h.ipRanges.ListIPRanges(r.Context(), customerID)
		} else {
			list, err = h.ipRanges.ListAllIPRanges(r.Context())
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"ip_ranges": list})
	case http.MethodPost:
		var req struct {
			CustomerID string `json:"customer_id"`
			CIDR       string `json:"cidr"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.CustomerID == "" || req.CIDR == "" {
			writeError(w, http.StatusUnprocessableEntity, "customer_id and cidr required")
			return
		}
		if err := h.tenants.ValidateNoOverlap(r.Context(), req.CIDR); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		ipRange := &models.IPRange{
			ID:         common.NewID(),
			CustomerID: req.CustomerID,
			CIDR:       req.CIDR,
			CreatedAt:  time.Now().UTC(),
		}
		if err := h.ipRanges.CreateIPRange(r.Context(), ipRange); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ipRange)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// IPRangeRoutesHandler dispatches DELETE /api/ip-ranges/{id}
func (h *AdminHandler) IPRangeRoutesHandler(w http.ResponseWriter, r *http.Request) {
	if requireRole(w, r, models.RoleAdmin) == nil {
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/ip-ranges/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err := h.ipRanges.DeleteIPRange(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
