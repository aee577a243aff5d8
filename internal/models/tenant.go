package models

import (
	"time"
)

// Customer is the tenant boundary. Every domain entity except User carries
// a CustomerID. Destroyed only by admins; destruction cascades to owned
// entities.
type Customer struct {
	ID        string    `json:"id" badgerhold:"key"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role defines the minimum capability required for each operation.
// Ordering: viewer < operator < admin.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// Level returns the numeric rank of a role for threshold comparison
func (r Role) Level() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the role meets the given minimum
func (r Role) AtLeast(min Role) bool {
	return r.Level() >= min.Level()
}

// Valid reports whether the role is one of the known values
func (r Role) Valid() bool {
	return r == RoleViewer || r == RoleOperator || r == RoleAdmin
}

// User is a principal. Admins are cross-tenant; other roles are restricted
// to the customers listed in their memberships.
type User struct {
	ID           string    `json:"id" badgerhold:"key"`
	Email        string    `json:"email" badgerhold:"index"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CustomerIDs  []string  `json:"customer_ids"` // Memberships
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasMembership reports whether the user is a member of the customer
func (u *User) HasMembership(customerID string) bool {
	for _, id := range u.CustomerIDs {
		if id == customerID {
			return true
		}
	}
	return false
}

// Credential is a named secret scoped to one customer. Password fields are
// stored encrypted; the ciphertext is opaque outside the tenant service.
type Credential struct {
	ID                string    `json:"id" badgerhold:"key"`
	CustomerID        string    `json:"customer_id" badgerhold:"index"`
	Name              string    `json:"name"`
	Username          string    `json:"username"`
	EncryptedPassword string    `json:"-"`
	EncryptedEnable   string    `json:"-"` // Optional enable password
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IPRange is a CIDR assigned to a customer, used for deterministic tenant
// resolution on device create/import. Assigned ranges must not overlap.
type IPRange struct {
	ID         string    `json:"id" badgerhold:"key"`
	CustomerID string    `json:"customer_id" badgerhold:"index"`
	CIDR       string    `json:"cidr"`
	CreatedAt  time.Time `json:"created_at"`
}

// TenantContext is the resolved request context every domain operation is
// scoped by.
type TenantContext struct {
	User                  *User    `json:"user"`
	Role                  Role     `json:"role"`
	CustomerID            string   `json:"customer_id"`
	AccessibleCustomerIDs []string `json:"accessible_customer_ids"` // Empty for admin (meaning: all)
}

// IsAdmin reports whether the context belongs to a cross-tenant admin
func (c *TenantContext) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanAccess reports whether the context may touch rows owned by customerID
func (c *TenantContext) CanAccess(customerID string) bool {
	if c.IsAdmin() {
		return true
	}
	for _, id := range c.AccessibleCustomerIDs {
		if id == customerID {
			return true
		}
	}
	return false
}
