package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusScheduled, JobStatusQueued, true},
		{JobStatusScheduled, JobStatusCancelled, true},
		{JobStatusScheduled, JobStatusRunning, false},
		{JobStatusQueued, JobStatusRunning, true},
		{JobStatusQueued, JobStatusCancelled, true},
		{JobStatusQueued, JobStatusSuccess, false},
		{JobStatusRunning, JobStatusSuccess, true},
		{JobStatusRunning, JobStatusPartial, true},
		{JobStatusRunning, JobStatusFailed, true},
		{JobStatusRunning, JobStatusCancelled, true},
		{JobStatusRunning, JobStatusQueued, false},
		{JobStatusSuccess, JobStatusQueued, false},
		{JobStatusFailed, JobStatusRunning, false},
		{JobStatusCancelled, JobStatusQueued, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert.False(t, JobStatusScheduled.IsTerminal())
	assert.False(t, JobStatusQueued.IsTerminal())
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusSuccess.IsTerminal())
	assert.True(t, JobStatusPartial.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.True(t, JobStatusCancelled.IsTerminal())
}

func TestTargetFiltersIsEmpty(t *testing.T) {
	assert.True(t, TargetFilters{}.IsEmpty())
	assert.False(t, TargetFilters{Site: "syd-dc1"}.IsEmpty())
	assert.False(t, TargetFilters{DeviceIDs: []string{"dev-1"}}.IsEmpty())
	assert.False(t, TargetFilters{IPRange: "10.0.0.0/8"}.IsEmpty())
}

func TestRoleAtLeast(t *testing.T) {
	assert.True(t, RoleAdmin.AtLeast(RoleOperator))
	assert.True(t, RoleOperator.AtLeast(RoleOperator))
	assert.True(t, RoleOperator.AtLeast(RoleViewer))
	assert.False(t, RoleViewer.AtLeast(RoleOperator))
	assert.False(t, Role("intern").AtLeast(RoleViewer))
}

func TestTenantContextCanAccess(t *testing.T) {
	operator := &TenantContext{
		Role:                  RoleOperator,
		CustomerID:            "cust-a",
		AccessibleCustomerIDs: []string{"cust-a", "cust-b"},
	}
	assert.True(t, operator.CanAccess("cust-a"))
	assert.False(t, operator.CanAccess("cust-c"))

	admin := &TenantContext{Role: RoleAdmin}
	assert.True(t, admin.CanAccess("anything"))
}
