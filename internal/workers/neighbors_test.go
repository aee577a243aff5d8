package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cdpDetailOutput = `-------------------------
Device ID: access-sw-02.corp.example.com
Entry address(es):
  IP address: 10.20.1.2
Platform: cisco WS-C2960X-48TS-L,  Capabilities: Switch IGMP
Interface: GigabitEthernet0/1,  Port ID (outgoing port): GigabitEthernet0/24
Holdtime : 155 sec
-------------------------
Device ID: core-rtr-01
Entry address(es):
  IP address: 10.20.0.1
Platform: cisco ISR4451,  Capabilities: Router
Interface: GigabitEthernet0/2,  Port ID (outgoing port): GigabitEthernet0/0/1
Holdtime : 132 sec
`

const lldpDetailOutput = `------------------------------------------------
Local Intf: Gi0/3
Chassis id: 0001.96aa.bb01
Port id: Gi1/0/12
Port Description: uplink to access
System Name: dist-sw-01.corp.example.com

System Description: Cisco IOS Software, C3750E Software
Time remaining: 95 seconds
Mgmt IP: 10.20.2.5
`

func TestParseNeighbors_CDP(t *testing.T) {
	neighbors := ParseNeighbors(cdpDetailOutput)
	require.Len(t, neighbors, 2)

	assert.Equal(t, "access-sw-02", neighbors[0].Hostname, "domain suffix is stripped")
	assert.Equal(t, "GigabitEthernet0/1", neighbors[0].LocalInterface)
	assert.Equal(t, "GigabitEthernet0/24", neighbors[0].RemoteInterface)
	assert.Equal(t, "10.20.1.2", neighbors[0].ManagementIP)
	assert.Equal(t, "cisco WS-C2960X-48TS-L", neighbors[0].Platform)

	assert.Equal(t, "core-rtr-01", neighbors[1].Hostname)
	assert.Equal(t, "GigabitEthernet0/2", neighbors[1].LocalInterface)
	assert.Equal(t, "GigabitEthernet0/0/1", neighbors[1].RemoteInterface)
}

func TestParseNeighbors_LLDP(t *testing.T) {
	neighbors := ParseNeighbors(lldpDetailOutput)
	require.Len(t, neighbors, 1)

	n := neighbors[0]
	assert.Equal(t, "dist-sw-01", n.Hostname)
	assert.Equal(t, "Gi0/3", n.LocalInterface)
	assert.Equal(t, "Gi1/0/12", n.RemoteInterface)
	assert.Equal(t, "10.20.2.5", n.ManagementIP)
	assert.Equal(t, "Cisco IOS Software", n.Platform)
}

func TestParseNeighbors_EntriesWithoutHostnameDropped(t *testing.T) {
	output := `-------------------------
Entry address(es):
  IP address: 10.20.1.9
Interface: GigabitEthernet0/5,  Port ID (outgoing port): Gi0/1
`
	assert.Empty(t, ParseNeighbors(output))
	assert.Empty(t, ParseNeighbors(""))
}
