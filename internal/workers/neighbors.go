package workers

import (
	"strings"
)

// Neighbor is one adjacency parsed from "show cdp|lldp neighbors detail"
type Neighbor struct {
	Hostname        string
	LocalInterface  string
	RemoteInterface string
	ManagementIP    string
	Platform        string
}

// ParseNeighbors extracts adjacencies from detail-format neighbor output.
// Entries are separated by dashed lines; both CDP ("Device ID", "Port ID
// (outgoing port)") and LLDP ("System Name", "Port id") field names are
// recognized.
func ParseNeighbors(output string) []Neighbor {
	var neighbors []Neighbor
	for _, block := range splitEntries(output) {
		n := parseEntry(block)
		if n.Hostname != "" {
			neighbors = append(neighbors, n)
		}
	}
	return neighbors
}

func splitEntries(output string) []string {
	var entries []string
	var current []string
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "----") {
			if len(current) > 0 {
				entries = append(entries, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		entries = append(entries, strings.Join(current, "\n"))
	}
	return entries
}

func parseEntry(block string) Neighbor {
	var n Neighbor
	for _, line := range strings.Split(block, "\n") {
		trimmed := strings.TrimSpace(line)
		key, value, found := strings.Cut(trimmed, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch {
		case key == "device id" || key == "system name":
			// CDP device IDs may carry a domain suffix.
			n.Hostname = strings.SplitN(value, ".", 2)[0]
		case key == "interface" || key == "local intf" || key == "local interface":
			// "Interface: Gi0/1,  Port ID (outgoing port): Gi0/2"
			if local, rest, ok := strings.Cut(value, ","); ok {
				n.LocalInterface = strings.TrimSpace(local)
				if _, port, ok := strings.Cut(rest, ":"); ok {
					n.RemoteInterface = strings.TrimSpace(port)
				}
			} else {
				n.LocalInterface = value
			}
		case strings.HasPrefix(key, "port id"):
			n.RemoteInterface = value
		case key == "ip address" || key == "management address" || key == "mgmt ip":
			if n.ManagementIP == "" {
				n.ManagementIP = value
			}
		case key == "platform" || key == "system description":
			if com, _, ok := strings.Cut(value, ","); ok {
				n.Platform = strings.TrimSpace(com)
			} else {
				n.Platform = value
			}
		}
	}
	return n
}
