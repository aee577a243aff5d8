package workers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// showRunningConfig is what every supported platform answers with its full
// device configuration
const showRunningConfig = "show running-config"

// handleRunCommands executes the payload's command list on each host in
// order, stopping that host at its first failure
func (p *Processor) handleRunCommands(ctx context.Context, job *models.Job, devices []*models.Device) (*models.ResultSummary, error) {
	var payload models.RunCommandsPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	timeout := p.driverTimeout
	if payload.TimeoutSeconds > 0 {
		timeout = time.Duration(payload.TimeoutSeconds) * time.Second
	}

	result := p.runPerHost(ctx, job, devices, func(ctx context.Context, device *models.Device, session interfaces.DriverSession) models.HostOutcome {
		outcome := models.HostOutcome{}
		for _, command := range payload.Commands {
			cmdCtx, cancel := context.WithTimeout(ctx, timeout)
			output, err := session.Run(cmdCtx, command)
			cancel()
			if err != nil {
				outcome.Error = err.Error()
				outcome.Failures++
				p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("%s: %v", command, err))
				return outcome
			}
			outcome.CommandsRun++
			p.jobService.AppendLog(ctx, job.ID, models.LogInfo, device.Hostname, fmt.Sprintf("%s\n%s", command, strings.TrimRight(output, "\n")))
		}
		outcome.Success = true
		return outcome
	})
	return result, nil
}

// handleConfigBackup pulls the running config from each host, stores a
// snapshot keyed by its SHA-256, and emits drift.detected when the hash
// moved since the previous snapshot
func (p *Processor) handleConfigBackup(ctx context.Context, job *models.Job, devices []*models.Device) (*models.ResultSummary, error) {
	var payload models.ConfigBackupPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	result := p.runPerHost(ctx, job, devices, func(ctx context.Context, device *models.Device, session interfaces.DriverSession) models.HostOutcome {
		config, err := session.Run(ctx, showRunningConfig)
		if err != nil {
			p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("Backup failed: %v", err))
			return models.HostOutcome{Error: err.Error()}
		}

		sum := sha256.Sum256([]byte(config))
		hash := hex.EncodeToString(sum[:])

		previous, err := p.stores.Snapshots.LatestSnapshot(ctx, device.ID)
		if err != nil {
			p.jobService.AppendLog(ctx, job.ID, models.LogWarn, device.Hostname, fmt.Sprintf("Previous snapshot lookup failed: %v", err))
		}

		snapshot := &models.ConfigSnapshot{
			ID:          common.NewID(),
			CustomerID:  device.CustomerID,
			DeviceID:    device.ID,
			JobID:       job.ID,
			Hostname:    device.Hostname,
			SourceLabel: payload.SourceLabel,
			Config:      config,
			Hash:        hash,
			SizeBytes:   len(config),
			TakenAt:     time.Now().UTC(),
		}
		if err := p.stores.Snapshots.CreateSnapshot(ctx, snapshot); err != nil {
			p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("Snapshot store failed: %v", err))
			return models.HostOutcome{Error: err.Error()}
		}

		p.jobService.AppendLog(ctx, job.ID, models.LogInfo, device.Hostname,
			fmt.Sprintf("Backed up config (%d bytes)", len(config)))

		if previous != nil && previous.Hash != hash {
			p.jobService.AppendLog(ctx, job.ID, models.LogWarn, device.Hostname, "Configuration drift detected since last snapshot")
			p.publishDeviceEvent(ctx, models.EventDriftDetected, device, map[string]interface{}{
				"job_id":        job.ID,
				"snapshot_id":   snapshot.ID,
				"previous_hash": previous.Hash,
				"current_hash":  hash,
			})
		}
		return models.HostOutcome{Success: true, CommandsRun: 1, Detail: hash}
	})
	return result, nil
}

// handleDeployPreview renders what a deploy would change without touching
// the device config. The rendered diff lands in the job logs and the
// per-host detail.
func (p *Processor) handleDeployPreview(ctx context.Context, job *models.Job, devices []*models.Device) (*models.ResultSummary, error) {
	var payload models.ConfigDeployPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	lines := snippetLines(payload.Snippet)

	result := p.runPerHost(ctx, job, devices, func(ctx context.Context, device *models.Device, session interfaces.DriverSession) models.HostOutcome {
		current, err := session.Run(ctx, showRunningConfig)
		if err != nil {
			p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("Preview failed: %v", err))
			return models.HostOutcome{Error: err.Error()}
		}

		var added []string
		if payload.Mode == models.DeployModeReplace {
			added = lines
		} else {
			for _, line := range lines {
				if !strings.Contains(current, line) {
					added = append(added, line)
				}
			}
		}

		detail := fmt.Sprintf("%d line(s) would change (mode=%s)", len(added), payload.Mode)
		p.jobService.AppendLog(ctx, job.ID, models.LogInfo, device.Hostname, detail)
		for _, line := range added {
			p.jobService.AppendLog(ctx, job.ID, models.LogInfo, device.Hostname, "+ "+line)
		}
		return models.HostOutcome{Success: true, CommandsRun: 1, Detail: detail}
	})
	return result, nil
}

// handleDeployCommit applies the snippet in configuration mode. The API
// boundary has already verified the payload references a successful
// preview in the same customer.
func (p *Processor) handleDeployCommit(ctx context.Context, job *models.Job, devices []*models.Device) (*models.ResultSummary, error) {
	var payload models.ConfigDeployPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	lines := snippetLines(payload.Snippet)

	result := p.runPerHost(ctx, job, devices, func(ctx context.Context, device *models.Device, session interfaces.DriverSession) models.HostOutcome {
		outcome := models.HostOutcome{}
		commands := append([]string{"configure terminal"}, lines...)
		if payload.Mode == models.DeployModeReplace {
			commands = append([]string{"configure replace"}, lines...)
		}
		commands = append(commands, "end", "write memory")

		for _, command := range commands {
			if _, err := session.Run(ctx, command); err != nil {
				outcome.Error = err.Error()
				outcome.Failures++
				p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("%s: %v", command, err))
				return outcome
			}
			outcome.CommandsRun++
		}
		p.jobService.AppendLog(ctx, job.ID, models.LogInfo, device.Hostname,
			fmt.Sprintf("Applied %d config line(s) (mode=%s)", len(lines), payload.Mode))
		outcome.Success = true
		return outcome
	})
	return result, nil
}

// handleComplianceCheck records a per-host verdict. Rule evaluation lives
// behind the policy; here a host is compliant when its config could be
// retrieved and contains every required line the policy names inline as
// "require:<line>" (policy IDs without inline rules only assert
// retrievability).
func (p *Processor) handleComplianceCheck(ctx context.Context, job *models.Job, devices []*models.Device) (*models.ResultSummary, error) {
	var payload models.ComplianceCheckPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	required := requiredLines(payload.PolicyID)

	result := p.runPerHost(ctx, job, devices, func(ctx context.Context, device *models.Device, session interfaces.DriverSession) models.HostOutcome {
		config, err := session.Run(ctx, showRunningConfig)
		if err != nil {
			p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("Compliance check failed: %v", err))
			return models.HostOutcome{Error: err.Error()}
		}

		var violations []string
		for _, line := range required {
			if !strings.Contains(config, line) {
				violations = append(violations, fmt.Sprintf("missing required line: %s", line))
			}
		}

		record := &models.ComplianceResult{
			ID:         common.NewID(),
			CustomerID: device.CustomerID,
			DeviceID:   device.ID,
			JobID:      job.ID,
			PolicyID:   payload.PolicyID,
			Hostname:   device.Hostname,
			Compliant:  len(violations) == 0,
			Violations: violations,
			CheckedAt:  time.Now().UTC(),
		}
		if err := p.stores.Compliance.CreateResult(ctx, record); err != nil {
			p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("Failed to store compliance result: %v", err))
			return models.HostOutcome{Error: err.Error()}
		}

		if len(violations) > 0 {
			p.jobService.AppendLog(ctx, job.ID, models.LogWarn, device.Hostname,
				fmt.Sprintf("Non-compliant: %d violation(s)", len(violations)))
			p.publishDeviceEvent(ctx, models.EventComplianceViolation, device, map[string]interface{}{
				"job_id":     job.ID,
				"policy_id":  payload.PolicyID,
				"violations": violations,
			})
		} else {
			p.jobService.AppendLog(ctx, job.ID, models.LogInfo, device.Hostname, "Compliant")
		}
		return models.HostOutcome{Success: true, CommandsRun: 1, Failures: len(violations)}
	})
	return result, nil
}

// handleTopologyDiscovery queries neighbor tables, upserts adjacency rows,
// and stages unknown neighbors for operator review
func (p *Processor) handleTopologyDiscovery(ctx context.Context, job *models.Job, devices []*models.Device) (*models.ResultSummary, error) {
	var payload models.TopologyDiscoveryPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	known := make(map[string]bool, len(devices))
	all, err := p.stores.Devices.ListDevices(ctx, job.CustomerID)
	if err == nil {
		for _, d := range all {
			known[strings.ToLower(d.Hostname)] = true
		}
	}

	var protocols []string
	switch payload.Protocol {
	case models.DiscoveryCDP:
		protocols = []string{"cdp"}
	case models.DiscoveryLLDP:
		protocols = []string{"lldp"}
	default:
		protocols = []string{"cdp", "lldp"}
	}

	result := p.runPerHost(ctx, job, devices, func(ctx context.Context, device *models.Device, session interfaces.DriverSession) models.HostOutcome {
		outcome := models.HostOutcome{}
		now := time.Now().UTC()
		for _, protocol := range protocols {
			output, err := session.Run(ctx, fmt.Sprintf("show %s neighbors detail", protocol))
			if err != nil {
				outcome.Error = err.Error()
				outcome.Failures++
				p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("%s discovery failed: %v", protocol, err))
				return outcome
			}
			outcome.CommandsRun++

			neighbors := ParseNeighbors(output)
			for _, n := range neighbors {
				link := &models.TopologyLink{
					ID:              models.LinkKey(device.CustomerID, device.ID, n.LocalInterface, n.Hostname, n.RemoteInterface),
					CustomerID:      device.CustomerID,
					LocalDeviceID:   device.ID,
					LocalHostname:   device.Hostname,
					LocalInterface:  n.LocalInterface,
					RemoteHostname:  n.Hostname,
					RemoteInterface: n.RemoteInterface,
					RemoteIP:        n.ManagementIP,
					Protocol:        protocol,
					JobID:           job.ID,
					LastSeen:        now,
				}
				if err := p.stores.Topology.UpsertLink(ctx, link); err != nil {
					p.jobService.AppendLog(ctx, job.ID, models.LogWarn, device.Hostname, fmt.Sprintf("Failed to record link to %s: %v", n.Hostname, err))
					continue
				}
				if !known[strings.ToLower(n.Hostname)] {
					p.stageDiscovered(ctx, job, device, n, payload.AutoCreateDevices)
					known[strings.ToLower(n.Hostname)] = true
				}
			}
			p.jobService.AppendLog(ctx, job.ID, models.LogInfo, device.Hostname,
				fmt.Sprintf("%s: %d neighbor(s)", protocol, len(neighbors)))
		}
		outcome.Success = true
		return outcome
	})
	return result, nil
}

// stageDiscovered records an unknown neighbor, or creates it directly when
// the payload opts in
func (p *Processor) stageDiscovered(ctx context.Context, job *models.Job, via *models.Device, n Neighbor, autoCreate bool) {
	now := time.Now().UTC()
	if autoCreate && n.ManagementIP != "" {
		device := &models.Device{
			ID:           common.NewID(),
			CustomerID:   via.CustomerID,
			Hostname:     n.Hostname,
			ManagementIP: n.ManagementIP,
			Vendor:       via.Vendor,
			Platform:     n.Platform,
			Enabled:      false, // Created disabled until an operator reviews it
			CredentialID: via.CredentialID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := p.stores.Devices.CreateDevice(ctx, device); err != nil {
			p.jobService.AppendLog(ctx, job.ID, models.LogWarn, via.Hostname, fmt.Sprintf("Auto-create of %s failed: %v", n.Hostname, err))
			return
		}
		p.jobService.AppendLog(ctx, job.ID, models.LogInfo, via.Hostname, fmt.Sprintf("Auto-created device %s (disabled)", n.Hostname))
		p.publishDeviceEvent(ctx, models.EventDeviceCreated, device, map[string]interface{}{"job_id": job.ID, "discovered_via": via.Hostname})
		return
	}

	discovered := &models.DiscoveredDevice{
		ID:              models.LinkKey(via.CustomerID, "discovered", "", n.Hostname, ""),
		CustomerID:      via.CustomerID,
		JobID:           job.ID,
		Hostname:        n.Hostname,
		ManagementIP:    n.ManagementIP,
		Platform:        n.Platform,
		SeenVia:         via.Hostname,
		State:           "pending",
		FirstDiscovered: now,
		LastSeen:        now,
	}
	if err := p.stores.Discovered.UpsertDiscovered(ctx, discovered); err != nil {
		p.jobService.AppendLog(ctx, job.ID, models.LogWarn, via.Hostname, fmt.Sprintf("Failed to stage discovered device %s: %v", n.Hostname, err))
		return
	}
	p.jobService.AppendLog(ctx, job.ID, models.LogInfo, via.Hostname, fmt.Sprintf("Discovered unknown neighbor %s (pending review)", n.Hostname))
}

// handleCheckReachability probes the management port of each host. No
// driver session is involved; reachability means the TCP handshake
// completed.
func (p *Processor) handleCheckReachability(ctx context.Context, job *models.Job, devices []*models.Device) (*models.ResultSummary, error) {
	var payload models.CheckReachabilityPayload
	if err := job.DecodePayload(&payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	timeout := 5 * time.Second
	if payload.TimeoutSeconds > 0 {
		timeout = time.Duration(payload.TimeoutSeconds) * time.Second
	}

	result := p.runPerHostDirect(ctx, job, devices, func(ctx context.Context, device *models.Device) models.HostOutcome {
		addr := net.JoinHostPort(device.ManagementIP, "22")
		start := time.Now()
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("Unreachable: %v", err))
			return models.HostOutcome{Error: err.Error()}
		}
		conn.Close()
		elapsed := time.Since(start)
		p.jobService.AppendLog(ctx, job.ID, models.LogInfo, device.Hostname, fmt.Sprintf("Reachable in %s", elapsed.Round(time.Millisecond)))
		return models.HostOutcome{Success: true, Detail: elapsed.Round(time.Millisecond).String()}
	})
	return result, nil
}

func (p *Processor) publishDeviceEvent(ctx context.Context, eventType models.EventType, device *models.Device, payload map[string]interface{}) {
	payload["device_id"] = device.ID
	payload["hostname"] = device.Hostname
	event := models.Event{
		EventID:    common.NewEventID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CustomerID: device.CustomerID,
		Payload:    payload,
	}
	if err := p.events.Publish(ctx, event); err != nil {
		p.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish device event")
	}
}

func snippetLines(snippet string) []string {
	var lines []string
	for _, line := range strings.Split(snippet, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// requiredLines extracts inline "require:" rules from a policy ID of the
// form "name;require:line1;require:line2"
func requiredLines(policyID string) []string {
	var required []string
	for _, part := range strings.Split(policyID, ";") {
		if strings.HasPrefix(part, "require:") {
			line := strings.TrimSpace(strings.TrimPrefix(part, "require:"))
			if line != "" {
				required = append(required, line)
			}
		}
	}
	return required
}
