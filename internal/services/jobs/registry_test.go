package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/fabrica/internal/models"
)

func TestTaskName(t *testing.T) {
	r := NewRegistry()

	name, err := r.TaskName(models.JobTypeRunCommands)
	require.NoError(t, err)
	assert.Equal(t, "tasks.run_commands", name)

	name, err = r.TaskName(models.JobTypeTopologyDiscovery)
	require.NoError(t, err)
	assert.Equal(t, "tasks.topology_discovery", name)

	_, err = r.TaskName(models.JobType("reboot_everything"))
	assert.Error(t, err)
}

func TestValidatePayload_RunCommands(t *testing.T) {
	r := NewRegistry()

	payload, err := r.ValidatePayload(models.JobTypeRunCommands, json.RawMessage(`{"commands":["show version"]}`))
	require.NoError(t, err)

	var decoded models.RunCommandsPayload
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, []string{"show version"}, decoded.Commands)

	// Empty command list is rejected
	_, err = r.ValidatePayload(models.JobTypeRunCommands, json.RawMessage(`{"commands":[]}`))
	assert.Error(t, err)

	// Blank command inside the list is rejected
	_, err = r.ValidatePayload(models.JobTypeRunCommands, json.RawMessage(`{"commands":["show version",""]}`))
	assert.Error(t, err)
}

func TestValidatePayload_Deploy(t *testing.T) {
	r := NewRegistry()

	_, err := r.ValidatePayload(models.JobTypeDeployPreview, json.RawMessage(`{"mode":"merge","snippet":"ntp server 10.0.0.1"}`))
	assert.NoError(t, err)

	// Unknown mode
	_, err = r.ValidatePayload(models.JobTypeDeployPreview, json.RawMessage(`{"mode":"yolo","snippet":"x"}`))
	assert.Error(t, err)

	// Missing snippet
	_, err = r.ValidatePayload(models.JobTypeDeployCommit, json.RawMessage(`{"mode":"replace"}`))
	assert.Error(t, err)
}

func TestValidatePayload_TopologyDiscovery(t *testing.T) {
	r := NewRegistry()

	_, err := r.ValidatePayload(models.JobTypeTopologyDiscovery, json.RawMessage(`{"protocol":"both"}`))
	assert.NoError(t, err)

	_, err = r.ValidatePayload(models.JobTypeTopologyDiscovery, json.RawMessage(`{"protocol":"ospf"}`))
	assert.Error(t, err)
}

func TestValidatePayload_UnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.ValidatePayload(models.JobType("mystery"), nil)
	assert.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	r := NewRegistry()

	job := &models.Job{
		ID:      "job-1",
		Type:    models.JobTypeConfigBackup,
		Payload: json.RawMessage(`{}`),
	}
	msg, err := r.BuildMessage(job, "region_syd")
	require.NoError(t, err)
	assert.Equal(t, "tasks.config_backup", msg.TaskName)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, "region_syd", msg.Queue)
}
