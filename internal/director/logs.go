package director

import (
	"context"
	"strings"
)

const labelTask = "task id"

// DeploymentLogs fetches logs for a whole deployment, an instance group or one instance.
// An instance id without a group is ignored.
func (service *Service) DeploymentLogs(ctx context.Context, deploymentName string, instanceGroup string, instanceID string) (string, error) {
	const operation = "getDeploymentLogs"
	if err := firstError(
		requireName(operation, labelDeployment, deploymentName),
		optionalName(operation, labelInstanceGroup, instanceGroup),
		optionalName(operation, labelInstanceID, instanceID),
	); err != nil {
		return "", err
	}
	tokens := []string{"logs", flagDeployment, deploymentName}
	if strings.TrimSpace(instanceGroup) != "" {
		tokens = append(tokens, instanceTarget(instanceGroup, instanceID))
	}
	return service.run(ctx, operation, tokens)
}

// VMLogs fetches logs for an instance group or one instance.
func (service *Service) VMLogs(ctx context.Context, deploymentName string, instanceGroup string, instanceID string) (string, error) {
	const operation = "getVmLogs"
	if err := validateInstance(operation, deploymentName, instanceGroup, instanceID); err != nil {
		return "", err
	}
	return service.run(ctx, operation, []string{"logs", flagDeployment, deploymentName, instanceTarget(instanceGroup, instanceID)})
}

// TaskLogs returns the debug log of a director task.
func (service *Service) TaskLogs(ctx context.Context, taskID string) (string, error) {
	const operation = "getTaskLogs"
	if err := requireName(operation, labelTask, taskID); err != nil {
		return "", err
	}
	return service.run(ctx, operation, []string{"task", taskID, "--debug"})
}

// StreamLogs follows deployment logs until the CLI exits or the invocation
// timeout elapses, and returns what was collected.
func (service *Service) StreamLogs(ctx context.Context, deploymentName string, instanceGroup string) (string, error) {
	const operation = "streamLogs"
	if err := firstError(
		requireName(operation, labelDeployment, deploymentName),
		optionalName(operation, labelInstanceGroup, instanceGroup),
	); err != nil {
		return "", err
	}
	tokens := []string{"logs", flagDeployment, deploymentName, "--follow"}
	if strings.TrimSpace(instanceGroup) != "" {
		tokens = append(tokens, instanceGroup)
	}
	return service.runFollow(ctx, operation, tokens)
}
