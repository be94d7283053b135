package director

import (
	"context"

	"github.com/tyemirov/boshpulse/internal/executor"
)

const labelRemoteCommand = "command"

// SSHInfo returns the connection details for an instance group or instance.
func (service *Service) SSHInfo(ctx context.Context, deploymentName string, instanceGroup string, instanceID string) (*executor.Output, error) {
	const operation = "sshToVm"
	if err := validateInstance(operation, deploymentName, instanceGroup, instanceID); err != nil {
		return nil, err
	}
	return service.runStructured(ctx, operation, []string{"ssh", flagDeployment, deploymentName, instanceTarget(instanceGroup, instanceID)})
}

// RunOnVM executes remoteCommand over ssh and returns its output. The command
// travels as a single argument.
func (service *Service) RunOnVM(ctx context.Context, deploymentName string, instanceGroup string, instanceID string, remoteCommand string) (string, error) {
	const operation = "executeCommandOnVm"
	if err := firstError(
		validateInstance(operation, deploymentName, instanceGroup, instanceID),
		requireValue(operation, labelRemoteCommand, remoteCommand),
	); err != nil {
		return "", err
	}
	return service.run(ctx, operation, []string{"ssh", flagDeployment, deploymentName, instanceTarget(instanceGroup, instanceID), "-c", remoteCommand})
}
