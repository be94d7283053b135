package director

import (
	"context"

	"github.com/tyemirov/boshpulse/internal/executor"
	"github.com/tyemirov/boshpulse/internal/failure"
)

const (
	labelInstanceGroup = "instance group"
	labelInstanceID    = "instance id"
)

// VMAction is a lifecycle verb applied to one instance or instance group.
type VMAction string

const (
	VMActionStart    VMAction = "start"
	VMActionStop     VMAction = "stop"
	VMActionRestart  VMAction = "restart"
	VMActionRecreate VMAction = "recreate"
)

var vmActionOperations = map[VMAction]string{
	VMActionStart:    "startVm",
	VMActionStop:     "stopVm",
	VMActionRestart:  "restartVm",
	VMActionRecreate: "recreateVm",
}

// ListVMs lists the VMs of a deployment.
func (service *Service) ListVMs(ctx context.Context, deploymentName string) (*executor.Output, error) {
	const operation = "listVms"
	if err := requireName(operation, labelDeployment, deploymentName); err != nil {
		return nil, err
	}
	return service.runStructured(ctx, operation, []string{"vms", flagDeployment, deploymentName})
}

// VMStatus lists the VMs of a deployment with process details.
func (service *Service) VMStatus(ctx context.Context, deploymentName string) (*executor.Output, error) {
	const operation = "getVmStatus"
	if err := requireName(operation, labelDeployment, deploymentName); err != nil {
		return nil, err
	}
	return service.runStructured(ctx, operation, []string{"vms", flagDeployment, deploymentName, "--details"})
}

// ChangeVM applies action to instanceGroup, or to a single instance when instanceID is set.
func (service *Service) ChangeVM(ctx context.Context, action VMAction, deploymentName string, instanceGroup string, instanceID string) error {
	operation, known := vmActionOperations[action]
	if !known {
		return failure.Validationf("changeVm", "unknown vm action %q", action)
	}
	if err := validateInstance(operation, deploymentName, instanceGroup, instanceID); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{string(action), flagDeployment, deploymentName, instanceTarget(instanceGroup, instanceID)})
	return err
}

// StartVM starts an instance group or instance.
func (service *Service) StartVM(ctx context.Context, deploymentName string, instanceGroup string, instanceID string) error {
	return service.ChangeVM(ctx, VMActionStart, deploymentName, instanceGroup, instanceID)
}

// StopVM stops an instance group or instance.
func (service *Service) StopVM(ctx context.Context, deploymentName string, instanceGroup string, instanceID string) error {
	return service.ChangeVM(ctx, VMActionStop, deploymentName, instanceGroup, instanceID)
}

// RestartVM restarts an instance group or instance.
func (service *Service) RestartVM(ctx context.Context, deploymentName string, instanceGroup string, instanceID string) error {
	return service.ChangeVM(ctx, VMActionRestart, deploymentName, instanceGroup, instanceID)
}

// RecreateVM recreates an instance group or instance.
func (service *Service) RecreateVM(ctx context.Context, deploymentName string, instanceGroup string, instanceID string) error {
	return service.ChangeVM(ctx, VMActionRecreate, deploymentName, instanceGroup, instanceID)
}

func validateInstance(operation string, deploymentName string, instanceGroup string, instanceID string) error {
	return firstError(
		requireName(operation, labelDeployment, deploymentName),
		requireName(operation, labelInstanceGroup, instanceGroup),
		optionalName(operation, labelInstanceID, instanceID),
	)
}
