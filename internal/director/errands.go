package director

import (
	"context"

	"github.com/tyemirov/boshpulse/internal/executor"
)

const labelErrand = "errand name"

// ListErrands lists the errands of a deployment.
func (service *Service) ListErrands(ctx context.Context, deploymentName string) (*executor.Output, error) {
	const operation = "listErrands"
	if err := requireName(operation, labelDeployment, deploymentName); err != nil {
		return nil, err
	}
	return service.runStructured(ctx, operation, []string{"errands", flagDeployment, deploymentName})
}

// RunErrand runs an errand and returns its structured result.
func (service *Service) RunErrand(ctx context.Context, deploymentName string, errandName string) (*executor.Output, error) {
	const operation = "runErrand"
	if err := firstError(
		requireName(operation, labelDeployment, deploymentName),
		requireName(operation, labelErrand, errandName),
	); err != nil {
		return nil, err
	}
	return service.runStructured(ctx, operation, []string{"run-errand", flagDeployment, deploymentName, errandName})
}

// ErrandStatus reports the state of the task that ran an errand.
func (service *Service) ErrandStatus(ctx context.Context, taskID string) (*executor.Output, error) {
	const operation = "getErrandStatus"
	if err := requireName(operation, labelTask, taskID); err != nil {
		return nil, err
	}
	return service.runStructured(ctx, operation, []string{"task", taskID})
}
