package director

import (
	"context"

	"github.com/tyemirov/boshpulse/internal/executor"
)

const (
	labelDeployment = "deployment name"
	labelManifest   = "manifest path"
)

// ListDeployments returns the names of every deployment known to the director.
func (service *Service) ListDeployments(ctx context.Context) ([]string, error) {
	output, err := service.runStructured(ctx, "listDeployments", []string{"deployments"})
	if err != nil {
		return nil, err
	}
	return output.Values("name"), nil
}

// GetDeployment describes one deployment.
func (service *Service) GetDeployment(ctx context.Context, deploymentName string) (*executor.Output, error) {
	const operation = "getDeployment"
	if err := requireName(operation, labelDeployment, deploymentName); err != nil {
		return nil, err
	}
	return service.runStructured(ctx, operation, []string{"deployment", flagDeployment, deploymentName})
}

// DeployDeployment deploys manifestPath as deploymentName.
func (service *Service) DeployDeployment(ctx context.Context, deploymentName string, manifestPath string) error {
	return service.deploy(ctx, "deployDeployment", deploymentName, manifestPath)
}

// UpdateDeployment redeploys deploymentName with an updated manifest.
func (service *Service) UpdateDeployment(ctx context.Context, deploymentName string, manifestPath string) error {
	return service.deploy(ctx, "updateDeployment", deploymentName, manifestPath)
}

func (service *Service) deploy(ctx context.Context, operation string, deploymentName string, manifestPath string) error {
	if err := firstError(
		requireName(operation, labelDeployment, deploymentName),
		requireYAMLFile(operation, labelManifest, manifestPath),
	); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{"deploy", flagDeployment, deploymentName, manifestPath})
	return err
}

// DeleteDeployment force-deletes a deployment.
func (service *Service) DeleteDeployment(ctx context.Context, deploymentName string) error {
	const operation = "deleteDeployment"
	if err := requireName(operation, labelDeployment, deploymentName); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{"delete-deployment", flagDeployment, deploymentName, flagForce})
	return err
}

// RecreateDeployment recreates every VM of a deployment.
func (service *Service) RecreateDeployment(ctx context.Context, deploymentName string) error {
	const operation = "recreateDeployment"
	if err := requireName(operation, labelDeployment, deploymentName); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{"recreate", flagDeployment, deploymentName})
	return err
}
