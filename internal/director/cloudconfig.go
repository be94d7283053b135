package director

import (
	"context"
)

const labelCloudConfig = "cloud config path"

// GetCloudConfig returns the current cloud config as YAML text.
func (service *Service) GetCloudConfig(ctx context.Context) (string, error) {
	return service.run(ctx, "getCloudConfig", []string{"cloud-config"})
}

// UpdateCloudConfig replaces the cloud config with the YAML document at configPath.
func (service *Service) UpdateCloudConfig(ctx context.Context, configPath string) error {
	const operation = "updateCloudConfig"
	if err := requireYAMLFile(operation, labelCloudConfig, configPath); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{"update-cloud-config", configPath})
	return err
}

// CloudConfigDiff compares the current cloud config with the document at configPath.
func (service *Service) CloudConfigDiff(ctx context.Context, configPath string) (string, error) {
	const operation = "getCloudConfigDiff"
	if err := requireYAMLFile(operation, labelCloudConfig, configPath); err != nil {
		return "", err
	}
	return service.run(ctx, operation, []string{"cloud-config", "--diff", configPath})
}
