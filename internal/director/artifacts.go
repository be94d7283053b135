package director

import (
	"context"
	"fmt"

	"github.com/tyemirov/boshpulse/internal/executor"
)

const (
	labelStemcell     = "stemcell name"
	labelStemcellPath = "stemcell path"
	labelRelease      = "release name"
	labelReleasePath  = "release path"
	labelVersion      = "version"
)

// ListStemcells lists the stemcells uploaded to the director.
func (service *Service) ListStemcells(ctx context.Context) (*executor.Output, error) {
	return service.runStructured(ctx, "listStemcells", []string{"stemcells"})
}

// UploadStemcell uploads a stemcell tarball from a local path or URL.
func (service *Service) UploadStemcell(ctx context.Context, stemcellPath string) error {
	const operation = "uploadStemcell"
	if err := requireArtifact(operation, labelStemcellPath, stemcellPath); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{"upload-stemcell", stemcellPath})
	return err
}

// DeleteStemcell force-deletes a stemcell, optionally a single version.
func (service *Service) DeleteStemcell(ctx context.Context, stemcellName string, version string) error {
	const operation = "deleteStemcell"
	if err := firstError(
		requireName(operation, labelStemcell, stemcellName),
		optionalName(operation, labelVersion, version),
	); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{"delete-stemcell", versionedName(stemcellName, version), flagForce})
	return err
}

// ListReleases lists the releases uploaded to the director.
func (service *Service) ListReleases(ctx context.Context) (*executor.Output, error) {
	return service.runStructured(ctx, "listReleases", []string{"releases"})
}

// UploadRelease uploads a release tarball from a local path or URL.
func (service *Service) UploadRelease(ctx context.Context, releasePath string) error {
	const operation = "uploadRelease"
	if err := requireArtifact(operation, labelReleasePath, releasePath); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{"upload-release", releasePath})
	return err
}

// DeleteRelease force-deletes a release, optionally a single version.
func (service *Service) DeleteRelease(ctx context.Context, releaseName string, version string) error {
	const operation = "deleteRelease"
	if err := firstError(
		requireName(operation, labelRelease, releaseName),
		optionalName(operation, labelVersion, version),
	); err != nil {
		return err
	}
	_, err := service.run(ctx, operation, []string{"delete-release", versionedName(releaseName, version), flagForce})
	return err
}

// ReleaseVersions returns the release rows whose name equals releaseName.
func (service *Service) ReleaseVersions(ctx context.Context, releaseName string) ([]map[string]any, error) {
	const operation = "getReleaseVersions"
	if err := requireName(operation, labelRelease, releaseName); err != nil {
		return nil, err
	}
	output, err := service.runStructured(ctx, operation, []string{"releases"})
	if err != nil {
		return nil, err
	}
	var versions []map[string]any
	for _, row := range output.Rows() {
		if fmt.Sprint(row["name"]) == releaseName {
			versions = append(versions, row)
		}
	}
	return versions, nil
}
