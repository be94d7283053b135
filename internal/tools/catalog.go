package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tyemirov/boshpulse/internal/director"
	"github.com/tyemirov/boshpulse/internal/executor"
)

const (
	parameterDeployment    = "deploymentName"
	parameterManifest      = "manifestPath"
	parameterInstanceGroup = "instanceGroup"
	parameterInstanceID    = "instanceId"
	parameterTask          = "taskId"
	parameterStemcellName  = "stemcellName"
	parameterStemcellPath  = "stemcellPath"
	parameterReleaseName   = "releaseName"
	parameterReleasePath   = "releasePath"
	parameterVersion       = "version"
	parameterErrand        = "errandName"
	parameterConfigPath    = "configPath"
	parameterCommand       = "command"
)

var (
	deploymentParameter       = Parameter{Name: parameterDeployment, Description: "Name of the BOSH deployment", Required: true}
	instanceGroupParameter    = Parameter{Name: parameterInstanceGroup, Description: "Instance group/job name", Required: true}
	optionalGroupParameter    = Parameter{Name: parameterInstanceGroup, Description: "Instance group/job name (optional)"}
	instanceIDParameter       = Parameter{Name: parameterInstanceID, Description: "Instance ID (optional)"}
	taskParameter             = Parameter{Name: parameterTask, Description: "ID of the BOSH task", Required: true}
	instanceToolParameters    = []Parameter{deploymentParameter, instanceGroupParameter, instanceIDParameter}
	deploymentToolParameters  = []Parameter{deploymentParameter}
	manifestToolParameters    = []Parameter{deploymentParameter, {Name: parameterManifest, Description: "Path to the BOSH deployment manifest file", Required: true}}
	cloudConfigToolParameters = []Parameter{{Name: parameterConfigPath, Description: "Path to the cloud config file", Required: true}}
)

// NewCatalog registers every director operation.
func NewCatalog(service *director.Service) (*Registry, error) {
	registry := NewRegistry()
	for _, tool := range catalogTools(service) {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func catalogTools(service *director.Service) []Tool {
	return []Tool{
		{
			Name:        "listDeployments",
			Description: "List all BOSH deployments",
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				names, err := service.ListDeployments(ctx)
				if err != nil {
					return "", err
				}
				if names == nil {
					names = []string{}
				}
				return renderJSON(names)
			},
		},
		{
			Name:        "getDeployment",
			Description: "Get detailed information about a BOSH deployment",
			Parameters:  deploymentToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.GetDeployment(ctx, arguments.String(parameterDeployment)))
			},
		},
		{
			Name:        "deployDeployment",
			Description: "Deploy a BOSH deployment from a manifest file",
			Parameters:  manifestToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				deploymentName := arguments.String(parameterDeployment)
				return confirm(service.DeployDeployment(ctx, deploymentName, arguments.String(parameterManifest)), "deployment %s deployed", deploymentName)
			},
		},
		{
			Name:        "updateDeployment",
			Description: "Update a BOSH deployment configuration",
			Parameters:  manifestToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				deploymentName := arguments.String(parameterDeployment)
				return confirm(service.UpdateDeployment(ctx, deploymentName, arguments.String(parameterManifest)), "deployment %s updated", deploymentName)
			},
		},
		{
			Name:        "deleteDeployment",
			Description: "Delete a BOSH deployment",
			Parameters:  deploymentToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				deploymentName := arguments.String(parameterDeployment)
				return confirm(service.DeleteDeployment(ctx, deploymentName), "deployment %s deleted", deploymentName)
			},
		},
		{
			Name:        "recreateDeployment",
			Description: "Recreate all VMs in a BOSH deployment",
			Parameters:  deploymentToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				deploymentName := arguments.String(parameterDeployment)
				return confirm(service.RecreateDeployment(ctx, deploymentName), "deployment %s recreated", deploymentName)
			},
		},
		{
			Name:        "listVms",
			Description: "List all VMs in a BOSH deployment",
			Parameters:  deploymentToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.ListVMs(ctx, arguments.String(parameterDeployment)))
			},
		},
		{
			Name:        "getVmStatus",
			Description: "Get status and details of VMs in a BOSH deployment",
			Parameters:  deploymentToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.VMStatus(ctx, arguments.String(parameterDeployment)))
			},
		},
		vmActionTool(service, director.VMActionStart, "startVm", "Start a VM in a BOSH deployment"),
		vmActionTool(service, director.VMActionStop, "stopVm", "Stop a VM in a BOSH deployment"),
		vmActionTool(service, director.VMActionRestart, "restartVm", "Restart a VM in a BOSH deployment"),
		vmActionTool(service, director.VMActionRecreate, "recreateVm", "Recreate a VM in a BOSH deployment"),
		{
			Name:        "getDeploymentLogs",
			Description: "Get logs from a BOSH deployment",
			Parameters:  []Parameter{deploymentParameter, optionalGroupParameter, instanceIDParameter},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return service.DeploymentLogs(ctx, arguments.String(parameterDeployment), arguments.String(parameterInstanceGroup), arguments.String(parameterInstanceID))
			},
		},
		{
			Name:        "getVmLogs",
			Description: "Get logs from a specific VM in a BOSH deployment",
			Parameters:  instanceToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return service.VMLogs(ctx, arguments.String(parameterDeployment), arguments.String(parameterInstanceGroup), arguments.String(parameterInstanceID))
			},
		},
		{
			Name:        "getTaskLogs",
			Description: "Get logs from a BOSH task",
			Parameters:  []Parameter{taskParameter},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return service.TaskLogs(ctx, arguments.String(parameterTask))
			},
		},
		{
			Name:        "streamLogs",
			Description: "Stream logs from a BOSH deployment in real-time",
			Parameters:  []Parameter{deploymentParameter, optionalGroupParameter},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return service.StreamLogs(ctx, arguments.String(parameterDeployment), arguments.String(parameterInstanceGroup))
			},
		},
		{
			Name:        "listStemcells",
			Description: "List all available BOSH stemcells",
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.ListStemcells(ctx))
			},
		},
		{
			Name:        "uploadStemcell",
			Description: "Upload a new BOSH stemcell",
			Parameters:  []Parameter{{Name: parameterStemcellPath, Description: "Path to the stemcell file or URL", Required: true}},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				stemcellPath := arguments.String(parameterStemcellPath)
				return confirm(service.UploadStemcell(ctx, stemcellPath), "stemcell %s uploaded", stemcellPath)
			},
		},
		{
			Name:        "deleteStemcell",
			Description: "Delete a BOSH stemcell",
			Parameters: []Parameter{
				{Name: parameterStemcellName, Description: "Name of the BOSH stemcell", Required: true},
				{Name: parameterVersion, Description: "Stemcell version (optional)"},
			},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				stemcellName := arguments.String(parameterStemcellName)
				return confirm(service.DeleteStemcell(ctx, stemcellName, arguments.String(parameterVersion)), "stemcell %s deleted", stemcellName)
			},
		},
		{
			Name:        "listReleases",
			Description: "List all available BOSH releases",
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.ListReleases(ctx))
			},
		},
		{
			Name:        "uploadRelease",
			Description: "Upload a new BOSH release",
			Parameters:  []Parameter{{Name: parameterReleasePath, Description: "Path to the release file or URL", Required: true}},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				releasePath := arguments.String(parameterReleasePath)
				return confirm(service.UploadRelease(ctx, releasePath), "release %s uploaded", releasePath)
			},
		},
		{
			Name:        "deleteRelease",
			Description: "Delete a BOSH release",
			Parameters: []Parameter{
				{Name: parameterReleaseName, Description: "Name of the BOSH release", Required: true},
				{Name: parameterVersion, Description: "Release version (optional)"},
			},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				releaseName := arguments.String(parameterReleaseName)
				return confirm(service.DeleteRelease(ctx, releaseName, arguments.String(parameterVersion)), "release %s deleted", releaseName)
			},
		},
		{
			Name:        "getReleaseVersions",
			Description: "Get versions of a BOSH release",
			Parameters:  []Parameter{{Name: parameterReleaseName, Description: "Name of the BOSH release", Required: true}},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				versions, err := service.ReleaseVersions(ctx, arguments.String(parameterReleaseName))
				if err != nil {
					return "", err
				}
				if versions == nil {
					versions = []map[string]any{}
				}
				return renderJSON(versions)
			},
		},
		{
			Name:        "listErrands",
			Description: "List all errands for a BOSH deployment",
			Parameters:  deploymentToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.ListErrands(ctx, arguments.String(parameterDeployment)))
			},
		},
		{
			Name:        "runErrand",
			Description: "Run an errand for a BOSH deployment",
			Parameters:  []Parameter{deploymentParameter, {Name: parameterErrand, Description: "Name of the errand to run", Required: true}},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.RunErrand(ctx, arguments.String(parameterDeployment), arguments.String(parameterErrand)))
			},
		},
		{
			Name:        "getErrandStatus",
			Description: "Get execution status of an errand",
			Parameters:  []Parameter{taskParameter},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.ErrandStatus(ctx, arguments.String(parameterTask)))
			},
		},
		{
			Name:        "getCloudConfig",
			Description: "Get current BOSH cloud config",
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return service.GetCloudConfig(ctx)
			},
		},
		{
			Name:        "updateCloudConfig",
			Description: "Update BOSH cloud config",
			Parameters:  cloudConfigToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return confirm(service.UpdateCloudConfig(ctx, arguments.String(parameterConfigPath)), "cloud config updated")
			},
		},
		{
			Name:        "getCloudConfigDiff",
			Description: "Get diff of BOSH cloud config changes",
			Parameters:  cloudConfigToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return service.CloudConfigDiff(ctx, arguments.String(parameterConfigPath))
			},
		},
		{
			Name:        "sshToVm",
			Description: "Get SSH connection information for a VM in a BOSH deployment",
			Parameters:  instanceToolParameters,
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return renderOutput(service.SSHInfo(ctx, arguments.String(parameterDeployment), arguments.String(parameterInstanceGroup), arguments.String(parameterInstanceID)))
			},
		},
		{
			Name:        "executeCommandOnVm",
			Description: "Execute a command on a VM via SSH",
			Parameters: []Parameter{
				deploymentParameter,
				instanceGroupParameter,
				{Name: parameterCommand, Description: "Command to execute", Required: true},
				instanceIDParameter,
			},
			Handler: func(ctx context.Context, arguments Arguments) (string, error) {
				return service.RunOnVM(ctx, arguments.String(parameterDeployment), arguments.String(parameterInstanceGroup), arguments.String(parameterInstanceID), arguments.String(parameterCommand))
			},
		},
	}
}

func vmActionTool(service *director.Service, action director.VMAction, name string, description string) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Parameters:  instanceToolParameters,
		Handler: func(ctx context.Context, arguments Arguments) (string, error) {
			deploymentName := arguments.String(parameterDeployment)
			instanceGroup := arguments.String(parameterInstanceGroup)
			err := service.ChangeVM(ctx, action, deploymentName, instanceGroup, arguments.String(parameterInstanceID))
			return confirm(err, "%s %s in deployment %s completed", action, instanceGroup, deploymentName)
		},
	}
}

// renderOutput returns the director's JSON document as received.
func renderOutput(output *executor.Output, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if len(output.Raw) > 0 {
		return string(output.Raw), nil
	}
	return renderJSON(output)
}

func renderJSON(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode tool result: %w", err)
	}
	return string(encoded), nil
}

func confirm(err error, format string, arguments ...any) (string, error) {
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(format, arguments...), nil
}
