package app

import (
	"context"
	"strings"
	"time"

	"github.com/tyemirov/boshpulse/internal/boshconfig"
	"github.com/tyemirov/boshpulse/internal/director"
	"github.com/tyemirov/boshpulse/internal/executor"
	"github.com/tyemirov/boshpulse/internal/health"
	"github.com/tyemirov/boshpulse/internal/installer"
	"github.com/tyemirov/boshpulse/internal/metrics"
	"github.com/tyemirov/boshpulse/internal/retry"
	"github.com/tyemirov/boshpulse/internal/secretfolder"
	"github.com/tyemirov/boshpulse/internal/tools"
)

// runtimeComponents is everything a command needs to talk to the director.
type runtimeComponents struct {
	resolver  boshconfig.Resolver
	config    *boshconfig.EffectiveConfig
	recorder  *metrics.Recorder
	executor  *executor.Executor
	installer *installer.Installer
	service   *director.Service
	catalog   *tools.Registry
	probe     *health.Probe
}

// Close removes any materialized CA certificate.
func (components *runtimeComponents) Close() {
	components.resolver.CloseLogged(components.config)
}

func readDirectorParameters(resources *applicationResources) boshconfig.Parameters {
	configurationManager := resources.configurationManager
	return boshconfig.Parameters{
		Director:          strings.TrimSpace(configurationManager.GetString(configKeyDirector)),
		Client:            strings.TrimSpace(configurationManager.GetString(configKeyClient)),
		ClientSecret:      strings.TrimSpace(configurationManager.GetString(configKeyClientSecret)),
		CACertificate:     strings.TrimSpace(configurationManager.GetString(configKeyCACertificate)),
		CACertificatePath: strings.TrimSpace(configurationManager.GetString(configKeyCACertificatePath)),
		BinaryPath:        strings.TrimSpace(configurationManager.GetString(configKeyCLIPath)),
		Timeout:           time.Duration(configurationManager.GetInt(configKeyConnectionTimeout)) * time.Second,
	}
}

func readInstallerSettings(resources *applicationResources, configuredPath string) installer.Settings {
	return installer.Settings{
		ConfiguredPath:   configuredPath,
		Enabled:          resources.configurationManager.GetBool(configKeyInstallEnabled),
		InstallDirectory: strings.TrimSpace(resources.configurationManager.GetString(configKeyInstallPath)),
	}
}

func readRetryPolicy(resources *applicationResources) retry.Policy {
	configurationManager := resources.configurationManager
	return retry.NewPolicy(
		configurationManager.GetInt(configKeyRetryMaxAttempts),
		time.Duration(configurationManager.GetInt(configKeyRetryDelay))*time.Second,
		resources.loggingService,
	)
}

func resolveConfiguration(resources *applicationResources) (boshconfig.Resolver, *boshconfig.EffectiveConfig, error) {
	secretReader := secretfolder.NewReader(resources.configurationManager.GetString(configKeySecretsDirectory), resources.loggingService)
	resolver := boshconfig.NewResolver(resources.loggingService)
	config, err := resolver.Resolve(readDirectorParameters(resources), secretReader)
	if err != nil {
		return resolver, nil, err
	}
	return resolver, config, nil
}

// buildRuntime resolves configuration, settles the CLI binary and wires the
// director service. With validate set, an incomplete configuration is fatal.
func buildRuntime(ctx context.Context, resources *applicationResources, validate bool) (*runtimeComponents, error) {
	resolver, config, err := resolveConfiguration(resources)
	if err != nil {
		return nil, err
	}
	components := &runtimeComponents{resolver: resolver, config: config, recorder: metrics.NewRecorder()}

	runner := resources.runner()
	components.executor = executor.New(config, runner, resources.loggingService, components.recorder)
	components.installer = installer.New(
		readInstallerSettings(resources, config.BinaryPath()),
		installer.NewProcessVersionProber(runner),
		resources.artifactDownloader(),
		resources.loggingService,
	)
	components.installer.Resolve(ctx)
	components.executor.UsePathResolver(components.installer)

	if validate {
		validator := health.NewValidator(config, components.executor, resources.loggingService)
		if validationErr := validator.Validate(ctx); validationErr != nil {
			components.Close()
			return nil, validationErr
		}
	}

	policy := readRetryPolicy(resources)
	policy.Observer = components.recorder
	components.service = director.NewService(components.executor, policy, resources.loggingService)
	catalog, err := tools.NewCatalog(components.service)
	if err != nil {
		components.Close()
		return nil, err
	}
	components.catalog = catalog
	components.probe = health.NewProbe(components.executor, resources.loggingService, components.recorder, nil)
	return components, nil
}
