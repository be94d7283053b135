package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/tyemirov/boshpulse/internal/executor"
	"github.com/tyemirov/boshpulse/internal/installer"
	"github.com/tyemirov/boshpulse/internal/retry"
	"github.com/tyemirov/boshpulse/internal/secretfolder"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

type contextKey string

const (
	contextKeyApplicationResources contextKey = "application-resources"

	defaultApplicationName   = "boshpulse"
	defaultEnvironmentPrefix = "BOSH"
	defaultConfigFileName    = "config"
	defaultConfigFileType    = "yaml"
	defaultServePort         = "8090"
	defaultBindAddress       = "127.0.0.1"
	defaultTimeoutSeconds    = 60
	defaultRetryDelaySeconds = 2

	transportStdio     = "stdio"
	transportWebSocket = "websocket"

	flagNameConfigFile        = "config"
	flagNameLoggingType       = "logging-type"
	flagNameDirector          = "director"
	flagNameClient            = "client"
	flagNameCACertificatePath = "ca-cert-path"
	flagNameCLIPath           = "cli-path"
	flagNameTimeout           = "timeout"
	flagNameSecretsDirectory  = "secrets-dir"
	flagNameTransport         = "transport"
	flagNameBindAddress       = "bind"
	flagNamePort              = "port"
	flagNameToolArgument      = "arg"
	flagNameHTML              = "html"

	configKeyDirector          = "director"
	configKeyClient            = "client"
	configKeyClientSecret      = "client_secret"
	configKeyCACertificate     = "ca_cert"
	configKeyCACertificatePath = "ca_cert_path"
	configKeyCLIPath           = "cli_path"
	configKeyConnectionTimeout = "connection.timeout"
	configKeyInstallEnabled    = "cli.install.enabled"
	configKeyInstallPath       = "cli.install.path"
	configKeyRetryMaxAttempts  = "retry.max_attempts"
	configKeyRetryDelay        = "retry.delay"
	configKeySecretsDirectory  = "secrets.directory"
	configKeyLoggingType       = "logging.type"
	configKeyServeTransport    = "serve.transport"
	configKeyServeBindAddress  = "serve.bind_address"
	configKeyServePort         = "serve.port"

	logMessageFailedInitializeLogger = "failed to initialize logger"
	logMessageResolveUserConfigDir   = "resolve user config directory"
	logMessageCommandExecutionFailed = "command execution failed"
)

// applicationVersion is reported to agents during initialize. Release builds override it with -ldflags.
var applicationVersion = "dev"

type applicationResources struct {
	configurationManager *viper.Viper
	loggingService       *logging.Service
	defaultConfigDirPath string
	processRunner        executor.ProcessRunner
	downloader           installer.Downloader
}

func (resources *applicationResources) updateLogger(loggingType string) error {
	normalizedType, err := logging.NormalizeType(loggingType)
	if err != nil {
		return err
	}
	if resources.loggingService != nil && resources.loggingService.Type() == normalizedType {
		return nil
	}
	service, err := logging.NewService(normalizedType)
	if err != nil {
		return err
	}
	if resources.loggingService != nil {
		_ = resources.loggingService.Sync()
	}
	resources.loggingService = service
	return nil
}

func (resources *applicationResources) loggingType() string {
	if resources.loggingService == nil {
		return logging.TypeConsole
	}
	return resources.loggingService.Type()
}

func (resources *applicationResources) runner() executor.ProcessRunner {
	if resources.processRunner == nil {
		return executor.NewOperatingSystemRunner()
	}
	return resources.processRunner
}

func (resources *applicationResources) artifactDownloader() installer.Downloader {
	if resources.downloader == nil {
		return installer.NewHTTPDownloader()
	}
	return resources.downloader
}

func newConfigurationManager() *viper.Viper {
	configurationManager := viper.New()
	configurationManager.SetEnvPrefix(defaultEnvironmentPrefix)
	configurationManager.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configurationManager.AutomaticEnv()

	configurationManager.SetDefault(configKeyDirector, "")
	configurationManager.SetDefault(configKeyClient, "")
	configurationManager.SetDefault(configKeyClientSecret, "")
	configurationManager.SetDefault(configKeyCACertificate, "")
	configurationManager.SetDefault(configKeyCACertificatePath, "")
	configurationManager.SetDefault(configKeyCLIPath, executor.DefaultBinaryName)
	configurationManager.SetDefault(configKeyConnectionTimeout, defaultTimeoutSeconds)
	configurationManager.SetDefault(configKeyInstallEnabled, true)
	configurationManager.SetDefault(configKeyInstallPath, filepath.Join(os.TempDir(), installer.DefaultDirectoryName))
	configurationManager.SetDefault(configKeyRetryMaxAttempts, retry.DefaultMaxAttempts)
	configurationManager.SetDefault(configKeyRetryDelay, defaultRetryDelaySeconds)
	configurationManager.SetDefault(configKeySecretsDirectory, secretfolder.DefaultDirectory)
	configurationManager.SetDefault(configKeyLoggingType, logging.TypeConsole)
	configurationManager.SetDefault(configKeyServeTransport, transportStdio)
	configurationManager.SetDefault(configKeyServeBindAddress, defaultBindAddress)
	configurationManager.SetDefault(configKeyServePort, defaultServePort)
	return configurationManager
}

// Execute runs the CLI using the provided context and arguments, returning an exit code.
func Execute(ctx context.Context, arguments []string) int {
	initialService, err := logging.NewService(logging.TypeConsole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", logMessageFailedInitializeLogger, err)
		return 1
	}
	configurationManager := newConfigurationManager()

	userConfigDir, userConfigErr := os.UserConfigDir()
	if userConfigErr != nil {
		initialService.Error(logMessageResolveUserConfigDir, userConfigErr)
		return 1
	}
	resources := &applicationResources{
		configurationManager: configurationManager,
		loggingService:       initialService,
		defaultConfigDirPath: filepath.Join(userConfigDir, defaultApplicationName),
	}
	if err := resources.updateLogger(configurationManager.GetString(configKeyLoggingType)); err != nil {
		resources.loggingService = initialService
		resources.loggingService.Error(logMessageFailedInitializeLogger, err)
		return 1
	}
	defer func() {
		if resources.loggingService != nil {
			_ = resources.loggingService.Sync()
		}
	}()

	rootCommand := newRootCommand(resources)
	baseContext := context.WithValue(ctx, contextKeyApplicationResources, resources)
	rootCommand.SetContext(baseContext)
	rootCommand.SetArgs(arguments)

	if executionErr := rootCommand.Execute(); executionErr != nil {
		resources.loggingService.Error(logMessageCommandExecutionFailed, executionErr)
		return 1
	}

	return 0
}
