package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tyemirov/boshpulse/internal/mcp"
	"github.com/tyemirov/boshpulse/internal/server"
	"github.com/tyemirov/boshpulse/internal/serverdetails"
	"github.com/tyemirov/boshpulse/pkg/logging"
)

const (
	logFieldSignal           = "signal"
	logFieldTransport        = "transport"
	logMessageReceivedSignal = "received signal"
	logMessageServingStdio   = "serving mcp over stdio"
)

// ServeConfiguration describes how agents reach the tool server.
type ServeConfiguration struct {
	Transport   string
	BindAddress string
	Port        string
	LoggingType string
}

func newServeCommand(serveFlags *pflag.FlagSet) *cobra.Command {
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Serve the BOSH tools to an agent over stdio or websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	serveCommand.Flags().AddFlagSet(serveFlags)
	return serveCommand
}

func readServeConfiguration(configurationManager *viper.Viper, loggingType string) (ServeConfiguration, error) {
	transport := strings.ToLower(strings.TrimSpace(configurationManager.GetString(configKeyServeTransport)))
	if transport == "" {
		transport = transportStdio
	}
	if transport != transportStdio && transport != transportWebSocket {
		return ServeConfiguration{}, fmt.Errorf("unsupported transport %s", transport)
	}

	portValue := strings.TrimSpace(configurationManager.GetString(configKeyServePort))
	if portValue == "" {
		portValue = defaultServePort
	}
	portNumber, portErr := strconv.Atoi(portValue)
	if portErr != nil || portNumber <= 0 || portNumber > 65535 {
		return ServeConfiguration{}, fmt.Errorf("invalid port %s", portValue)
	}

	return ServeConfiguration{
		Transport:   transport,
		BindAddress: strings.TrimSpace(configurationManager.GetString(configKeyServeBindAddress)),
		Port:        portValue,
		LoggingType: loggingType,
	}, nil
}

func runServe(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	serveConfiguration, err := readServeConfiguration(resources.configurationManager, resources.loggingType())
	if err != nil {
		return err
	}

	serveContext, cancel := createSignalContext(cmd.Context(), resources.loggingService)
	defer cancel()

	components, err := buildRuntime(serveContext, resources, true)
	if err != nil {
		return err
	}
	defer components.Close()

	protocolServer := mcp.NewServer(
		components.catalog,
		mcp.ServerInfo{Name: defaultApplicationName, Version: applicationVersion},
		resources.loggingService,
		components.recorder,
	)

	if serveConfiguration.Transport == transportStdio {
		resources.loggingService.Info(logMessageServingStdio, logging.String(logFieldTransport, serveConfiguration.Transport))
		return serveStream(serveContext, protocolServer, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	httpServer := server.New(resources.loggingService, serverdetails.NewServingAddressFormatter(), server.Endpoints{
		MCP:     mcp.NewWebSocketHandler(serveContext, protocolServer),
		Metrics: components.recorder.Handler(),
		Health:  components.probe,
		Catalog: components.catalog,
	})
	return httpServer.Serve(serveContext, server.Configuration{
		BindAddress: serveConfiguration.BindAddress,
		Port:        serveConfiguration.Port,
		LoggingType: serveConfiguration.LoggingType,
	})
}

// serveStream returns as soon as ctx ends even while the reader is blocked.
func serveStream(ctx context.Context, protocolServer *mcp.Server, reader io.Reader, writer io.Writer) error {
	streamErrors := make(chan error, 1)
	go func() {
		streamErrors <- protocolServer.ServeStream(ctx, reader, writer)
	}()
	select {
	case streamErr := <-streamErrors:
		if errors.Is(streamErr, context.Canceled) {
			return nil
		}
		return streamErr
	case <-ctx.Done():
		return nil
	}
}

func prepareCommand(cmd *cobra.Command) error {
	if err := loadConfigurationFile(cmd); err != nil {
		return err
	}
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	if loggerErr := resources.updateLogger(resources.configurationManager.GetString(configKeyLoggingType)); loggerErr != nil {
		return fmt.Errorf("configure logger: %w", loggerErr)
	}
	return nil
}

func loadConfigurationFile(cmd *cobra.Command) error {
	resources, err := getApplicationResources(cmd)
	if err != nil {
		return err
	}
	configurationManager := resources.configurationManager
	configFilePath, flagErr := cmd.Flags().GetString(flagNameConfigFile)
	if flagErr != nil {
		return fmt.Errorf("read config flag: %w", flagErr)
	}
	if configFilePath != "" {
		configurationManager.SetConfigFile(configFilePath)
	} else {
		configurationManager.AddConfigPath(resources.defaultConfigDirPath)
		configurationManager.SetConfigName(defaultConfigFileName)
		configurationManager.SetConfigType(defaultConfigFileType)
	}
	if readErr := configurationManager.ReadInConfig(); readErr != nil {
		if _, notFound := readErr.(viper.ConfigFileNotFoundError); !notFound {
			return fmt.Errorf("read configuration: %w", readErr)
		}
	}
	return nil
}

func getApplicationResources(cmd *cobra.Command) (*applicationResources, error) {
	resourceValue := cmd.Context().Value(contextKeyApplicationResources)
	if resourceValue == nil {
		return nil, errors.New("application resources not configured")
	}
	resources, ok := resourceValue.(*applicationResources)
	if !ok {
		return nil, errors.New("invalid application resources type")
	}
	return resources, nil
}

func createSignalContext(parent context.Context, loggingService *logging.Service) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	signalChannel := make(chan os.Signal, 1)
	signal.Notify(signalChannel, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			return
		case receivedSignal := <-signalChannel:
			if loggingService != nil {
				loggingService.Info(logMessageReceivedSignal, logging.String(logFieldSignal, receivedSignal.String()))
			}
			cancel()
		}
	}()

	return ctx, func() {
		signal.Stop(signalChannel)
		cancel()
	}
}
