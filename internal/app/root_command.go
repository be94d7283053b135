package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func newRootCommand(resources *applicationResources) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           defaultApplicationName,
		Short:         "Expose BOSH director operations to agents over the Model Context Protocol",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return prepareCommand(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	serveFlags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	configureServeFlags(serveFlags, resources.configurationManager)
	rootCommand.Flags().AddFlagSet(serveFlags)

	rootCommand.PersistentFlags().String(flagNameConfigFile, "", "Path to configuration file")
	configureDirectorFlags(rootCommand.PersistentFlags(), resources.configurationManager)

	rootCommand.AddCommand(newServeCommand(serveFlags))
	rootCommand.AddCommand(newCallCommand())
	rootCommand.AddCommand(newToolsCommand())
	rootCommand.AddCommand(newHealthCommand())
	rootCommand.AddCommand(newInstallCLICommand())

	return rootCommand
}

func configureDirectorFlags(flagSet *pflag.FlagSet, configurationManager *viper.Viper) {
	flagSet.String(flagNameDirector, configurationManager.GetString(configKeyDirector), "BOSH director URL or address")
	flagSet.String(flagNameClient, configurationManager.GetString(configKeyClient), "BOSH client identity")
	flagSet.String(flagNameCACertificatePath, configurationManager.GetString(configKeyCACertificatePath), "Path to the director CA certificate (PEM)")
	flagSet.String(flagNameCLIPath, configurationManager.GetString(configKeyCLIPath), "Path to the bosh CLI executable")
	flagSet.Int(flagNameTimeout, configurationManager.GetInt(configKeyConnectionTimeout), "Timeout in seconds for each bosh CLI invocation")
	flagSet.String(flagNameSecretsDirectory, configurationManager.GetString(configKeySecretsDirectory), "Directory holding bosh-env.ini and bosh.pem")
	flagSet.String(flagNameLoggingType, configurationManager.GetString(configKeyLoggingType), "Logging type (CONSOLE or JSON)")
	_ = configurationManager.BindPFlag(configKeyDirector, flagSet.Lookup(flagNameDirector))
	_ = configurationManager.BindPFlag(configKeyClient, flagSet.Lookup(flagNameClient))
	_ = configurationManager.BindPFlag(configKeyCACertificatePath, flagSet.Lookup(flagNameCACertificatePath))
	_ = configurationManager.BindPFlag(configKeyCLIPath, flagSet.Lookup(flagNameCLIPath))
	_ = configurationManager.BindPFlag(configKeyConnectionTimeout, flagSet.Lookup(flagNameTimeout))
	_ = configurationManager.BindPFlag(configKeySecretsDirectory, flagSet.Lookup(flagNameSecretsDirectory))
	_ = configurationManager.BindPFlag(configKeyLoggingType, flagSet.Lookup(flagNameLoggingType))
}

func configureServeFlags(flagSet *pflag.FlagSet, configurationManager *viper.Viper) {
	flagSet.String(flagNameTransport, configurationManager.GetString(configKeyServeTransport), "Agent transport (stdio or websocket)")
	flagSet.String(flagNameBindAddress, configurationManager.GetString(configKeyServeBindAddress), "Bind address for the websocket transport")
	flagSet.String(flagNamePort, configurationManager.GetString(configKeyServePort), "Port for the websocket transport")
	_ = configurationManager.BindPFlag(configKeyServeTransport, flagSet.Lookup(flagNameTransport))
	_ = configurationManager.BindPFlag(configKeyServeBindAddress, flagSet.Lookup(flagNameBindAddress))
	_ = configurationManager.BindPFlag(configKeyServePort, flagSet.Lookup(flagNamePort))
}
