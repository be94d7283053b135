package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tyemirov/boshpulse/internal/director"
	"github.com/tyemirov/boshpulse/internal/installer"
	"github.com/tyemirov/boshpulse/internal/retry"
	"github.com/tyemirov/boshpulse/internal/tools"
)

var errDirectorUnhealthy = errors.New("director health check failed")

func newCallCommand() *cobra.Command {
	callCommand := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke one tool and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawArguments, err := cmd.Flags().GetStringArray(flagNameToolArgument)
			if err != nil {
				return fmt.Errorf("read arg flag: %w", err)
			}
			toolArguments, err := parseToolArguments(rawArguments)
			if err != nil {
				return err
			}
			resources, err := getApplicationResources(cmd)
			if err != nil {
				return err
			}
			callContext, cancel := createSignalContext(cmd.Context(), resources.loggingService)
			defer cancel()

			components, err := buildRuntime(callContext, resources, true)
			if err != nil {
				return err
			}
			defer components.Close()

			result, err := components.catalog.Call(callContext, strings.TrimSpace(args[0]), toolArguments)
			if err != nil {
				return err
			}
			_, writeErr := fmt.Fprintln(cmd.OutOrStdout(), result)
			return writeErr
		},
	}
	callCommand.Flags().StringArray(flagNameToolArgument, nil, "Tool argument as name=value (repeatable)")
	return callCommand
}

func parseToolArguments(rawArguments []string) (tools.Arguments, error) {
	arguments := tools.Arguments{}
	for _, rawArgument := range rawArguments {
		name, value, found := strings.Cut(rawArgument, "=")
		name = strings.TrimSpace(name)
		if !found || name == "" {
			return nil, fmt.Errorf("invalid argument %q: expected name=value", rawArgument)
		}
		arguments[name] = value
	}
	return arguments, nil
}

func newToolsCommand() *cobra.Command {
	toolsCommand := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog as Markdown or HTML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			renderHTML, err := cmd.Flags().GetBool(flagNameHTML)
			if err != nil {
				return fmt.Errorf("read html flag: %w", err)
			}
			resources, err := getApplicationResources(cmd)
			if err != nil {
				return err
			}
			catalog, err := tools.NewCatalog(director.NewService(nil, retry.NewPolicy(0, 0, nil), resources.loggingService))
			if err != nil {
				return err
			}
			if !renderHTML {
				_, writeErr := fmt.Fprint(cmd.OutOrStdout(), catalog.Markdown())
				return writeErr
			}
			page, err := catalog.HTML()
			if err != nil {
				return err
			}
			_, writeErr := cmd.OutOrStdout().Write(page)
			return writeErr
		},
	}
	toolsCommand.Flags().Bool(flagNameHTML, false, "Render the catalog as an HTML page")
	return toolsCommand
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the bosh CLI and the director once and print a report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resources, err := getApplicationResources(cmd)
			if err != nil {
				return err
			}
			components, err := buildRuntime(cmd.Context(), resources, false)
			if err != nil {
				return err
			}
			defer components.Close()

			healthy := components.probe.Check(cmd.Context())
			if _, writeErr := fmt.Fprint(cmd.OutOrStdout(), components.probe.Report()); writeErr != nil {
				return writeErr
			}
			if !healthy {
				return errDirectorUnhealthy
			}
			return nil
		},
	}
}

func newInstallCLICommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install-cli",
		Short: "Locate or download the bosh CLI and print its path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resources, err := getApplicationResources(cmd)
			if err != nil {
				return err
			}
			resolver, config, err := resolveConfiguration(resources)
			if err != nil {
				return err
			}
			defer resolver.CloseLogged(config)

			cliInstaller := installer.New(
				readInstallerSettings(resources, config.BinaryPath()),
				installer.NewProcessVersionProber(resources.runner()),
				resources.artifactDownloader(),
				resources.loggingService,
			)
			_, writeErr := fmt.Fprintln(cmd.OutOrStdout(), cliInstaller.Resolve(cmd.Context()))
			return writeErr
		},
	}
}
