package main

import (
	"fmt"

	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/spf13/cobra"
)

// createConfigCommand creates the config subcommand
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage global configuration for the tool provisioner.

Available commands:
  init    Initialize a new configuration file with default values`,
	}

	configCmd.AddCommand(createConfigInitCommand())

	return configCmd
}

// createConfigInitCommand creates the config init subcommand
func createConfigInitCommand() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init [config-file]",
		Short: "Initialize a new configuration file",
		Long: `Initialize a new configuration file with default values.

If no path is specified, the config will be created in the current directory
as tool-provisioner.yml

Examples:
  # Create config in current directory
  tool-provisioner config init

  # Create config at specific location
  tool-provisioner config init /etc/tool-provisioner/config.yml`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeConfigInit,
	}

	return initCmd
}

// executeConfigInit handles the config init command logic
func executeConfigInit(cmd *cobra.Command, args []string) error {
	configPath := "tool-provisioner.yml"
	if len(args) > 0 {
		configPath = args[0]
	}

	defaultConfig := config.DefaultGlobalConfig()

	if err := defaultConfig.SaveGlobalConfig(configPath); err != nil {
		return fmt.Errorf("failed to save config file: %v", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintf(out, "\nDefault configuration settings:\n")
	fmt.Fprintf(out, "  Workers: %d\n", defaultConfig.Workers)
	fmt.Fprintf(out, "  Install Root: %s\n", defaultConfig.InstallRoot)
	fmt.Fprintf(out, "  Cache Directory: %s\n", defaultConfig.CacheDir)
	fmt.Fprintf(out, "  State Directory: %s\n", defaultConfig.StateDir)
	fmt.Fprintf(out, "  Log Level: %s\n", defaultConfig.Logging.Level)
	fmt.Fprintf(out, "\nEdit the configuration file to customize these settings.\n")

	return nil
}
