package main

import (
	"fmt"
	"os"

	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/security"
	"github.com/spf13/cobra"
)

// Command-line flags that can override config file settings
var (
	configFile string = "" // Path to config file
	logLevel   string = "" // Empty means use config file value
)

func main() {
	configFilePath := configFile
	if configFilePath == "" {
		configFilePath = config.FindConfigFile()
	}

	globalConfig, err := config.LoadGlobalConfig(configFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	config.SetGlobal(globalConfig)

	_, cleanup := logger.InitWithLevel(globalConfig.Logging.Level)
	defer cleanup()

	rootCmd := createRootCommand()
	security.AttachRecursive(rootCmd, security.DefaultLimits())

	// The --log-level flag wins over the config file, applied after flag
	// parsing.
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			globalConfig.Logging.Level = logLevel
			config.SetGlobal(globalConfig)
			logger.SetLogLevel(logLevel)
		}
	}

	log := logger.Logger()
	if configFilePath != "" {
		log.Infof("Using configuration from: %s", configFilePath)
	}
	cacheDir, _ := config.CacheDir()
	stateDir, _ := config.StateDir()
	log.Debugf("Config: workers=%d, install_root=%s, cache_dir=%s, state_dir=%s, temp_dir=%s",
		config.Workers(), config.InstallRoot(), cacheDir, stateDir, config.TempDir())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// createRootCommand creates and configures the root cobra command with all subcommands
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tool-provisioner",
		Short: "Declarative provisioner for external CLI tools",
		Long: `Tool Provisioner installs, links and verifies the external CLI tools a
service image depends on, from a declarative YAML manifest.

Tools can be acquired from vendor apt repositories (with signing key
registration and release codename fallbacks), checksummed archive downloads,
or vendor install scripts. Every provisioned binary is verified before the
run is considered successful.`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level (debug, info, warn, error)")

	rootCmd.AddCommand(createProvisionCommand())
	rootCmd.AddCommand(createVerifyCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createServeCommand())
	rootCmd.AddCommand(createCacheCommand())
	rootCmd.AddCommand(createConfigCommand())
	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createInstallCompletionCommand())

	return rootCmd
}
