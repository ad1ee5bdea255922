package main

import (
	"fmt"

	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/edge-platform-tools/tool-provisioner/internal/engine"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/report"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/spf13/cobra"
)

// Provision command flags
var (
	workers     int    = -1 // -1 means use config file value
	cacheDir    string = "" // Empty means use config file value
	installRoot string = "" // Empty means use config file value
	noProgress  bool   = false
)

// createProvisionCommand creates the provision subcommand
func createProvisionCommand() *cobra.Command {
	provisionCmd := &cobra.Command{
		Use:   "provision [flags] MANIFEST_FILE",
		Short: "Install, link and verify the tools a manifest declares",
		Long: `Provision every tool the manifest declares: register vendor package
repositories, install packages, download and extract archives, run vendor
install scripts, symlink binaries into the canonical bin directory, and
verify each tool answers --version.

The manifest file must be in YAML format following the tool manifest schema.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeProvision,
		ValidArgsFunction: manifestFileCompletion,
	}

	// Add flags
	provisionCmd.Flags().IntVarP(&workers, "workers", "w", -1,
		"Number of concurrent tool installs")
	provisionCmd.Flags().StringVarP(&cacheDir, "cache-dir", "d", "",
		"Archive cache directory")
	provisionCmd.Flags().StringVar(&installRoot, "root", "",
		"Filesystem root to provision into")
	provisionCmd.Flags().BoolVar(&noProgress, "no-progress", false,
		"Disable download progress bars")

	return provisionCmd
}

// executeProvision handles the provision command execution logic
func executeProvision(cmd *cobra.Command, args []string) error {
	// Parse command-line flags and override global config
	if cmd.Flags().Changed("workers") {
		currentConfig := config.Global()
		currentConfig.Workers = workers
		config.SetGlobal(currentConfig)
	}
	if cmd.Flags().Changed("cache-dir") {
		currentConfig := config.Global()
		currentConfig.CacheDir = cacheDir
		config.SetGlobal(currentConfig)
	}
	if cmd.Flags().Changed("root") {
		currentConfig := config.Global()
		currentConfig.InstallRoot = installRoot
		config.SetGlobal(currentConfig)
	}

	log := logger.Logger()

	m, err := manifest.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading manifest: %v", err)
	}

	resolvedCacheDir, err := config.CacheDir()
	if err != nil {
		return fmt.Errorf("resolving cache directory: %v", err)
	}
	stateDir, err := config.StateDir()
	if err != nil {
		return fmt.Errorf("resolving state directory: %v", err)
	}

	e, err := engine.New(m, engine.Options{
		Root:         config.InstallRoot(),
		CacheDir:     resolvedCacheDir,
		StateDir:     stateDir,
		TempDir:      config.TempDir(),
		Workers:      config.Workers(),
		ShowProgress: !noProgress,
	})
	if err != nil {
		return fmt.Errorf("initializing provisioning engine: %v", err)
	}

	rep, runErr := e.Run(cmd.Context())
	if rep != nil {
		printReport(cmd, rep)
	}
	if runErr != nil {
		log.Errorf("provisioning failed: %v", runErr)
		return runErr
	}

	log.Info("provisioning completed successfully")
	return nil
}

// printReport summarizes a run per tool on the command's stdout.
func printReport(cmd *cobra.Command, rep *report.ProvisioningReport) {
	out := cmd.OutOrStdout()
	for _, res := range rep.Results {
		line := fmt.Sprintf("%-30s %-10s", res.Tool, res.Status)
		if res.Version != "" {
			line += " " + res.Version
		}
		if res.Error != "" {
			line += " (" + res.Error + ")"
		}
		fmt.Fprintln(out, line)
	}
}

// manifestFileCompletion helps with suggesting YAML files for the manifest argument
func manifestFileCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"*.yml", "*.yaml"}, cobra.ShellCompDirectiveFilterFileExt
}
