package main

import (
	"fmt"

	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/spf13/cobra"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] MANIFEST_FILE",
		Short: "Validate a tool manifest file",
		Long: `Validate a tool manifest file against the schema without provisioning
anything. The manifest file must be in YAML format following the tool
manifest schema. This allows checking for errors before running a full
provisioning pass.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeValidate,
		ValidArgsFunction: manifestFileCompletion,
	}

	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()
	manifestFile := args[0]

	log.Infof("validating manifest file: %s", manifestFile)

	m, err := manifest.Load(manifestFile)
	if err != nil {
		return fmt.Errorf("manifest validation failed: %v", err)
	}

	log.Infof("✓ Manifest validation successful")
	log.Infof("  Tools: %d", len(m.Tools))
	for _, t := range m.Tools {
		log.Infof("    - %s", t.String())
	}
	log.Infof("  Repositories: %d", len(m.RepoSources()))
	log.Infof("  Fallbacks: %d", len(m.Fallbacks))
	log.Infof("  Port: %d", m.Env.Port)

	return nil
}
