package main

import (
	"fmt"

	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/edge-platform-tools/tool-provisioner/internal/health"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/spf13/cobra"
)

// createServeCommand creates the serve subcommand
func createServeCommand() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [flags] MANIFEST_FILE",
		Short: "Serve the tool health endpoints",
		Long: `Serve HTTP health endpoints for the provisioned tools:

  /health       liveness, always 200
  /check-tools  re-verifies every manifest tool; 503 when a required tool fails

The listen port comes from the PORT environment variable, then the
manifest's env section, then the default.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeServe,
		ValidArgsFunction: manifestFileCompletion,
	}

	return serveCmd
}

// executeServe handles the serve command logic
func executeServe(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading manifest: %v", err)
	}

	return health.NewServer(m, config.InstallRoot()).Serve(cmd.Context())
}
