package main

import (
	"fmt"

	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/edge-platform-tools/tool-provisioner/internal/health"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/spf13/cobra"
)

// createVerifyCommand creates the verify subcommand
func createVerifyCommand() *cobra.Command {
	verifyCmd := &cobra.Command{
		Use:   "verify [flags] MANIFEST_FILE",
		Short: "Verify previously provisioned tools",
		Long: `Verify that every tool the manifest declares still resolves and answers
--version, without installing anything. The command exits nonzero when a
required tool fails verification.`,
		Args:              cobra.ExactArgs(1),
		RunE:              executeVerify,
		ValidArgsFunction: manifestFileCompletion,
	}

	return verifyCmd
}

// executeVerify handles the verify command logic
func executeVerify(cmd *cobra.Command, args []string) error {
	m, err := manifest.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading manifest: %v", err)
	}

	check := health.NewServer(m, config.InstallRoot()).Check()

	out := cmd.OutOrStdout()
	for _, st := range check.Tools {
		status := "ok"
		if !st.OK {
			status = "FAILED"
		}
		line := fmt.Sprintf("%-30s %-8s", st.Tool, status)
		if st.Version != "" {
			line += " " + st.Version
		}
		if st.Error != "" {
			line += " (" + st.Error + ")"
		}
		fmt.Fprintln(out, line)
	}

	if !check.OK {
		return fmt.Errorf("verification failed for one or more required tools")
	}
	return nil
}
