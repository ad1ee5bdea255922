package main

import (
	"fmt"

	"github.com/edge-platform-tools/tool-provisioner/internal/cache"
	"github.com/spf13/cobra"
)

func createCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached artifacts",
		Long: `Manage cached artifacts left behind by provisioning runs.

Available commands:
  clean    Remove downloaded archives or the persisted provisioning report`,
	}

	cacheCmd.AddCommand(createCacheCleanCommand())

	return cacheCmd
}

func createCacheCleanCommand() *cobra.Command {
	var (
		opts cache.CleanOptions
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove downloaded archives or the provisioning report",
		Long: `Remove downloaded archives or the persisted provisioning report to
reclaim disk space.

By default, the command removes downloaded archives. Use flags to target the
report or both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			archivesFlag := cmd.Flags().Changed("archives")
			reportFlag := cmd.Flags().Changed("report")

			if all {
				opts.CleanArchives = true
				opts.CleanReport = true
			} else if !archivesFlag && !reportFlag {
				opts.CleanArchives = true
			}

			if !opts.CleanArchives && !opts.CleanReport {
				return fmt.Errorf("nothing to clean: specify --archives, --report, or --all")
			}

			result, err := cache.Clean(opts)
			if err != nil {
				return err
			}

			output := []string{}
			if opts.DryRun {
				output = append(output, "Dry run: no files were deleted.")
			}

			if len(result.RemovedPaths) > 0 {
				header := "Removed paths:"
				if opts.DryRun {
					header = "Would remove:"
				}
				output = append(output, header)
				output = append(output, indentPaths(result.RemovedPaths)...)
			}

			if len(result.RemovedPaths) == 0 && len(result.SkippedPaths) == 0 {
				scopeDesc := ""
				if opts.CleanArchives && opts.CleanReport {
					scopeDesc = "archive or report"
				} else if opts.CleanArchives {
					scopeDesc = "archive"
				} else if opts.CleanReport {
					scopeDesc = "report"
				}
				output = append(output, fmt.Sprintf("No %s entries found.", scopeDesc))
			}

			if len(result.SkippedPaths) > 0 {
				output = append(output, "Skipped (not found):")
				output = append(output, indentPaths(result.SkippedPaths)...)
			}

			writer := cmd.OutOrStdout()
			for _, line := range output {
				fmt.Fprintln(writer, line)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove both archives and the report")
	cmd.Flags().BoolVar(&opts.CleanArchives, "archives", false, "Remove downloaded archives")
	cmd.Flags().BoolVar(&opts.CleanReport, "report", false, "Remove the persisted provisioning report")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Show what would be removed without deleting anything")

	return cmd
}

func indentPaths(values []string) []string {
	lines := make([]string, len(values))
	for i, v := range values {
		lines[i] = "  " + v
	}
	return lines
}
