// Package cache removes artifacts a provisioning run leaves behind:
// downloaded archives in the cache directory and the persisted report.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/edge-platform-tools/tool-provisioner/internal/report"
	fileutil "github.com/edge-platform-tools/tool-provisioner/internal/utils/file"
)

// CleanOptions defines what cached artifacts should be removed.
type CleanOptions struct {
	CleanArchives bool // remove downloaded archives under the cache directory
	CleanReport   bool // remove the persisted provisioning report
	DryRun        bool // report actions without deleting anything
}

// CleanResult contains the outcome of a cleanup run.
type CleanResult struct {
	RemovedPaths []string
	SkippedPaths []string
}

// Clean removes cached artifacts according to the provided options.
func Clean(opts CleanOptions) (*CleanResult, error) {
	if !opts.CleanArchives && !opts.CleanReport {
		return nil, fmt.Errorf("at least one scope must be specified")
	}

	targets, err := gatherTargets(opts)
	if err != nil {
		return nil, err
	}

	removed := make([]string, 0, len(targets))
	skipped := []string{}

	for _, target := range targets {
		exists, err := pathExists(target)
		if err != nil {
			return nil, fmt.Errorf("checking %s: %w", target, err)
		}
		if !exists {
			skipped = append(skipped, target)
			continue
		}

		if opts.DryRun {
			removed = append(removed, target)
			continue
		}

		if err := os.RemoveAll(target); err != nil {
			return nil, fmt.Errorf("removing %s: %w", target, err)
		}
		removed = append(removed, target)
	}

	sort.Strings(removed)
	sort.Strings(skipped)
	return &CleanResult{RemovedPaths: removed, SkippedPaths: skipped}, nil
}

func gatherTargets(opts CleanOptions) ([]string, error) {
	targets := []string{}

	if opts.CleanArchives {
		archiveTargets, err := archiveTargets()
		if err != nil {
			return nil, err
		}
		targets = append(targets, archiveTargets...)
	}

	if opts.CleanReport {
		stateDir, err := config.StateDir()
		if err != nil {
			return nil, fmt.Errorf("resolving state directory: %w", err)
		}
		targets = append(targets, report.Path(stateDir))
	}

	sort.Strings(targets)
	return targets, nil
}

func archiveTargets() ([]string, error) {
	cacheDir, err := config.CacheDir()
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache directory: %w", err)
	}

	targets := make([]string, 0, len(entries))
	for _, entry := range entries {
		target := filepath.Join(cacheDir, entry.Name())
		if err := ensureSubPath(cacheDir, target); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, nil
}

func ensureSubPath(base, target string) error {
	ok, err := fileutil.IsSubPath(base, target)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("refusing to operate on %s because it is outside %s", target, base)
	}
	return nil
}

func pathExists(path string) (bool, error) {
	if path == "" {
		return false, fmt.Errorf("path must not be empty")
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
