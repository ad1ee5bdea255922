package acquire

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/proverr"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/network"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/shell"
	"github.com/google/uuid"
)

// ScriptInstaller installs a tool by fetching its vendor install script and
// running it. The script runs with whatever privileges this process holds, so
// every execution is logged with a warning naming the source URL.
type ScriptInstaller struct {
	tempDir string
	fetcher *network.Fetcher
}

func NewScriptInstaller(tempDir string) *ScriptInstaller {
	return &ScriptInstaller{
		tempDir: tempDir,
		fetcher: network.NewFetcher(
			config.DownloadRetries(),
			config.DownloadBackoff(),
			config.DownloadTimeout(),
		),
	}
}

// NewScriptInstallerWithFetcher is NewScriptInstaller with an injected
// fetcher, used by tests.
func NewScriptInstallerWithFetcher(tempDir string, fetcher *network.Fetcher) *ScriptInstaller {
	return &ScriptInstaller{tempDir: tempDir, fetcher: fetcher}
}

// Install fetches and executes the tool's remote install script.
func (s *ScriptInstaller) Install(ctx context.Context, spec manifest.ToolSpec) error {
	body, err := s.fetcher.Bytes(ctx, spec.URL)
	if err != nil {
		return proverr.New(spec.Name, proverr.StepAcquire, proverr.KindDownload,
			fmt.Errorf("fetching install script %s: %w", spec.URL, err))
	}

	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return proverr.New(spec.Name, proverr.StepInstall, proverr.KindInstall, err)
	}
	scriptPath := filepath.Join(s.tempDir, uuid.New().String()+".sh")
	if err := os.WriteFile(scriptPath, body, 0o700); err != nil {
		return proverr.New(spec.Name, proverr.StepInstall, proverr.KindInstall,
			fmt.Errorf("staging install script: %w", err))
	}
	defer os.Remove(scriptPath)

	log.Warnf("executing remote install script for %s from %s; the script runs unsandboxed", spec.Name, spec.URL)
	cmd := "bash " + scriptPath
	if len(spec.InstallerArgs) > 0 {
		cmd += " " + strings.Join(spec.InstallerArgs, " ")
	}
	if out, err := shell.ExecCmd(cmd, nonInteractiveEnv); err != nil {
		return proverr.New(spec.Name, proverr.StepInstall, proverr.KindInstall,
			fmt.Errorf("install script for %s exited with error: %w: %s", spec.Name, err, strings.TrimSpace(out)))
	}
	return nil
}
