// Package resolver maps the detected host distribution codename to the
// codename a tool's upstream repository actually supports. Upstream package
// repositories lag behind base-image releases; a known-good fallback avoids
// build breakage without tracking upstream release schedules.
package resolver

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/shell"
)

var log = logger.Logger()

// Resolver answers codename lookups for one manifest.
type Resolver struct {
	m        *manifest.Manifest
	detected string
}

// New builds a Resolver over the manifest's fallback table with the given
// detected host codename.
func New(m *manifest.Manifest, detected string) *Resolver {
	return &Resolver{m: m, detected: detected}
}

// Detected returns the host codename the resolver was built with.
func (r *Resolver) Detected() string {
	return r.detected
}

// Resolve returns the repository suite to use for the given tool. Precedence:
// an explicit per-tool override, then the repo source's fixed suite, then the
// fallback table, then the detected codename as-is. Pure and total; it never
// fails.
func (r *Resolver) Resolve(t manifest.ToolSpec) string {
	if t.CodenameOverride != "" {
		return t.CodenameOverride
	}
	if t.Repo != nil && t.Repo.Suite != "" {
		return t.Repo.Suite
	}
	resolved := r.m.FallbackFor(t.Name, r.detected)
	if resolved != r.detected {
		log.Infof("codename fallback for %s: %s -> %s", t.Name, r.detected, resolved)
	}
	return resolved
}

// DetectCodename reads the distribution codename of the filesystem rooted at
// root, preferring os-release over lsb_release.
func DetectCodename(root string) (string, error) {
	osRelease := filepath.Join(root, "etc", "os-release")
	if codename, err := codenameFromOsRelease(osRelease); err == nil && codename != "" {
		return codename, nil
	}

	if !shell.IsCommandExist("lsb_release") {
		return "", fmt.Errorf("failed to detect distribution codename: no usable os-release under %s and no lsb_release on PATH", root)
	}
	output, err := shell.ExecCmd("lsb_release -cs", nil)
	if err != nil {
		return "", fmt.Errorf("failed to detect distribution codename: %w", err)
	}
	codename := strings.TrimSpace(output)
	if codename == "" {
		return "", fmt.Errorf("failed to detect distribution codename: empty lsb_release output")
	}
	return codename, nil
}

func codenameFromOsRelease(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "VERSION_CODENAME=") {
			value := strings.TrimPrefix(line, "VERSION_CODENAME=")
			return strings.Trim(value, "\""), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no VERSION_CODENAME in %s", path)
}
