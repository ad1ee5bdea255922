// Package acquire obtains tool payloads and installs them into the target
// root. Each manifest acquisition method has its own installer: native
// package repositories, checksummed archive downloads, and remote install
// scripts.
package acquire

import (
	"fmt"
	"strings"

	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/proverr"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/shell"
)

var log = logger.Logger()

var nonInteractiveEnv = []string{"DEBIAN_FRONTEND=noninteractive"}

// PackageInstaller installs tools from apt repositories. The package index is
// refreshed lazily, at most once per process unless a registration change
// marks it stale again.
type PackageInstaller struct {
	indexFresh bool
}

func NewPackageInstaller() *PackageInstaller {
	return &PackageInstaller{}
}

// MarkStale forces the next Install to refresh the package index first.
// Called after any repository registration wrote new trust artifacts.
func (p *PackageInstaller) MarkStale() {
	p.indexFresh = false
}

// RefreshIndex runs apt-get update if the index is stale.
func (p *PackageInstaller) RefreshIndex() error {
	if p.indexFresh {
		return nil
	}
	log.Infof("refreshing package index")
	if out, err := shell.ExecCmdWithStream("apt-get update", nonInteractiveEnv); err != nil {
		return fmt.Errorf("refreshing package index: %w: %s", err, strings.TrimSpace(out))
	}
	p.indexFresh = true
	return nil
}

// IsInstalled reports whether the package is already present on the host.
func (p *PackageInstaller) IsInstalled(pkg string) bool {
	out, err := shell.ExecCmd(fmt.Sprintf("dpkg-query -W -f='${Status}' %s", pkg), nil)
	return err == nil && strings.Contains(out, "install ok installed")
}

// Install refreshes the index if needed and installs the tool's package. A
// repository that does not list the package yields a package-not-found error
// whose message points at the codename fallback table, since a wrong suite is
// the usual cause.
func (p *PackageInstaller) Install(spec manifest.ToolSpec) error {
	if err := p.RefreshIndex(); err != nil {
		return proverr.New(spec.Name, proverr.StepAcquire, proverr.KindInstall, err)
	}

	pkg := spec.Package
	if spec.Version != "" {
		pkg = pkg + "=" + spec.Version
	}
	// Streamed so long apt runs stay attributable in the build log.
	log.Infof("installing package %s", pkg)
	out, err := shell.ExecCmdWithStream(
		fmt.Sprintf("apt-get install -y --no-install-recommends %s", pkg),
		nonInteractiveEnv,
	)
	if err != nil {
		if strings.Contains(out, "Unable to locate package") ||
			strings.Contains(err.Error(), "Unable to locate package") {
			return proverr.Newf(spec.Name, proverr.StepAcquire, proverr.KindPackageNotFound,
				"package %s not found in configured repositories; the repository may not publish for this release codename, consider adding a fallbacks entry for %s",
				spec.Package, spec.Name)
		}
		return proverr.New(spec.Name, proverr.StepAcquire, proverr.KindInstall,
			fmt.Errorf("installing package %s: %w: %s", pkg, err, strings.TrimSpace(out)))
	}
	return nil
}
