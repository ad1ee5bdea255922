// Package linkage exposes installed binaries to the runtime image: symlinks
// in the canonical bin directory, and a persisted environment contract
// (PATH segments and listen port) the application starts with.
package linkage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/proverr"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/file"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/slice"
)

var log = logger.Logger()

// Linker places symlinks under one installation root.
type Linker struct {
	root string
}

func NewLinker(root string) *Linker {
	return &Linker{root: root}
}

// BinDir returns the canonical bin directory symlinks are placed in.
func (l *Linker) BinDir() string {
	return filepath.Join(l.root, "usr", "local", "bin")
}

// Link makes name resolve to installedPath from the canonical bin directory.
// An existing link with the right target is left alone; a link with a wrong
// target is replaced; a regular file in the way is an error, never clobbered.
func (l *Linker) Link(name, installedPath string) error {
	if err := os.MkdirAll(l.BinDir(), 0o755); err != nil {
		return proverr.New(name, proverr.StepLink, proverr.KindInstall, err)
	}
	linkPath := filepath.Join(l.BinDir(), name)

	info, err := os.Lstat(linkPath)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(linkPath)
		if err == nil && target == installedPath {
			log.Debugf("link %s already points at %s", linkPath, installedPath)
			return nil
		}
		log.Infof("replacing link %s (%s -> %s)", linkPath, target, installedPath)
		if err := os.Remove(linkPath); err != nil {
			return proverr.New(name, proverr.StepLink, proverr.KindInstall,
				fmt.Errorf("removing stale link %s: %w", linkPath, err))
		}
	case err == nil:
		return proverr.Newf(name, proverr.StepLink, proverr.KindInstall,
			"%s exists and is not a symlink, refusing to replace it", linkPath)
	case !os.IsNotExist(err):
		return proverr.New(name, proverr.StepLink, proverr.KindInstall, err)
	}

	if err := os.Symlink(installedPath, linkPath); err != nil {
		return proverr.New(name, proverr.StepLink, proverr.KindInstall,
			fmt.Errorf("creating link %s: %w", linkPath, err))
	}
	log.Infof("linked %s -> %s", linkPath, installedPath)
	return nil
}

// EnvContract is the environment the provisioned image hands to the
// application: extra PATH segments in declaration order and the listen port.
type EnvContract struct {
	pathSegments []string
	Port         int
}

func NewEnvContract(port int) *EnvContract {
	return &EnvContract{Port: port}
}

// ImageBinDir resolves a tool's bin_dir as the runtime image sees it:
// absolute paths stand alone, relative paths live inside the tool's /opt
// install dir.
func ImageBinDir(t manifest.ToolSpec) string {
	if filepath.IsAbs(t.BinDir) {
		return t.BinDir
	}
	return filepath.Join("/opt", t.Name, t.BinDir)
}

// ContractFromManifest derives the whole environment contract from the
// manifest alone: the declared env PATH segments plus the image bin dir of
// every tool that installs outside the package manager. Deriving it up front
// keeps repeated runs rendering identical env files.
func ContractFromManifest(m *manifest.Manifest) *EnvContract {
	c := NewEnvContract(m.Env.Port)
	for _, seg := range m.Env.Path {
		c.AddPath(seg)
	}
	for _, t := range m.Tools {
		if t.Method != manifest.MethodPackageRepository && t.BinDir != "" {
			c.AddPath(ImageBinDir(t))
		}
	}
	return c
}

// AddPath appends a PATH segment, preserving first-seen order. Adding a
// segment twice is a no-op.
func (c *EnvContract) AddPath(dir string) {
	c.pathSegments = slice.AppendUnique(c.pathSegments, dir)
}

// PathSegments returns the extra PATH segments in declaration order.
func (c *EnvContract) PathSegments() []string {
	out := make([]string, len(c.pathSegments))
	copy(out, c.pathSegments)
	return out
}

// Render produces the profile script encoding the contract. Segments are
// prepended to PATH so provisioned tools shadow distribution copies.
func (c *EnvContract) Render() string {
	s := "# Generated by tool-provisioner. Do not edit.\n"
	for _, seg := range slice.Dedupe(c.pathSegments) {
		s += fmt.Sprintf("export PATH=%q:$PATH\n", seg)
	}
	s += fmt.Sprintf("export PORT=${PORT:-%d}\n", c.Port)
	return s
}

// WriteEnvFile persists the contract under <root>/etc/profile.d so it
// survives into the runtime image. Returns whether the file changed.
func (c *EnvContract) WriteEnvFile(root, name string) (bool, error) {
	path := filepath.Join(root, "etc", "profile.d", name+".sh")
	changed, err := file.WriteIfChanged(path, []byte(c.Render()), 0o644)
	if err != nil {
		return false, fmt.Errorf("writing environment contract %s: %w", path, err)
	}
	if changed {
		log.Infof("wrote environment contract %s", path)
	}
	return changed, nil
}
