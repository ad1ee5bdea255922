package acquire

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/edge-platform-tools/tool-provisioner/internal/config"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/proverr"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/file"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/network"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/shell"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

// ArchiveInstaller downloads a tool tarball, verifies its checksum, extracts
// it under <root>/opt/<name> and optionally runs a bundled installer script.
type ArchiveInstaller struct {
	root     string
	cacheDir string
	fetcher  *network.Fetcher

	// ShowProgress draws a byte counter on stderr during downloads.
	ShowProgress bool
}

func NewArchiveInstaller(root, cacheDir string) *ArchiveInstaller {
	return &ArchiveInstaller{
		root:     root,
		cacheDir: cacheDir,
		fetcher: network.NewFetcher(
			config.DownloadRetries(),
			config.DownloadBackoff(),
			config.DownloadTimeout(),
		),
		ShowProgress: true,
	}
}

// NewArchiveInstallerWithFetcher is NewArchiveInstaller with an injected
// fetcher, used by tests.
func NewArchiveInstallerWithFetcher(root, cacheDir string, fetcher *network.Fetcher) *ArchiveInstaller {
	return &ArchiveInstaller{root: root, cacheDir: cacheDir, fetcher: fetcher}
}

// InstallDir returns where a tool's archive contents are unpacked.
func (a *ArchiveInstaller) InstallDir(name string) string {
	return filepath.Join(a.root, "opt", name)
}

// Install downloads, verifies and unpacks the tool's archive, then runs the
// bundled installer script when the spec names one. It returns the directory
// the archive was unpacked into.
func (a *ArchiveInstaller) Install(ctx context.Context, spec manifest.ToolSpec) (string, error) {
	archivePath, err := a.download(ctx, spec)
	if err != nil {
		return "", proverr.New(spec.Name, proverr.StepAcquire, proverr.KindDownload, err)
	}

	if err := VerifyChecksum(archivePath, spec.Checksum); err != nil {
		os.Remove(archivePath)
		return "", proverr.New(spec.Name, proverr.StepAcquire, proverr.KindDownload, err)
	}

	destDir := a.InstallDir(spec.Name)
	log.Infof("extracting %s into %s", filepath.Base(archivePath), destDir)
	if err := extractTar(archivePath, destDir); err != nil {
		return "", proverr.New(spec.Name, proverr.StepAcquire, proverr.KindExtract, err)
	}

	if spec.Installer != "" {
		if err := a.runInstaller(destDir, spec); err != nil {
			return "", err
		}
	}
	return destDir, nil
}

func (a *ArchiveInstaller) download(ctx context.Context, spec manifest.ToolSpec) (string, error) {
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir %s: %w", a.cacheDir, err)
	}
	name := filepath.Base(spec.URL)
	archivePath := filepath.Join(a.cacheDir, uuid.New().String()+"-"+name)

	var sink io.Writer = io.Discard
	if a.ShowProgress {
		sink = progressbar.DefaultBytes(-1, "downloading "+name)
	}
	log.Infof("downloading %s", spec.URL)
	if err := a.fetcher.ToFile(ctx, spec.URL, archivePath, sink); err != nil {
		return "", fmt.Errorf("downloading %s: %w", spec.URL, err)
	}
	return archivePath, nil
}

// runInstaller executes the installer script bundled inside the archive with
// the spec's non-interactive arguments.
func (a *ArchiveInstaller) runInstaller(destDir string, spec manifest.ToolSpec) error {
	script := filepath.Join(destDir, spec.Installer)
	inside, err := file.IsSubPath(destDir, script)
	if err != nil || !inside {
		return proverr.Newf(spec.Name, proverr.StepInstall, proverr.KindInstall,
			"installer path %s escapes %s", spec.Installer, destDir)
	}
	if !file.Exists(script) {
		return proverr.Newf(spec.Name, proverr.StepInstall, proverr.KindInstall,
			"archive does not contain installer %s", spec.Installer)
	}

	cmd := "bash " + script
	if len(spec.InstallerArgs) > 0 {
		cmd += " " + strings.Join(spec.InstallerArgs, " ")
	}
	log.Infof("running bundled installer for %s", spec.Name)
	if out, err := shell.ExecCmd(cmd, nonInteractiveEnv); err != nil {
		return proverr.New(spec.Name, proverr.StepInstall, proverr.KindInstall,
			fmt.Errorf("installer %s failed: %w: %s", spec.Installer, err, strings.TrimSpace(out)))
	}
	return nil
}

// extractTar unpacks a tar archive, transparently decompressing gzip or xz by
// file extension. Entries that would land outside destDir are rejected.
func extractTar(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("reading gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(archivePath, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("reading xz stream: %w", err)
		}
		r = xr
	case strings.HasSuffix(archivePath, ".tar"):
	default:
		return fmt.Errorf("unsupported archive format %s", filepath.Base(archivePath))
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target := filepath.Join(destDir, filepath.Clean(hdr.Name))
		inside, err := file.IsSubPath(destDir, target)
		if err != nil || !inside {
			return fmt.Errorf("archive entry %s escapes extraction directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			linkTarget := filepath.Join(filepath.Dir(target), hdr.Linkname)
			inside, err := file.IsSubPath(destDir, linkTarget)
			if err != nil || !inside {
				return fmt.Errorf("archive symlink %s -> %s escapes extraction directory", hdr.Name, hdr.Linkname)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			log.Debugf("skipping archive entry %s (type %d)", hdr.Name, hdr.Typeflag)
		}
	}
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return out.Close()
}
