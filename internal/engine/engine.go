// Package engine drives a provisioning run end to end: codename resolution,
// serial repository registration, parallel tool installation, linkage,
// verification and the persisted report.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/edge-platform-tools/tool-provisioner/internal/acquire"
	"github.com/edge-platform-tools/tool-provisioner/internal/linkage"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/proverr"
	"github.com/edge-platform-tools/tool-provisioner/internal/registrar"
	"github.com/edge-platform-tools/tool-provisioner/internal/report"
	"github.com/edge-platform-tools/tool-provisioner/internal/resolver"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/verify"
)

var log = logger.Logger()

// Options fixes where a run reads and writes. Zero values fall back to the
// global configuration when the engine is built through NewFromConfig.
type Options struct {
	Root     string
	CacheDir string
	StateDir string
	TempDir  string
	Workers  int

	// DetectedCodename skips host detection when set, used by tests.
	DetectedCodename string

	// ShowProgress draws download progress bars.
	ShowProgress bool
}

// Engine holds the shared pipeline stages for one run.
type Engine struct {
	m    *manifest.Manifest
	opts Options

	res       *resolver.Resolver
	registrar *registrar.Registrar
	packages  *acquire.PackageInstaller
	archives  *acquire.ArchiveInstaller
	scripts   *acquire.ScriptInstaller
	linker    *linkage.Linker

	// aptMu serializes package-repository installs; apt holds a global
	// dpkg lock, concurrent invocations just fail.
	aptMu sync.Mutex

	// contract is derived entirely from the manifest in New and immutable
	// afterwards, so repeated runs render identical env files.
	contract *linkage.EnvContract

	// failedRepos maps repo IDs whose registration failed to the error,
	// so tools referencing them are never attempted.
	failedRepos map[string]error
}

// New builds an engine for the manifest with explicit options.
func New(m *manifest.Manifest, opts Options) (*Engine, error) {
	detected := opts.DetectedCodename
	if detected == "" {
		var err error
		detected, err = resolver.DetectCodename(opts.Root)
		if err != nil {
			return nil, fmt.Errorf("detecting release codename: %w", err)
		}
	}

	archives := acquire.NewArchiveInstaller(opts.Root, opts.CacheDir)
	archives.ShowProgress = opts.ShowProgress

	contract := linkage.ContractFromManifest(m)

	return &Engine{
		m:           m,
		opts:        opts,
		res:         resolver.New(m, detected),
		registrar:   registrar.New(opts.Root),
		packages:    acquire.NewPackageInstaller(),
		archives:    archives,
		scripts:     acquire.NewScriptInstaller(opts.TempDir),
		linker:      linkage.NewLinker(opts.Root),
		contract:    contract,
		failedRepos: make(map[string]error),
	}, nil
}

// Run provisions every tool in the manifest and persists the report. The
// returned error is non-nil when a required tool failed; the report is
// returned either way.
func (e *Engine) Run(ctx context.Context) (*report.ProvisioningReport, error) {
	rep := report.New(e.m.Digest)
	log.Infof("provisioning %d tools (codename %s, %d workers)",
		len(e.m.Tools), e.res.Detected(), e.opts.Workers)

	e.registerRepos(ctx)
	e.installTools(ctx, rep)

	if _, err := e.contract.WriteEnvFile(e.opts.Root, "tool-provisioner"); err != nil {
		return rep, err
	}

	rep.Finish()
	if err := rep.Save(e.opts.StateDir); err != nil {
		return rep, err
	}

	if !rep.Success {
		return rep, fmt.Errorf("provisioning failed for one or more required tools")
	}
	log.Infof("provisioning finished in %s", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	return rep, nil
}

// registerRepos registers every distinct repository source serially, before
// any install starts. A failed registration poisons all tools that reference
// the repo.
func (e *Engine) registerRepos(ctx context.Context) {
	for _, repo := range e.m.RepoSources() {
		suite := e.suiteFor(repo)
		changed, err := e.registrar.Register(ctx, repo, suite)
		if err != nil {
			log.Errorf("registering repository %s failed: %v", repo.ID, err)
			e.failedRepos[repo.ID] = err
			continue
		}
		if changed {
			e.packages.MarkStale()
		}
	}
}

// suiteFor picks the suite a repository is registered under: its fixed suite
// when declared, otherwise the resolved codename of the first tool using it.
func (e *Engine) suiteFor(repo manifest.RepoSource) string {
	if repo.Suite != "" {
		return repo.Suite
	}
	for _, t := range e.m.Tools {
		if t.Repo != nil && t.Repo.ID == repo.ID {
			return e.res.Resolve(t)
		}
	}
	return e.res.Detected()
}

// installTools runs the per-tool pipelines on a bounded worker pool.
func (e *Engine) installTools(ctx context.Context, rep *report.ProvisioningReport) {
	workers := e.opts.Workers
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for _, spec := range e.m.Tools {
		wg.Add(1)
		go func(spec manifest.ToolSpec) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := e.provisionTool(ctx, spec)
			mu.Lock()
			rep.Add(res)
			mu.Unlock()
		}(spec)
	}
	wg.Wait()
}

// provisionTool runs the full pipeline for one tool and never panics the
// pool; all failure detail lands in the returned result.
func (e *Engine) provisionTool(ctx context.Context, spec manifest.ToolSpec) report.InstallResult {
	start := time.Now()
	res := report.InstallResult{
		Tool:             spec.Name,
		Required:         spec.Required,
		Method:           spec.Method,
		ResolvedCodename: e.res.Resolve(spec),
	}
	fail := func(err error) report.InstallResult {
		res.Error = err.Error()
		res.Duration = time.Since(start)
		if spec.Required {
			res.Status = report.StatusFailed
			log.Errorf("required tool %s failed: %v", spec.Name, err)
		} else {
			res.Status = report.StatusWarning
			log.Warnf("optional tool %s failed: %v", spec.Name, err)
		}
		return res
	}

	if spec.Repo != nil {
		if err := e.failedRepos[spec.Repo.ID]; err != nil {
			return fail(proverr.New(spec.Name, proverr.StepRegister, proverr.KindFetch,
				fmt.Errorf("repository %s was not registered: %w", spec.Repo.ID, err)))
		}
	}

	v := e.verifier()
	if v.Satisfied(spec) {
		vres, err := v.Verify(spec)
		if err == nil {
			log.Infof("tool %s already satisfied, skipping install", spec.Name)
			res.Status = report.StatusSkipped
			res.Paths = vres.Binaries
			res.Version = vres.Version
			res.Duration = time.Since(start)
			return res
		}
		// Resolvable but not working; fall through and install.
	}

	if err := e.install(ctx, spec); err != nil {
		return fail(err)
	}
	if err := e.link(spec); err != nil {
		return fail(err)
	}

	vres, err := e.verifier().Verify(spec)
	if err != nil {
		return fail(err)
	}

	res.Status = report.StatusInstalled
	res.Paths = vres.Binaries
	res.Version = vres.Version
	res.Duration = time.Since(start)
	log.Infof("tool %s installed and verified (%s)", spec.Name, res.Version)
	return res
}

func (e *Engine) install(ctx context.Context, spec manifest.ToolSpec) error {
	switch spec.Method {
	case manifest.MethodPackageRepository:
		e.aptMu.Lock()
		defer e.aptMu.Unlock()
		return e.packages.Install(spec)

	case manifest.MethodArchiveDownload:
		_, err := e.archives.Install(ctx, spec)
		return err

	case manifest.MethodRemoteInstallScript:
		return e.scripts.Install(ctx, spec)

	default:
		return proverr.Newf(spec.Name, proverr.StepAcquire, proverr.KindInstall,
			"unknown acquisition method %q", spec.Method)
	}
}

// link symlinks each declared binary into the canonical bin dir for methods
// that install outside it. Package installs already land on the system PATH.
func (e *Engine) link(spec manifest.ToolSpec) error {
	if spec.Method == manifest.MethodPackageRepository || spec.BinDir == "" {
		return nil
	}
	binDir := e.hostBinDir(spec)
	for _, bin := range spec.Binaries {
		if err := e.linker.Link(bin, filepath.Join(binDir, bin)); err != nil {
			return err
		}
	}
	return nil
}

// hostBinDir is where a spec's image bin_dir lands on the build host, under
// the target root.
func (e *Engine) hostBinDir(spec manifest.ToolSpec) string {
	return filepath.Join(e.opts.Root, linkage.ImageBinDir(spec))
}

// verifier builds a Verifier over the contract's PATH segments.
func (e *Engine) verifier() *verify.Verifier {
	return verify.New(e.opts.Root, e.contract.PathSegments())
}
