package engine

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/report"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/shell"
	"github.com/klauspost/compress/gzip"
)

func swapExecutor(t *testing.T, mock shell.Executor) {
	t.Helper()
	orig := shell.Default
	shell.Default = mock
	t.Cleanup(func() { shell.Default = orig })
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Root:             t.TempDir(),
		CacheDir:         t.TempDir(),
		StateDir:         t.TempDir(),
		TempDir:          t.TempDir(),
		Workers:          2,
		DetectedCodename: "trixie",
	}
}

func armoredTestKey(t *testing.T) []byte {
	t.Helper()
	entity, err := openpgp.NewEntity("Vendor", "", "release@vendor.example", nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	var buf bytes.Buffer
	enc, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armoring key: %v", err)
	}
	if err := entity.Serialize(enc); err != nil {
		t.Fatalf("serializing key: %v", err)
	}
	enc.Close()
	return buf.Bytes()
}

func keyServer(t *testing.T) *httptest.Server {
	t.Helper()
	key := armoredTestKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(key)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func toolsTarGz(t *testing.T, binaries ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range binaries {
		body := "#!/bin/sh\necho " + name + "\n"
		hdr := &tar.Header{Name: "bin/" + name, Mode: 0o755, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func TestRunInstallsArchiveTool(t *testing.T) {
	body := toolsTarGz(t, "mongodump", "mongorestore")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	swapExecutor(t, shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "--version", Output: "mongodump version: 100.9.4"},
	}))

	m := &manifest.Manifest{
		Tools: []manifest.ToolSpec{{
			Name:     "mongodb-database-tools",
			Method:   manifest.MethodArchiveDownload,
			Required: true,
			URL:      srv.URL + "/tools.tar.gz",
			Binaries: []string{"mongodump", "mongorestore"},
			BinDir:   "bin",
		}},
		Env:    manifest.EnvConfig{Port: 8080},
		Digest: "sha256:test",
	}

	opts := testOptions(t)
	e, err := New(m, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !rep.Success {
		t.Fatal("run should succeed")
	}

	res := rep.Result("mongodb-database-tools")
	if res == nil || res.Status != report.StatusInstalled {
		t.Fatalf("result = %+v, want installed", res)
	}
	if res.Version != "mongodump version: 100.9.4" {
		t.Errorf("Version = %q", res.Version)
	}

	// Binaries are linked into the canonical bin dir.
	for _, bin := range []string{"mongodump", "mongorestore"} {
		link := filepath.Join(opts.Root, "usr", "local", "bin", bin)
		target, err := os.Readlink(link)
		if err != nil {
			t.Fatalf("link %s missing: %v", bin, err)
		}
		if !strings.Contains(target, filepath.Join("opt", "mongodb-database-tools", "bin", bin)) {
			t.Errorf("link target = %s", target)
		}
	}

	// The environment contract survives into the image.
	contract, err := os.ReadFile(filepath.Join(opts.Root, "etc", "profile.d", "tool-provisioner.sh"))
	if err != nil {
		t.Fatalf("contract missing: %v", err)
	}
	if !strings.Contains(string(contract), "PORT=${PORT:-8080}") {
		t.Errorf("contract = %q", contract)
	}

	// The report is persisted.
	if _, err := report.Load(opts.StateDir); err != nil {
		t.Errorf("persisted report: %v", err)
	}
}

func TestRunRegistersRepoWithFallbackCodename(t *testing.T) {
	keys := keyServer(t)
	swapExecutor(t, shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "apt-get update", Output: ""},
		{Pattern: "apt-get install", Output: ""},
		{Pattern: "--version", Output: "mongodump version: 100.9.4"},
	}))

	opts := testOptions(t)
	// Make verification pass after the mocked install.
	binDir := filepath.Join(opts.Root, "usr", "local", "bin")
	os.MkdirAll(binDir, 0o755)

	m := &manifest.Manifest{
		Tools: []manifest.ToolSpec{{
			Name:     "mongodump",
			Method:   manifest.MethodPackageRepository,
			Required: false,
			Package:  "mongodb-database-tools",
			Binaries: []string{"mongodump"},
			Repo: &manifest.RepoSource{
				ID:        "mongodb-org-7.0",
				URL:       "https://repo.mongodb.org/apt/debian",
				Component: "main",
				KeyURL:    keys.URL + "/server-7.0.asc",
			},
		}},
		Fallbacks: []manifest.Fallback{
			{Tool: "mongodump", Codename: "trixie", Use: "bookworm"},
		},
		Env:    manifest.EnvConfig{Port: 8080},
		Digest: "sha256:test",
	}

	e, err := New(m, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Binary appears once apt-get install ran; pre-place it so the
	// post-install verification resolves it, then assert apt ran.
	os.WriteFile(filepath.Join(binDir, "mongodump"), []byte("#!/bin/sh\n"), 0o755)

	rep, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	res := rep.Result("mongodump")
	if res == nil || res.Status != report.StatusSkipped {
		t.Fatalf("result = %+v, want skipped (already satisfied)", res)
	}
	if res.ResolvedCodename != "bookworm" {
		t.Errorf("ResolvedCodename = %q, want bookworm", res.ResolvedCodename)
	}

	// Registration happened with the fallback codename, not the detected one.
	source, err := os.ReadFile(filepath.Join(opts.Root, "etc", "apt", "sources.list.d", "mongodb-org-7.0.list"))
	if err != nil {
		t.Fatalf("source list missing: %v", err)
	}
	if !strings.Contains(string(source), " bookworm ") {
		t.Errorf("source entry should use fallback codename: %q", source)
	}
	if strings.Contains(string(source), " trixie ") {
		t.Errorf("source entry should not use detected codename: %q", source)
	}
}

func TestRunPackageNotFoundFailsRequiredTool(t *testing.T) {
	keys := keyServer(t)
	swapExecutor(t, shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "apt-get update", Output: ""},
		{Pattern: "apt-get install", Output: "E: Unable to locate package mongodb-database-tools", Error: fmt.Errorf("exit status 100")},
	}))

	m := &manifest.Manifest{
		Tools: []manifest.ToolSpec{{
			Name:     "mongodump",
			Method:   manifest.MethodPackageRepository,
			Required: true,
			Package:  "mongodb-database-tools",
			Binaries: []string{"mongodump-absent-binary"},
			Repo: &manifest.RepoSource{
				ID:        "mongodb-org-7.0",
				URL:       "https://repo.mongodb.org/apt/debian",
				Component: "main",
				KeyURL:    keys.URL + "/server-7.0.asc",
			},
		}},
		Digest: "sha256:test",
	}

	e, err := New(m, testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := e.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail when a required tool fails")
	}
	if rep.Success {
		t.Error("report should not be successful")
	}
	res := rep.Result("mongodump")
	if res == nil || res.Status != report.StatusFailed {
		t.Fatalf("result = %+v, want failed", res)
	}
	if !strings.Contains(res.Error, "fallbacks") {
		t.Errorf("error should point at the fallback table: %q", res.Error)
	}
}

func TestRunFailedRegistrationPoisonsTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	mock := shell.NewMockExecutor(nil)
	swapExecutor(t, mock)

	m := &manifest.Manifest{
		Tools: []manifest.ToolSpec{{
			Name:     "mongodump",
			Method:   manifest.MethodPackageRepository,
			Required: false,
			Package:  "mongodb-database-tools",
			Binaries: []string{"mongodump-absent-binary"},
			Repo: &manifest.RepoSource{
				ID:        "mongodb-org-7.0",
				URL:       "https://repo.mongodb.org/apt/debian",
				Component: "main",
				KeyURL:    srv.URL + "/missing.asc",
			},
		}},
		Digest: "sha256:test",
	}

	e, err := New(m, testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v (optional tool failure must not fail the run)", err)
	}

	res := rep.Result("mongodump")
	if res == nil || res.Status != report.StatusWarning {
		t.Fatalf("result = %+v, want warning", res)
	}
	if !strings.Contains(res.Error, "was not registered") {
		t.Errorf("error = %q", res.Error)
	}
	// Acquisition was never attempted for the poisoned tool.
	for _, c := range mock.Calls() {
		if strings.Contains(c, "apt-get") {
			t.Errorf("apt should not run after failed registration: %q", c)
		}
	}
}

func TestRunStagedRootIgnoresHostPathBinaries(t *testing.T) {
	// The declared binary exists on the build host's PATH but not under
	// the staged root; the run must install (and here fail), not skip.
	hostDir := t.TempDir()
	os.WriteFile(filepath.Join(hostDir, "mongodump"), []byte("#!/bin/sh\n"), 0o755)
	t.Setenv("PATH", hostDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	swapExecutor(t, shell.NewMockExecutor(nil))

	m := &manifest.Manifest{
		Tools: []manifest.ToolSpec{{
			Name:     "mongodb-database-tools",
			Method:   manifest.MethodArchiveDownload,
			Required: true,
			URL:      srv.URL + "/tools.tar.gz",
			Binaries: []string{"mongodump"},
			BinDir:   "bin",
		}},
		Digest: "sha256:test",
	}

	opts := testOptions(t)
	e, err := New(m, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := e.Run(context.Background())
	if err == nil {
		t.Fatal("Run must fail: the tool exists only on the host, not under the root")
	}
	res := rep.Result("mongodb-database-tools")
	if res == nil || res.Status != report.StatusFailed {
		t.Fatalf("result = %+v, want failed (never skipped via host PATH)", res)
	}
	if _, err := os.Stat(filepath.Join(opts.Root, "usr", "local", "bin", "mongodump")); err == nil {
		t.Error("nothing should have been linked under the staged root")
	}
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	body := toolsTarGz(t, "mongodump")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	swapExecutor(t, shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "--version", Output: "mongodump version: 100.9.4"},
	}))

	m := &manifest.Manifest{
		Tools: []manifest.ToolSpec{{
			Name:     "mongodb-database-tools",
			Method:   manifest.MethodArchiveDownload,
			Required: true,
			URL:      srv.URL + "/tools.tar.gz",
			Binaries: []string{"mongodump"},
			BinDir:   "bin",
		}},
		Env:    manifest.EnvConfig{Port: 8080, Path: []string{"/usr/local/bin"}},
		Digest: "sha256:test",
	}

	opts := testOptions(t)
	artifacts := func() map[string]string {
		t.Helper()
		out := make(map[string]string)
		for _, p := range []string{
			filepath.Join(opts.Root, "etc", "profile.d", "tool-provisioner.sh"),
			filepath.Join(opts.Root, "opt", "mongodb-database-tools", "bin", "mongodump"),
		} {
			data, err := os.ReadFile(p)
			if err != nil {
				t.Fatalf("reading %s: %v", p, err)
			}
			out[p] = string(data)
		}
		link, err := os.Readlink(filepath.Join(opts.Root, "usr", "local", "bin", "mongodump"))
		if err != nil {
			t.Fatalf("link: %v", err)
		}
		out["link"] = link
		return out
	}

	e1, err := New(m, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e1.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := artifacts()

	e2, err := New(m, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := e2.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	res := rep.Result("mongodb-database-tools")
	if res == nil || res.Status != report.StatusSkipped {
		t.Fatalf("second run result = %+v, want skipped", res)
	}
	second := artifacts()
	for name, want := range first {
		if second[name] != want {
			t.Errorf("artifact %s changed on re-run:\nfirst:  %q\nsecond: %q", name, want, second[name])
		}
	}
}

func TestRunUnknownMethod(t *testing.T) {
	swapExecutor(t, shell.NewMockExecutor(nil))

	m := &manifest.Manifest{
		Tools: []manifest.ToolSpec{{
			Name:     "mystery",
			Method:   "carrier-pigeon",
			Required: false,
			Binaries: []string{"mystery-absent-binary"},
		}},
		Digest: "sha256:test",
	}

	e, err := New(m, testOptions(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := rep.Result("mystery")
	if res == nil || res.Status != report.StatusWarning {
		t.Fatalf("result = %+v, want warning", res)
	}
}
