package resolver_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/resolver"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/shell"
)

func testManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	doc := `
tools:
  - name: mongodb-database-tools
    method: package-repository
    binaries: [mongodump]
    repo: {id: mongodb, url: https://repo.mongodb.org/apt/debian, key_url: https://www.mongodb.org/static/pgp/server-8.0.asc}
  - name: cloud-storage-cli
    method: package-repository
    package: google-cloud-cli
    binaries: [gcloud]
    repo: {id: cloud-sdk, url: https://packages.cloud.google.com/apt, suite: cloud-sdk, key_url: https://packages.cloud.google.com/apt/doc/apt-key.gpg}
  - name: pinned-tool
    method: package-repository
    binaries: [pinned]
    codename_override: jammy
fallbacks:
  - {tool: mongodb-database-tools, codename: trixie, use: bookworm}
`
	m, err := manifest.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("manifest parse failed: %v", err)
	}
	return m
}

func toolByName(t *testing.T, m *manifest.Manifest, name string) manifest.ToolSpec {
	t.Helper()
	for _, spec := range m.Tools {
		if spec.Name == name {
			return spec
		}
	}
	t.Fatalf("tool %q not in manifest", name)
	return manifest.ToolSpec{}
}

func TestResolveFallbackHit(t *testing.T) {
	m := testManifest(t)
	r := resolver.New(m, "trixie")

	if got := r.Resolve(toolByName(t, m, "mongodb-database-tools")); got != "bookworm" {
		t.Errorf("resolve = %q, want bookworm", got)
	}
}

func TestResolvePassThroughOnMiss(t *testing.T) {
	m := testManifest(t)
	r := resolver.New(m, "bookworm")

	if got := r.Resolve(toolByName(t, m, "mongodb-database-tools")); got != "bookworm" {
		t.Errorf("resolve = %q, want pass-through bookworm", got)
	}
}

func TestResolveFixedSuiteWins(t *testing.T) {
	m := testManifest(t)
	r := resolver.New(m, "trixie")

	if got := r.Resolve(toolByName(t, m, "cloud-storage-cli")); got != "cloud-sdk" {
		t.Errorf("resolve = %q, want fixed suite cloud-sdk", got)
	}
}

func TestResolvePerToolOverrideWins(t *testing.T) {
	m := testManifest(t)
	r := resolver.New(m, "trixie")

	if got := r.Resolve(toolByName(t, m, "pinned-tool")); got != "jammy" {
		t.Errorf("resolve = %q, want override jammy", got)
	}
}

func TestDetectCodenameFromOsRelease(t *testing.T) {
	root := t.TempDir()
	etc := filepath.Join(root, "etc")
	if err := os.MkdirAll(etc, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "PRETTY_NAME=\"Debian GNU/Linux 13 (trixie)\"\nNAME=\"Debian GNU/Linux\"\nVERSION_CODENAME=trixie\nID=debian\n"
	if err := os.WriteFile(filepath.Join(etc, "os-release"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	codename, err := resolver.DetectCodename(root)
	if err != nil {
		t.Fatalf("DetectCodename failed: %v", err)
	}
	if codename != "trixie" {
		t.Errorf("codename = %q, want trixie", codename)
	}
}

func TestDetectCodenameLsbReleaseFallback(t *testing.T) {
	orig := shell.Default
	shell.Default = shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "command -v lsb_release", Output: "/usr/bin/lsb_release\n"},
		{Pattern: "lsb_release -cs", Output: "bookworm\n"},
	})
	t.Cleanup(func() { shell.Default = orig })

	// No os-release under the root, so detection falls through to
	// lsb_release.
	codename, err := resolver.DetectCodename(t.TempDir())
	if err != nil {
		t.Fatalf("DetectCodename failed: %v", err)
	}
	if codename != "bookworm" {
		t.Errorf("codename = %q, want bookworm", codename)
	}
}

func TestDetectCodenameNoSources(t *testing.T) {
	orig := shell.Default
	shell.Default = shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "command -v lsb_release", Output: ""},
	})
	t.Cleanup(func() { shell.Default = orig })

	if _, err := resolver.DetectCodename(t.TempDir()); err == nil {
		t.Error("DetectCodename should fail when no source can name the codename")
	}
}

func TestDetectCodenameQuotedValue(t *testing.T) {
	root := t.TempDir()
	etc := filepath.Join(root, "etc")
	if err := os.MkdirAll(etc, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(etc, "os-release"), []byte("VERSION_CODENAME=\"bookworm\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	codename, err := resolver.DetectCodename(root)
	if err != nil {
		t.Fatalf("DetectCodename failed: %v", err)
	}
	if codename != "bookworm" {
		t.Errorf("codename = %q, want bookworm", codename)
	}
}
