package security_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edge-platform-tools/tool-provisioner/internal/utils/security"
)

func TestCheckSymlinkRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.yml")
	if err := os.WriteFile(path, []byte("tools: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	info, err := security.CheckSymlink(path, security.RejectSymlinks)
	if err != nil {
		t.Fatalf("regular file must pass RejectSymlinks: %v", err)
	}
	if info.IsSymlink {
		t.Errorf("regular file flagged as symlink")
	}
}

func TestCheckSymlinkRejected(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.yml")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link.yml")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}

	if _, err := security.CheckSymlink(link, security.RejectSymlinks); err == nil {
		t.Errorf("symlink should be rejected under RejectSymlinks")
	}

	info, err := security.CheckSymlink(link, security.ResolveSymlinks)
	if err != nil {
		t.Fatalf("ResolveSymlinks failed: %v", err)
	}
	resolvedTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		t.Fatal(err)
	}
	if info.ResolvedPath != resolvedTarget {
		t.Errorf("resolved %q, want %q", info.ResolvedPath, resolvedTarget)
	}
}

func TestSafeReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yml")
	if err := os.WriteFile(path, []byte("tools: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := security.SafeReadFile(path, security.RejectSymlinks)
	if err != nil {
		t.Fatalf("SafeReadFile failed: %v", err)
	}
	if string(data) != "tools: []\n" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestValidateStringLimits(t *testing.T) {
	lim := security.DefaultLimits()

	if err := security.ValidateString("ok", "mongodb-database-tools", lim); err != nil {
		t.Errorf("plain string should pass: %v", err)
	}
	if err := security.ValidateString("nul", "bad\x00string", lim); err == nil {
		t.Errorf("NUL byte should be rejected")
	}
	lim.MaxString = 4
	if err := security.ValidateString("long", "abcdef", lim); err == nil {
		t.Errorf("over-length string should be rejected")
	}
}
