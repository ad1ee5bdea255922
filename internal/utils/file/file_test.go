package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edge-platform-tools/tool-provisioner/internal/utils/file"
)

func TestIsSubPath(t *testing.T) {
	cases := []struct {
		base, target string
		want         bool
	}{
		{"/opt/tools", "/opt/tools/bin/mongodump", true},
		{"/opt/tools", "/opt/tools", true},
		{"/opt/tools", "/etc/passwd", false},
		{"/opt/tools", "/opt/tools/../other", false},
	}
	for _, c := range cases {
		got, err := file.IsSubPath(c.base, c.target)
		if err != nil {
			t.Fatalf("IsSubPath(%q, %q) errored: %v", c.base, c.target, err)
		}
		if got != c.want {
			t.Errorf("IsSubPath(%q, %q) = %v, want %v", c.base, c.target, got, c.want)
		}
	}
}

func TestWriteIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.list.d", "mongodb.list")

	wrote, err := file.WriteIfChanged(path, []byte("deb [signed-by=/k.gpg] https://repo.mongodb.org bookworm main\n"), 0o644)
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if !wrote {
		t.Errorf("first write should report a change")
	}

	wrote, err = file.WriteIfChanged(path, []byte("deb [signed-by=/k.gpg] https://repo.mongodb.org bookworm main\n"), 0o644)
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if wrote {
		t.Errorf("identical content must be a no-op")
	}

	wrote, err = file.WriteIfChanged(path, []byte("deb changed\n"), 0o644)
	if err != nil {
		t.Fatalf("third write failed: %v", err)
	}
	if !wrote {
		t.Errorf("changed content should be rewritten")
	}
}

func TestReadWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	in := map[string]interface{}{"success": true, "tool": "gcloud"}

	if err := file.WriteJSON(path, in, 2); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var out map[string]interface{}
	if err := file.ReadJSON(path, &out); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if out["tool"] != "gcloud" {
		t.Errorf("round-trip mismatch: %v", out)
	}
}

func TestIsExecutable(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "mongorestore")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	plain := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(plain, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !file.IsExecutable(bin) {
		t.Errorf("expected %s to be executable", bin)
	}
	if file.IsExecutable(plain) {
		t.Errorf("expected %s to not be executable", plain)
	}
	if file.IsExecutable(filepath.Join(dir, "missing")) {
		t.Errorf("missing file must not be executable")
	}
}
