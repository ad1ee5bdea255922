// Standalone harness that exercises a full provisioning run against a
// throwaway root, with the tool archive served from a local HTTP listener.
// Useful for eyeballing engine behavior without touching the host or the
// network. Run with: go run ./integration/provision
package main

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/edge-platform-tools/tool-provisioner/internal/engine"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/klauspost/compress/gzip"
)

func buildArchive(binaries ...string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range binaries {
		body := "#!/bin/sh\necho " + name + " version: 0.0.1\n"
		hdr := &tar.Header{Name: "bin/" + name, Mode: 0o755, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func main() {
	log := logger.Logger()

	archive, err := buildArchive("mongodump", "mongorestore")
	if err != nil {
		log.Fatalf("Failed to build archive fixture: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})}
	go srv.Serve(ln)
	defer srv.Close()

	workDir, err := os.MkdirTemp("", "tool-provisioner-integration-*")
	if err != nil {
		log.Fatalf("Failed to create work directory: %v", err)
	}
	defer os.RemoveAll(workDir)
	log.Infof("Work directory initialized at: %s", workDir)

	m := &manifest.Manifest{
		Tools: []manifest.ToolSpec{{
			Name:     "mongodb-database-tools",
			Method:   manifest.MethodArchiveDownload,
			Required: true,
			URL:      fmt.Sprintf("http://%s/tools.tar.gz", ln.Addr()),
			Binaries: []string{"mongodump", "mongorestore"},
			BinDir:   "bin",
		}},
		Env:    manifest.EnvConfig{Port: 8080},
		Digest: "sha256:integration",
	}

	e, err := engine.New(m, engine.Options{
		Root:             filepath.Join(workDir, "root"),
		CacheDir:         filepath.Join(workDir, "cache"),
		StateDir:         filepath.Join(workDir, "state"),
		TempDir:          filepath.Join(workDir, "tmp"),
		Workers:          2,
		DetectedCodename: "bookworm",
	})
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}

	rep, err := e.Run(context.Background())
	if err != nil {
		log.Fatalf("Provisioning failed: %v", err)
	}
	for _, res := range rep.Results {
		log.Infof("%s: %s (%s)", res.Tool, res.Status, res.Version)
	}
	log.Infof("Report persisted at: %s", filepath.Join(workDir, "state", "provisioning-report.json"))
}
