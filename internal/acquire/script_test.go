package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/proverr"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/network"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/shell"
)

func scriptServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testScriptInstaller(t *testing.T) *ScriptInstaller {
	t.Helper()
	fetcher := network.NewFetcher(0, 10*time.Millisecond, 5*time.Second)
	return NewScriptInstallerWithFetcher(t.TempDir(), fetcher)
}

func TestScriptInstall(t *testing.T) {
	srv := scriptServer(t, "#!/bin/bash\nexit 0\n")
	mock := shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "bash", Output: "installed"},
	})
	swapExecutor(t, mock)

	s := testScriptInstaller(t)
	spec := manifest.ToolSpec{
		Name:          "gcloud",
		Method:        manifest.MethodRemoteInstallScript,
		URL:           srv.URL + "/install.sh",
		InstallerArgs: []string{"--disable-prompts"},
	}
	if err := s.Install(context.Background(), spec); err != nil {
		t.Fatalf("Install: %v", err)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1: %v", len(calls), calls)
	}
	if !strings.Contains(calls[0], "--disable-prompts") {
		t.Errorf("script call missing args: %q", calls[0])
	}
	if !strings.Contains(calls[0], "DEBIAN_FRONTEND=noninteractive") {
		t.Errorf("script call should be non-interactive: %q", calls[0])
	}
}

func TestScriptInstallFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	s := testScriptInstaller(t)
	err := s.Install(context.Background(), manifest.ToolSpec{Name: "gcloud", URL: srv.URL + "/install.sh"})
	if !proverr.IsKind(err, proverr.KindDownload) {
		t.Fatalf("err = %v, want kind %s", err, proverr.KindDownload)
	}
}

func TestScriptInstallNonzeroExit(t *testing.T) {
	srv := scriptServer(t, "#!/bin/bash\nexit 1\n")
	mock := shell.NewMockExecutor([]shell.MockCommand{
		{Pattern: "bash", Output: "boom", Error: fmt.Errorf("exit status 1")},
	})
	swapExecutor(t, mock)

	s := testScriptInstaller(t)
	err := s.Install(context.Background(), manifest.ToolSpec{Name: "gcloud", URL: srv.URL + "/install.sh"})
	if !proverr.IsKind(err, proverr.KindInstall) {
		t.Fatalf("err = %v, want kind %s", err, proverr.KindInstall)
	}
}
