// Package health serves the runtime check endpoints: /health for liveness
// and /check-tools to re-verify every provisioned tool on demand.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/edge-platform-tools/tool-provisioner/internal/linkage"
	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/verify"
)

var log = logger.Logger()

// Server re-verifies the manifest's tools over HTTP.
type Server struct {
	m    *manifest.Manifest
	root string
}

func NewServer(m *manifest.Manifest, root string) *Server {
	return &Server{m: m, root: root}
}

// ToolStatus is one tool's entry in the /check-tools response.
type ToolStatus struct {
	Tool     string            `json:"tool"`
	Required bool              `json:"required"`
	OK       bool              `json:"ok"`
	Version  string            `json:"version,omitempty"`
	Paths    map[string]string `json:"paths,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// CheckResponse is the /check-tools response body.
type CheckResponse struct {
	OK    bool         `json:"ok"`
	Tools []ToolStatus `json:"tools"`
}

// Check verifies every tool and reports overall health. Overall OK is false
// only when a required tool fails, mirroring the provisioning run's success
// rule.
func (s *Server) Check() CheckResponse {
	v := verify.New(s.root, linkage.ContractFromManifest(s.m).PathSegments())
	resp := CheckResponse{OK: true}
	for _, spec := range s.m.Tools {
		st := ToolStatus{Tool: spec.Name, Required: spec.Required}
		res, err := v.Verify(spec)
		if err != nil {
			st.Error = err.Error()
			if spec.Required {
				resp.OK = false
			}
		} else {
			st.OK = true
			st.Version = res.Version
			st.Paths = res.Binaries
		}
		resp.Tools = append(resp.Tools, st)
	}
	return resp
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/check-tools", func(w http.ResponseWriter, r *http.Request) {
		resp := s.Check()
		w.Header().Set("Content-Type", "application/json")
		if !resp.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})
	return mux
}

// Port picks the listen port: the PORT environment variable wins, then the
// manifest's env contract, then the default.
func (s *Server) Port() int {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			return p
		}
		log.Warnf("ignoring invalid PORT value %q", v)
	}
	if s.m.Env.Port > 0 {
		return s.m.Env.Port
	}
	return manifest.DefaultPort
}

// Serve listens until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.Port())
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("health server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("health server: %w", err)
	}
}
