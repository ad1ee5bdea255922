// Package verify proves that provisioned tools are actually usable: every
// declared binary must resolve, be executable and answer --version.
package verify

import (
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/edge-platform-tools/tool-provisioner/internal/manifest"
	"github.com/edge-platform-tools/tool-provisioner/internal/proverr"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/file"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/shell"
)

var log = logger.Logger()

// Verifier resolves binaries the way the runtime image will: the canonical
// bin directory first, then the environment contract's PATH segments. Both
// live under the target root. The build host's own PATH only counts when the
// live root is being provisioned; a binary that exists on the host but not
// under a staged root is not provisioned.
type Verifier struct {
	root       string
	extraPaths []string // image-absolute contract PATH segments
}

func New(root string, extraPaths []string) *Verifier {
	return &Verifier{root: root, extraPaths: extraPaths}
}

// Result describes one verified tool.
type Result struct {
	// Binaries maps each declared binary to the path it resolved at.
	Binaries map[string]string
	// Version is the first line the tool's first binary printed for
	// --version.
	Version string
}

// ResolveBinary finds a binary by the runtime image's resolution order.
func (v *Verifier) ResolveBinary(name string) (string, bool) {
	candidates := append([]string{"/usr/local/bin"}, v.extraPaths...)
	for _, dir := range candidates {
		p := filepath.Join(v.root, dir, name)
		if file.IsExecutable(p) {
			return p, true
		}
	}
	// A staged root must not be satisfied by build-host binaries.
	if v.liveRoot() {
		if p, err := exec.LookPath(name); err == nil {
			return p, true
		}
	}
	return "", false
}

func (v *Verifier) liveRoot() bool {
	return v.root == "" || v.root == "/"
}

// Satisfied reports whether every binary the spec declares already resolves.
// Used as the pre-install check that makes re-provisioning skip work.
func (v *Verifier) Satisfied(spec manifest.ToolSpec) bool {
	for _, bin := range spec.Binaries {
		if _, ok := v.ResolveBinary(bin); !ok {
			return false
		}
	}
	return true
}

// Verify resolves and exercises every binary the spec declares. A binary that
// does not resolve, is not executable or exits nonzero for --version fails
// verification.
func (v *Verifier) Verify(spec manifest.ToolSpec) (*Result, error) {
	res := &Result{Binaries: make(map[string]string, len(spec.Binaries))}
	for i, bin := range spec.Binaries {
		path, ok := v.ResolveBinary(bin)
		if !ok {
			return nil, proverr.Newf(spec.Name, proverr.StepVerify, proverr.KindVerification,
				"binary %s not found in the canonical bin dir or contract PATH", bin)
		}

		out, err := shell.ExecCmd(path+" --version", nil)
		if err != nil {
			return nil, proverr.Newf(spec.Name, proverr.StepVerify, proverr.KindVerification,
				"%s --version failed: %v", path, err)
		}
		res.Binaries[bin] = path
		if i == 0 {
			res.Version = firstLine(out)
		}
		log.Debugf("verified %s at %s", bin, path)
	}
	return res, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}
