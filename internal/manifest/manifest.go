// Package manifest defines the declarative description of the external CLI
// tools a build must install, and loads it from YAML.
package manifest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edge-platform-tools/tool-provisioner/internal/utils/security"
	"github.com/edge-platform-tools/tool-provisioner/internal/validate"
	"gopkg.in/yaml.v3"
)

// Acquisition methods a ToolSpec may declare.
const (
	MethodPackageRepository   = "package-repository"
	MethodArchiveDownload     = "archive-download"
	MethodRemoteInstallScript = "remote-install-script"
)

// RepoSource describes a third-party package repository a tool installs from.
// Two tools may share one source by ID; registration then happens once.
type RepoSource struct {
	ID        string `yaml:"id"`
	URL       string `yaml:"url"`
	Suite     string `yaml:"suite,omitempty"`     // fixed suite; empty means use the resolved host codename
	Component string `yaml:"component,omitempty"` // defaults to "main"
	KeyURL    string `yaml:"key_url"`
}

// ToolSpec declares one external tool dependency.
type ToolSpec struct {
	Name             string      `yaml:"name"`
	Method           string      `yaml:"method"`
	Required         bool        `yaml:"required,omitempty"`
	Version          string      `yaml:"version,omitempty"`
	Package          string      `yaml:"package,omitempty"`
	URL              string      `yaml:"url,omitempty"`
	Checksum         string      `yaml:"checksum,omitempty"` // "algo:hex", algo in sha256|blake3|md5
	Binaries         []string    `yaml:"binaries"`
	BinDir           string      `yaml:"bin_dir,omitempty"`
	Installer        string      `yaml:"installer,omitempty"`
	InstallerArgs    []string    `yaml:"installer_args,omitempty"`
	CodenameOverride string      `yaml:"codename_override,omitempty"`
	Repo             *RepoSource `yaml:"repo,omitempty"`
}

// Fallback maps one (tool, detected codename) pair to the codename the tool's
// upstream repository actually publishes for.
type Fallback struct {
	Tool     string `yaml:"tool"`
	Codename string `yaml:"codename"`
	Use      string `yaml:"use"`
}

// EnvConfig is the environment contract shared with the application.
type EnvConfig struct {
	Port int      `yaml:"port,omitempty"` // default 8080
	Path []string `yaml:"path,omitempty"` // extra PATH segments for the runtime image
}

// Manifest is the full declarative input to a provisioning run.
type Manifest struct {
	Tools     []ToolSpec `yaml:"tools"`
	Fallbacks []Fallback `yaml:"fallbacks,omitempty"`
	Env       EnvConfig  `yaml:"env,omitempty"`

	// Digest identifies the manifest content a report was produced from.
	Digest string `yaml:"-"`
}

// DefaultPort is the listen port handed to the application when the manifest
// does not override it.
const DefaultPort = 8080

// Load reads, schema-validates and defaults a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := security.SafeReadFile(path, security.RejectSymlinks)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Manifest from raw YAML bytes.
func Parse(data []byte) (*Manifest, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manifest YAML: %w", err)
	}
	jsonData, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("converting manifest to JSON for validation: %w", err)
	}
	if err := validate.ValidateManifestJSON(jsonData); err != nil {
		return nil, fmt.Errorf("manifest schema validation: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	m.applyDefaults()
	if err := m.Check(); err != nil {
		return nil, err
	}

	m.Digest = fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Env.Port == 0 {
		m.Env.Port = DefaultPort
	}
	for i := range m.Tools {
		if m.Tools[i].Repo != nil && m.Tools[i].Repo.Component == "" {
			m.Tools[i].Repo.Component = "main"
		}
		if m.Tools[i].Method == MethodPackageRepository && m.Tools[i].Package == "" {
			m.Tools[i].Package = m.Tools[i].Name
		}
	}
}

// Check performs the semantic validation the JSON schema cannot express.
func (m *Manifest) Check() error {
	seen := make(map[string]struct{}, len(m.Tools))
	repoURLs := make(map[string]string)

	for _, t := range m.Tools {
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate tool name %q", t.Name)
		}
		seen[t.Name] = struct{}{}

		switch t.Method {
		case MethodPackageRepository:
			if t.URL != "" {
				return fmt.Errorf("tool %q: url is not used by the %s method", t.Name, t.Method)
			}
		case MethodArchiveDownload, MethodRemoteInstallScript:
			if t.URL == "" {
				return fmt.Errorf("tool %q: the %s method requires url", t.Name, t.Method)
			}
			if t.Repo != nil {
				return fmt.Errorf("tool %q: repo is only valid for the %s method", t.Name, MethodPackageRepository)
			}
			// Scripts install no /opt payload a relative bin_dir could
			// anchor to.
			if t.Method == MethodRemoteInstallScript && t.BinDir != "" && !strings.HasPrefix(t.BinDir, "/") {
				return fmt.Errorf("tool %q: the %s method requires an absolute bin_dir, got %q", t.Name, t.Method, t.BinDir)
			}
		default:
			return fmt.Errorf("tool %q: unknown acquisition method %q", t.Name, t.Method)
		}

		if t.Repo != nil {
			if prev, ok := repoURLs[t.Repo.ID]; ok && prev != t.Repo.URL {
				return fmt.Errorf("repo id %q declared with conflicting URLs (%s vs %s)", t.Repo.ID, prev, t.Repo.URL)
			}
			repoURLs[t.Repo.ID] = t.Repo.URL
		}
	}

	for _, f := range m.Fallbacks {
		if _, ok := seen[f.Tool]; !ok {
			return fmt.Errorf("fallback references unknown tool %q", f.Tool)
		}
	}

	return nil
}

// FallbackFor returns the override codename for (tool, detected), or detected
// unchanged when no entry exists. Total by construction.
func (m *Manifest) FallbackFor(tool, detected string) string {
	for _, f := range m.Fallbacks {
		if f.Tool == tool && f.Codename == detected {
			return f.Use
		}
	}
	return detected
}

// RepoSources returns the distinct repository sources in declaration order.
func (m *Manifest) RepoSources() []RepoSource {
	var out []RepoSource
	seen := make(map[string]struct{})
	for _, t := range m.Tools {
		if t.Repo == nil {
			continue
		}
		if _, ok := seen[t.Repo.ID]; ok {
			continue
		}
		seen[t.Repo.ID] = struct{}{}
		out = append(out, *t.Repo)
	}
	return out
}

// normalizeYAML converts map[interface{}]interface{} trees (yaml.v3 only
// produces these for non-string keys, but stay defensive for nested docs)
// into map[string]interface{} so encoding/json accepts them.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}

// String gives a compact one-line summary for logs.
func (t ToolSpec) String() string {
	req := "optional"
	if t.Required {
		req = "required"
	}
	return fmt.Sprintf("%s (%s, %s, binaries: %s)", t.Name, t.Method, req, strings.Join(t.Binaries, ","))
}
