package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/edge-platform-tools/tool-provisioner/internal/utils/logger"
	"github.com/edge-platform-tools/tool-provisioner/internal/utils/security"
	"github.com/edge-platform-tools/tool-provisioner/internal/validate"
	"gopkg.in/yaml.v3"
)

var log = logger.Logger()

// GlobalConfig holds tool-level configuration that applies across runs.
type GlobalConfig struct {
	Workers     int    `yaml:"workers" json:"workers"`                             // Concurrent install workers for independent tools (1-100, default: 4)
	InstallRoot string `yaml:"install_root,omitempty" json:"install_root,omitempty"` // Filesystem root tools are provisioned into (default: /)
	CacheDir    string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`     // Downloaded-archive cache (default: ./cache)
	StateDir    string `yaml:"state_dir,omitempty" json:"state_dir,omitempty"`     // Persisted provisioning report location (default: ./state)
	TempDir     string `yaml:"temp_dir,omitempty" json:"temp_dir,omitempty"`       // Short-lived files such as fetched signing keys (default: system temp)

	Download DownloadConfig `yaml:"download,omitempty" json:"download,omitempty"` // Transfer retry policy
	Logging  LoggingConfig  `yaml:"logging,omitempty" json:"logging,omitempty"`   // Logging behavior settings
}

// DownloadConfig bounds archive and key transfers. The observed build recipes
// had no retry at all; the defaults here are deliberately small.
type DownloadConfig struct {
	Retries   int `yaml:"retries" json:"retries"`       // attempts after the first failure (default: 3)
	BackoffMS int `yaml:"backoff_ms" json:"backoff_ms"` // initial backoff, doubled per retry (default: 500)
	TimeoutS  int `yaml:"timeout_s" json:"timeout_s"`   // per-attempt transfer timeout (default: 600)
}

// LoggingConfig controls basic logging behavior
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

var (
	globalInstance *GlobalConfig
	globalMutex    sync.RWMutex
	once           sync.Once
)

// SetGlobal sets the global config instance (call once at startup in main.go)
func SetGlobal(config *GlobalConfig) {
	globalMutex.Lock()
	defer globalMutex.Unlock()
	globalInstance = config
}

// Global returns the global config instance
func Global() *GlobalConfig {
	once.Do(func() {
		globalMutex.Lock()
		defer globalMutex.Unlock()
		if globalInstance == nil {
			globalInstance = DefaultGlobalConfig()
		}
	})

	globalMutex.RLock()
	defer globalMutex.RUnlock()
	return globalInstance
}

// DefaultGlobalConfig returns a GlobalConfig with sensible defaults
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Workers:     4,
		InstallRoot: "/",
		CacheDir:    "./cache",
		StateDir:    "./state",
		TempDir:     "",

		Download: DownloadConfig{
			Retries:   3,
			BackoffMS: 500,
			TimeoutS:  600,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// FindConfigFile looks for a config file in conventional locations.
func FindConfigFile() string {
	candidates := []string{
		"./tool-provisioner.yml",
		"./tool-provisioner.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "tool-provisioner", "config.yml"))
	}
	candidates = append(candidates, "/etc/tool-provisioner/config.yml")

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c
		}
	}
	return ""
}

// LoadGlobalConfig loads configuration from the specified path, falling back
// to defaults when no file is given or present.
func LoadGlobalConfig(configPath string) (*GlobalConfig, error) {
	config := DefaultGlobalConfig()

	if configPath == "" {
		return config, nil
	}

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		if errors.Is(err, os.ErrPermission) {
			log.Warnf("Config file %s is not accessible (%v); using defaults", configPath, err)
			return config, nil
		}
		return nil, fmt.Errorf("accessing config file %s: %w", configPath, err)
	}

	data, err := security.SafeReadFile(configPath, security.RejectSymlinks)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}

		jsonData, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("converting config to JSON for validation: %w", err)
		}
		if err := validate.ValidateConfigJSON(jsonData); err != nil {
			return nil, fmt.Errorf("schema validation failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml)", ext)
	}

	return config, nil
}

// SaveGlobalConfig validates and writes the configuration to configPath.
func (gc *GlobalConfig) SaveGlobalConfig(configPath string) error {
	if configPath == "" {
		return fmt.Errorf("config path is empty")
	}

	dir := filepath.Dir(configPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	jsonData, err := json.Marshal(gc)
	if err != nil {
		return fmt.Errorf("converting config to JSON for validation: %w", err)
	}
	if err := validate.ValidateConfigJSON(jsonData); err != nil {
		return fmt.Errorf("config validation failed before save: %w", err)
	}

	data, err := yaml.Marshal(gc)
	if err != nil {
		return fmt.Errorf("marshaling config to YAML: %w", err)
	}

	if err := security.SafeWriteFile(configPath, data, 0o600, security.RejectSymlinks); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ----- accessors used throughout the pipeline -----

// Workers returns the configured worker count, floored at 1.
func Workers() int {
	w := Global().Workers
	if w < 1 {
		return 1
	}
	return w
}

// InstallRoot returns the filesystem root being provisioned.
func InstallRoot() string {
	root := Global().InstallRoot
	if root == "" {
		return "/"
	}
	return root
}

// CacheDir returns the archive cache directory as an absolute path.
func CacheDir() (string, error) {
	return filepath.Abs(Global().CacheDir)
}

// StateDir returns the report state directory as an absolute path.
func StateDir() (string, error) {
	return filepath.Abs(Global().StateDir)
}

// TempDir returns the temp directory, defaulting to the system temp dir.
func TempDir() string {
	if t := Global().TempDir; t != "" {
		return t
	}
	return os.TempDir()
}

// DownloadRetries returns the retry budget after the first failed transfer.
func DownloadRetries() int {
	r := Global().Download.Retries
	if r < 0 {
		return 0
	}
	return r
}

// DownloadBackoff returns the initial retry backoff.
func DownloadBackoff() time.Duration {
	ms := Global().Download.BackoffMS
	if ms <= 0 {
		ms = 500
	}
	return time.Duration(ms) * time.Millisecond
}

// DownloadTimeout returns the per-attempt transfer timeout.
func DownloadTimeout() time.Duration {
	s := Global().Download.TimeoutS
	if s <= 0 {
		s = 600
	}
	return time.Duration(s) * time.Second
}
