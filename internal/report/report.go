// Package report records what a provisioning run did, per tool and overall,
// and persists it so later runs and operators can inspect the outcome.
package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/edge-platform-tools/tool-provisioner/internal/utils/file"
)

// Tool outcome statuses.
const (
	StatusInstalled = "installed"
	StatusSkipped   = "skipped" // already satisfied, nothing mutated
	StatusFailed    = "failed"
	StatusWarning   = "warning" // optional tool failed, run still succeeds
)

// InstallResult is the per-tool record of a provisioning run.
type InstallResult struct {
	Tool             string            `json:"tool"`
	Required         bool              `json:"required"`
	Status           string            `json:"status"`
	Method           string            `json:"method"`
	ResolvedCodename string            `json:"resolved_codename,omitempty"`
	Paths            map[string]string `json:"paths,omitempty"` // binary -> resolved path
	Version          string            `json:"version,omitempty"`
	Error            string            `json:"error,omitempty"`
	Duration         time.Duration     `json:"duration_ns"`
}

// ProvisioningReport aggregates one run.
type ProvisioningReport struct {
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
	ManifestDigest string          `json:"manifest_digest"`
	Results        []InstallResult `json:"results"`
	// Success is false only when a required tool failed. Optional tool
	// failures are recorded but do not fail the run.
	Success bool `json:"success"`
}

// New starts a report for the given manifest digest.
func New(manifestDigest string) *ProvisioningReport {
	return &ProvisioningReport{
		StartedAt:      time.Now().UTC(),
		ManifestDigest: manifestDigest,
	}
}

// Add appends one tool's result.
func (r *ProvisioningReport) Add(res InstallResult) {
	r.Results = append(r.Results, res)
}

// Finish stamps the end time and computes overall success.
func (r *ProvisioningReport) Finish() {
	r.FinishedAt = time.Now().UTC()
	r.Success = true
	for _, res := range r.Results {
		if res.Status == StatusFailed && res.Required {
			r.Success = false
			return
		}
	}
}

// Result returns the record for a tool, or nil when the run never reached it.
func (r *ProvisioningReport) Result(tool string) *InstallResult {
	for i := range r.Results {
		if r.Results[i].Tool == tool {
			return &r.Results[i]
		}
	}
	return nil
}

// Path returns where the report is persisted under a state directory.
func Path(stateDir string) string {
	return filepath.Join(stateDir, "provisioning-report.json")
}

// Save persists the report as indented JSON under the state directory.
func (r *ProvisioningReport) Save(stateDir string) error {
	if err := file.WriteJSON(Path(stateDir), r, 2); err != nil {
		return fmt.Errorf("saving provisioning report: %w", err)
	}
	return nil
}

// Load reads a previously saved report.
func Load(stateDir string) (*ProvisioningReport, error) {
	var r ProvisioningReport
	if err := file.ReadJSON(Path(stateDir), &r); err != nil {
		return nil, fmt.Errorf("loading provisioning report: %w", err)
	}
	return &r, nil
}
