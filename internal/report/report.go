// Package report renders run summaries and attribute tables.
package report

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/suitability-cli/internal/raster"
)

// PhaseStatus is the outcome of one pipeline phase.
type PhaseStatus string

// Phase states.
const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// Phase records one pipeline phase.
type Phase struct {
	Name     string         `json:"name" yaml:"name"`
	Status   PhaseStatus    `json:"status" yaml:"status"`
	Duration int64          `json:"duration_ms" yaml:"duration_ms"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// RunReport summarises a classification run.
type RunReport struct {
	RunID      string                `json:"run_id" yaml:"run_id"`
	Status     string                `json:"status" yaml:"status"`
	StartedAt  time.Time             `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time             `json:"finished_at" yaml:"finished_at"`
	SRID       int                   `json:"srid" yaml:"srid"`
	Grid       raster.Grid           `json:"grid" yaml:"grid"`
	Phases     []Phase               `json:"phases" yaml:"phases"`
	Artifacts  []string              `json:"artifacts" yaml:"artifacts"`
	Classes    raster.AttributeTable `json:"classes" yaml:"classes"`
	Error      string                `json:"error,omitempty" yaml:"error,omitempty"`
}

// Phase returns the named phase, if recorded.
func (r *RunReport) Phase(name string) (Phase, bool) {
	for _, p := range r.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// WriteYAML encodes the report as YAML.
func WriteYAML(w io.Writer, r *RunReport) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return eris.Wrap(err, "report: encode yaml")
	}
	return eris.Wrap(enc.Close(), "report: close yaml encoder")
}

// WriteYAMLFile writes the report to path, creating parent directories.
func WriteYAMLFile(path string, r *RunReport) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := WriteYAML(f, r); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}

// ReadYAMLFile loads a report written by WriteYAMLFile.
func ReadYAMLFile(path string) (*RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "report: read %s", path)
	}
	var r RunReport
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrapf(err, "report: decode %s", path)
	}
	return &r, nil
}
