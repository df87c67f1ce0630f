// Package workspace persists named rasters, vector layers, attribute tables
// and run records.
package workspace

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/raster"
	"github.com/sells-group/suitability-cli/internal/vector"
)

// Sentinel errors.
var (
	ErrNotFound       = eris.New("workspace: artifact not found")
	ErrArtifactExists = eris.New("workspace: artifact already exists")
)

// Kind is the artifact type.
type Kind string

// Artifact kinds.
const (
	KindRaster Kind = "raster"
	KindVector Kind = "vector"
)

// Artifact is a listing entry for a stored layer.
type Artifact struct {
	Name      string    `json:"name" yaml:"name"`
	Kind      Kind      `json:"kind" yaml:"kind"`
	SRID      int       `json:"srid" yaml:"srid"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// RunStatus is the lifecycle state of a classification run.
type RunStatus string

// Run states.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the record of one classification run.
type Run struct {
	ID         string          `json:"id"`
	Status     RunStatus       `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Store defines the persistence interface of the workspace. Implementations
// are safe for concurrent use.
type Store interface {
	// Rasters. Saving a raster drops any attribute table attached to a
	// previous version of it.
	SaveRaster(ctx context.Context, r *raster.Raster) error
	LoadRaster(ctx context.Context, name string) (*raster.Raster, error)

	// SaveClassification writes a raster and its attribute table together;
	// neither is visible unless both are stored.
	SaveClassification(ctx context.Context, r *raster.Raster, t raster.AttributeTable) error

	// Attribute tables are replaced wholesale.
	SaveAttributeTable(ctx context.Context, t raster.AttributeTable) error
	LoadAttributeTable(ctx context.Context, rasterName string) (raster.AttributeTable, error)

	// Vector layers.
	SaveVectorLayer(ctx context.Context, l *vector.Layer) error
	LoadVectorLayer(ctx context.Context, name string) (*vector.Layer, error)

	ListArtifacts(ctx context.Context) ([]Artifact, error)

	// Runs
	CreateRun(ctx context.Context) (*Run, error)
	FinishRun(ctx context.Context, runID string, status RunStatus, summary json.RawMessage, errText string) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Options configures a store.
type Options struct {
	Driver      string
	DatabaseURL string
	// Overwrite allows saving over an existing artifact of the same name.
	Overwrite bool
	MaxConns  int32
	MinConns  int32
}

// Drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the store selected by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLite(opts.DatabaseURL, opts.Overwrite)
	case DriverPostgres:
		return NewPostgres(ctx, opts.DatabaseURL, opts)
	default:
		return nil, eris.Errorf("workspace: unknown driver %q", opts.Driver)
	}
}

const defaultRunLimit = 20
