package workspace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/suitability-cli/internal/raster"
	"github.com/sells-group/suitability-cli/internal/vector"
)

// SQLiteStore implements Store using modernc.org/sqlite. Vector geometries
// are stored as WKB.
type SQLiteStore struct {
	db        *sql.DB
	overwrite bool
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, overwrite bool) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, eris.New("sqlite: empty database path")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One writer at a time; concurrent criteria queue on the pool instead of
	// failing with SQLITE_BUSY on lock upgrade.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, overwrite: overwrite}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS rasters (
	name       TEXT PRIMARY KEY,
	min_x      REAL NOT NULL,
	max_y      REAL NOT NULL,
	cell_size  REAL NOT NULL,
	n_cols     INTEGER NOT NULL,
	n_rows     INTEGER NOT NULL,
	srid       INTEGER NOT NULL DEFAULT 0,
	data       BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS attribute_rows (
	raster      TEXT NOT NULL REFERENCES rasters(name) ON DELETE CASCADE,
	value       INTEGER NOT NULL,
	count       INTEGER NOT NULL,
	description TEXT NOT NULL CHECK (length(description) <= 100),
	color       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (raster, value)
);

CREATE TABLE IF NOT EXISTS vector_layers (
	name       TEXT PRIMARY KEY,
	srid       INTEGER NOT NULL DEFAULT 0,
	fields     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS vector_features (
	layer      TEXT NOT NULL REFERENCES vector_layers(name) ON DELETE CASCADE,
	fid        INTEGER NOT NULL,
	geom       BLOB NOT NULL,
	attributes TEXT NOT NULL,
	PRIMARY KEY (layer, fid)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// checkOverwrite fails with ErrArtifactExists when name is already stored in
// table and overwriting is disabled.
func (s *SQLiteStore) checkOverwrite(ctx context.Context, tx *sql.Tx, table, name string) error {
	if s.overwrite {
		return nil
	}
	var one int
	err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE name = ?`, table), name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check %s", name)
	}
	return eris.Wrapf(ErrArtifactExists, "sqlite: %s", name)
}

func (s *SQLiteStore) SaveRaster(ctx context.Context, r *raster.Raster) error {
	if err := validateRaster(r); err != nil {
		return err
	}
	data, err := raster.EncodeCells(r.Cells)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.putRaster(ctx, tx, r, data); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit raster")
}

// SaveClassification writes a raster and its attribute table in one
// transaction.
func (s *SQLiteStore) SaveClassification(ctx context.Context, r *raster.Raster, t raster.AttributeTable) error {
	if err := validateClassification(r, t); err != nil {
		return err
	}
	data, err := raster.EncodeCells(r.Cells)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.putRaster(ctx, tx, r, data); err != nil {
		return err
	}
	if err := putAttributeRows(ctx, tx, t); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit classification")
}

// putRaster upserts r inside tx and drops its old attribute table.
func (s *SQLiteStore) putRaster(ctx context.Context, tx *sql.Tx, r *raster.Raster, data []byte) error {
	if err := s.checkOverwrite(ctx, tx, "rasters", r.Name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM attribute_rows WHERE raster = ?`, r.Name); err != nil {
		return eris.Wrapf(err, "sqlite: drop attribute table %s", r.Name)
	}
	g := r.Grid
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rasters (name, min_x, max_y, cell_size, n_cols, n_rows, srid, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			min_x = excluded.min_x, max_y = excluded.max_y, cell_size = excluded.cell_size,
			n_cols = excluded.n_cols, n_rows = excluded.n_rows, srid = excluded.srid,
			data = excluded.data, updated_at = excluded.updated_at`,
		r.Name, g.MinX, g.MaxY, g.CellSize, g.Cols, g.Rows, g.SRID, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save raster %s", r.Name)
}

func (s *SQLiteStore) LoadRaster(ctx context.Context, name string) (*raster.Raster, error) {
	var g raster.Grid
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT min_x, max_y, cell_size, n_cols, n_rows, srid, data FROM rasters WHERE name = ?`, name,
	).Scan(&g.MinX, &g.MaxY, &g.CellSize, &g.Cols, &g.Rows, &g.SRID, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: raster %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load raster %s", name)
	}
	return decodeRaster(name, g, data)
}

func (s *SQLiteStore) SaveAttributeTable(ctx context.Context, t raster.AttributeTable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM rasters WHERE name = ?`, t.Raster).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: raster %s", t.Raster)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check raster %s", t.Raster)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attribute_rows WHERE raster = ?`, t.Raster); err != nil {
		return eris.Wrapf(err, "sqlite: drop attribute table %s", t.Raster)
	}
	if err := putAttributeRows(ctx, tx, t); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit attribute table")
}

func (s *SQLiteStore) LoadAttributeTable(ctx context.Context, rasterName string) (raster.AttributeTable, error) {
	t := raster.AttributeTable{Raster: rasterName}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rasters WHERE name = ?`, rasterName).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return t, eris.Wrapf(ErrNotFound, "sqlite: raster %s", rasterName)
	}
	if err != nil {
		return t, eris.Wrapf(err, "sqlite: check raster %s", rasterName)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT value, count, description, color FROM attribute_rows WHERE raster = ? ORDER BY value`, rasterName)
	if err != nil {
		return t, eris.Wrapf(err, "sqlite: load attribute table %s", rasterName)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var r raster.AttributeRow
		if err := rows.Scan(&r.Value, &r.Count, &r.Description, &r.Color); err != nil {
			return t, eris.Wrap(err, "sqlite: scan attribute row")
		}
		t.Rows = append(t.Rows, r)
	}
	return t, eris.Wrap(rows.Err(), "sqlite: iterate attribute rows")
}

func (s *SQLiteStore) SaveVectorLayer(ctx context.Context, l *vector.Layer) error {
	if l == nil || l.Name == "" {
		return eris.New("sqlite: vector layer has no name")
	}
	fields, err := encodeFields(l.Fields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.checkOverwrite(ctx, tx, "vector_layers", l.Name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vector_features WHERE layer = ?`, l.Name); err != nil {
		return eris.Wrapf(err, "sqlite: clear features %s", l.Name)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vector_layers (name, srid, fields, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET srid = excluded.srid, fields = excluded.fields, updated_at = excluded.updated_at`,
		l.Name, l.SRID, string(fields), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save vector layer %s", l.Name)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO vector_features (layer, fid, geom, attributes) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare feature insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range l.Features {
		f := &l.Features[i]
		wkb, err := vector.EncodeWKB(f.Geometry)
		if err != nil {
			return eris.Wrapf(err, "sqlite: encode feature %d", f.FID)
		}
		attrs, err := encodeAttributes(f.Attributes)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, l.Name, f.FID, wkb, string(attrs)); err != nil {
			return eris.Wrapf(err, "sqlite: insert feature %s/%d", l.Name, f.FID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit vector layer")
}

func (s *SQLiteStore) LoadVectorLayer(ctx context.Context, name string) (*vector.Layer, error) {
	l := &vector.Layer{Name: name}
	var fieldsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT srid, fields FROM vector_layers WHERE name = ?`, name).Scan(&l.SRID, &fieldsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: vector layer %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load vector layer %s", name)
	}
	if l.Fields, err = decodeFields([]byte(fieldsJSON)); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT fid, geom, attributes FROM vector_features WHERE layer = ? ORDER BY fid`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load features %s", name)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var f vector.Feature
		var wkb []byte
		var attrs string
		if err := rows.Scan(&f.FID, &wkb, &attrs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature")
		}
		if f.Geometry, err = vector.DecodeWKB(wkb); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode feature %d", f.FID)
		}
		if f.Attributes, err = decodeAttributes([]byte(attrs), l.Fields); err != nil {
			return nil, err
		}
		l.Features = append(l.Features, f)
	}
	return l, eris.Wrap(rows.Err(), "sqlite: iterate features")
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	var out []Artifact
	for _, q := range []struct {
		kind  Kind
		query string
	}{
		{KindRaster, `SELECT name, srid, updated_at FROM rasters`},
		{KindVector, `SELECT name, srid, updated_at FROM vector_layers`},
	} {
		rows, err := s.db.QueryContext(ctx, q.query)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: list %s artifacts", q.kind)
		}
		for rows.Next() {
			a := Artifact{Kind: q.kind}
			if err := rows.Scan(&a.Name, &a.SRID, &a.UpdatedAt); err != nil {
				rows.Close() //nolint:errcheck
				return nil, eris.Wrap(err, "sqlite: scan artifact")
			}
			out = append(out, a)
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: iterate artifacts")
		}
	}
	sortArtifacts(out)
	return out, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*Run, error) {
	run := &Run{ID: uuid.New().String(), Status: RunStatusRunning, StartedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status RunStatus, summary json.RawMessage, errText string) error {
	var summaryText sql.NullString
	if len(summary) > 0 {
		summaryText = sql.NullString{String: string(summary), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), summaryText, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, summary, error, started_at, finished_at FROM runs ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var r Run
		var summary sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Status, &summary, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if summary.Valid {
			r.Summary = json.RawMessage(summary.String)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func putAttributeRows(ctx context.Context, tx *sql.Tx, t raster.AttributeTable) error {
	for _, row := range t.Rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attribute_rows (raster, value, count, description, color) VALUES (?, ?, ?, ?, ?)`,
			t.Raster, row.Value, row.Count, raster.TruncateText(row.Description, raster.DescriptionMaxLen), row.Color,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert attribute row %s/%d", t.Raster, row.Value)
		}
	}
	return nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func validateRaster(r *raster.Raster) error {
	if r == nil || r.Name == "" {
		return eris.New("workspace: raster has no name")
	}
	if err := r.Grid.Validate(); err != nil {
		return eris.Wrapf(err, "workspace: raster %s", r.Name)
	}
	if len(r.Cells) != r.Grid.Len() {
		return eris.Wrapf(raster.ErrInvalidGrid, "workspace: raster %s has %d cells, grid wants %d", r.Name, len(r.Cells), r.Grid.Len())
	}
	return nil
}

// validateClassification checks that t belongs to r.
func validateClassification(r *raster.Raster, t raster.AttributeTable) error {
	if err := validateRaster(r); err != nil {
		return err
	}
	if t.Raster != r.Name {
		return eris.Errorf("workspace: attribute table for %q attached to raster %q", t.Raster, r.Name)
	}
	return nil
}

func decodeRaster(name string, g raster.Grid, data []byte) (*raster.Raster, error) {
	cells, err := raster.DecodeCells(data, g.Len())
	if err != nil {
		return nil, eris.Wrapf(err, "workspace: decode raster %s", name)
	}
	return &raster.Raster{Name: name, Grid: g, Cells: cells}, nil
}

func sortArtifacts(a []Artifact) {
	sort.Slice(a, func(i, j int) bool {
		if a[i].Name != a[j].Name {
			return a[i].Name < a[j].Name
		}
		return a[i].Kind < a[j].Kind
	})
}
