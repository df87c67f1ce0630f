package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/suitability-cli/internal/db"
	"github.com/sells-group/suitability-cli/internal/raster"
	"github.com/sells-group/suitability-cli/internal/vector"
)

// PostgresStore implements Store using pgxpool. Tables live in the landclass
// schema; vector geometries are stored as EWKB.
type PostgresStore struct {
	pool      db.Pool
	closeFn   func()
	overwrite bool
}

var featureColumns = []string{"layer", "fid", "geom", "attributes"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, opts Options) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if opts.MaxConns > 0 {
		maxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		minConns = opts.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, overwrite: opts.Overwrite}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool, overwrite bool) *PostgresStore {
	return &PostgresStore{pool: pool, overwrite: overwrite}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) checkOverwrite(ctx context.Context, tx pgx.Tx, query, name string) error {
	if s.overwrite {
		return nil
	}
	var one int
	err := tx.QueryRow(ctx, query, name).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check %s", name)
	}
	return eris.Wrapf(ErrArtifactExists, "postgres: %s", name)
}

func (s *PostgresStore) SaveRaster(ctx context.Context, r *raster.Raster) error {
	if err := validateRaster(r); err != nil {
		return err
	}
	data, err := raster.EncodeCells(r.Cells)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.putRaster(ctx, tx, r, data); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit raster")
	}
	return nil
}

// SaveClassification writes a raster and its attribute table in one
// transaction.
func (s *PostgresStore) SaveClassification(ctx context.Context, r *raster.Raster, t raster.AttributeTable) error {
	if err := validateClassification(r, t); err != nil {
		return err
	}
	data, err := raster.EncodeCells(r.Cells)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.putRaster(ctx, tx, r, data); err != nil {
		return err
	}
	if err := putAttributeRowsPG(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit classification")
	}
	return nil
}

// putRaster upserts r inside tx and drops its old attribute table.
func (s *PostgresStore) putRaster(ctx context.Context, tx pgx.Tx, r *raster.Raster, data []byte) error {
	if err := s.checkOverwrite(ctx, tx, `SELECT 1 FROM landclass.rasters WHERE name = $1`, r.Name); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM landclass.attribute_rows WHERE raster = $1`, r.Name); err != nil {
		return eris.Wrapf(err, "postgres: drop attribute table %s", r.Name)
	}
	g := r.Grid
	_, err := tx.Exec(ctx, `
		INSERT INTO landclass.rasters (name, min_x, max_y, cell_size, n_cols, n_rows, srid, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (name) DO UPDATE SET
			min_x = EXCLUDED.min_x, max_y = EXCLUDED.max_y, cell_size = EXCLUDED.cell_size,
			n_cols = EXCLUDED.n_cols, n_rows = EXCLUDED.n_rows, srid = EXCLUDED.srid,
			data = EXCLUDED.data, updated_at = now()`,
		r.Name, g.MinX, g.MaxY, g.CellSize, g.Cols, g.Rows, g.SRID, data,
	)
	return eris.Wrapf(err, "postgres: save raster %s", r.Name)
}

func putAttributeRowsPG(ctx context.Context, tx pgx.Tx, t raster.AttributeTable) error {
	for _, row := range t.Rows {
		_, err := tx.Exec(ctx,
			`INSERT INTO landclass.attribute_rows (raster, value, count, description, color) VALUES ($1, $2, $3, $4, $5)`,
			t.Raster, row.Value, row.Count, raster.TruncateText(row.Description, raster.DescriptionMaxLen), row.Color,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert attribute row %s/%d", t.Raster, row.Value)
		}
	}
	return nil
}

func (s *PostgresStore) LoadRaster(ctx context.Context, name string) (*raster.Raster, error) {
	var g raster.Grid
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT min_x, max_y, cell_size, n_cols, n_rows, srid, data FROM landclass.rasters WHERE name = $1`, name,
	).Scan(&g.MinX, &g.MaxY, &g.CellSize, &g.Cols, &g.Rows, &g.SRID, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: raster %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load raster %s", name)
	}
	return decodeRaster(name, g, data)
}

func (s *PostgresStore) SaveAttributeTable(ctx context.Context, t raster.AttributeTable) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM landclass.rasters WHERE name = $1`, t.Raster).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: raster %s", t.Raster)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check raster %s", t.Raster)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM landclass.attribute_rows WHERE raster = $1`, t.Raster); err != nil {
		return eris.Wrapf(err, "postgres: drop attribute table %s", t.Raster)
	}
	if err := putAttributeRowsPG(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit attribute table")
	}
	return nil
}

func (s *PostgresStore) LoadAttributeTable(ctx context.Context, rasterName string) (raster.AttributeTable, error) {
	t := raster.AttributeTable{Raster: rasterName}
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM landclass.rasters WHERE name = $1`, rasterName).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, eris.Wrapf(ErrNotFound, "postgres: raster %s", rasterName)
	}
	if err != nil {
		return t, eris.Wrapf(err, "postgres: check raster %s", rasterName)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT value, count, description, color FROM landclass.attribute_rows WHERE raster = $1 ORDER BY value`, rasterName)
	if err != nil {
		return t, eris.Wrapf(err, "postgres: load attribute table %s", rasterName)
	}
	defer rows.Close()

	for rows.Next() {
		var r raster.AttributeRow
		if err := rows.Scan(&r.Value, &r.Count, &r.Description, &r.Color); err != nil {
			return t, eris.Wrap(err, "postgres: scan attribute row")
		}
		t.Rows = append(t.Rows, r)
	}
	return t, eris.Wrap(rows.Err(), "postgres: iterate attribute rows")
}

func (s *PostgresStore) SaveVectorLayer(ctx context.Context, l *vector.Layer) error {
	if l == nil || l.Name == "" {
		return eris.New("postgres: vector layer has no name")
	}
	fields, err := encodeFields(l.Fields)
	if err != nil {
		return err
	}
	rows := make([][]any, 0, len(l.Features))
	for i := range l.Features {
		f := &l.Features[i]
		ewkb, err := vector.EncodeEWKB(f.Geometry, l.SRID)
		if err != nil {
			return eris.Wrapf(err, "postgres: encode feature %d", f.FID)
		}
		attrs, err := encodeAttributes(f.Attributes)
		if err != nil {
			return err
		}
		rows = append(rows, []any{l.Name, f.FID, ewkb, attrs})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := s.checkOverwrite(ctx, tx, `SELECT 1 FROM landclass.vector_layers WHERE name = $1`, l.Name); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM landclass.vector_features WHERE layer = $1`, l.Name); err != nil {
		return eris.Wrapf(err, "postgres: clear features %s", l.Name)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO landclass.vector_layers (name, srid, fields, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE SET srid = EXCLUDED.srid, fields = EXCLUDED.fields, updated_at = now()`,
		l.Name, l.SRID, fields,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save vector layer %s", l.Name)
	}
	if _, err := db.CopyFrom(ctx, tx, "landclass.vector_features", featureColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: copy features %s", l.Name)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit vector layer")
	}
	return nil
}

func (s *PostgresStore) LoadVectorLayer(ctx context.Context, name string) (*vector.Layer, error) {
	l := &vector.Layer{Name: name}
	var fieldsJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT srid, fields FROM landclass.vector_layers WHERE name = $1`, name).Scan(&l.SRID, &fieldsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: vector layer %s", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load vector layer %s", name)
	}
	if l.Fields, err = decodeFields(fieldsJSON); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT fid, geom, attributes FROM landclass.vector_features WHERE layer = $1 ORDER BY fid`, name)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load features %s", name)
	}
	defer rows.Close()

	for rows.Next() {
		var f vector.Feature
		var ewkb, attrs []byte
		if err := rows.Scan(&f.FID, &ewkb, &attrs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature")
		}
		if f.Geometry, _, err = vector.DecodeEWKB(ewkb); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode feature %d", f.FID)
		}
		if f.Attributes, err = decodeAttributes(attrs, l.Fields); err != nil {
			return nil, err
		}
		l.Features = append(l.Features, f)
	}
	return l, eris.Wrap(rows.Err(), "postgres: iterate features")
}

func (s *PostgresStore) ListArtifacts(ctx context.Context) ([]Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT name, 'raster' AS kind, srid, updated_at FROM landclass.rasters
		UNION ALL
		SELECT name, 'vector' AS kind, srid, updated_at FROM landclass.vector_layers`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var kind string
		if err := rows.Scan(&a.Name, &kind, &a.SRID, &a.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		a.Kind = Kind(kind)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate artifacts")
	}
	sortArtifacts(out)
	return out, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*Run, error) {
	run := &Run{ID: uuid.New().String(), Status: RunStatusRunning, StartedAt: time.Now().UTC()}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO landclass.runs (id, status, started_at) VALUES ($1, $2, $3)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status RunStatus, summary json.RawMessage, errText string) error {
	var summaryArg []byte
	if len(summary) > 0 {
		summaryArg = summary
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE landclass.runs SET status = $1, summary = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), summaryArg, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, summary, error, started_at, finished_at FROM landclass.runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		var summary []byte
		if err := rows.Scan(&r.ID, &status, &summary, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = RunStatus(status)
		if len(summary) > 0 {
			r.Summary = json.RawMessage(summary)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}
