package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/suitability-cli/internal/raster"
	"github.com/sells-group/suitability-cli/internal/vector"
)

func newMockStore(t *testing.T, overwrite bool) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresFromPool(mock, overwrite), mock
}

func TestPostgres_SaveRaster(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM landclass.attribute_rows").
		WithArgs("flag_soil").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO landclass.rasters").
		WithArgs("flag_soil", 500000.0, 300060.0, 30.0, 2, 1, 2180, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveRaster(context.Background(), testRaster(t, "flag_soil", 0, 1))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveRaster_NoOverwrite(t *testing.T) {
	s, mock := newMockStore(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM landclass.rasters").
		WithArgs("flag_soil").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	err := s.SaveRaster(context.Background(), testRaster(t, "flag_soil", 0))
	assert.True(t, errors.Is(err, ErrArtifactExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveRaster_NoOverwriteNew(t *testing.T) {
	s, mock := newMockStore(t, false)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM landclass.rasters").
		WithArgs("flag_soil").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("DELETE FROM landclass.attribute_rows").
		WithArgs("flag_soil").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO landclass.rasters").
		WithArgs("flag_soil", 500000.0, 300060.0, 30.0, 1, 1, 2180, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveRaster(context.Background(), testRaster(t, "flag_soil", 0)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadRaster(t *testing.T) {
	s, mock := newMockStore(t, true)

	data, err := raster.EncodeCells([]float64{1, raster.NoData})
	require.NoError(t, err)
	mock.ExpectQuery("SELECT min_x, max_y, cell_size, n_cols, n_rows, srid, data FROM landclass.rasters").
		WithArgs("reclass_slope").
		WillReturnRows(pgxmock.NewRows([]string{"min_x", "max_y", "cell_size", "n_cols", "n_rows", "srid", "data"}).
			AddRow(0.0, 30.0, 30.0, 2, 1, 2180, data))

	r, err := s.LoadRaster(context.Background(), "reclass_slope")
	require.NoError(t, err)
	assert.Equal(t, raster.Grid{MinX: 0, MaxY: 30, CellSize: 30, Cols: 2, Rows: 1, SRID: 2180}, r.Grid)
	assert.Equal(t, 1.0, r.Cells[0])
	assert.True(t, raster.IsNoData(r.Cells[1]))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadRaster_NotFound(t *testing.T) {
	s, mock := newMockStore(t, true)
	mock.ExpectQuery("FROM landclass.rasters").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadRaster(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveAttributeTable(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM landclass.rasters").
		WithArgs("final_classification").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("DELETE FROM landclass.attribute_rows").
		WithArgs("final_classification").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO landclass.attribute_rows").
		WithArgs("final_classification", 0, int64(5), "unclassified", "#aaaaaa").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO landclass.attribute_rows").
		WithArgs("final_classification", 4, int64(1), "built-up area", "#aa0000").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveAttributeTable(context.Background(), raster.AttributeTable{
		Raster: "final_classification",
		Rows: []raster.AttributeRow{
			{Value: 0, Count: 5, Description: "unclassified", Color: "#aaaaaa"},
			{Value: 4, Count: 1, Description: "built-up area", Color: "#aa0000"},
		},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveAttributeTable_MissingRaster(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM landclass.rasters").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.SaveAttributeTable(context.Background(), raster.AttributeTable{Raster: "nope"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveClassification(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM landclass.attribute_rows").
		WithArgs("final_classification").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO landclass.rasters").
		WithArgs("final_classification", 500000.0, 300060.0, 30.0, 2, 1, 2180, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO landclass.attribute_rows").
		WithArgs("final_classification", 0, int64(1), "unclassified", "#aaaaaa").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO landclass.attribute_rows").
		WithArgs("final_classification", 4, int64(1), "built-up area", "#aa0000").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SaveClassification(context.Background(), testRaster(t, "final_classification", 0, 4), raster.AttributeTable{
		Raster: "final_classification",
		Rows: []raster.AttributeRow{
			{Value: 0, Count: 1, Description: "unclassified", Color: "#aaaaaa"},
			{Value: 4, Count: 1, Description: "built-up area", Color: "#aa0000"},
		},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveClassification_RowFailsRollsBack(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM landclass.attribute_rows").
		WithArgs("final_classification").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO landclass.rasters").
		WithArgs("final_classification", 500000.0, 300060.0, 30.0, 1, 1, 2180, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO landclass.attribute_rows").
		WithArgs("final_classification", 4, int64(1), "built-up area", "#aa0000").
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	err := s.SaveClassification(context.Background(), testRaster(t, "final_classification", 4), raster.AttributeTable{
		Raster: "final_classification",
		Rows:   []raster.AttributeRow{{Value: 4, Count: 1, Description: "built-up area", Color: "#aa0000"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadAttributeTable(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectQuery("SELECT 1 FROM landclass.rasters").
		WithArgs("final_classification").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("SELECT value, count, description, color FROM landclass.attribute_rows").
		WithArgs("final_classification").
		WillReturnRows(pgxmock.NewRows([]string{"value", "count", "description", "color"}).
			AddRow(1, int64(10), "forest area (forest cover or steep slope)", "#00aa00").
			AddRow(3, int64(2), "developable area (low water table)", "#0000aa"))

	got, err := s.LoadAttributeTable(context.Background(), "final_classification")
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, int64(10), got.Rows[0].Count)
	assert.Equal(t, 3, got.Rows[1].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveVectorLayer(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM landclass.vector_features").
		WithArgs("gleby").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO landclass.vector_layers").
		WithArgs("gleby", 2180, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"landclass", "vector_features"}, featureColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.SaveVectorLayer(context.Background(), testLayer()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SaveVectorLayer_CopyFails(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM landclass.vector_features").
		WithArgs("gleby").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO landclass.vector_layers").
		WithArgs("gleby", 2180, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"landclass", "vector_features"}, featureColumns).
		WillReturnError(fmt.Errorf("disk full"))
	mock.ExpectRollback()

	err := s.SaveVectorLayer(context.Background(), testLayer())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadVectorLayer(t *testing.T) {
	s, mock := newMockStore(t, true)
	layer := testLayer()

	fields, err := encodeFields(layer.Fields)
	require.NoError(t, err)
	geomBytes, err := vector.EncodeEWKB(layer.Features[0].Geometry, 2180)
	require.NoError(t, err)
	attrs, err := encodeAttributes(layer.Features[0].Attributes)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT srid, fields FROM landclass.vector_layers").
		WithArgs("gleby").
		WillReturnRows(pgxmock.NewRows([]string{"srid", "fields"}).AddRow(2180, fields))
	mock.ExpectQuery("SELECT fid, geom, attributes FROM landclass.vector_features").
		WithArgs("gleby").
		WillReturnRows(pgxmock.NewRows([]string{"fid", "geom", "attributes"}).AddRow(int64(1), geomBytes, attrs))

	got, err := s.LoadVectorLayer(context.Background(), "gleby")
	require.NoError(t, err)
	assert.Equal(t, layer.Fields, got.Fields)
	require.Len(t, got.Features, 1)
	assert.Equal(t, layer.Features[0].Attributes, got.Features[0].Attributes)
	assert.Equal(t, layer.Features[0].Geometry, got.Features[0].Geometry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadVectorLayer_NotFound(t *testing.T) {
	s, mock := newMockStore(t, true)
	mock.ExpectQuery("FROM landclass.vector_layers").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadVectorLayer(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ListArtifacts(t *testing.T) {
	s, mock := newMockStore(t, true)
	now := time.Now().UTC()

	mock.ExpectQuery("UNION ALL").
		WillReturnRows(pgxmock.NewRows([]string{"name", "kind", "srid", "updated_at"}).
			AddRow("reclass_slope", "raster", 2180, now).
			AddRow("gleby", "vector", 2180, now))

	got, err := s.ListArtifacts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "gleby", got[0].Name)
	assert.Equal(t, KindVector, got[0].Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Runs(t *testing.T) {
	s, mock := newMockStore(t, true)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO landclass.runs").
		WithArgs(pgxmock.AnyArg(), "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	run, err := s.CreateRun(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)

	mock.ExpectExec("UPDATE landclass.runs").
		WithArgs("complete", pgxmock.AnyArg(), "", pgxmock.AnyArg(), run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.FinishRun(ctx, run.ID, RunStatusComplete, json.RawMessage(`{}`), ""))

	mock.ExpectExec("UPDATE landclass.runs").
		WithArgs("failed", pgxmock.AnyArg(), "x", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = s.FinishRun(ctx, "missing", RunStatusFailed, nil, "x")
	assert.True(t, errors.Is(err, ErrNotFound))

	started := time.Now().UTC()
	finished := started.Add(time.Second)
	mock.ExpectQuery("FROM landclass.runs").
		WithArgs(defaultRunLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "summary", "error", "started_at", "finished_at"}).
			AddRow(run.ID, "complete", []byte(`{"cells":4}`), "", started, &finished).
			AddRow("other", "running", []byte(nil), "", started, (*time.Time)(nil)))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunStatusComplete, runs[0].Status)
	assert.JSONEq(t, `{"cells":4}`, string(runs[0].Summary))
	require.NotNil(t, runs[0].FinishedAt)
	assert.Nil(t, runs[1].FinishedAt)
	assert.Nil(t, runs[1].Summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	s, mock := newMockStore(t, true)

	mock.ExpectExec("pg_advisory_lock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS landclass").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT filename FROM landclass.schema_migrations").
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_workspace.sql"))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS landclass.runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO landclass.schema_migrations").
		WithArgs("002_runs.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("pg_advisory_unlock").WithArgs(migrationLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Close(t *testing.T) {
	s, mock := newMockStore(t, true)
	// An injected pool belongs to the caller.
	assert.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
