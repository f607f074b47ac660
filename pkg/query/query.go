// Package query runs SQL over a finished job output with DuckDB. Every
// output format is exposed through the same two relations: hAnl for the
// dataset and hStatAnl for the cut histogram.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v14/arrow/ipc"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
	"github.com/ecmcheck/ecmcheck/pkg/writer"
)

// Querier provides SQL access to one output.
type Querier struct {
	db   *sql.DB
	path string
}

// Open exposes the output at path. The format is taken from the extension
// unless given explicitly.
func Open(path string, format writer.Format) (*Querier, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, err
	}
	if format == writer.FormatAuto {
		format = writer.DetectFormat(path)
	}

	switch format {
	case writer.FormatDuckDB:
		db, err := sql.Open("duckdb", path)
		if err != nil {
			return nil, fmt.Errorf("failed to open DuckDB: %w", err)
		}
		return &Querier{db: db, path: path}, nil

	case writer.FormatParquet:
		q, err := inMemory(path)
		if err != nil {
			return nil, err
		}
		if err := q.viewParquet(writer.DatasetName, path); err != nil {
			q.Close()
			return nil, err
		}
		if hist := writer.HistogramPath(path, format); fileExists(hist) {
			if err := q.viewParquet(cuts.HistogramName, hist); err != nil {
				q.Close()
				return nil, err
			}
		}
		return q, nil

	case writer.FormatArrow:
		q, err := inMemory(path)
		if err != nil {
			return nil, err
		}
		if err := q.loadIPC(writer.DatasetName, path); err != nil {
			q.Close()
			return nil, err
		}
		if hist := writer.HistogramPath(path, format); fileExists(hist) {
			if err := q.loadIPC(cuts.HistogramName, hist); err != nil {
				q.Close()
				return nil, err
			}
		}
		return q, nil

	default:
		return nil, errors.New(errors.CodeInvalidFormat, fmt.Sprintf("cannot query format %q", format))
	}
}

func inMemory(path string) (*Querier, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	return &Querier{db: db, path: path}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (q *Querier) viewParquet(name, path string) error {
	ddl := fmt.Sprintf(`CREATE VIEW %q AS SELECT * FROM read_parquet('%s')`, name, escapeSQLPath(path))
	if _, err := q.db.Exec(ddl); err != nil {
		return errors.Wrapf(err, errors.CodeInvalidFormat, "failed to read %s", path)
	}
	return nil
}

// loadIPC copies an Arrow IPC file into an in-memory table.
func (q *Querier) loadIPC(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidFormat, "failed to read %s", path)
	}
	defer r.Close()

	if _, err := q.db.Exec(writer.CreateTableSQL(name, r.Schema())); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	insert := writer.InsertSQL(name, r.Schema())
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return errors.Wrapf(err, errors.CodeInvalidFormat, "failed to read batch %d of %s", i, path)
		}
		if err := writer.InsertRecord(q.db, insert, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases database resources.
func (q *Querier) Close() error {
	return q.db.Close()
}

// Select describes a projection over the dataset.
type Select struct {
	Columns []string
	Where   string
	Limit   int
}

// Result holds materialized query rows.
type Result struct {
	Columns []string
	Rows    [][]interface{}
}

// Rows runs s against the dataset.
func (q *Querier) Rows(ctx context.Context, s Select) (*Result, error) {
	cols := "*"
	if len(s.Columns) > 0 {
		cols = strings.Join(quoteColumns(s.Columns), ", ")
	}

	query := fmt.Sprintf(`SELECT %s FROM %q`, cols, writer.DatasetName)
	if s.Where != "" {
		query += " WHERE " + s.Where
	}
	query += ` ORDER BY "run", "event"`
	if s.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", s.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	res := &Result{Columns: names}
	for rows.Next() {
		values := make([]interface{}, len(names))
		ptrs := make([]interface{}, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, values)
	}
	return res, rows.Err()
}

// Count returns the number of dataset rows matching where.
func (q *Querier) Count(ctx context.Context, where string) (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %q`, writer.DatasetName)
	if where != "" {
		query += " WHERE " + where
	}

	var n int64
	if err := q.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Cuts returns the declared stages of the persisted histogram.
func (q *Querier) Cuts(ctx context.Context) ([]cuts.Stage, error) {
	query := fmt.Sprintf(`SELECT "bin", "label", "count" FROM %q WHERE "label" <> '' ORDER BY "bin"`, cuts.HistogramName)

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeFileNotFound, "no cut histogram found for %s", q.path)
	}
	defer rows.Close()

	var stages []cuts.Stage
	for rows.Next() {
		var s cuts.Stage
		var bin int32
		if err := rows.Scan(&bin, &s.Label, &s.Count); err != nil {
			return nil, err
		}
		s.ID = int(bin)
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// Export copies the dataset to dst, as CSV when dst ends in .csv and as
// Parquet otherwise.
func (q *Querier) Export(ctx context.Context, dst string) error {
	format := "PARQUET"
	if strings.EqualFold(filepath.Ext(dst), ".csv") {
		format = "CSV, HEADER"
	}

	stmt := fmt.Sprintf(`COPY %q TO '%s' (FORMAT %s)`, writer.DatasetName, escapeSQLPath(dst), format)
	if _, err := q.db.ExecContext(ctx, stmt); err != nil {
		return errors.WriteFailed(err, dst)
	}
	return nil
}

func quoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = `"` + strings.ReplaceAll(c, `"`, `""`) + `"`
	}
	return quoted
}

func escapeSQLPath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
