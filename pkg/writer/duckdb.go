package writer

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/ecmcheck/ecmcheck/pkg/classify"
	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

// DuckDBSink writes the dataset and the histogram as two tables of one
// DuckDB database file.
type DuckDBSink struct {
	cfg       Config
	db        *sql.DB
	allocator memory.Allocator
	schema    *arrow.Schema
	builder   *rowBuilder
	insert    string

	mu               sync.Mutex
	totalRowsWritten int64
	closed           bool
}

// NewDuckDBSink recreates the database file and its tables.
func NewDuckDBSink(cfg Config) (*DuckDBSink, error) {
	if err := os.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
		return nil, errors.WriteFailed(err, cfg.Path)
	}

	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, errors.WriteFailed(fmt.Errorf("failed to open duckdb: %w", err), cfg.Path)
	}

	schema := DatasetSchema(cfg.Metadata)
	for _, ddl := range []string{CreateTableSQL(DatasetName, schema), CreateTableSQL(cuts.HistogramName, HistogramSchema())} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, errors.WriteFailed(fmt.Errorf("failed to create table: %w", err), cfg.Path)
		}
	}

	if len(cfg.Metadata) > 0 {
		if err := writeMetadata(db, cfg.Metadata); err != nil {
			db.Close()
			return nil, errors.WriteFailed(err, cfg.Path)
		}
	}

	allocator := memory.NewGoAllocator()
	return &DuckDBSink{
		cfg:       cfg,
		db:        db,
		allocator: allocator,
		schema:    schema,
		builder:   newRowBuilder(allocator, schema, cfg.BatchSize),
		insert:    InsertSQL(DatasetName, schema),
	}, nil
}

func writeMetadata(db *sql.DB, meta map[string]string) error {
	if _, err := db.Exec(`CREATE TABLE metadata (key VARCHAR PRIMARY KEY, value VARCHAR)`); err != nil {
		return fmt.Errorf("failed to create metadata table: %w", err)
	}
	for k, v := range meta {
		if _, err := db.Exec(`INSERT INTO metadata VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("failed to insert metadata: %w", err)
		}
	}
	return nil
}

func sqlType(t arrow.DataType) string {
	switch t.ID() {
	case arrow.INT32:
		return "INTEGER"
	case arrow.INT64:
		return "BIGINT"
	case arrow.FLOAT64:
		return "DOUBLE"
	default:
		return "VARCHAR"
	}
}

// CreateTableSQL returns the DDL for a table holding records of schema.
func CreateTableSQL(table string, schema *arrow.Schema) string {
	cols := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		cols[i] = fmt.Sprintf("%q %s NOT NULL", f.Name, sqlType(f.Type))
	}
	return fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(cols, ", "))
}

// InsertSQL returns a parameterized insert of one row of schema.
func InsertSQL(table string, schema *arrow.Schema) string {
	names := make([]string, len(schema.Fields()))
	marks := make([]string, len(schema.Fields()))
	for i, f := range schema.Fields() {
		names[i] = fmt.Sprintf("%q", f.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, strings.Join(names, ", "), strings.Join(marks, ", "))
}

// WriteRow buffers a row, inserting a batch every BatchSize rows.
func (s *DuckDBSink) WriteRow(d classify.Derived) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WriteFailed(fmt.Errorf("sink closed"), s.cfg.Path)
	}

	s.builder.stage(d)
	if s.builder.len() >= s.cfg.BatchSize {
		return s.flushBatch(true)
	}
	return nil
}

// flushBatch inserts the buffered rows in one transaction.
func (s *DuckDBSink) flushBatch(dropNewest bool) error {
	n, err := s.builder.commit(func(rec arrow.Record) error {
		return InsertRecord(s.db, s.insert, rec)
	}, dropNewest)
	s.totalRowsWritten += n
	if err != nil {
		return errors.WriteFailed(err, s.cfg.Path)
	}
	return nil
}

// InsertRecord inserts every row of rec using query, in one transaction.
func InsertRecord(db *sql.DB, query string, rec arrow.Record) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, rec.NumCols())
	for row := 0; row < int(rec.NumRows()); row++ {
		for c, col := range rec.Columns() {
			switch a := col.(type) {
			case *array.Int32:
				args[c] = a.Value(row)
			case *array.Int64:
				args[c] = a.Value(row)
			case *array.Float64:
				args[c] = a.Value(row)
			case *array.String:
				args[c] = a.Value(row)
			default:
				tx.Rollback()
				return fmt.Errorf("unsupported column type %s", col.DataType())
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// WriteHistogram replaces the content of the histogram table.
func (s *DuckDBSink) WriteHistogram(h cuts.Histogram) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %q", cuts.HistogramName)); err != nil {
		return errors.WriteFailed(err, s.cfg.Path)
	}

	rec := histogramRecord(s.allocator, h)
	defer rec.Release()

	if err := InsertRecord(s.db, InsertSQL(cuts.HistogramName, rec.Schema()), rec); err != nil {
		return errors.WriteFailed(err, s.cfg.Path)
	}
	return nil
}

// Close flushes remaining rows and closes the database.
func (s *DuckDBSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	defer s.builder.release()

	var errs errors.MultiError
	errs.Add(s.flushBatch(false))
	if err := s.db.Close(); err != nil {
		errs.Add(errors.WriteFailed(fmt.Errorf("failed to close duckdb: %w", err), s.cfg.Path))
	}
	return errs.Combined()
}

// Paths returns the database file.
func (s *DuckDBSink) Paths() []string {
	return []string{s.cfg.Path}
}

// RowsWritten returns the total number of rows written.
func (s *DuckDBSink) RowsWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalRowsWritten
}

var _ Sink = (*DuckDBSink)(nil)
