// Package writer persists the per-event dataset and the cut histogram.
package writer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ecmcheck/ecmcheck/pkg/classify"
	"github.com/ecmcheck/ecmcheck/pkg/cuts"
)

// DatasetName is the persisted name of the per-event table.
const DatasetName = "hAnl"

// Sink is an output destination for one job. It is opened once, receives
// rows in event order, receives the histogram once, and is closed once.
type Sink interface {
	// WriteRow appends one event row.
	WriteRow(d classify.Derived) error

	// WriteHistogram persists the cut histogram.
	WriteHistogram(h cuts.Histogram) error

	// Close flushes buffered rows and releases the destination.
	// Calling Close more than once is a no-op.
	Close() error

	// Paths lists the files the sink writes.
	Paths() []string

	// RowsWritten returns the number of rows flushed so far.
	RowsWritten() int64
}

// Config holds writer configuration.
type Config struct {
	// Path is the dataset destination.
	Path string

	// Format selects the sink. FormatAuto picks it from the extension.
	Format Format

	// BatchSize is the number of rows per record batch.
	BatchSize int

	// Compression type for Parquet output.
	Compression CompressionType

	// Metadata is stored alongside the dataset where the format allows.
	Metadata map[string]string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:        "output.root",
		Format:      FormatAuto,
		BatchSize:   1024,
		Compression: CompressionSnappy,
	}
}

// Format names an output format.
type Format string

const (
	FormatAuto    Format = ""
	FormatParquet Format = "parquet"
	FormatArrow   Format = "arrow"
	FormatDuckDB  Format = "duckdb"
)

// ParseFormat parses a format name. Unknown names are an error.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "parquet", "pq":
		return FormatParquet, nil
	case "arrow", "ipc", "feather":
		return FormatArrow, nil
	case "duckdb", "db":
		return FormatDuckDB, nil
	default:
		return FormatAuto, fmt.Errorf("unknown output format %q", s)
	}
}

// DetectFormat picks a format from the path extension. Anything not
// recognised, including .root, is written as Parquet.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".arrow", ".ipc", ".feather":
		return FormatArrow
	case ".duckdb", ".db":
		return FormatDuckDB
	default:
		return FormatParquet
	}
}

// CompressionType represents Parquet compression options.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionGzip
	CompressionZstd
	CompressionLZ4
)

// String returns the compression type name.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "none"
	}
}

// ParseCompression parses a compression type string.
func ParseCompression(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "gzip":
		return CompressionGzip
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Open creates the sink selected by cfg and opens its destination.
func Open(cfg Config) (Sink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("no output path specified")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}

	format := cfg.Format
	if format == FormatAuto {
		format = DetectFormat(cfg.Path)
	}

	switch format {
	case FormatParquet:
		return NewParquetSink(cfg)
	case FormatArrow:
		return NewIPCSink(cfg)
	case FormatDuckDB:
		return NewDuckDBSink(cfg)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// HistogramPath returns the sidecar path used for the cut histogram by
// file formats that hold a single table, e.g. "out.parquet" ->
// "out.cuts.parquet" and "output.root" -> "output.cuts.parquet".
func HistogramPath(path string, format Format) string {
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)

	switch format {
	case FormatArrow:
		if ext == "" {
			ext = ".arrow"
		}
	default:
		ext = ".parquet"
	}
	return stem + ".cuts" + ext
}
