package writer

import (
	"fmt"
	"os"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/ecmcheck/ecmcheck/pkg/classify"
	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

// ParquetSink writes the dataset to a Parquet file and the cut histogram
// to a sidecar Parquet file.
type ParquetSink struct {
	cfg       Config
	histPath  string
	allocator memory.Allocator
	schema    *arrow.Schema

	file    *os.File
	writer  *pqarrow.FileWriter
	builder *rowBuilder

	mu               sync.Mutex
	totalRowsWritten int64
	closed           bool
}

// NewParquetSink creates the dataset file and its Parquet writer.
func NewParquetSink(cfg Config) (*ParquetSink, error) {
	allocator := memory.NewGoAllocator()
	schema := DatasetSchema(cfg.Metadata)

	f, err := os.Create(cfg.Path)
	if err != nil {
		return nil, errors.WriteFailed(err, cfg.Path)
	}

	writer, err := newParquetFileWriter(schema, f, cfg.Compression)
	if err != nil {
		f.Close()
		return nil, errors.WriteFailed(err, cfg.Path)
	}

	return &ParquetSink{
		cfg:       cfg,
		histPath:  HistogramPath(cfg.Path, FormatParquet),
		allocator: allocator,
		schema:    schema,
		file:      f,
		writer:    writer,
		builder:   newRowBuilder(allocator, schema, cfg.BatchSize),
	}, nil
}

func newParquetFileWriter(schema *arrow.Schema, f *os.File, c CompressionType) (*pqarrow.FileWriter, error) {
	var codec compress.Compression
	switch c {
	case CompressionSnappy:
		codec = compress.Codecs.Snappy
	case CompressionGzip:
		codec = compress.Codecs.Gzip
	case CompressionZstd:
		codec = compress.Codecs.Zstd
	case CompressionLZ4:
		codec = compress.Codecs.Lz4
	default:
		codec = compress.Codecs.Uncompressed
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(false),
		parquet.WithDataPageSize(1024*1024),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	w, err := pqarrow.NewFileWriter(schema, f, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	return w, nil
}

// WriteRow buffers a row and writes a record batch once BatchSize rows
// have accumulated.
func (s *ParquetSink) WriteRow(d classify.Derived) error {
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

func (s *ParquetSink) flushBatch(dropNewest bool) error {
	n, err := s.builder.commit(func(rec arrow.Record) error {
		return s.writer.Write(rec)
	}, dropNewest)
	s.totalRowsWritten += n
	if err != nil {
		return errors.WriteFailed(fmt.Errorf("failed to write record batch: %w", err), s.cfg.Path)
	}
	return nil
}

// WriteHistogram writes the cut histogram to the sidecar file.
func (s *ParquetSink) WriteHistogram(h cuts.Histogram) error {
	f, err := os.Create(s.histPath)
	if err != nil {
		return errors.WriteFailed(err, s.histPath)
	}

	rec := histogramRecord(s.allocator, h)
	defer rec.Release()

	w, err := newParquetFileWriter(rec.Schema(), f, s.cfg.Compression)
	if err != nil {
		f.Close()
		return errors.WriteFailed(err, s.histPath)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return errors.WriteFailed(err, s.histPath)
	}
	err = w.Close()
	// pqarrow closes the file it wraps; this only covers a failed Close.
	_ = f.Close()
	if err != nil {
		return errors.WriteFailed(err, s.histPath)
	}
	return nil
}

// Close flushes remaining rows and finalizes the Parquet footer.
func (s *ParquetSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	defer s.builder.release()

	var errs errors.MultiError
	errs.Add(s.flushBatch(false))
	if err := s.writer.Close(); err != nil {
		errs.Add(errors.WriteFailed(fmt.Errorf("failed to close parquet writer: %w", err), s.cfg.Path))
	}
	_ = s.file.Close()
	return errs.Combined()
}

// Paths returns the dataset and histogram files.
func (s *ParquetSink) Paths() []string {
	return []string{s.cfg.Path, s.histPath}
}

// RowsWritten returns the total number of rows written.
func (s *ParquetSink) RowsWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalRowsWritten
}

var _ Sink = (*ParquetSink)(nil)
