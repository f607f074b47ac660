package writer

import (
	"fmt"
	"os"
	"sync"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/ecmcheck/ecmcheck/pkg/classify"
	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

// IPCSink writes the dataset as an Arrow IPC file and the histogram as a
// sidecar Arrow IPC file.
type IPCSink struct {
	mu sync.Mutex

	cfg       Config
	histPath  string
	allocator memory.Allocator

	output  *os.File
	writer  *ipc.FileWriter
	builder *rowBuilder

	rowsWritten int64
	closed      bool
}

// NewIPCSink creates the dataset file and its IPC writer.
func NewIPCSink(cfg Config) (*IPCSink, error) {
	allocator := memory.NewGoAllocator()
	schema := DatasetSchema(cfg.Metadata)

	output, err := os.Create(cfg.Path)
	if err != nil {
		return nil, errors.WriteFailed(fmt.Errorf("failed to create file: %w", err), cfg.Path)
	}

	w, err := ipc.NewFileWriter(output, ipc.WithSchema(schema), ipc.WithAllocator(allocator))
	if err != nil {
		output.Close()
		return nil, errors.WriteFailed(err, cfg.Path)
	}

	return &IPCSink{
		cfg:       cfg,
		histPath:  HistogramPath(cfg.Path, FormatArrow),
		allocator: allocator,
		output:    output,
		writer:    w,
		builder:   newRowBuilder(allocator, schema, cfg.BatchSize),
	}, nil
}

// WriteRow buffers a row, writing a batch every BatchSize rows.
func (s *IPCSink) WriteRow(d classify.Derived) error {
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

func (s *IPCSink) flushBatch(dropNewest bool) error {
	n, err := s.builder.commit(func(rec arrow.Record) error {
		return s.writer.Write(rec)
	}, dropNewest)
	s.rowsWritten += n
	if err != nil {
		return errors.WriteFailed(fmt.Errorf("failed to write batch: %w", err), s.cfg.Path)
	}
	return nil
}

// WriteHistogram writes the cut histogram to the sidecar file.
func (s *IPCSink) WriteHistogram(h cuts.Histogram) error {
	f, err := os.Create(s.histPath)
	if err != nil {
		return errors.WriteFailed(err, s.histPath)
	}
	defer f.Close()

	rec := histogramRecord(s.allocator, h)
	defer rec.Release()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(s.allocator))
	if err != nil {
		return errors.WriteFailed(err, s.histPath)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return errors.WriteFailed(err, s.histPath)
	}
	if err := w.Close(); err != nil {
		return errors.WriteFailed(err, s.histPath)
	}
	return nil
}

// Close flushes remaining rows, writes the IPC footer and closes the file.
func (s *IPCSink) Close() error {
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
		errs.Add(errors.WriteFailed(fmt.Errorf("failed to close writer: %w", err), s.cfg.Path))
	}
	if err := s.output.Close(); err != nil {
		errs.Add(errors.WriteFailed(fmt.Errorf("failed to close output: %w", err), s.cfg.Path))
	}
	return errs.Combined()
}

// Paths returns the dataset and histogram files.
func (s *IPCSink) Paths() []string {
	return []string{s.cfg.Path, s.histPath}
}

// RowsWritten returns the total number of rows written.
func (s *IPCSink) RowsWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsWritten
}

var _ Sink = (*IPCSink)(nil)
