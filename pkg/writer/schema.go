package writer

import (
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"

	"github.com/ecmcheck/ecmcheck/pkg/classify"
	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/lorentz"
)

// vectorColumns are the four-vector branches of the dataset, in column
// order. Each expands to <name>_px, _py, _pz and _e.
var vectorColumns = []struct {
	name string
	get  func(d *classify.Derived) lorentz.Vector
}{
	{"lrzq1mc", func(d *classify.Derived) lorentz.Vector { return d.Quarks[0] }},
	{"lrzq2mc", func(d *classify.Derived) lorentz.Vector { return d.Quarks[1] }},
	{"lrzZmc", func(d *classify.Derived) lorentz.Vector { return d.Z }},
	{"lrzHmc", func(d *classify.Derived) lorentz.Vector { return d.Higgs }},
	{"lrzISR1mc", func(d *classify.Derived) lorentz.Vector { return d.ISR[0] }},
	{"lrzISR2mc", func(d *classify.Derived) lorentz.Vector { return d.ISR[1] }},
	{"lrzEcm", func(d *classify.Derived) lorentz.Vector { return d.Beam }},
	{"lrzqqHisr12", func(d *classify.Derived) lorentz.Vector { return d.Sum }},
}

var componentSuffixes = [4]string{"_px", "_py", "_pz", "_e"}

// scalar int32 columns in column order.
var intColumns = []struct {
	name string
	get  func(d *classify.Derived) int32
}{
	{"run", func(d *classify.Derived) int32 { return d.Run }},
	{"event", func(d *classify.Derived) int32 { return d.Event }},
	{"nmcp", func(d *classify.Derived) int32 { return d.NParticles }},
	{"norigin", func(d *classify.Derived) int32 { return d.NOrigin }},
	{"flvq1mc", func(d *classify.Derived) int32 { return d.QuarkPDG[0] }},
	{"flvq2mc", func(d *classify.Derived) int32 { return d.QuarkPDG[1] }},
}

// DatasetSchema returns the Arrow schema of the per-event table.
func DatasetSchema(meta map[string]string) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(intColumns)+4*len(vectorColumns))
	for _, c := range intColumns {
		fields = append(fields, arrow.Field{Name: c.name, Type: arrow.PrimitiveTypes.Int32})
	}
	for _, c := range vectorColumns {
		for _, s := range componentSuffixes {
			fields = append(fields, arrow.Field{Name: c.name + s, Type: arrow.PrimitiveTypes.Float64})
		}
	}
	return arrow.NewSchema(fields, schemaMetadata(meta))
}

// HistogramSchema returns the Arrow schema of the cut histogram table.
func HistogramSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "bin", Type: arrow.PrimitiveTypes.Int32},
		{Name: "label", Type: arrow.BinaryTypes.String},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
}

func schemaMetadata(meta map[string]string) *arrow.Metadata {
	if len(meta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = meta[k]
	}
	md := arrow.NewMetadata(keys, values)
	return &md
}

// rowBuilder stages dataset rows until a write of them succeeds.
type rowBuilder struct {
	schema  *arrow.Schema
	ints    []*array.Int32Builder
	floats  []*array.Float64Builder
	pending []classify.Derived
}

func newRowBuilder(mem memory.Allocator, schema *arrow.Schema, capacity int) *rowBuilder {
	b := &rowBuilder{schema: schema, pending: make([]classify.Derived, 0, capacity)}
	for range intColumns {
		b.ints = append(b.ints, array.NewInt32Builder(mem))
	}
	for range vectorColumns {
		for range componentSuffixes {
			b.floats = append(b.floats, array.NewFloat64Builder(mem))
		}
	}
	return b
}

func (b *rowBuilder) stage(d classify.Derived) {
	b.pending = append(b.pending, d)
}

func (b *rowBuilder) len() int {
	return len(b.pending)
}

// commit writes every staged row as one record. When dropNewest is set
// and the write fails, the most recently staged row is dropped and the
// rows staged before it are written again on their own. It returns the
// number of rows persisted and the first failure.
func (b *rowBuilder) commit(write func(arrow.Record) error, dropNewest bool) (int64, error) {
	if len(b.pending) == 0 {
		return 0, nil
	}

	err := b.write(b.pending, write)
	if err == nil {
		n := int64(len(b.pending))
		b.pending = b.pending[:0]
		return n, nil
	}
	if !dropNewest {
		return 0, err
	}

	b.pending = b.pending[:len(b.pending)-1]
	if len(b.pending) == 0 {
		return 0, err
	}
	if rerr := b.write(b.pending, write); rerr != nil {
		return 0, err
	}
	n := int64(len(b.pending))
	b.pending = b.pending[:0]
	return n, err
}

func (b *rowBuilder) write(rows []classify.Derived, write func(arrow.Record) error) error {
	rec := b.newRecord(rows)
	defer rec.Release()
	return write(rec)
}

// newRecord builds a record from rows. The caller must release it.
func (b *rowBuilder) newRecord(rows []classify.Derived) arrow.Record {
	for _, ib := range b.ints {
		ib.Reserve(len(rows))
	}
	for _, fb := range b.floats {
		fb.Reserve(len(rows))
	}
	for k := range rows {
		d := &rows[k]
		for i, c := range intColumns {
			b.ints[i].Append(c.get(d))
		}
		for i, c := range vectorColumns {
			for j, v := range c.get(d).Components() {
				b.floats[4*i+j].Append(v)
			}
		}
	}

	cols := make([]arrow.Array, 0, len(b.ints)+len(b.floats))
	for _, ib := range b.ints {
		cols = append(cols, ib.NewArray())
	}
	for _, fb := range b.floats {
		cols = append(cols, fb.NewArray())
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()

	return array.NewRecord(b.schema, cols, int64(len(rows)))
}

func (b *rowBuilder) release() {
	for _, ib := range b.ints {
		ib.Release()
	}
	for _, fb := range b.floats {
		fb.Release()
	}
}

// histogramRecord builds the cut histogram as a record, one row per bin.
func histogramRecord(mem memory.Allocator, h cuts.Histogram) arrow.Record {
	bins := array.NewInt32Builder(mem)
	defer bins.Release()
	labels := array.NewStringBuilder(mem)
	defer labels.Release()
	counts := array.NewInt64Builder(mem)
	defer counts.Release()

	for i, c := range h.Counts {
		bins.Append(int32(i))
		labels.Append(h.Labels[i])
		counts.Append(c)
	}

	cols := []arrow.Array{bins.NewArray(), labels.NewArray(), counts.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecord(HistogramSchema(), cols, int64(len(h.Counts)))
}
