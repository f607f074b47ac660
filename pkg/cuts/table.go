// Package cuts implements the cut table: an ordered list of named selection
// stages, each counting the events that reached it.
package cuts

import (
	"github.com/ecmcheck/ecmcheck/pkg/errors"
)

// DefaultCapacity is the number of histogram bins in the cut table.
const DefaultCapacity = 20

// NoCuts is the label of stage 0, reached by every processed event.
const NoCuts = "No Cuts"

// Stage is one row of the cut table.
type Stage struct {
	ID    int
	Label string
	Count int64
}

// Table holds the declared stages. It is owned by a single goroutine.
type Table struct {
	labels   []string
	declared []bool
	counts   []int64
	n        int
}

// New creates a table with room for capacity ordinals.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		labels:   make([]string, capacity),
		declared: make([]bool, capacity),
		counts:   make([]int64, capacity),
	}
}

// Capacity returns the fixed number of ordinals.
func (t *Table) Capacity() int { return len(t.counts) }

// Len returns the number of declared stages.
func (t *Table) Len() int { return t.n }

// Declare registers a stage. The first label declared for an ordinal
// wins; later calls for the same ordinal are no-ops. It reports whether
// the call declared a new stage.
func (t *Table) Declare(id int, label string) (bool, error) {
	if id < 0 || id >= len(t.counts) {
		return false, errors.CapacityExceeded(id, len(t.counts))
	}
	if t.declared[id] {
		return false, nil
	}
	t.declared[id] = true
	t.labels[id] = label
	t.n++
	return true, nil
}

// Label returns the label of a declared stage.
func (t *Table) Label(id int) (string, bool) {
	if !t.Declared(id) {
		return "", false
	}
	return t.labels[id], true
}

// Declared reports whether the ordinal has been declared.
func (t *Table) Declared(id int) bool {
	return id >= 0 && id < len(t.counts) && t.declared[id]
}

// Pass records one event reaching the stage.
func (t *Table) Pass(id int) error {
	if !t.Declared(id) {
		return errors.UnknownStage(id)
	}
	t.counts[id]++
	return nil
}

// Count returns the pass count of an ordinal, zero if undeclared.
func (t *Table) Count(id int) int64 {
	if id < 0 || id >= len(t.counts) {
		return 0
	}
	return t.counts[id]
}

// Render returns the declared stages in ascending ordinal order.
func (t *Table) Render() []Stage {
	stages := make([]Stage, 0, t.n)
	for id, ok := range t.declared {
		if !ok {
			continue
		}
		stages = append(stages, Stage{ID: id, Label: t.labels[id], Count: t.counts[id]})
	}
	return stages
}

// Histogram returns the content of every bin, declared or not.
func (t *Table) Histogram() Histogram {
	h := Histogram{
		Name:   HistogramName,
		Title:  "Cut Table",
		Labels: make([]string, len(t.counts)),
		Counts: make([]int64, len(t.counts)),
	}
	copy(h.Labels, t.labels)
	copy(h.Counts, t.counts)
	return h
}

// HistogramName is the persisted name of the cut histogram.
const HistogramName = "hStatAnl"

// Histogram is a fixed-bin snapshot of the table. Bin i holds ordinal i.
type Histogram struct {
	Name   string
	Title  string
	Labels []string
	Counts []int64
}

// Bins returns the bin contents as float64, as a histogram would store them.
func (h Histogram) Bins() []float64 {
	bins := make([]float64, len(h.Counts))
	for i, c := range h.Counts {
		bins[i] = float64(c)
	}
	return bins
}
